package repository

import (
	"context"
	"encoding/json"

	"github.com/mtdlab/stackplan/internal/model"
)

// RunRepository defines solve-run persistence.
type RunRepository interface {
	Create(ctx context.Context, run *model.SolveRun) error
	FindByID(ctx context.Context, id string) (*model.SolveRun, error)
	List(ctx context.Context, kind string, limit int) ([]model.SolveRun, error)
}

// MarginalRepository persists the best marginal coverage matrices produced
// by the schedule pipeline.
type MarginalRepository interface {
	Save(ctx context.Context, artifact *model.MarginalArtifact) error
	Latest(ctx context.Context) (*model.MarginalArtifact, error)
}

// StrategyCache defines the content-addressed cache of computed strategies
// (Redis).
type StrategyCache interface {
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Set(ctx context.Context, key string, result json.RawMessage) error
}
