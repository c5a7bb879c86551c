package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mtdlab/stackplan/internal/model"
)

// RunRepo handles solve-run database operations.
type RunRepo struct {
	db *sql.DB
}

// NewRunRepo creates a RunRepo.
func NewRunRepo(db *sql.DB) *RunRepo {
	return &RunRepo{db: db}
}

// Create inserts a completed solve run.
func (r *RunRepo) Create(ctx context.Context, run *model.SolveRun) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO solve_runs (id, kind, label, input_hash, alpha, k, objective, result, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID, run.Kind, run.Label, run.InputHash, run.Alpha, run.K,
		run.Objective, []byte(run.Result), run.Duration.Milliseconds(), run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create solve run: %w", err)
	}
	return nil
}

// FindByID returns a run by ID, or nil when absent.
func (r *RunRepo) FindByID(ctx context.Context, id string) (*model.SolveRun, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx,
		`SELECT id, kind, label, input_hash, alpha, k, objective, result, duration_ms, created_at
		 FROM solve_runs WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find solve run: %w", err)
	}
	return run, nil
}

// List returns recent runs, optionally filtered by kind.
func (r *RunRepo) List(ctx context.Context, kind string, limit int) ([]model.SolveRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT id, kind, label, input_hash, alpha, k, objective, result, duration_ms, created_at
	          FROM solve_runs`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = $1`
		args = append(args, kind)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list solve runs: %w", err)
	}
	defer rows.Close()

	var runs []model.SolveRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan solve run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*model.SolveRun, error) {
	var run model.SolveRun
	var result []byte
	var durationMs int64
	if err := row.Scan(&run.ID, &run.Kind, &run.Label, &run.InputHash, &run.Alpha, &run.K,
		&run.Objective, &result, &durationMs, &run.CreatedAt); err != nil {
		return nil, err
	}
	run.Result = json.RawMessage(result)
	run.Duration = time.Duration(durationMs) * time.Millisecond
	return &run, nil
}

// MarginalRepo persists schedule-run marginal matrices.
type MarginalRepo struct {
	db *sql.DB
}

// NewMarginalRepo creates a MarginalRepo.
func NewMarginalRepo(db *sql.DB) *MarginalRepo {
	return &MarginalRepo{db: db}
}

// Save stores the artifact for a run.
func (r *MarginalRepo) Save(ctx context.Context, artifact *model.MarginalArtifact) error {
	matrix, err := json.Marshal(artifact.Matrix)
	if err != nil {
		return fmt.Errorf("encode marginal matrix: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO marginal_artifacts (run_id, resources, targets, matrix, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		artifact.RunID, artifact.Resources, artifact.Targets, matrix, artifact.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save marginal artifact: %w", err)
	}
	return nil
}

// Latest returns the most recent artifact, or nil when none exists.
func (r *MarginalRepo) Latest(ctx context.Context) (*model.MarginalArtifact, error) {
	var a model.MarginalArtifact
	var matrix []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT run_id, resources, targets, matrix, created_at
		 FROM marginal_artifacts ORDER BY created_at DESC LIMIT 1`,
	).Scan(&a.RunID, &a.Resources, &a.Targets, &matrix, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load marginal artifact: %w", err)
	}
	if err := json.Unmarshal(matrix, &a.Matrix); err != nil {
		return nil, fmt.Errorf("decode marginal matrix: %w", err)
	}
	return &a, nil
}
