// Package service glues the solve orchestrator to persistence, caching, and
// live progress broadcasting.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mtdlab/stackplan/internal/model"
	"github.com/mtdlab/stackplan/internal/repository"
	"github.com/mtdlab/stackplan/internal/solver"
	"github.com/mtdlab/stackplan/pkg/bsg"
	"github.com/mtdlab/stackplan/pkg/bvn"
)

var ErrUnknownKind = errors.New("unknown run kind")

// Broadcaster pushes live events to subscribed clients. The WebSocket hub
// implements it; a nil broadcaster disables events.
type Broadcaster interface {
	Broadcast(channel, event string, data any)
}

// EventsChannel is the feed all solve events are published on.
const EventsChannel = "runs"

// SolveService executes solver runs and records their results.
type SolveService struct {
	orch      *solver.Orchestrator
	runs      repository.RunRepository
	marginals repository.MarginalRepository
	cache     repository.StrategyCache
	events    Broadcaster
}

// NewSolveService creates a SolveService. marginals, cache, and events may
// be nil; the service then skips artifact persistence, caching, or
// broadcasting respectively.
func NewSolveService(orch *solver.Orchestrator, runs repository.RunRepository,
	marginals repository.MarginalRepository, cache repository.StrategyCache, events Broadcaster) *SolveService {
	return &SolveService{orch: orch, runs: runs, marginals: marginals, cache: cache, events: events}
}

// GameHash content-addresses a game for the strategy cache.
func GameHash(kind string, g *bsg.Game, alpha float64, k int) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	fmt.Fprintf(h, "%s:%g:%d:", kind, alpha, k)
	_ = enc.Encode(g)
	return hex.EncodeToString(h.Sum(nil))
}

// SolveGame runs the dobss, cost, or uniform variant on a game and persists
// the outcome. Cache hits short-circuit the solve.
func (s *SolveService) SolveGame(ctx context.Context, kind, label string, g *bsg.Game, alpha float64) (*model.SolveRun, error) {
	hash := GameHash(kind, g, alpha, 0)
	if cached := s.cachedRun(ctx, kind, label, hash); cached != nil {
		return cached, nil
	}

	start := time.Now()
	var ms *solver.MixedStrategy
	var err error
	switch kind {
	case model.KindDOBSS:
		ms, err = s.orch.SolveMixed(ctx, g)
	case model.KindCost:
		ms, err = s.orch.SolveWithSwitchCost(ctx, g, alpha)
	case model.KindUniform:
		ms, err = s.orch.SolveUniform(ctx, g)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err != nil {
		return nil, err
	}

	result := model.MixedStrategyResult{Objective: ms.Objective, X: ms.X}
	for _, c := range ms.Choices {
		result.Responses = append(result.Responses, model.TypedResponse{Type: c.Type, Attack: c.Name})
	}
	for _, v := range ms.Report {
		result.Variables = append(result.Variables, model.VariableValue{Name: v.Name, Value: v.Value})
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}

	run := s.newRun(kind, label, hash, alpha, 0, ms.Objective, payload, time.Since(start))
	return s.persist(ctx, run, hash)
}

// WhatToFix enumerates attack exclusions, broadcasting each completed
// subproblem to subscribers of the shared events channel.
func (s *SolveService) WhatToFix(ctx context.Context, label string, g *bsg.Game, k int) (*model.SolveRun, error) {
	hash := GameHash(model.KindWhatToFix, g, 0, k)
	if cached := s.cachedRun(ctx, model.KindWhatToFix, label, hash); cached != nil {
		return cached, nil
	}

	runID := uuid.NewString()
	start := time.Now()
	res, err := s.orch.WhatToFix(ctx, g, k, func(ex solver.Exclusion) {
		if s.events == nil {
			return
		}
		s.events.Broadcast(EventsChannel, "whattofix_progress", toRank(ex))
	})
	if err != nil {
		return nil, err
	}

	result := model.WhatToFixResult{}
	for _, ex := range res.Rankings {
		result.Rankings = append(result.Rankings, toRank(ex))
	}
	for _, ex := range res.Best {
		result.Best = append(result.Best, toRank(ex))
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}

	// JSON cannot carry -Inf; a run with no feasible exclusion keeps a zero
	// objective and an empty best list.
	objective := 0.0
	if len(res.Best) > 0 {
		objective = res.Best[0].Objective
	}
	run := s.newRun(model.KindWhatToFix, label, hash, 0, k, objective, payload, time.Since(start))
	run.ID = runID
	if res.Incomplete {
		// Partial enumerations are reported but never persisted or cached.
		return run, nil
	}
	return s.persist(ctx, run, hash)
}

// Schedule runs the full schedule pipeline and persists the best marginal
// matrix alongside the run.
func (s *SolveService) Schedule(ctx context.Context, label string, sg *bsg.ScheduleGame) (*model.SolveRun, error) {
	start := time.Now()
	strat, err := s.orch.MixedSchedule(ctx, sg, bvn.DefaultOptions())
	if err != nil {
		return nil, err
	}

	sched := strat.Schedule
	result := model.ScheduleResult{
		Target:       sched.Target,
		Objective:    sched.Objective,
		PerTarget:    sched.PerTarget,
		Marginals:    toRows(sched.Marginals.Data().([]float64), sg.Resources, sg.Targets),
		Coefficients: strat.Decomposition.Coefficients,
	}
	collapsed, err := strat.Decomposition.HomogeneousStrategies()
	if err != nil {
		return nil, err
	}
	for _, c := range collapsed {
		result.Assignments = append(result.Assignments, c.Data().([]float64))
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}

	run := s.newRun(model.KindSchedule, label, "", 0, 0, sched.Objective, payload, time.Since(start))
	saved, err := s.persist(ctx, run, "")
	if err != nil {
		return nil, err
	}
	if s.marginals != nil {
		artifact := &model.MarginalArtifact{
			RunID:     run.ID,
			Resources: sg.Resources,
			Targets:   sg.Targets,
			Matrix:    sched.Marginals.Data().([]float64),
			CreatedAt: run.CreatedAt,
		}
		if err := s.marginals.Save(ctx, artifact); err != nil {
			log.Error().Err(err).Str("runId", run.ID).Msg("Failed to save marginal artifact")
		}
	}
	return saved, nil
}

// GetRun returns a stored run, or nil when absent.
func (s *SolveService) GetRun(ctx context.Context, id string) (*model.SolveRun, error) {
	return s.runs.FindByID(ctx, id)
}

// ListRuns returns recent runs filtered by kind.
func (s *SolveService) ListRuns(ctx context.Context, kind string, limit int) ([]model.SolveRun, error) {
	return s.runs.List(ctx, kind, limit)
}

func (s *SolveService) newRun(kind, label, hash string, alpha float64, k int,
	objective float64, payload json.RawMessage, took time.Duration) *model.SolveRun {
	return &model.SolveRun{
		ID:        uuid.NewString(),
		Kind:      kind,
		Label:     label,
		InputHash: hash,
		Alpha:     alpha,
		K:         k,
		Objective: objective,
		Result:    payload,
		CreatedAt: time.Now().UTC(),
		Duration:  took,
	}
}

func (s *SolveService) persist(ctx context.Context, run *model.SolveRun, hash string) (*model.SolveRun, error) {
	if s.runs != nil {
		if err := s.runs.Create(ctx, run); err != nil {
			return nil, err
		}
	}
	if s.cache != nil && hash != "" {
		if err := s.cache.Set(ctx, hash, run.Result); err != nil {
			log.Warn().Err(err).Msg("Failed to cache strategy")
		}
	}
	if s.events != nil {
		s.events.Broadcast(EventsChannel, "run_completed", run)
	}
	return run, nil
}

// cachedRun synthesizes a run from the strategy cache, or nil on a miss.
func (s *SolveService) cachedRun(ctx context.Context, kind, label, hash string) *model.SolveRun {
	if s.cache == nil {
		return nil
	}
	payload, err := s.cache.Get(ctx, hash)
	if err != nil {
		log.Warn().Err(err).Msg("Strategy cache lookup failed")
		return nil
	}
	if payload == nil {
		return nil
	}
	var probe struct {
		Objective float64 `json:"objective"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil
	}
	return &model.SolveRun{
		ID:        uuid.NewString(),
		Kind:      kind,
		Label:     label,
		InputHash: hash,
		Objective: probe.Objective,
		Result:    payload,
		Cached:    true,
		CreatedAt: time.Now().UTC(),
	}
}

func toRank(ex solver.Exclusion) model.ExclusionRank {
	rank := model.ExclusionRank{Attacks: ex.Attacks}
	if ex.Feasible {
		obj := ex.Objective
		rank.Objective = &obj
	}
	return rank
}

func toRows(data []float64, rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for r := 0; r < rows; r++ {
		out[r] = data[r*cols : (r+1)*cols]
	}
	return out
}
