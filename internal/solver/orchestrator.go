package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"
	"gorgonia.org/tensor"

	"github.com/mtdlab/stackplan/pkg/bsg"
	"github.com/mtdlab/stackplan/pkg/bvn"
	"github.com/mtdlab/stackplan/pkg/mip"
)

// Orchestrator drives the solve patterns: direct mixed-strategy solves,
// what-to-fix enumeration, and the schedule pipeline feeding the
// Birkhoff–von Neumann decomposer. Independent subproblems fan out over a
// worker pool; the only shared state is the running argmax, combined after
// the join.
type Orchestrator struct {
	solver  mip.Solver
	workers int
}

// New creates an Orchestrator. workers <= 0 uses one worker per CPU.
func New(s mip.Solver, workers int) *Orchestrator {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Orchestrator{solver: s, workers: workers}
}

// AttackChoice is one attacker type's pure best response.
type AttackChoice struct {
	Type   int
	Attack int
	Name   string
}

// MixedStrategy is the defender's optimal commitment plus the induced
// attacker responses.
type MixedStrategy struct {
	Objective float64
	X         []float64
	Choices   []AttackChoice
	Report    []bsg.VarValue

	// Incomplete marks a limit-terminated solve carrying an incumbent.
	Incomplete bool
}

// SolveMixed solves the base DOBSS program for the defender's optimal mixed
// strategy.
func (o *Orchestrator) SolveMixed(ctx context.Context, g *bsg.Game) (*MixedStrategy, error) {
	p, h := BuildDOBSS(g)
	return o.finishMixed(ctx, g, p, h)
}

// SolveWithSwitchCost solves the switching-cost variant with weight alpha.
// At alpha zero the objective and strategy match SolveMixed when the DOBSS
// optimum puts at most half its mass on every configuration; the
// zero-diagonal flow rows of BuildCostDOBSS admit no other strategy.
func (o *Orchestrator) SolveWithSwitchCost(ctx context.Context, g *bsg.Game, alpha float64) (*MixedStrategy, error) {
	p, h, err := BuildCostDOBSS(g, alpha)
	if err != nil {
		return nil, err
	}
	return o.finishMixed(ctx, g, p, h)
}

// SolveUniform solves the uniform-random baseline. Its objective never
// exceeds the optimized one; callers report both for comparison.
func (o *Orchestrator) SolveUniform(ctx context.Context, g *bsg.Game) (*MixedStrategy, error) {
	p, h := BuildUniform(g)
	sol, err := o.solver.Solve(ctx, p)
	if err != nil && !errors.Is(err, mip.ErrLimit) {
		return nil, err
	}
	ms := extractStrategy(g, p, h, sol)
	xr := 1.0 / float64(g.NumConfigs)
	for i := range ms.X {
		ms.X[i] = xr
	}
	if errors.Is(err, mip.ErrLimit) {
		return ms, mip.ErrLimit
	}
	return ms, nil
}

func (o *Orchestrator) finishMixed(ctx context.Context, g *bsg.Game, p *mip.Program, h *Handles) (*MixedStrategy, error) {
	sol, err := o.solver.Solve(ctx, p)
	if err != nil && !errors.Is(err, mip.ErrLimit) {
		return nil, err
	}
	ms := extractStrategy(g, p, h, sol)
	if errors.Is(err, mip.ErrLimit) {
		return ms, mip.ErrLimit
	}
	return ms, nil
}

// extractStrategy maps a solution back through the typed handles.
func extractStrategy(g *bsg.Game, p *mip.Program, h *Handles, sol *mip.Solution) *MixedStrategy {
	if sol == nil || sol.Values == nil {
		return &MixedStrategy{Incomplete: true}
	}
	ms := &MixedStrategy{Objective: sol.Objective, Incomplete: sol.Incomplete}
	ms.X = make([]float64, g.NumConfigs)
	for i, v := range h.X {
		ms.X[i] = sol.Value(v)
		ms.Report = append(ms.Report, bsg.VarValue{Name: p.Name(v), Value: sol.Value(v)})
	}
	for l, qs := range h.Q {
		for j, v := range qs {
			ms.Report = append(ms.Report, bsg.VarValue{Name: p.Name(v), Value: sol.Value(v)})
			if sol.Value(v) > 0.5 {
				ms.Choices = append(ms.Choices, AttackChoice{
					Type:   l,
					Attack: j,
					Name:   g.Attackers[l].Attacks[j],
				})
			}
		}
	}
	for _, v := range h.A {
		ms.Report = append(ms.Report, bsg.VarValue{Name: p.Name(v), Value: sol.Value(v)})
	}
	for _, row := range h.W {
		for _, v := range row {
			if val := sol.Value(v); math.Abs(val) > 1e-6 {
				ms.Report = append(ms.Report, bsg.VarValue{Name: p.Name(v), Value: val})
			}
		}
	}
	return ms
}

// Exclusion is one what-to-fix candidate: the attack names neutralized and
// the defender objective achieved with them gone. An infeasible exclusion
// (some attacker type loses every attack) keeps Feasible false and an
// objective of negative infinity.
type Exclusion struct {
	Attacks   []string
	Objective float64
	Feasible  bool
}

// WhatToFixResult ranks every k-subset of attack names by the defender
// objective after exclusion.
type WhatToFixResult struct {
	Rankings []Exclusion
	Best     []Exclusion

	// Incomplete marks a cancelled enumeration; Rankings then holds only
	// the subproblems that finished and Best the argmax among them.
	Incomplete bool
}

// WhatToFix enumerates the k-combinations of the de-duplicated attack-name
// union in lexicographic order, solves the exclusion program for each, and
// returns the full ranking plus the objective-maximizing combinations.
// progress, when non-nil, observes each completed subproblem from its
// worker goroutine.
func (o *Orchestrator) WhatToFix(ctx context.Context, g *bsg.Game, k int, progress func(Exclusion)) (*WhatToFixResult, error) {
	names := g.UniqueAttackNames()
	if k < 1 || k > len(names) {
		return nil, fmt.Errorf("%w: k must be in [1, %d], got %d", bsg.ErrInvalidGame, len(names), k)
	}
	combos := combinations(names, k)

	results := make([]*Exclusion, len(combos))
	errs := make([]error, len(combos))

	var wg sync.WaitGroup
	sem := make(chan struct{}, o.workers)
	for idx, combo := range combos {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, combo []string) {
			defer wg.Done()
			defer func() { <-sem }()
			ex, err := o.solveExclusion(ctx, g, combo)
			results[idx] = ex
			errs[idx] = err
			if err == nil && progress != nil {
				progress(*ex)
			}
		}(idx, combo)
	}
	wg.Wait()

	res := &WhatToFixResult{}
	for idx := range combos {
		switch {
		case results[idx] != nil && errs[idx] == nil:
			res.Rankings = append(res.Rankings, *results[idx])
		case results[idx] == nil && errs[idx] == nil:
			// Never dispatched: cancelled before this combination started.
			res.Incomplete = true
		case errors.Is(errs[idx], mip.ErrLimit) || errors.Is(errs[idx], context.Canceled):
			res.Incomplete = true
		default:
			return nil, errs[idx]
		}
	}

	best := math.Inf(-1)
	for _, ex := range res.Rankings {
		if ex.Feasible && ex.Objective > best {
			best = ex.Objective
		}
	}
	for _, ex := range res.Rankings {
		if ex.Feasible && ex.Objective == best {
			res.Best = append(res.Best, ex)
		}
	}
	return res, nil
}

func (o *Orchestrator) solveExclusion(ctx context.Context, g *bsg.Game, combo []string) (*Exclusion, error) {
	p, _ := BuildExclusion(g, combo)
	sol, err := o.solver.Solve(ctx, p)
	switch {
	case errors.Is(err, mip.ErrInfeasible):
		// A wiped-out attacker type makes the exclusion worthless, not the
		// run: record it at negative infinity and move on.
		log.Debug().Strs("attacks", combo).Msg("Exclusion infeasible, skipping")
		return &Exclusion{Attacks: combo, Objective: math.Inf(-1)}, nil
	case err != nil:
		return nil, err
	}
	return &Exclusion{Attacks: combo, Objective: sol.Objective, Feasible: true}, nil
}

// combinations yields the k-subsets of names preserving lexicographic
// order.
func combinations(names []string, k int) [][]string {
	var out [][]string
	combo := make([]string, 0, k)
	var rec func(start int)
	rec = func(start int) {
		if len(combo) == k {
			out = append(out, append([]string(nil), combo...))
			return
		}
		for i := start; i <= len(names)-(k-len(combo)); i++ {
			combo = append(combo, names[i])
			rec(i + 1)
			combo = combo[:len(combo)-1]
		}
	}
	rec(0)
	return out
}

// ScheduleResult is the best attacked-target hypothesis with its marginal
// coverage matrix.
type ScheduleResult struct {
	Target    int
	Objective float64
	PerTarget []float64
	Marginals *tensor.Dense
	Report    []bsg.VarValue

	// Incomplete marks a cancelled sweep: Target is the argmax of the
	// hypotheses that finished, and PerTarget holds NaN for the rest.
	Incomplete bool
}

// SolveSchedule solves one LP per attacked-target hypothesis and keeps the
// argmax. An infeasible hypothesis is fatal: the base model admits every
// target as a pinnable best response.
func (o *Orchestrator) SolveSchedule(ctx context.Context, sg *bsg.ScheduleGame) (*ScheduleResult, error) {
	type hypo struct {
		objective float64
		marginals []float64
		report    []bsg.VarValue
	}
	results := make([]*hypo, sg.Targets)
	errs := make([]error, sg.Targets)

	var wg sync.WaitGroup
	sem := make(chan struct{}, o.workers)
	for t := 0; t < sg.Targets; t++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(t int) {
			defer wg.Done()
			defer func() { <-sem }()
			p, h := BuildSchedule(sg, t)
			sol, err := o.solver.Solve(ctx, p)
			if err != nil {
				errs[t] = fmt.Errorf("target %d hypothesis: %w", t, err)
				return
			}
			hy := &hypo{
				objective: sol.Objective + sg.Defender[t].Uncovered,
				marginals: make([]float64, sg.Resources*sg.Targets),
			}
			for _, v := range h.P {
				hy.report = append(hy.report, bsg.VarValue{Name: p.Name(v), Value: sol.Value(v)})
			}
			for r, row := range h.MP {
				for tt, v := range row {
					hy.marginals[r*sg.Targets+tt] = sol.Value(v)
					hy.report = append(hy.report, bsg.VarValue{Name: p.Name(v), Value: sol.Value(v)})
				}
			}
			results[t] = hy
		}(t)
	}
	wg.Wait()

	// An infeasible hypothesis is a broken model and fails the run; a
	// cancelled one leaves the sweep incomplete but the finished argmax
	// still stands.
	incomplete := false
	for t := 0; t < sg.Targets; t++ {
		if errs[t] == nil {
			continue
		}
		if errors.Is(errs[t], mip.ErrLimit) || errors.Is(errs[t], context.Canceled) {
			incomplete = true
			continue
		}
		return nil, errs[t]
	}

	best := -1
	for t := 0; t < sg.Targets; t++ {
		if results[t] == nil {
			continue
		}
		if best < 0 || results[t].objective > results[best].objective {
			best = t
		}
	}
	if best < 0 {
		return nil, fmt.Errorf("schedule sweep cancelled before any hypothesis finished: %w", mip.ErrLimit)
	}

	res := &ScheduleResult{
		Target:     best,
		Objective:  results[best].objective,
		PerTarget:  make([]float64, sg.Targets),
		Marginals:  tensor.New(tensor.WithShape(sg.Resources, sg.Targets), tensor.WithBacking(results[best].marginals)),
		Report:     results[best].report,
		Incomplete: incomplete,
	}
	for t, hy := range results {
		if hy != nil {
			res.PerTarget[t] = hy.objective
		} else {
			res.PerTarget[t] = math.NaN()
		}
	}
	return res, nil
}

// ScheduleStrategy pairs the schedule argmax with its sampleable
// pure-assignment distribution.
type ScheduleStrategy struct {
	Schedule      *ScheduleResult
	Decomposition *bvn.Decomposition
}

// MixedSchedule runs the full schedule pipeline: per-target LPs, argmax,
// then the constrained Birkhoff–von Neumann decomposition of the winning
// marginal matrix under singleton-schedule capacities.
func (o *Orchestrator) MixedSchedule(ctx context.Context, sg *bsg.ScheduleGame, opts bvn.Options) (*ScheduleStrategy, error) {
	sched, err := o.SolveSchedule(ctx, sg)
	if err != nil {
		return nil, err
	}
	d, err := bvn.Decompose(sched.Marginals, bvn.SingletonSchedule(sg.Resources, sg.Targets), opts)
	if err != nil {
		return nil, err
	}
	return &ScheduleStrategy{Schedule: sched, Decomposition: d}, nil
}
