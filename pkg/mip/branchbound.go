package mip

import (
	"context"
	"errors"
	"math"
)

// Options tunes the branch-and-bound backend.
type Options struct {
	// IntTol is the distance from an integer within which a relaxation
	// value counts as integral. Default 1e-6.
	IntTol float64

	// MaxNodes caps the search tree size; exceeding it yields StatusLimit
	// with the incumbent. Default 200000.
	MaxNodes int
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{IntTol: 1e-6, MaxNodes: 200000}
}

// BranchBound is a pure-Go MILP solver: depth-first branch and bound over
// the integer variables with LP relaxations solved by gonum's simplex.
// Programs with big-M constants derived from payoff magnitudes (≤ 10^8)
// stay within the simplex's default tolerances.
type BranchBound struct {
	opts Options
}

// NewBranchBound returns a solver with the given options; zero fields fall
// back to defaults.
func NewBranchBound(opts Options) *BranchBound {
	def := DefaultOptions()
	if opts.IntTol <= 0 {
		opts.IntTol = def.IntTol
	}
	if opts.MaxNodes <= 0 {
		opts.MaxNodes = def.MaxNodes
	}
	return &BranchBound{opts: opts}
}

type bbNode struct {
	lo []float64
	hi []float64
}

// Solve implements Solver.
func (s *BranchBound) Solve(ctx context.Context, p *Program) (*Solution, error) {
	n := p.NumVars()
	rootLo := make([]float64, n)
	rootHi := make([]float64, n)
	for v := 0; v < n; v++ {
		rootLo[v], rootHi[v] = p.Bounds(Var(v))
	}
	ints := p.integerVars()

	// Maximize-space comparison: better means strictly larger.
	dir := 1.0
	if p.sense == Minimize {
		dir = -1
	}

	var incumbent *lpResult
	stack := []bbNode{{lo: rootLo, hi: rootHi}}
	nodes := 0

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return s.limitSolution(incumbent), ErrLimit
		}
		nodes++
		if nodes > s.opts.MaxNodes {
			return s.limitSolution(incumbent), ErrLimit
		}

		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		rel, err := solveRelaxation(p, node.lo, node.hi)
		switch {
		case errors.Is(err, ErrInfeasible):
			continue
		case errors.Is(err, ErrUnbounded):
			return &Solution{Status: StatusUnbounded}, ErrUnbounded
		case err != nil:
			return nil, err
		}

		// Bound: a node whose relaxation cannot beat the incumbent is dead.
		if incumbent != nil && dir*rel.objective <= dir*incumbent.objective+1e-9 {
			continue
		}

		branchVar, branchVal, fractional := s.mostFractional(ints, rel.values)
		if !fractional {
			incumbent = rel
			continue
		}

		// Explore the side nearest the relaxation value first.
		down := bbNode{lo: node.lo, hi: cloneBounds(node.hi)}
		down.hi[branchVar] = math.Floor(branchVal)
		up := bbNode{lo: cloneBounds(node.lo), hi: node.hi}
		up.lo[branchVar] = math.Ceil(branchVal)
		if branchVal-math.Floor(branchVal) > 0.5 {
			stack = append(stack, down, up)
		} else {
			stack = append(stack, up, down)
		}
	}

	if incumbent == nil {
		return &Solution{Status: StatusInfeasible}, ErrInfeasible
	}
	return &Solution{
		Status:    StatusOptimal,
		Objective: incumbent.objective,
		Values:    roundIntegers(p, incumbent.values, s.opts.IntTol),
	}, nil
}

// mostFractional picks the integer variable farthest from integrality.
// Ties break on the lowest handle for determinism.
func (s *BranchBound) mostFractional(ints []Var, values []float64) (Var, float64, bool) {
	best := Var(-1)
	bestDist := s.opts.IntTol
	bestVal := 0.0
	for _, v := range ints {
		val := values[v]
		dist := math.Abs(val - math.Round(val))
		if dist > bestDist {
			best, bestDist, bestVal = v, dist, val
		}
	}
	return best, bestVal, best >= 0
}

func (s *BranchBound) limitSolution(incumbent *lpResult) *Solution {
	if incumbent == nil {
		return &Solution{Status: StatusLimit, Incomplete: true}
	}
	return &Solution{
		Status:     StatusLimit,
		Objective:  incumbent.objective,
		Values:     incumbent.values,
		Incomplete: true,
	}
}

func cloneBounds(b []float64) []float64 {
	out := make([]float64, len(b))
	copy(out, b)
	return out
}

// roundIntegers snaps near-integral values of integer variables so callers
// see clean 0/1 assignments.
func roundIntegers(p *Program, values []float64, tol float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	for v := range out {
		if p.Type(Var(v)) == Continuous {
			continue
		}
		r := math.Round(out[v])
		if math.Abs(out[v]-r) <= tol {
			out[v] = r
		}
	}
	return out
}
