// Package solver builds the mixed-integer programs for each Bayesian
// Stackelberg game variant and orchestrates solves into defender strategies.
package solver

import (
	"fmt"
	"math"

	"github.com/mtdlab/stackplan/pkg/bsg"
	"github.com/mtdlab/stackplan/pkg/mip"
)

// Handles exposes the typed variable handles of a built program. Indices
// mirror the game: X by configuration, Q and A by attacker type, Z by
// (type, configuration, attack), W by configuration pair, P by target and
// MP by (resource, target). Slices not used by a variant stay nil.
type Handles struct {
	X []mip.Var
	Q [][]mip.Var
	A []mip.Var
	Z [][][]mip.Var
	W [][]mip.Var

	P  []mip.Var
	MP [][]mip.Var
}

// bigM returns a big-M constant bounding the attacker utility range. The
// spread of Σ C[i][j]·x over a simplex x is at most twice the largest
// absolute attacker payoff.
func bigM(g *bsg.Game) float64 {
	return math.Max(2*g.MaxAbsAttackerPayoff(), 1)
}

// BuildDOBSS constructs the linearized DOBSS program: maximize
// Σ p_l·R_l[i][j]·z_{lij} subject to the defender simplex, one pure attack
// per type, McCormick envelopes tying z to x·q, and big-M dominance rows
// forcing each type onto a utility-maximizing attack.
func BuildDOBSS(g *bsg.Game) (*mip.Program, *Handles) {
	p := mip.NewProgram()
	h := &Handles{}
	m := bigM(g)

	h.X = make([]mip.Var, g.NumConfigs)
	simplex := make([]mip.Term, g.NumConfigs)
	for i := range h.X {
		h.X[i] = p.AddVar(fmt.Sprintf("x-%d", i), mip.Continuous, 0, 1)
		simplex[i] = mip.Term{Var: h.X[i], Coef: 1}
	}
	p.AddEq(simplex, 1)

	addAttackerBlocks(p, h, g, func(i int) []mip.Term {
		return []mip.Term{{Var: h.X[i], Coef: 1}}
	}, m)
	return p, h
}

// BuildExclusion constructs the DOBSS program with every attack matching the
// exclusion set removed. Matching is by substring, so excluding "Attack1"
// also neutralizes composite attacks such as "Attack1+Attack4".
func BuildExclusion(g *bsg.Game, exclusions []string) (*mip.Program, *Handles) {
	return BuildDOBSS(g.WithoutAttacks(exclusions))
}

// BuildCostDOBSS extends DOBSS with switching-cost terms: variables w_{ij}
// relax the product x_i·x_j via McCormick envelopes tightened by flow
// conservation and total mass, and the objective pays alpha·cost[i][j] per
// unit of w. The relaxation upper-bounds the true quadratic switching cost;
// do not replace it with an exact bilinear solve.
func BuildCostDOBSS(g *bsg.Game, alpha float64) (*mip.Program, *Handles, error) {
	if g.SwitchCost == nil {
		return nil, nil, fmt.Errorf("%w: switching-cost variant needs a cost matrix", bsg.ErrInvalidGame)
	}
	if alpha < 0 {
		return nil, nil, fmt.Errorf("%w: alpha must be nonnegative, got %g", bsg.ErrInvalidGame, alpha)
	}
	p, h := BuildDOBSS(g)
	n := g.NumConfigs

	h.W = make([][]mip.Var, n)
	for i := range h.W {
		h.W[i] = make([]mip.Var, n)
		for j := range h.W[i] {
			h.W[i][j] = p.AddVar(fmt.Sprintf("w-%d-%d", i, j), mip.Continuous, 0, 1)
		}
	}
	var all []mip.Term
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			w := h.W[i][j]
			if i == j {
				p.AddEq([]mip.Term{{Var: w, Coef: 1}}, 0)
			} else {
				p.AddGe([]mip.Term{{Var: w, Coef: 1}, {Var: h.X[i], Coef: -1}, {Var: h.X[j], Coef: -1}}, -1)
				p.AddLe([]mip.Term{{Var: w, Coef: 1}, {Var: h.X[i], Coef: -1}}, 0)
				p.AddLe([]mip.Term{{Var: w, Coef: 1}, {Var: h.X[j], Coef: -1}}, 0)
			}
			p.AddObjectiveTerm(w, -alpha*g.SwitchCost[i][j])
			all = append(all, mip.Term{Var: w, Coef: 1})
		}
		row := make([]mip.Term, 0, n+1)
		for j := 0; j < n; j++ {
			row = append(row, mip.Term{Var: h.W[i][j], Coef: 1})
		}
		row = append(row, mip.Term{Var: h.X[i], Coef: -1})
		p.AddEq(row, 0)
	}
	for j := 0; j < n; j++ {
		col := make([]mip.Term, 0, n+1)
		for i := 0; i < n; i++ {
			col = append(col, mip.Term{Var: h.W[i][j], Coef: 1})
		}
		col = append(col, mip.Term{Var: h.X[j], Coef: -1})
		p.AddEq(col, 0)
	}
	p.AddEq(all, 1)
	return p, h, nil
}

// BuildUniform constructs the uniform-random baseline: x is fixed at 1/X,
// so only the attacker response variables remain and the dominance rows use
// constant defender coverage.
func BuildUniform(g *bsg.Game) (*mip.Program, *Handles) {
	p := mip.NewProgram()
	h := &Handles{}
	m := bigM(g)
	xr := 1.0 / float64(g.NumConfigs)

	h.Q = make([][]mip.Var, g.NumTypes())
	h.A = make([]mip.Var, g.NumTypes())
	for l, at := range g.Attackers {
		h.Q[l] = make([]mip.Var, len(at.Attacks))
		pure := make([]mip.Term, len(at.Attacks))
		for j, name := range at.Attacks {
			h.Q[l][j] = p.AddVar(fmt.Sprintf("%d-%s", l, name), mip.Binary, 0, 1)
			pure[j] = mip.Term{Var: h.Q[l][j], Coef: 1}
		}
		p.AddEq(pure, 1)
		h.A[l] = p.AddVar(fmt.Sprintf("a-%d", l), mip.Continuous, math.Inf(-1), math.Inf(1))

		for j := range at.Attacks {
			util := 0.0
			rew := 0.0
			for i := 0; i < g.NumConfigs; i++ {
				util += at.Payoff[i][j] * xr
				rew += at.Reward[i][j] * xr
			}
			p.AddGe([]mip.Term{{Var: h.A[l], Coef: 1}}, util)
			// a - util <= (1-q)M
			p.AddLe([]mip.Term{{Var: h.A[l], Coef: 1}, {Var: h.Q[l][j], Coef: m}}, util+m)
			p.AddObjectiveTerm(h.Q[l][j], at.Prior*rew)
		}
	}
	return p, h
}

// addAttackerBlocks emits the per-type variables and rows shared by the
// DOBSS variants. coverage(i) is the linear expression for the probability
// the defender plays configuration i.
func addAttackerBlocks(p *mip.Program, h *Handles, g *bsg.Game, coverage func(i int) []mip.Term, m float64) {
	h.Q = make([][]mip.Var, g.NumTypes())
	h.A = make([]mip.Var, g.NumTypes())
	h.Z = make([][][]mip.Var, g.NumTypes())

	for l, at := range g.Attackers {
		nq := len(at.Attacks)
		h.Q[l] = make([]mip.Var, nq)
		pure := make([]mip.Term, nq)
		for j, name := range at.Attacks {
			h.Q[l][j] = p.AddVar(fmt.Sprintf("%d-%s", l, name), mip.Binary, 0, 1)
			pure[j] = mip.Term{Var: h.Q[l][j], Coef: 1}
		}
		p.AddEq(pure, 1)
		h.A[l] = p.AddVar(fmt.Sprintf("a-%d", l), mip.Continuous, math.Inf(-1), math.Inf(1))

		h.Z[l] = make([][]mip.Var, g.NumConfigs)
		for i := 0; i < g.NumConfigs; i++ {
			h.Z[l][i] = make([]mip.Var, nq)
			cov := coverage(i)
			for j := 0; j < nq; j++ {
				z := p.AddVar(fmt.Sprintf("z-%d-%d-%d", l, i, j), mip.Continuous, 0, 1)
				h.Z[l][i][j] = z

				// z <= x_i
				le := append([]mip.Term{{Var: z, Coef: 1}}, negate(cov)...)
				p.AddLe(le, 0)
				// z <= q_j
				p.AddLe([]mip.Term{{Var: z, Coef: 1}, {Var: h.Q[l][j], Coef: -1}}, 0)
				// z >= x_i + q_j - 1
				ge := append([]mip.Term{{Var: z, Coef: 1}, {Var: h.Q[l][j], Coef: -1}}, negate(cov)...)
				p.AddGe(ge, -1)

				p.AddObjectiveTerm(z, at.Prior*at.Reward[i][j])
			}
		}

		for j := 0; j < nq; j++ {
			// a - Sum_i C[i][j] x_i in [0, (1-q_j) M]
			lower := []mip.Term{{Var: h.A[l], Coef: 1}}
			for i := 0; i < g.NumConfigs; i++ {
				for _, t := range coverage(i) {
					lower = append(lower, mip.Term{Var: t.Var, Coef: -at.Payoff[i][j] * t.Coef})
				}
			}
			p.AddGe(lower, 0)
			upper := append(append([]mip.Term{}, lower...), mip.Term{Var: h.Q[l][j], Coef: m})
			p.AddLe(upper, m)
		}
	}
}

func negate(terms []mip.Term) []mip.Term {
	out := make([]mip.Term, len(terms))
	for i, t := range terms {
		out[i] = mip.Term{Var: t.Var, Coef: -t.Coef}
	}
	return out
}

// BuildSchedule constructs the singleton-schedule LP for the hypothesis
// that the attacker strikes target tStar: marginal coverages p_t tied to
// per-resource assignment probabilities mp_{rt}, the attacker pinned to
// tStar, and the defender's utility at tStar maximized. The pinning rows
// run over every target including tStar itself; that row is trivially
// satisfied and intentionally kept.
func BuildSchedule(sg *bsg.ScheduleGame, tStar int) (*mip.Program, *Handles) {
	p := mip.NewProgram()
	h := &Handles{}

	h.P = make([]mip.Var, sg.Targets)
	for t := 0; t < sg.Targets; t++ {
		h.P[t] = p.AddVar(fmt.Sprintf("p-%d", t), mip.Continuous, 0, 1)
	}
	h.MP = make([][]mip.Var, sg.Resources)
	for r := 0; r < sg.Resources; r++ {
		h.MP[r] = make([]mip.Var, sg.Targets)
		row := make([]mip.Term, sg.Targets)
		for t := 0; t < sg.Targets; t++ {
			h.MP[r][t] = p.AddVar(fmt.Sprintf("mp-%d-%d", r, t), mip.Continuous, 0, 1)
			row[t] = mip.Term{Var: h.MP[r][t], Coef: 1}
		}
		p.AddLe(row, 1)
	}
	for t := 0; t < sg.Targets; t++ {
		col := make([]mip.Term, 0, sg.Resources+1)
		for r := 0; r < sg.Resources; r++ {
			col = append(col, mip.Term{Var: h.MP[r][t], Coef: 1})
		}
		col = append(col, mip.Term{Var: h.P[t], Coef: -1})
		p.AddEq(col, 0)
	}

	// Attacker pinning: U_a(t) <= U_a(tStar) for all t, where
	// U_a(t) = Cc_t p_t + Cu_t (1 - p_t).
	starSlope := sg.Attacker[tStar].Covered - sg.Attacker[tStar].Uncovered
	for t := 0; t < sg.Targets; t++ {
		slope := sg.Attacker[t].Covered - sg.Attacker[t].Uncovered
		terms := []mip.Term{
			{Var: h.P[t], Coef: slope},
			{Var: h.P[tStar], Coef: -starSlope},
		}
		p.AddLe(terms, sg.Attacker[tStar].Uncovered-sg.Attacker[t].Uncovered)
	}

	p.AddObjectiveTerm(h.P[tStar], sg.Defender[tStar].Covered-sg.Defender[tStar].Uncovered)
	// The constant Ru_{tStar} of the objective is added back by the caller.
	return p, h
}
