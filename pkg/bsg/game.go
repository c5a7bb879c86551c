// Package bsg models Bayesian Stackelberg security games: a defender
// committing to a mixed strategy over pure configurations, and attacker
// types drawn from a known prior best-responding to it. The package holds
// the immutable game data, the text input formats, and the classic
// variable-report output block.
package bsg

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

var (
	// ErrMalformedInput is returned when counts, row widths, or payoff
	// tokens are inconsistent with the file headers.
	ErrMalformedInput = errors.New("malformed game input")

	// ErrInvalidGame is returned when a constructed game violates a model
	// invariant (priors, matrix shapes, cost diagonal).
	ErrInvalidGame = errors.New("invalid game")
)

// AttackerType holds one attacker type: its prior probability, the labels of
// its attack actions, and the payoff bimatrix. Reward[i][j] is the defender
// payoff and Payoff[i][j] the attacker payoff when the defender plays
// configuration i and this attacker plays attack j.
type AttackerType struct {
	Prior   float64
	Attacks []string
	Reward  [][]float64
	Payoff  [][]float64
}

// Game is an immutable Bayesian Stackelberg security game instance. The
// defender chooses among NumConfigs pure configurations; each attacker type
// observes the defender's mixed strategy and best-responds.
type Game struct {
	NumConfigs int
	Attackers  []AttackerType

	// SwitchCost[i][j] is the cost of moving from configuration i to j.
	// Nil unless the game was built for the switching-cost variant.
	SwitchCost [][]float64
}

// NewGame validates the model invariants and returns the game. Priors must be
// nonnegative and sum to one, every payoff matrix must be NumConfigs rows of
// len(Attacks) columns, and a switch-cost matrix (when present) must be
// square with a zero diagonal and nonnegative entries.
func NewGame(numConfigs int, attackers []AttackerType, switchCost [][]float64) (*Game, error) {
	if numConfigs < 1 {
		return nil, fmt.Errorf("%w: need at least one defender configuration", ErrInvalidGame)
	}
	if len(attackers) == 0 {
		return nil, fmt.Errorf("%w: need at least one attacker type", ErrInvalidGame)
	}
	priorSum := 0.0
	for l, at := range attackers {
		if at.Prior < 0 {
			return nil, fmt.Errorf("%w: attacker %d has negative prior %g", ErrInvalidGame, l, at.Prior)
		}
		priorSum += at.Prior
		if len(at.Attacks) == 0 {
			return nil, fmt.Errorf("%w: attacker %d has no attacks", ErrInvalidGame, l)
		}
		if len(at.Reward) != numConfigs || len(at.Payoff) != numConfigs {
			return nil, fmt.Errorf("%w: attacker %d payoff matrices need %d rows", ErrInvalidGame, l, numConfigs)
		}
		for i := 0; i < numConfigs; i++ {
			if len(at.Reward[i]) != len(at.Attacks) || len(at.Payoff[i]) != len(at.Attacks) {
				return nil, fmt.Errorf("%w: attacker %d row %d needs %d columns", ErrInvalidGame, l, i, len(at.Attacks))
			}
		}
	}
	if math.Abs(priorSum-1) > 1e-9 {
		return nil, fmt.Errorf("%w: priors sum to %g, want 1", ErrInvalidGame, priorSum)
	}
	if switchCost != nil {
		if len(switchCost) != numConfigs {
			return nil, fmt.Errorf("%w: switch-cost matrix needs %d rows", ErrInvalidGame, numConfigs)
		}
		for i, row := range switchCost {
			if len(row) != numConfigs {
				return nil, fmt.Errorf("%w: switch-cost row %d needs %d columns", ErrInvalidGame, i, numConfigs)
			}
			if row[i] != 0 {
				return nil, fmt.Errorf("%w: switch-cost diagonal entry [%d][%d] must be zero", ErrInvalidGame, i, i)
			}
			for j, c := range row {
				if c < 0 {
					return nil, fmt.Errorf("%w: switch-cost entry [%d][%d] is negative", ErrInvalidGame, i, j)
				}
			}
		}
	}
	return &Game{NumConfigs: numConfigs, Attackers: attackers, SwitchCost: switchCost}, nil
}

// NumTypes returns the number of attacker types.
func (g *Game) NumTypes() int { return len(g.Attackers) }

// MaxAbsAttackerPayoff returns max |Payoff[l][i][j]| across the whole game.
// Used to derive a big-M constant that bounds the attacker utility range.
func (g *Game) MaxAbsAttackerPayoff() float64 {
	maxAbs := 0.0
	for _, at := range g.Attackers {
		for _, row := range at.Payoff {
			for _, c := range row {
				if a := math.Abs(c); a > maxAbs {
					maxAbs = a
				}
			}
		}
	}
	return maxAbs
}

// UniqueAttackNames returns the de-duplicated union of attack labels across
// all attacker types, sorted lexicographically. The ordering is the canonical
// enumeration order for what-to-fix combinations.
func (g *Game) UniqueAttackNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, at := range g.Attackers {
		for _, n := range at.Attacks {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	sort.Strings(names)
	return names
}

// AttackExcluded reports whether an attack label is removed by the given
// exclusion set. The match is by substring: excluding "Attack1" also removes
// a composite label like "Attack1+Attack4". This mirrors the neutralization
// semantics of the what-to-fix analysis; use exact labels as exclusions only
// when no label is a substring of another.
func AttackExcluded(name string, exclusions []string) bool {
	for _, e := range exclusions {
		if strings.Contains(name, e) {
			return true
		}
	}
	return false
}

// WithoutAttacks returns a derived game with every attack matching the
// exclusion set removed from every attacker type. Payoff columns for removed
// attacks are dropped. A type whose attacks are all excluded keeps an empty
// attack list; solving such a game is infeasible, which callers treat as a
// worthless exclusion set.
func (g *Game) WithoutAttacks(exclusions []string) *Game {
	attackers := make([]AttackerType, len(g.Attackers))
	for l, at := range g.Attackers {
		keep := make([]int, 0, len(at.Attacks))
		for j, n := range at.Attacks {
			if !AttackExcluded(n, exclusions) {
				keep = append(keep, j)
			}
		}
		names := make([]string, len(keep))
		reward := make([][]float64, g.NumConfigs)
		payoff := make([][]float64, g.NumConfigs)
		for k, j := range keep {
			names[k] = at.Attacks[j]
		}
		for i := 0; i < g.NumConfigs; i++ {
			reward[i] = make([]float64, len(keep))
			payoff[i] = make([]float64, len(keep))
			for k, j := range keep {
				reward[i][k] = at.Reward[i][j]
				payoff[i][k] = at.Payoff[i][j]
			}
		}
		attackers[l] = AttackerType{Prior: at.Prior, Attacks: names, Reward: reward, Payoff: payoff}
	}
	return &Game{NumConfigs: g.NumConfigs, Attackers: attackers, SwitchCost: g.SwitchCost}
}
