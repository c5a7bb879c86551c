package mip

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// lpResult is the outcome of one LP relaxation solve.
type lpResult struct {
	objective float64 // in the program's own sense
	values    []float64
}

// stdForm lowers a general-form LP to the standard form min c·y, Ay = b,
// y ≥ 0 expected by gonum's simplex. Every finite row bound gets its own
// slack column, so A always has full row rank regardless of dependent
// equality rows in the source program.
type stdForm struct {
	cols      int
	rows      [][]stdTerm
	rhs       []float64
	c         []float64
	constant  float64
	negate    bool // objective was negated for a maximization program
	plusIdx   []int
	minusIdx  []int // -1 unless the variable is free and split
	shift     []float64
	mirrored  []bool // variable substituted as v = hi - y
	fixed     []bool // variable resolved analytically, value in shift
	numSource int
}

type stdTerm struct {
	col  int
	coef float64
}

var errEmptyBox = errors.New("mip: branch produced an empty variable box")

// buildStandardForm lowers p with the given per-variable bound overrides.
func buildStandardForm(p *Program, lo, hi []float64) (*stdForm, error) {
	n := p.NumVars()
	sf := &stdForm{
		plusIdx:   make([]int, n),
		minusIdx:  make([]int, n),
		shift:     make([]float64, n),
		mirrored:  make([]bool, n),
		fixed:     make([]bool, n),
		numSource: n,
		negate:    p.sense == Maximize,
	}
	sign := 1.0
	if sf.negate {
		sign = -1
	}

	newCol := func() int {
		sf.cols++
		sf.c = append(sf.c, 0)
		return sf.cols - 1
	}
	addRow := func(terms []stdTerm, rhs float64) {
		sf.rows = append(sf.rows, terms)
		sf.rhs = append(sf.rhs, rhs)
	}

	// Variables appearing in no constraint would yield all-zero columns,
	// which the simplex rejects; they are separable and resolved here.
	occurs := make([]bool, n)
	for _, con := range p.cons {
		for _, t := range con.Terms {
			occurs[t.Var] = true
		}
	}

	// Variable substitutions.
	for v := 0; v < n; v++ {
		l, h := lo[v], hi[v]
		if l > h+1e-12 {
			return nil, errEmptyBox
		}
		loFinite, hiFinite := !math.IsInf(l, -1), !math.IsInf(h, 1)

		if !occurs[v] && !(loFinite && hiFinite) {
			// Separable: the optimum sits at the finite bound unless the
			// objective pushes toward the open end.
			c := sign * p.obj[Var(v)]
			switch {
			case !loFinite && !hiFinite:
				if c != 0 {
					return nil, ErrUnbounded
				}
				sf.fixed[v] = true
			case loFinite:
				if c < 0 {
					return nil, ErrUnbounded
				}
				sf.fixed[v] = true
				sf.shift[v] = l
				sf.constant += c * l
			default:
				if c > 0 {
					return nil, ErrUnbounded
				}
				sf.fixed[v] = true
				sf.shift[v] = h
				sf.constant += c * h
			}
			sf.plusIdx[v], sf.minusIdx[v] = -1, -1
			continue
		}

		switch {
		case !loFinite && !hiFinite:
			sf.plusIdx[v] = newCol()
			sf.minusIdx[v] = newCol()
		case !loFinite:
			// v = h - y
			sf.plusIdx[v] = newCol()
			sf.minusIdx[v] = -1
			sf.shift[v] = h
			sf.mirrored[v] = true
		default:
			// v = l + y, optionally capped by a slack row
			sf.plusIdx[v] = newCol()
			sf.minusIdx[v] = -1
			sf.shift[v] = l
			if hiFinite {
				s := newCol()
				addRow([]stdTerm{{sf.plusIdx[v], 1}, {s, 1}}, h-l)
			}
		}
	}

	// Objective on substituted variables.
	for v, coef := range p.obj {
		if sf.fixed[v] {
			continue
		}
		c := sign * coef
		switch {
		case sf.minusIdx[v] >= 0:
			sf.c[sf.plusIdx[v]] += c
			sf.c[sf.minusIdx[v]] -= c
		case sf.mirrored[int(v)]:
			sf.c[sf.plusIdx[v]] -= c
			sf.constant += c * sf.shift[v]
		default:
			sf.c[sf.plusIdx[v]] += c
			sf.constant += c * sf.shift[v]
		}
	}

	// Constraint rows. Each finite bound becomes one row with a fresh slack.
	for _, con := range p.cons {
		var terms []stdTerm
		offset := 0.0
		for _, t := range con.Terms {
			v := int(t.Var)
			switch {
			case sf.minusIdx[v] >= 0:
				terms = append(terms, stdTerm{sf.plusIdx[v], t.Coef}, stdTerm{sf.minusIdx[v], -t.Coef})
			case sf.mirrored[v]:
				terms = append(terms, stdTerm{sf.plusIdx[v], -t.Coef})
				offset += t.Coef * sf.shift[v]
			default:
				terms = append(terms, stdTerm{sf.plusIdx[v], t.Coef})
				offset += t.Coef * sf.shift[v]
			}
		}
		if !math.IsInf(con.Hi, 1) {
			s := newCol()
			row := append(append([]stdTerm{}, terms...), stdTerm{s, 1})
			addRow(row, con.Hi-offset)
		}
		if !math.IsInf(con.Lo, -1) {
			s := newCol()
			row := append(append([]stdTerm{}, terms...), stdTerm{s, -1})
			addRow(row, con.Lo-offset)
		}
	}

	return sf, nil
}

// solve runs gonum's simplex on the lowered program and maps the solution
// back to the source variables.
func (sf *stdForm) solve() (*lpResult, error) {
	m := len(sf.rows)
	if m == 0 {
		return nil, fmt.Errorf("mip: program has no constraints")
	}
	data := make([]float64, m*sf.cols)
	for r, row := range sf.rows {
		for _, t := range row {
			data[r*sf.cols+t.col] += t.coef
		}
	}
	a := mat.NewDense(m, sf.cols, data)

	opt, y, err := lp.Simplex(sf.c, a, sf.rhs, 0, nil)
	if err != nil {
		switch {
		case errors.Is(err, lp.ErrInfeasible):
			return nil, ErrInfeasible
		case errors.Is(err, lp.ErrUnbounded):
			return nil, ErrUnbounded
		default:
			return nil, fmt.Errorf("mip: simplex failed: %w", err)
		}
	}

	values := make([]float64, sf.numSource)
	for v := 0; v < sf.numSource; v++ {
		switch {
		case sf.fixed[v]:
			values[v] = sf.shift[v]
		case sf.minusIdx[v] >= 0:
			values[v] = y[sf.plusIdx[v]] - y[sf.minusIdx[v]]
		case sf.mirrored[v]:
			values[v] = sf.shift[v] - y[sf.plusIdx[v]]
		default:
			values[v] = sf.shift[v] + y[sf.plusIdx[v]]
		}
	}
	obj := opt + sf.constant
	if sf.negate {
		obj = -obj
	}
	return &lpResult{objective: obj, values: values}, nil
}

// solveRelaxation solves the LP relaxation of p under the given bound box.
func solveRelaxation(p *Program, lo, hi []float64) (*lpResult, error) {
	sf, err := buildStandardForm(p, lo, hi)
	if err != nil {
		if errors.Is(err, errEmptyBox) {
			return nil, ErrInfeasible
		}
		return nil, err
	}
	return sf.solve()
}
