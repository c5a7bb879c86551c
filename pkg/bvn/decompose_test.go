package bvn

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"gorgonia.org/tensor"
)

func matrix(rows, cols int, data []float64) *tensor.Dense {
	return tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(data))
}

func rowConstraint(row, cols int, cap Capacity) Constraint {
	cells := make([]Cell, cols)
	for c := range cells {
		cells[c] = Cell{Row: row, Col: c}
	}
	return Constraint{Cells: cells, Cap: cap}
}

func colConstraint(col, rows int, cap Capacity) Constraint {
	cells := make([]Cell, rows)
	for r := range cells {
		cells[r] = Cell{Row: r, Col: col}
	}
	return Constraint{Cells: cells, Cap: cap}
}

// checkRoundTrip verifies the decomposition invariants: coefficients sum to
// one, the weighted bases reconstruct x, every basis is integral, and every
// basis satisfies every capacity exactly.
func checkRoundTrip(t *testing.T, x *tensor.Dense, cons []Constraint, d *Decomposition, eps float64) {
	t.Helper()
	if math.Abs(d.CoefSum-1) > eps {
		t.Errorf("coefficient sum = %g, want 1", d.CoefSum)
	}
	xd := x.Data().([]float64)
	rd := d.Reconstruction.Data().([]float64)
	for i := range xd {
		if math.Abs(xd[i]-rd[i]) > eps {
			t.Errorf("reconstruction[%d] = %g, want %g", i, rd[i], xd[i])
		}
	}
	shape := x.Shape()
	cols := shape[1]
	for k, b := range d.Bases {
		bd := b.Data().([]float64)
		for i, v := range bd {
			if v != 0 && v != 1 {
				t.Errorf("basis %d entry %d = %g, want 0 or 1", k, i, v)
			}
		}
		for _, con := range cons {
			sum := 0.0
			for _, c := range con.Cells {
				sum += bd[c.Row*cols+c.Col]
			}
			if sum < con.Cap.Lo || sum > con.Cap.Hi {
				t.Errorf("basis %d violates capacity [%g,%g] on %v: sum %g",
					k, con.Cap.Lo, con.Cap.Hi, con.Cells, sum)
			}
		}
	}
	// No two leaves may share a basis after merging.
	seen := make(map[string]bool)
	for k, b := range d.Bases {
		key := ""
		for _, v := range b.Data().([]float64) {
			if v > 0.5 {
				key += "1"
			} else {
				key += "0"
			}
		}
		if seen[key] {
			t.Errorf("basis %d duplicates an earlier basis", k)
		}
		seen[key] = true
	}
}

func TestDecomposeScheduleMatrix(t *testing.T) {
	x := matrix(4, 3, []float64{
		0.5, 0.2, 0.3,
		0.5, 0.5, 0,
		0.8, 0, 0.2,
		0.2, 0.3, 0.5,
	})
	cons := []Constraint{
		rowConstraint(0, 3, Capacity{1, 1}),
		rowConstraint(1, 3, Capacity{1, 1}),
		rowConstraint(2, 3, Capacity{1, 1}),
		rowConstraint(3, 3, Capacity{1, 1}),
		colConstraint(0, 4, Capacity{1, 2}),
		colConstraint(1, 4, Capacity{1, 1}),
		colConstraint(2, 4, Capacity{1, 1}),
	}
	d, err := Decompose(x, cons, DefaultOptions())
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	checkRoundTrip(t, x, cons, d, 1e-6)
}

func TestDecomposeNestedConstraint(t *testing.T) {
	// Same matrix with an extra set nested inside column 0.
	x := matrix(4, 3, []float64{
		0.5, 0.2, 0.3,
		0.5, 0.5, 0,
		0.8, 0, 0.2,
		0.2, 0.3, 0.5,
	})
	cons := []Constraint{
		rowConstraint(0, 3, Capacity{1, 1}),
		rowConstraint(1, 3, Capacity{1, 1}),
		rowConstraint(2, 3, Capacity{1, 1}),
		rowConstraint(3, 3, Capacity{1, 1}),
		colConstraint(0, 4, Capacity{1, 2}),
		colConstraint(1, 4, Capacity{1, 1}),
		colConstraint(2, 4, Capacity{1, 1}),
		{Cells: []Cell{{0, 0}, {1, 0}}, Cap: Capacity{1, 1}},
	}
	d, err := Decompose(x, cons, DefaultOptions())
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	checkRoundTrip(t, x, cons, d, 1e-6)
}

func TestDecomposeDoublyStochastic(t *testing.T) {
	// Classical Birkhoff-von Neumann: every basis is a permutation matrix.
	x := matrix(3, 3, []float64{
		0.5, 0.3, 0.2,
		0.2, 0.5, 0.3,
		0.3, 0.2, 0.5,
	})
	var cons []Constraint
	for r := 0; r < 3; r++ {
		cons = append(cons, rowConstraint(r, 3, Capacity{1, 1}))
	}
	for c := 0; c < 3; c++ {
		cons = append(cons, colConstraint(c, 3, Capacity{1, 1}))
	}
	d, err := Decompose(x, cons, DefaultOptions())
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	checkRoundTrip(t, x, cons, d, 1e-6)
	for k, b := range d.Bases {
		bd := b.Data().([]float64)
		for r := 0; r < 3; r++ {
			rowSum, colSum := 0.0, 0.0
			for c := 0; c < 3; c++ {
				rowSum += bd[r*3+c]
				colSum += bd[c*3+r]
			}
			if rowSum != 1 || colSum != 1 {
				t.Errorf("basis %d is not a permutation matrix", k)
			}
		}
	}
}

func TestDecomposeIntegralInput(t *testing.T) {
	x := matrix(2, 2, []float64{1, 0, 0, 1})
	cons := []Constraint{
		rowConstraint(0, 2, Capacity{1, 1}),
		rowConstraint(1, 2, Capacity{1, 1}),
	}
	d, err := Decompose(x, cons, DefaultOptions())
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if len(d.Bases) != 1 {
		t.Fatalf("got %d bases, want 1", len(d.Bases))
	}
	if math.Abs(d.Coefficients[0]-1) > 1e-9 {
		t.Errorf("single basis coefficient = %g, want 1", d.Coefficients[0])
	}
}

func TestDecomposeNotBihierarchy(t *testing.T) {
	// Row, column, and diagonal sets pairwise cross; no two laminar
	// families can hold all three.
	x := matrix(2, 2, []float64{0.5, 0.5, 0.5, 0.5})
	cons := []Constraint{
		{Cells: []Cell{{0, 0}, {0, 1}}, Cap: Capacity{1, 1}},
		{Cells: []Cell{{0, 0}, {1, 0}}, Cap: Capacity{1, 1}},
		{Cells: []Cell{{0, 0}, {1, 1}}, Cap: Capacity{1, 1}},
	}
	if _, err := Decompose(x, cons, DefaultOptions()); !errors.Is(err, ErrNotBihierarchy) {
		t.Errorf("got %v, want ErrNotBihierarchy", err)
	}
}

func TestDecomposeCapacityViolation(t *testing.T) {
	x := matrix(1, 2, []float64{0.4, 0.5})
	cons := []Constraint{rowConstraint(0, 2, Capacity{1, 1})}
	if _, err := Decompose(x, cons, DefaultOptions()); !errors.Is(err, ErrCapacityViolation) {
		t.Errorf("got %v, want ErrCapacityViolation", err)
	}
}

func TestDecomposeEntryOutOfRange(t *testing.T) {
	x := matrix(1, 2, []float64{1.5, -0.5})
	if _, err := Decompose(x, nil, DefaultOptions()); !errors.Is(err, ErrCapacityViolation) {
		t.Errorf("got %v, want ErrCapacityViolation", err)
	}
}

func TestDecomposeSample(t *testing.T) {
	x := matrix(1, 2, []float64{0.5, 0.5})
	cons := []Constraint{rowConstraint(0, 2, Capacity{1, 1})}
	d, err := Decompose(x, cons, DefaultOptions())
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	rng := rand.New(rand.NewSource(7))
	counts := make(map[*tensor.Dense]int)
	for i := 0; i < 1000; i++ {
		counts[d.Sample(rng)]++
	}
	for _, b := range d.Bases {
		if counts[b] == 0 {
			t.Errorf("basis never sampled from a half/half distribution")
		}
	}
}

func TestHomogeneousStrategies(t *testing.T) {
	x := matrix(2, 2, []float64{1, 0, 0, 1})
	cons := SingletonSchedule(2, 2)
	d, err := Decompose(x, cons, DefaultOptions())
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	hs, err := d.HomogeneousStrategies()
	if err != nil {
		t.Fatalf("HomogeneousStrategies: %v", err)
	}
	if len(hs) != 1 {
		t.Fatalf("got %d collapsed strategies, want 1", len(hs))
	}
	got := hs[0].Data().([]float64)
	if got[0] != 1 || got[1] != 1 {
		t.Errorf("collapsed coverage = %v, want [1 1]", got)
	}
}

func TestSingletonSchedule(t *testing.T) {
	cons := SingletonSchedule(2, 3)
	if len(cons) != 5 {
		t.Fatalf("got %d constraints, want 5", len(cons))
	}
	if cons[0].Cap != (Capacity{1, 1}) {
		t.Errorf("row capacity = %+v, want [1,1]", cons[0].Cap)
	}
	if cons[2].Cap != (Capacity{0, 1}) {
		t.Errorf("column capacity = %+v, want [0,1]", cons[2].Cap)
	}
}
