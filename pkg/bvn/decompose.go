package bvn

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
	"gorgonia.org/tensor"
)

// maxSplits bounds the cycle-split iteration; every split saturates at
// least one bound along its cycle, so real inputs stop far earlier.
const maxSplits = 1 << 18

// edge is one arc of the working graph. cell is the row-major cell index
// for the leaf-defining cell edges and -1 for aggregate (family) edges.
type edge struct {
	from int
	to   int
	lo   float64
	hi   float64
	cell int
}

// workGraph is the fixed topology of one decomposition; branch state is the
// per-edge weight vector, so splitting a branch copies only the weights.
type workGraph struct {
	numNodes int
	edges    []edge
	weights  []float64 // initial weights
	cellEdge []int     // cell index -> edge index
	rows     int
	cols     int
}

type branch struct {
	w []float64
	p float64
}

// Decompose expresses the matrix x as a convex combination of integer basis
// matrices satisfying every constraint capacity exactly. The constraint sets
// (plus implicit per-cell [0,1] bounds) must form a bihierarchy.
func Decompose(x *tensor.Dense, constraints []Constraint, opts Options) (*Decomposition, error) {
	if opts.Epsilon <= 0 {
		opts.Epsilon = DefaultOptions().Epsilon
	}
	eps := opts.Epsilon

	shape := x.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("bvn: want a 2-D matrix, got shape %v", shape)
	}
	rows, cols := shape[0], shape[1]
	data, ok := x.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("bvn: want a float64 matrix, got %T", x.Data())
	}

	g, err := buildGraph(data, rows, cols, constraints, eps)
	if err != nil {
		return nil, err
	}

	leaves, err := iterate(g, eps)
	if err != nil {
		return nil, err
	}
	return clean(g, leaves, data, eps)
}

// buildGraph runs the preflight checks, partitions the constraints into the
// two laminar families, and lays out the working graph: one unprimed and one
// primed node per cell-set, cell edges bridging the sides, and family edges
// from each set to its immediate parent.
func buildGraph(x []float64, rows, cols int, constraints []Constraint, eps float64) (*workGraph, error) {
	numCells := rows * cols
	for i, v := range x {
		if v < -eps || v > 1+eps {
			return nil, fmt.Errorf("%w: cell (%d,%d) = %g outside [0,1]",
				ErrCapacityViolation, i/cols, i%cols, v)
		}
	}

	// Singleton constraints tighten the implicit [0,1] cell bounds rather
	// than joining a family; everything else must partition laminarly.
	cellCap := make([]Capacity, numCells)
	for i := range cellCap {
		cellCap[i] = Capacity{Lo: 0, Hi: 1}
	}
	var sets []constrainedSet
	for _, con := range constraints {
		s := newCellSet(con.Cells, cols)
		if len(s) == 0 {
			continue
		}
		total := s.sum(x)
		if total < con.Cap.Lo-eps || total > con.Cap.Hi+eps {
			return nil, fmt.Errorf("%w: set %v sums to %g outside [%g,%g]",
				ErrCapacityViolation, con.Cells, total, con.Cap.Lo, con.Cap.Hi)
		}
		if len(s) == 1 {
			c := s[0]
			cellCap[c].Lo = math.Max(cellCap[c].Lo, con.Cap.Lo)
			cellCap[c].Hi = math.Min(cellCap[c].Hi, con.Cap.Hi)
			continue
		}
		sets = append(sets, constrainedSet{set: s, cap: con.Cap})
	}

	famA, famB, err := partitionBihierarchy(sets)
	if err != nil {
		return nil, err
	}

	g := &workGraph{rows: rows, cols: cols, cellEdge: make([]int, numCells)}

	root := make(cellSet, numCells)
	for i := range root {
		root[i] = i
	}

	// Node layout: each side holds the root, that side's family sets, and
	// every singleton.
	left := newNodeTable(g)
	right := newNodeTable(g)
	leftFamily := familyNodes(root, famA, numCells)
	rightFamily := familyNodes(root, famB, numCells)

	// Cell edges carry the matrix entries and define the basis matrices.
	for c := 0; c < numCells; c++ {
		s := cellSet{c}
		from := left.id(s)
		to := right.id(s)
		g.cellEdge[c] = len(g.edges)
		g.edges = append(g.edges, edge{from: from, to: to, lo: cellCap[c].Lo, hi: cellCap[c].Hi, cell: c})
		g.weights = append(g.weights, x[c])
	}

	// Family edges: unprimed side parent -> child, primed side child ->
	// parent, each weighted by the child's total and carrying the child's
	// capacity.
	addFamily := func(family []familyMember, table *nodeTable, primed bool) {
		for _, child := range family {
			parent, ok := immediateParent(child, family)
			if !ok {
				continue
			}
			var e edge
			if primed {
				e = edge{from: table.id(child.set), to: table.id(parent.set)}
			} else {
				e = edge{from: table.id(parent.set), to: table.id(child.set)}
			}
			e.lo, e.hi, e.cell = child.cap.Lo, child.cap.Hi, -1
			g.edges = append(g.edges, e)
			g.weights = append(g.weights, child.set.sum(x))
		}
	}
	addFamily(leftFamily, left, false)
	addFamily(rightFamily, right, true)

	return g, nil
}

// familyMember is one set of a laminar family with its capacity.
type familyMember struct {
	set cellSet
	cap Capacity
}

// familyNodes assembles one side's laminar family: the root, the
// partitioned sets, and all singletons.
func familyNodes(root cellSet, sets []constrainedSet, numCells int) []familyMember {
	members := []familyMember{{set: root, cap: Capacity{Lo: 0, Hi: float64(numCells)}}}
	seen := map[string]bool{root.key(): true}
	for _, s := range sets {
		if !seen[s.set.key()] {
			seen[s.set.key()] = true
			members = append(members, familyMember{set: s.set, cap: s.cap})
		}
	}
	for c := 0; c < numCells; c++ {
		s := cellSet{c}
		if !seen[s.key()] {
			members = append(members, familyMember{set: s, cap: Capacity{Lo: 0, Hi: 1}})
		}
	}
	return members
}

// immediateParent finds the smallest strict superset of child in its family.
// In a laminar family that superset is unique when it exists.
func immediateParent(child familyMember, family []familyMember) (familyMember, bool) {
	best := familyMember{}
	found := false
	for _, cand := range family {
		if len(cand.set) <= len(child.set) || !child.set.subsetOf(cand.set) {
			continue
		}
		if !found || len(cand.set) < len(best.set) {
			best = cand
			found = true
		}
	}
	return best, found
}

// nodeTable interns cell-sets as graph node ids.
type nodeTable struct {
	g   *workGraph
	ids map[string]int
}

func newNodeTable(g *workGraph) *nodeTable {
	return &nodeTable{g: g, ids: make(map[string]int)}
}

func (t *nodeTable) id(s cellSet) int {
	k := s.key()
	if id, ok := t.ids[k]; ok {
		return id
	}
	id := t.g.numNodes
	t.g.numNodes++
	t.ids[k] = id
	return id
}

// iterate pops branches, splits them along a cycle of fractional edges, and
// collects the integral leaves.
func iterate(g *workGraph, eps float64) ([]branch, error) {
	work := []branch{{w: g.weights, p: 1}}
	var leaves []branch
	splits := 0
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]

		frac := fractionalEdges(cur.w, eps)
		if len(frac) == 0 {
			leaves = append(leaves, cur)
			continue
		}
		cycle, ok := findCycle(g, frac)
		if !ok {
			return nil, fmt.Errorf("%w: fractional edges form no cycle", ErrNumericalDrift)
		}

		pushFwd, pushRev := math.Inf(1), math.Inf(1)
		pullFwd, pullRev := math.Inf(1), math.Inf(1)
		for _, st := range cycle {
			e := g.edges[st.edge]
			w := cur.w[st.edge]
			if st.forward {
				pushFwd = math.Min(pushFwd, e.hi-w)
				pullFwd = math.Min(pullFwd, w-e.lo)
			} else {
				pushRev = math.Min(pushRev, e.hi-w)
				pullRev = math.Min(pullRev, w-e.lo)
			}
		}
		d1 := math.Min(pushFwd, pullRev)
		d2 := math.Min(pushRev, pullFwd)
		if d1+d2 <= 0 {
			return nil, fmt.Errorf("%w: no slack along split cycle", ErrNumericalDrift)
		}
		gamma := math.Min(1, math.Max(0, d2/(d1+d2)))

		w1 := make([]float64, len(cur.w))
		w2 := make([]float64, len(cur.w))
		copy(w1, cur.w)
		copy(w2, cur.w)
		for _, st := range cycle {
			if st.forward {
				w1[st.edge] += d1
				w2[st.edge] -= d2
			} else {
				w1[st.edge] -= d1
				w2[st.edge] += d2
			}
		}
		work = append(work, branch{w: w1, p: cur.p * gamma}, branch{w: w2, p: cur.p * (1 - gamma)})

		splits++
		if splits > maxSplits {
			return nil, fmt.Errorf("%w: cycle splitting failed to converge", ErrNumericalDrift)
		}
	}
	return leaves, nil
}

// fractionalEdges lists the edges whose weight is not within eps of an
// integer.
func fractionalEdges(w []float64, eps float64) []int {
	var out []int
	for i, v := range w {
		if math.Abs(v-math.Round(v)) > eps {
			out = append(out, i)
		}
	}
	return out
}

type cycleStep struct {
	edge    int
	forward bool
}

// findCycle locates an undirected cycle in the subgraph induced by the given
// edges. Orientation is recorded per traversal direction relative to each
// edge's from->to arc.
func findCycle(g *workGraph, edgeIdx []int) ([]cycleStep, bool) {
	type arc struct {
		edge int
		to   int
		fwd  bool
	}
	adj := make(map[int][]arc)
	for _, ei := range edgeIdx {
		e := g.edges[ei]
		adj[e.from] = append(adj[e.from], arc{edge: ei, to: e.to, fwd: true})
		adj[e.to] = append(adj[e.to], arc{edge: ei, to: e.from, fwd: false})
	}

	visited := make(map[int]bool)
	onPath := make(map[int]int) // node -> index into path
	var path []cycleStep
	var cycle []cycleStep

	var dfs func(u, inEdge int) bool
	dfs = func(u, inEdge int) bool {
		visited[u] = true
		onPath[u] = len(path)
		for _, a := range adj[u] {
			if a.edge == inEdge {
				continue
			}
			if pos, ok := onPath[a.to]; ok {
				cycle = append(cycle, path[pos:]...)
				cycle = append(cycle, cycleStep{edge: a.edge, forward: a.fwd})
				return true
			}
			if visited[a.to] {
				continue
			}
			path = append(path, cycleStep{edge: a.edge, forward: a.fwd})
			if dfs(a.to, a.edge) {
				return true
			}
			path = path[:len(path)-1]
		}
		delete(onPath, u)
		return false
	}

	for _, ei := range edgeIdx {
		start := g.edges[ei].from
		if !visited[start] {
			path = path[:0]
			if dfs(start, -1) {
				return cycle, true
			}
		}
	}
	return nil, false
}

// clean rounds leaf cell-weights to integers, merges duplicate basis
// matrices, and verifies the round trip.
func clean(g *workGraph, leaves []branch, x []float64, eps float64) (*Decomposition, error) {
	numCells := g.rows * g.cols
	type entry struct {
		basis []float64
		coef  float64
	}
	var order []string
	merged := make(map[string]*entry)

	for _, leaf := range leaves {
		basis := make([]float64, numCells)
		key := make([]byte, numCells)
		for c := 0; c < numCells; c++ {
			w := leaf.w[g.cellEdge[c]]
			switch {
			case w < eps:
				basis[c] = 0
				key[c] = '0'
			case w > 1-eps:
				basis[c] = 1
				key[c] = '1'
			default:
				return nil, fmt.Errorf("%w: leaf cell weight %g is neither 0 nor 1", ErrNumericalDrift, w)
			}
		}
		k := string(key)
		if e, ok := merged[k]; ok {
			e.coef += leaf.p
		} else {
			merged[k] = &entry{basis: basis, coef: leaf.p}
			order = append(order, k)
		}
	}

	d := &Decomposition{}
	recon := make([]float64, numCells)
	for _, k := range order {
		e := merged[k]
		d.Coefficients = append(d.Coefficients, e.coef)
		d.Bases = append(d.Bases, tensor.New(tensor.WithShape(g.rows, g.cols), tensor.WithBacking(e.basis)))
		d.CoefSum += e.coef
		for c, v := range e.basis {
			recon[c] += e.coef * v
		}
	}
	d.Reconstruction = tensor.New(tensor.WithShape(g.rows, g.cols), tensor.WithBacking(recon))

	drift := math.Abs(d.CoefSum - 1)
	for c := range recon {
		if dv := math.Abs(recon[c] - x[c]); dv > drift {
			drift = dv
		}
	}
	if drift > 10*eps {
		return nil, fmt.Errorf("%w: drift %g exceeds %g", ErrNumericalDrift, drift, 10*eps)
	}
	if drift > eps {
		log.Warn().Float64("drift", drift).Float64("epsilon", eps).
			Msg("Decomposition reconstruction drifted beyond epsilon")
	}
	return d, nil
}
