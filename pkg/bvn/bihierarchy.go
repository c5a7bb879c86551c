package bvn

// constrainedSet pairs a canonical cell-set with its capacity.
type constrainedSet struct {
	set cellSet
	cap Capacity
}

// partitionBihierarchy splits the constrained sets into two laminar
// families. Sets are considered largest-first with a deterministic
// tie-break, and assignment backtracks across both choices, so any valid
// partition is found. Returns ErrNotBihierarchy when none exists.
func partitionBihierarchy(sets []constrainedSet) (a, b []constrainedSet, err error) {
	ordered := make([]constrainedSet, len(sets))
	copy(ordered, sets)
	// Largest-first ordering keeps parents ahead of children, which makes
	// the laminar checks fail early on bad branches.
	sortSets(ordered)

	var assign func(i int) bool
	assign = func(i int) bool {
		if i == len(ordered) {
			return true
		}
		s := ordered[i]
		if laminarWithAll(s.set, a) {
			a = append(a, s)
			if assign(i + 1) {
				return true
			}
			a = a[:len(a)-1]
		}
		if laminarWithAll(s.set, b) {
			b = append(b, s)
			if assign(i + 1) {
				return true
			}
			b = b[:len(b)-1]
		}
		return false
	}
	if !assign(0) {
		return nil, nil, ErrNotBihierarchy
	}
	return a, b, nil
}

func laminarWithAll(s cellSet, family []constrainedSet) bool {
	for _, f := range family {
		if !s.laminarWith(f.set) {
			return false
		}
	}
	return true
}

func sortSets(sets []constrainedSet) {
	// Insertion sort keeps this dependency-free and stable for the tiny
	// families seen in practice.
	for i := 1; i < len(sets); i++ {
		for j := i; j > 0 && lessSet(sets[j].set, sets[j-1].set); j-- {
			sets[j], sets[j-1] = sets[j-1], sets[j]
		}
	}
}

func lessSet(s, t cellSet) bool {
	if len(s) != len(t) {
		return len(s) > len(t)
	}
	for i := range s {
		if s[i] != t[i] {
			return s[i] < t[i]
		}
	}
	return false
}
