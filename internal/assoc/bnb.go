package assoc

import "math"

// BranchAndBoundSolver is the default Solver: a depth-first branch-and-
// bound search over "one leaf per target" assignments, pruned by a
// per-remaining-target minimum-leaf-cost relaxation. The relaxation drops
// the A1 (measurement-uniqueness) constraint, so it is a valid lower bound
// on any feasible completion's additional cost regardless of whether NLLR
// values are negative — no CBC-class library exists anywhere in the
// example corpus (see DESIGN.md), so this plays the role spec.md §9's
// Solver abstraction note anticipates.
type BranchAndBoundSolver struct{}

// Solve implements Solver.
func (BranchAndBoundSolver) Solve(p *Program) ([]int, error) {
	n := len(p.TargetGroups)
	if n == 0 {
		return nil, nil
	}

	keyMembership := make([][]keyID, len(p.Leaves))
	kid := 0
	ids := make(map[interface{}]keyID)
	for key, idxs := range p.MeasurementGroups {
		id, ok := ids[key]
		if !ok {
			id = keyID(kid)
			ids[key] = id
			kid++
		}
		for _, idx := range idxs {
			keyMembership[idx] = append(keyMembership[idx], id)
		}
	}

	minCost := make([]float64, n)
	for g, group := range p.TargetGroups {
		m := math.Inf(1)
		for _, idx := range group {
			if p.Leaves[idx].Cost < m {
				m = p.Leaves[idx].Cost
			}
		}
		minCost[g] = m
	}
	suffixMin := make([]float64, n+1)
	for g := n - 1; g >= 0; g-- {
		suffixMin[g] = suffixMin[g+1] + minCost[g]
	}

	used := make(map[keyID]bool)
	assignment := make([]int, n)
	best := make([]int, n)
	bestCost := math.Inf(1)
	found := false

	var rec func(g int, cost float64)
	rec = func(g int, cost float64) {
		if cost+suffixMin[g] >= bestCost {
			return
		}
		if g == n {
			bestCost = cost
			copy(best, assignment)
			found = true
			return
		}
		for _, idx := range p.TargetGroups[g] {
			conflict := false
			for _, k := range keyMembership[idx] {
				if used[k] {
					conflict = true
					break
				}
			}
			if conflict {
				continue
			}
			for _, k := range keyMembership[idx] {
				used[k] = true
			}
			assignment[g] = idx
			rec(g+1, cost+p.Leaves[idx].Cost)
			for _, k := range keyMembership[idx] {
				used[k] = false
			}
		}
	}
	rec(0, 0)

	if !found {
		return nil, ErrNonOptimalSolve
	}
	return best, nil
}

type keyID int
