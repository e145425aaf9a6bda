package assoc

import "errors"

// ErrNonOptimalSolve is returned when a solver cannot certify an optimal
// (or any feasible) selection — spec.md §7 item 3, fatal for that scan.
var ErrNonOptimalSolve = errors.New("assoc: solver did not return an optimal feasible solution")

// Solver minimizes sum(c_h * tau_h) subject to A2 (exactly one leaf per
// target) and A1 (at most one selected leaf per measurement key),
// tau in {0,1}. It returns, for each target group in p.TargetGroups order,
// the index into p.Leaves of the selected leaf.
type Solver interface {
	Solve(p *Program) ([]int, error)
}

// SelectBest picks the single cheapest leaf for a singleton cluster,
// bypassing the ILP entirely (spec.md §4.5).
func SelectBest(p *Program) (int, error) {
	if len(p.TargetGroups) != 1 {
		return 0, errors.New("assoc: SelectBest requires exactly one target group")
	}
	group := p.TargetGroups[0]
	best := -1
	bestCost := 0.0
	for _, idx := range group {
		if best == -1 || p.Leaves[idx].Cost < bestCost {
			best = idx
			bestCost = p.Leaves[idx].Cost
		}
	}
	if best == -1 {
		return 0, ErrNonOptimalSolve
	}
	return best, nil
}
