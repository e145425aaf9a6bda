package assoc

import "fmt"

// ExhaustiveSolver enumerates every combination of one leaf per target and
// picks the cheapest feasible one. It is exponential in the number of
// targets per cluster. Tests use it as a solver with no shared code path
// with BranchAndBoundSolver to check against, per spec.md §9's "a mock used
// in tests can solve small cases exhaustively", and a run's tuning config
// can select it with solver "exhaustive".
type ExhaustiveSolver struct{}

// Solve implements Solver.
func (ExhaustiveSolver) Solve(p *Program) ([]int, error) {
	n := len(p.TargetGroups)
	if n == 0 {
		return nil, nil
	}

	best := make([]int, n)
	bestCost := 0.0
	found := false
	current := make([]int, n)

	var walk func(g int, cost float64, used map[string]bool)
	walk = func(g int, cost float64, used map[string]bool) {
		if g == n {
			if !found || cost < bestCost {
				bestCost = cost
				copy(best, current)
				found = true
			}
			return
		}
		for _, idx := range p.TargetGroups[g] {
			keys := keysFor(p, idx)
			conflict := false
			for _, k := range keys {
				if used[k] {
					conflict = true
					break
				}
			}
			if conflict {
				continue
			}
			for _, k := range keys {
				used[k] = true
			}
			current[g] = idx
			walk(g+1, cost+p.Leaves[idx].Cost, used)
			for _, k := range keys {
				used[k] = false
			}
		}
	}
	walk(0, 0, make(map[string]bool))

	if !found {
		return nil, ErrNonOptimalSolve
	}
	return best, nil
}

func keysFor(p *Program, leafIdx int) []string {
	var out []string
	for key, idxs := range p.MeasurementGroups {
		for _, idx := range idxs {
			if idx == leafIdx {
				out = append(out, fmt.Sprintf("%d:%d:%d", key.ScanNumber, key.Kind, key.Index))
			}
		}
	}
	return out
}
