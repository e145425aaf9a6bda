// Package assoc builds and solves the per-cluster binary program that
// picks one leaf hypothesis per target such that no measurement key is
// used by more than one selected leaf, per spec.md §4.6.
package assoc

import (
	"fmt"

	"github.com/banshee-data/tomht/internal/track"
)

// LeafRef is one candidate decision variable tau_h: a specific leaf of a
// specific target within the cluster.
type LeafRef struct {
	TargetIndex int // position of the owning target within the cluster, i.e. its index into Program.TargetGroups
	Leaf        int32
	Cost        float64 // cumulative NLLR, the objective coefficient c_h
}

// Program is the {A1, A2, c} input to a Solver: the flattened leaf list
// plus the two constraint groupings.
type Program struct {
	Leaves []LeafRef

	// TargetGroups[i] lists indices into Leaves belonging to the i-th
	// target in the cluster (constraint A2: exactly one selected per group).
	TargetGroups [][]int

	// MeasurementGroups maps a measurement key to the indices into Leaves
	// whose root-to-leaf path touches it (constraint A1: at most one
	// selected per group).
	MeasurementGroups map[track.MeasurementKey][]int
}

// BuildProgram constructs a Program for one cluster. targets is the full
// per-scan target slice; clusterMembers holds the indices (into targets)
// belonging to this cluster, in the fixed order spec.md §5 requires for
// deterministic construction.
func BuildProgram(targets []*track.Target, clusterMembers []int) (*Program, error) {
	p := &Program{MeasurementGroups: make(map[track.MeasurementKey][]int)}

	for groupIdx, ti := range clusterMembers {
		tgt := targets[ti]
		sets := leafMeasurementSets(tgt.Tree)
		leaves := tgt.Tree.Leaves()
		if len(leaves) == 0 {
			return nil, fmt.Errorf("assoc: target %d has no leaves", ti)
		}
		var group []int
		for _, leaf := range leaves {
			idx := len(p.Leaves)
			p.Leaves = append(p.Leaves, LeafRef{
				TargetIndex: groupIdx,
				Leaf:        leaf,
				Cost:        tgt.Tree.Node(leaf).CumulativeNLLR,
			})
			group = append(group, idx)
			for key := range sets[leaf] {
				p.MeasurementGroups[key] = append(p.MeasurementGroups[key], idx)
			}
		}
		p.TargetGroups = append(p.TargetGroups, group)
	}

	return p, nil
}

// leafMeasurementSets computes, for every leaf, the set of measurement
// keys touched by its root-to-leaf path via a single DFS per target that
// threads an "active measurements" bitset down each branch: the bitset is
// only ever extended on the way down, never cleared, so a branch's set is
// exactly the copy it received from its parent plus its own measurement.
func leafMeasurementSets(tr *track.Tree) map[int32]map[track.MeasurementKey]struct{} {
	result := make(map[int32]map[track.MeasurementKey]struct{})

	var walk func(idx int32, active map[track.MeasurementKey]struct{})
	walk = func(idx int32, active map[track.MeasurementKey]struct{}) {
		n := tr.Node(idx)
		keys := n.MeasurementKeys()
		next := make(map[track.MeasurementKey]struct{}, len(active)+len(keys))
		for k := range active {
			next[k] = struct{}{}
		}
		for _, k := range keys {
			next[k] = struct{}{}
		}

		children := tr.Children(idx)
		if len(children) == 0 {
			result[idx] = next
			return
		}
		for _, c := range children {
			walk(c, next)
		}
	}

	walk(tr.Root(), nil)
	return result
}
