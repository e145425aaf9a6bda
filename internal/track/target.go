package track

import "math"

// NLLRUpperLimit is the cumulative-NLLR termination threshold:
// -ln(1-0.7)*7, matching the original tracker's tuned constant.
var NLLRUpperLimit = -math.Log(1-0.7) * 7

// Target owns one hypothesis tree plus the per-target bookkeeping the
// dispatcher keeps alongside it in a single slice, instead of in parallel
// index-coupled lists: a stable TrackID, the per-target dynamic window
// size, and the currently selected leaf.
type Target struct {
	TrackID      string
	Tree         *Tree
	WindowSize   int
	SelectedLeaf int32
}

// NewTarget creates a target rooted at the given initial state.
func NewTarget(trackID string, tree *Tree, windowSize int) *Target {
	return &Target{
		TrackID:      trackID,
		Tree:         tree,
		WindowSize:   windowSize,
		SelectedLeaf: tree.Root(),
	}
}

// ShouldTerminate reports whether the selected leaf is outside the radar
// disk or the cumulative NLLR exceeds NLLRUpperLimit (spec.md §4.9).
func (tgt *Target) ShouldTerminate(radarPos [2]float64, radarRange float64) bool {
	n := tgt.Tree.Node(tgt.SelectedLeaf)
	dx := n.XHat.AtVec(0) - radarPos[0]
	dy := n.XHat.AtVec(1) - radarPos[1]
	if math.Hypot(dx, dy) > radarRange {
		return true
	}
	return n.CumulativeNLLR > NLLRUpperLimit
}

// Prune prunes the target's tree to its current window around its
// selected leaf and updates SelectedLeaf to the leaf's new index.
func (tgt *Target) Prune() error {
	newSelected, err := tgt.Tree.PruneToWindow(tgt.SelectedLeaf, tgt.WindowSize)
	if err != nil {
		return err
	}
	tgt.SelectedLeaf = newSelected
	return nil
}
