// Package track implements the per-target hypothesis tree: an
// arena-indexed store of HypothesisNode records addressed by int32 index
// rather than pointer, so that N-scan pruning is a bulk discard of
// unreachable indices and parent/child traversal stays cache-friendly.
package track

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Origin tags where a node's measurement came from: a tagged variant in
// place of a class hierarchy, per the design notes.
type Origin int

const (
	// OriginMissed marks the mandatory zero-hypothesis child.
	OriginMissed Origin = iota
	// OriginRadar marks a node spawned from a gated radar measurement.
	OriginRadar
	// OriginAIS marks a node spawned from a fused radar+AIS update.
	OriginAIS
)

// MeasurementKey identifies one unit of "used" evidence: either a raw
// (scan, measurement index) pair or an (scan, mmsi) pair. Both share the
// same active-measurement bitset namespace per spec, but are kept distinct
// by the Kind tag so a radar index 7 never collides with mmsi 7.
type MeasurementKey struct {
	ScanNumber int
	Kind       Origin // OriginRadar or OriginAIS; never OriginMissed
	Index      int    // measurement index for OriginRadar, mmsi for OriginAIS
}

const noParent = -1

// Node is one vertex of a target's hypothesis tree, stored in the arena at
// a stable index for the lifetime of the node.
type Node struct {
	ScanNumber        int
	Time              float64
	MeasurementNumber int // 0 = missed-detection; >=1 is index+1 into that scan
	Origin            Origin
	MMSI              uint32 // valid only when Origin == OriginAIS

	// FusedRadarIndex is the radar measurement consumed by this node's
	// radar leg, valid only when Origin == OriginAIS: 0 = no radar leg
	// matched, >=1 is index+1 into that scan's measurements. Recorded
	// alongside MMSI so A1 can see both keys a fused leaf occupies.
	FusedRadarIndex int

	XHat *mat.VecDense
	PHat *mat.Dense

	CumulativeNLLR float64
	Pd             float64
	NIS            float64 // innovation normalized to chi-squared(2); 0 for OriginMissed

	parent   int32
	children []int32
}

// Tree is the arena backing one target's hypothesis tree.
type Tree struct {
	nodes []Node
	root  int32
}

// NewTree creates a tree with a single root node holding the initial
// posterior.
func NewTree(scanNumber int, t float64, x *mat.VecDense, p *mat.Dense, pd float64) *Tree {
	tr := &Tree{nodes: make([]Node, 0, 8)}
	tr.nodes = append(tr.nodes, Node{
		ScanNumber: scanNumber,
		Time:       t,
		Origin:     OriginMissed,
		XHat:       x,
		PHat:       p,
		Pd:         pd,
		parent:     noParent,
	})
	tr.root = 0
	return tr
}

// Root returns the index of the tree's current root.
func (tr *Tree) Root() int32 { return tr.root }

// Node returns the node at idx.
func (tr *Tree) Node(idx int32) *Node { return &tr.nodes[idx] }

// NumNodes reports the number of live nodes in the arena.
func (tr *Tree) NumNodes() int { return len(tr.nodes) }

// Leaves returns the indices of every node with no children.
func (tr *Tree) Leaves() []int32 {
	var leaves []int32
	for i := range tr.nodes {
		if len(tr.nodes[i].children) == 0 {
			leaves = append(leaves, int32(i))
		}
	}
	return leaves
}

// Spawn appends a new child of parent and returns its index. It enforces
// invariant 1 (n.parent.scan_number = n.scan_number - 1).
func (tr *Tree) Spawn(parent int32, n Node) (int32, error) {
	if int(parent) >= len(tr.nodes) || parent < 0 {
		return 0, fmt.Errorf("track: spawn: parent index %d out of range", parent)
	}
	pn := &tr.nodes[parent]
	if n.ScanNumber != pn.ScanNumber+1 {
		return 0, fmt.Errorf("track: spawn: scan_number mismatch, parent=%d child=%d", pn.ScanNumber, n.ScanNumber)
	}
	n.parent = parent
	idx := int32(len(tr.nodes))
	tr.nodes = append(tr.nodes, n)
	pn.children = append(pn.children, idx)
	return idx, nil
}

// Parent returns the parent index of idx, or noParent if idx is the root.
func (tr *Tree) Parent(idx int32) int32 { return tr.nodes[idx].parent }

// Children returns the child indices of idx.
func (tr *Tree) Children(idx int32) []int32 { return tr.nodes[idx].children }

// Path returns the root-to-leaf sequence of node indices ending at leaf,
// validating invariant 1 at every step.
func (tr *Tree) Path(leaf int32) ([]int32, error) {
	var rev []int32
	cur := leaf
	for {
		rev = append(rev, cur)
		p := tr.nodes[cur].parent
		if p == noParent {
			break
		}
		if tr.nodes[p].ScanNumber != tr.nodes[cur].ScanNumber-1 {
			return nil, fmt.Errorf("track: path: inconsistent scan numbering %d -> %d", tr.nodes[p].ScanNumber, tr.nodes[cur].ScanNumber)
		}
		cur = p
	}
	path := make([]int32, len(rev))
	for i, v := range rev {
		path[len(rev)-1-i] = v
	}
	return path, nil
}

// MeasurementKeys returns every MeasurementKey this node occupies: the
// radar key for OriginRadar, the mmsi key for OriginAIS, and — when a
// fused AIS child also consumed a radar measurement — both the mmsi key
// and that radar key (spec.md §9 Open Question 2: a fused leaf claims
// both slots of the A1 bitset, not just the mmsi one).
func (n *Node) MeasurementKeys() []MeasurementKey {
	var keys []MeasurementKey
	switch n.Origin {
	case OriginRadar:
		keys = append(keys, MeasurementKey{ScanNumber: n.ScanNumber, Kind: OriginRadar, Index: n.MeasurementNumber - 1})
	case OriginAIS:
		keys = append(keys, MeasurementKey{ScanNumber: n.ScanNumber, Kind: OriginAIS, Index: int(n.MMSI)})
		if n.FusedRadarIndex > 0 {
			keys = append(keys, MeasurementKey{ScanNumber: n.ScanNumber, Kind: OriginRadar, Index: n.FusedRadarIndex - 1})
		}
	}
	return keys
}

// MeasurementSet returns every MeasurementKey recorded along the path from
// the root to leaf (invariant 6).
func (tr *Tree) MeasurementSet(leaf int32) (map[MeasurementKey]struct{}, error) {
	path, err := tr.Path(leaf)
	if err != nil {
		return nil, err
	}
	set := make(map[MeasurementKey]struct{})
	for _, idx := range path {
		for _, k := range tr.nodes[idx].MeasurementKeys() {
			set[k] = struct{}{}
		}
	}
	return set, nil
}

// AllMeasurementKeys returns every MeasurementKey recorded anywhere in the
// tree, not just along one path: the historical union spec.md §3 calls the
// target's measurement_set.
func (tr *Tree) AllMeasurementKeys() map[MeasurementKey]struct{} {
	set := make(map[MeasurementKey]struct{})
	for i := range tr.nodes {
		for _, k := range tr.nodes[i].MeasurementKeys() {
			set[k] = struct{}{}
		}
	}
	return set
}

// PruneToWindow walks window steps back from selected leaf along parent
// pointers and promotes that ancestor to the new root, discarding every
// node not reachable from it. It is idempotent: pruning twice with the
// same window and the same selected leaf is a no-op the second time. It
// returns the post-prune index of selected, which the caller must use to
// replace any index it was holding into this tree.
func (tr *Tree) PruneToWindow(selected int32, window int) (int32, error) {
	ancestor := selected
	for i := 0; i < window; i++ {
		p := tr.nodes[ancestor].parent
		if p == noParent {
			break
		}
		ancestor = p
	}
	if ancestor == tr.root {
		return selected, nil
	}
	keep := tr.reachableFrom(ancestor)
	remap := tr.compact(keep, ancestor)
	return remap[selected], nil
}

func (tr *Tree) reachableFrom(root int32) map[int32]struct{} {
	keep := map[int32]struct{}{root: {}}
	stack := []int32{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range tr.nodes[n].children {
			keep[c] = struct{}{}
			stack = append(stack, c)
		}
	}
	return keep
}

func (tr *Tree) compact(keep map[int32]struct{}, newRoot int32) map[int32]int32 {
	remap := make(map[int32]int32, len(keep))
	newNodes := make([]Node, 0, len(keep))
	for i := range tr.nodes {
		idx := int32(i)
		if _, ok := keep[idx]; ok {
			remap[idx] = int32(len(newNodes))
			newNodes = append(newNodes, tr.nodes[i])
		}
	}
	for i := range newNodes {
		n := &newNodes[i]
		if n.parent != noParent {
			if newP, ok := remap[n.parent]; ok {
				n.parent = newP
			} else {
				n.parent = noParent
			}
		}
		children := make([]int32, 0, len(n.children))
		for _, c := range n.children {
			if newC, ok := remap[c]; ok {
				children = append(children, newC)
			}
		}
		n.children = children
	}
	tr.nodes = newNodes
	tr.root = remap[newRoot]
	return remap
}

// Checkpoint returns a marker that RollbackTo can later use to discard
// every node spawned since it was taken.
func (tr *Tree) Checkpoint() int { return len(tr.nodes) }

// RollbackTo discards every node spawned since checkpoint, per the
// copy-on-success discipline: a scan that fails partway through growth
// must not leave partially-applied hypotheses in the tree.
func (tr *Tree) RollbackTo(checkpoint int) {
	if checkpoint >= len(tr.nodes) {
		return
	}
	tr.nodes = tr.nodes[:checkpoint]
	for i := range tr.nodes {
		var kept []int32
		for _, c := range tr.nodes[i].children {
			if int(c) < checkpoint {
				kept = append(kept, c)
			}
		}
		tr.nodes[i].children = kept
	}
}

// Depth returns the tree depth: the number of edges on the longest
// root-to-leaf path.
func (tr *Tree) Depth() int {
	var walk func(idx int32) int
	walk = func(idx int32) int {
		n := &tr.nodes[idx]
		if len(n.children) == 0 {
			return 0
		}
		best := 0
		for _, c := range n.children {
			if d := walk(c) + 1; d > best {
				best = d
			}
		}
		return best
	}
	return walk(tr.root)
}
