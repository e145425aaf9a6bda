package gcluster

import (
	"reflect"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/tomht/internal/track"
)

func targetWithKeys(id string, keys ...track.MeasurementKey) *track.Target {
	x := mat.NewVecDense(4, []float64{0, 0, 0, 0})
	p := mat.NewDense(4, 4, nil)
	tr := track.NewTree(0, 0, x, p, 0.9)
	cur := tr.Root()
	for i, k := range keys {
		node := track.Node{ScanNumber: i + 1, Origin: k.Kind}
		if k.Kind == track.OriginRadar {
			node.MeasurementNumber = k.Index + 1
		} else {
			node.MMSI = uint32(k.Index)
		}
		node.ScanNumber = i + 1
		next, err := tr.Spawn(cur, node)
		if err != nil {
			panic(err)
		}
		cur = next
	}
	return track.NewTarget(id, tr, 5)
}

func TestFindClustersSingletons(t *testing.T) {
	t1 := targetWithKeys("t1", track.MeasurementKey{ScanNumber: 1, Kind: track.OriginRadar, Index: 0})
	t2 := targetWithKeys("t2", track.MeasurementKey{ScanNumber: 1, Kind: track.OriginRadar, Index: 1})
	clusters, err := FindClusters([]*track.Target{t1, t2})
	if err != nil {
		t.Fatalf("FindClusters: %v", err)
	}
	if len(clusters) != 2 {
		t.Fatalf("clusters = %v, want 2 singletons", clusters)
	}
}

func TestFindClustersSharedMeasurementMerges(t *testing.T) {
	shared := track.MeasurementKey{ScanNumber: 1, Kind: track.OriginRadar, Index: 0}
	t1 := targetWithKeys("t1", shared)
	t2 := targetWithKeys("t2", shared)
	t3 := targetWithKeys("t3", track.MeasurementKey{ScanNumber: 1, Kind: track.OriginRadar, Index: 9})
	clusters, err := FindClusters([]*track.Target{t1, t2, t3})
	if err != nil {
		t.Fatalf("FindClusters: %v", err)
	}
	if len(clusters) != 2 {
		t.Fatalf("clusters = %v, want one pair + one singleton", clusters)
	}
	if !reflect.DeepEqual(clusters[0], []int{0, 1}) {
		t.Errorf("clusters[0] = %v, want [0 1]", clusters[0])
	}
}

func TestFindClustersPermutationStable(t *testing.T) {
	shared := track.MeasurementKey{ScanNumber: 1, Kind: track.OriginRadar, Index: 0}
	a := targetWithKeys("a", shared)
	b := targetWithKeys("b", shared)
	c := targetWithKeys("c")

	forward, err := FindClusters([]*track.Target{a, b, c})
	if err != nil {
		t.Fatalf("FindClusters: %v", err)
	}
	reversed, err := FindClusters([]*track.Target{c, b, a})
	if err != nil {
		t.Fatalf("FindClusters: %v", err)
	}

	toSets := func(cs [][]int, order []*track.Target, labels map[*track.Target]string) []map[string]bool {
		var out []map[string]bool
		for _, c := range cs {
			s := make(map[string]bool)
			for _, idx := range c {
				s[labels[order[idx]]] = true
			}
			out = append(out, s)
		}
		return out
	}
	labels := map[*track.Target]string{a: "a", b: "b", c: "c"}
	fs := toSets(forward, []*track.Target{a, b, c}, labels)
	rs := toSets(reversed, []*track.Target{c, b, a}, labels)

	match := func(sets []map[string]bool, want map[string]bool) bool {
		for _, s := range sets {
			if reflect.DeepEqual(s, want) {
				return true
			}
		}
		return false
	}
	if !match(fs, map[string]bool{"a": true, "b": true}) || !match(rs, map[string]bool{"a": true, "b": true}) {
		t.Errorf("forward=%v reversed=%v, want both to contain {a,b}", fs, rs)
	}
}
