// Package gcluster discovers clusters of targets that share candidate
// measurements: maximal connected components of the bipartite graph whose
// edges join a target to every measurement key it has ever absorbed. This
// is the same BFS-flood-fill shape the graph library's own
// ConnectedComponents helper uses, applied here to a real bipartite
// core.Graph instead of a grid.
package gcluster

import (
	"fmt"
	"sort"

	"github.com/katalvlaran/lvlath/algorithms"
	"github.com/katalvlaran/lvlath/core"

	"github.com/banshee-data/tomht/internal/track"
)

// FindClusters partitions target indices [0,len(targets)) into maximal
// sets that share a measurement key, via connected components over the
// target<->measurement bipartite graph. Clustering is permutation-stable:
// the returned clusters are sorted internally and clusters are sorted by
// their smallest member, so permuting the input target order yields the
// same partition as sets.
func FindClusters(targets []*track.Target) ([][]int, error) {
	g := core.NewGraph()

	targetVertex := func(i int) string { return fmt.Sprintf("t%d", i) }
	for i := range targets {
		if err := g.AddVertex(targetVertex(i)); err != nil {
			return nil, fmt.Errorf("gcluster: add target vertex: %w", err)
		}
	}

	keyVertices := make(map[track.MeasurementKey]string)
	keyVertexID := func(k track.MeasurementKey) string {
		if id, ok := keyVertices[k]; ok {
			return id
		}
		id := fmt.Sprintf("m%d:%d:%d", k.ScanNumber, k.Kind, k.Index)
		keyVertices[k] = id
		return id
	}

	for i, tgt := range targets {
		for key := range tgt.Tree.AllMeasurementKeys() {
			kv := keyVertexID(key)
			if !g.HasVertex(kv) {
				if err := g.AddVertex(kv); err != nil {
					return nil, fmt.Errorf("gcluster: add measurement vertex: %w", err)
				}
			}
			if !g.HasEdge(targetVertex(i), kv) {
				if _, err := g.AddEdge(targetVertex(i), kv, 0); err != nil {
					return nil, fmt.Errorf("gcluster: add edge: %w", err)
				}
			}
		}
	}

	visited := make(map[string]bool)
	var clusters [][]int
	for i := range targets {
		start := targetVertex(i)
		if visited[start] {
			continue
		}
		res, err := algorithms.BFS(g, start, nil)
		if err != nil {
			return nil, fmt.Errorf("gcluster: BFS from %s: %w", start, err)
		}
		var members []int
		for _, v := range res.Order {
			visited[v.ID] = true
			var idx int
			if _, err := fmt.Sscanf(v.ID, "t%d", &idx); err == nil {
				members = append(members, idx)
			}
		}
		if len(members) > 0 {
			sort.Ints(members)
			clusters = append(clusters, members)
		}
	}

	sort.Slice(clusters, func(i, j int) bool { return clusters[i][0] < clusters[j][0] })
	return clusters, nil
}
