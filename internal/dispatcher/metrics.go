package dispatcher

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/tomht/internal/track"
)

// QualitySummary reports percentile speed and innovation statistics across
// one scan's selected tracks, the same three-quantile shape the teacher
// uses for its radar-objects rollup (P50/P85/P98 over stat.Empirical).
type QualitySummary struct {
	P50Speed, P85Speed, P98Speed                float64
	P50Innovation, P85Innovation, P98Innovation float64
}

// computeQualitySummary gathers speed from every selected node's velocity
// components and NIS from every selected node that actually matched a
// measurement this scan (missed-detection legs carry no innovation).
func computeQualitySummary(selected []SelectedTrack) QualitySummary {
	var speeds, nis []float64
	for _, sel := range selected {
		vx, vy := sel.Node.XHat.AtVec(2), sel.Node.XHat.AtVec(3)
		speeds = append(speeds, math.Hypot(vx, vy))
		if sel.Node.Origin != track.OriginMissed {
			nis = append(nis, sel.Node.NIS)
		}
	}

	var q QualitySummary
	if len(speeds) > 0 {
		sort.Float64s(speeds)
		q.P50Speed = stat.Quantile(0.5, stat.Empirical, speeds, nil)
		q.P85Speed = stat.Quantile(0.85, stat.Empirical, speeds, nil)
		q.P98Speed = stat.Quantile(0.98, stat.Empirical, speeds, nil)
	}
	if len(nis) > 0 {
		sort.Float64s(nis)
		q.P50Innovation = stat.Quantile(0.5, stat.Empirical, nis, nil)
		q.P85Innovation = stat.Quantile(0.85, stat.Empirical, nis, nil)
		q.P98Innovation = stat.Quantile(0.98, stat.Empirical, nis, nil)
	}
	return q
}
