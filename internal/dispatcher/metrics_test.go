package dispatcher

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/tomht/internal/track"
)

func mkSelected(origin track.Origin, vx, vy, nis float64) SelectedTrack {
	return SelectedTrack{
		TrackID: "trk_x",
		Node: track.Node{
			Origin: origin,
			XHat:   mat.NewVecDense(4, []float64{0, 0, vx, vy}),
			NIS:    nis,
		},
	}
}

func TestComputeQualitySummaryExcludesMissedFromInnovation(t *testing.T) {
	selected := []SelectedTrack{
		mkSelected(track.OriginRadar, 3, 4, 1.0),
		mkSelected(track.OriginMissed, 0, 0, 0),
		mkSelected(track.OriginAIS, 6, 8, 2.0),
	}

	q := computeQualitySummary(selected)
	if q.P50Speed <= 0 || q.P98Speed > 10 {
		t.Errorf("unexpected speed summary: %+v", q)
	}
	if q.P50Innovation <= 0 || q.P98Innovation > 2.0 {
		t.Errorf("expected innovation summary computed only over the 2 non-missed nodes: %+v", q)
	}
}

func TestComputeQualitySummaryEmpty(t *testing.T) {
	q := computeQualitySummary(nil)
	if q != (QualitySummary{}) {
		t.Errorf("expected zero-value summary for no selected tracks, got %+v", q)
	}
}
