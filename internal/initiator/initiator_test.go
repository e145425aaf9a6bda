package initiator

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/tomht/internal/track"
)

func newTestActiveTarget(t *testing.T, id string, x, y float64) *track.Target {
	t.Helper()
	mean := mat.NewVecDense(4, []float64{x, y, 0, 0})
	cov := mat.NewDense(4, 4, nil)
	tr := track.NewTree(0, 0, mean, cov, 0.9)
	return track.NewTarget(id, tr, 5)
}

func testConfig() Config {
	return Config{
		Model:          testModel(),
		N:              3,
		M:              2,
		GateGamma:      5.99,
		Pd:             0.9,
		Pg:             0.99,
		MergeThreshold: 20,
		PairGate:       30,
		WindowSize:     5,
	}
}

func TestPairFreeSpawnsPreliminaryTrack(t *testing.T) {
	in := NewInitiator(testConfig())
	confirmed, err := in.ProcessScan(0, []Measurement{{Value: [2]float64{0, 0}, Time: 0}}, nil)
	if err != nil {
		t.Fatalf("ProcessScan: %v", err)
	}
	if len(confirmed) != 0 {
		t.Fatalf("first scan should not confirm anything, got %d", len(confirmed))
	}
	if len(in.free) != 1 {
		t.Fatalf("first scan measurement should sit in the free pool, got %d", len(in.free))
	}

	confirmed, err = in.ProcessScan(1, []Measurement{{Value: [2]float64{1, 1}, Time: 1}}, nil)
	if err != nil {
		t.Fatalf("ProcessScan: %v", err)
	}
	if len(confirmed) != 0 {
		t.Fatalf("second scan confirms nothing yet, got %d", len(confirmed))
	}
	if len(in.preliminary) != 1 {
		t.Fatalf("second scan should pair into one preliminary track, got %d", len(in.preliminary))
	}
}

func TestProcessScanConfirmsAfterMHits(t *testing.T) {
	cfg := testConfig()
	cfg.M = 2
	cfg.N = 3
	in := NewInitiator(cfg)

	in.ProcessScan(0, []Measurement{{Value: [2]float64{0, 0}, Time: 0}}, nil)
	in.ProcessScan(1, []Measurement{{Value: [2]float64{2, 0}, Time: 1}}, nil)

	if len(in.preliminary) != 1 {
		t.Fatalf("expected one preliminary track after stereo pairing, got %d", len(in.preliminary))
	}

	confirmed, err := in.ProcessScan(2, []Measurement{{Value: [2]float64{4, 0}, Time: 2}}, nil)
	if err != nil {
		t.Fatalf("ProcessScan: %v", err)
	}
	if len(confirmed) != 1 {
		t.Fatalf("expected confirmation on the second consecutive hit, got %d", len(confirmed))
	}

	tgt, err := confirmed[0].ToTarget(3, cfg.WindowSize)
	if err != nil {
		t.Fatalf("ToTarget: %v", err)
	}
	if tgt.WindowSize != cfg.WindowSize {
		t.Errorf("WindowSize = %d, want %d", tgt.WindowSize, cfg.WindowSize)
	}
}

func TestProcessScanDiscardsAfterNScansWithoutM(t *testing.T) {
	cfg := testConfig()
	cfg.M = 3
	cfg.N = 2
	in := NewInitiator(cfg)

	in.ProcessScan(0, []Measurement{{Value: [2]float64{0, 0}, Time: 0}}, nil)
	in.ProcessScan(1, []Measurement{{Value: [2]float64{2, 0}, Time: 1}}, nil)
	// no further measurements near the preliminary track: it should run out
	// its window and be discarded rather than lingering forever.
	in.ProcessScan(2, nil, nil)
	in.ProcessScan(3, nil, nil)

	if len(in.preliminary) != 0 {
		t.Errorf("expected preliminary track to be discarded, got %d still active", len(in.preliminary))
	}
}

func TestToTargetRejectsNonConfirmed(t *testing.T) {
	pt := &PreliminaryTrack{ID: "trk_x", Phase: PhasePreliminary}
	if _, err := pt.ToTarget(0, 5); err == nil {
		t.Errorf("expected error for non-confirmed track")
	}
}

func TestSpeedPercentilesComputesFromPosteriorVelocity(t *testing.T) {
	mkTrack := func(vx, vy float64) *PreliminaryTrack {
		x := mat.NewVecDense(4, []float64{0, 0, vx, vy})
		p := mat.NewDense(4, 4, nil)
		return &PreliminaryTrack{ID: "trk_x", Current: &Estimate{EstPosterior: x, CovPosterior: p}}
	}
	tracks := []*PreliminaryTrack{mkTrack(0, 0), mkTrack(3, 4), mkTrack(6, 8)}

	p50, p85, p98 := SpeedPercentiles(tracks)
	if p50 < 0 || p50 > 10 {
		t.Errorf("p50 = %v, want within [0, 10]", p50)
	}
	if p98 < p50 || p98 > 10 {
		t.Errorf("p98 = %v, want within [p50, 10], got p50=%v", p98, p50)
	}
	if p85 < p50 || p85 > p98 {
		t.Errorf("expected p50 <= p85 <= p98, got %v %v %v", p50, p85, p98)
	}
}

func TestSpeedPercentilesEmpty(t *testing.T) {
	p50, p85, p98 := SpeedPercentiles(nil)
	if p50 != 0 || p85 != 0 || p98 != 0 {
		t.Errorf("expected all zero for empty input, got %v %v %v", p50, p85, p98)
	}
}

func TestNearActiveTrackMergeThreshold(t *testing.T) {
	cfg := testConfig()
	in := NewInitiator(cfg)
	tgt := newTestActiveTarget(t, "trk_1", 100, 100)

	near := Measurement{Value: [2]float64{105, 100}}
	far := Measurement{Value: [2]float64{500, 500}}

	if !in.nearActiveTrack(near, []*track.Target{tgt}) {
		t.Errorf("measurement within merge threshold should be rejected as near")
	}
	if in.nearActiveTrack(far, []*track.Target{tgt}) {
		t.Errorf("measurement far from any active track should not be near")
	}
}
