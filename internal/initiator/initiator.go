// Package initiator implements the M-of-N track-initiation pipeline:
// unused measurements are paired into preliminary tracks by a gated
// Hungarian assignment, preliminary tracks are scored by PDAF each scan,
// and a preliminary track that accumulates M detections within N
// consecutive scans is confirmed into a fresh active target (spec.md
// §4.10). The original tracker leaves this path stubbed; the state
// machine here is this spec's resolution of that open question.
package initiator

import (
	"fmt"
	"log"
	"math"
	"sort"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/tomht/internal/hungarian"
	"github.com/banshee-data/tomht/internal/motion"
	"github.com/banshee-data/tomht/internal/track"
)

// Phase tags a preliminary track's place in the M-of-N state machine — a
// tagged variant in place of a class hierarchy, per the design notes.
type Phase int

const (
	PhasePreliminary Phase = iota
	PhaseConfirmed
	PhaseDiscarded
)

// Config bundles the initiator's tunables.
type Config struct {
	Model          *motion.Model
	N, M           int     // M detections required within N consecutive scans
	GateGamma      float64 // PDAF gate, e.g. 5.99
	Pd, Pg         float64 // detection / gate probability
	MergeThreshold float64 // reject candidates within this distance of an active track
	PairGate       float64 // hard distance gate for free-measurement pairing, e.g. 30m
	WindowSize     int     // initial window size for confirmed targets
}

// PreliminaryTrack is a candidate track under M-of-N evaluation.
type PreliminaryTrack struct {
	ID      string
	Phase   Phase
	Current *Estimate
	hitMask []bool // sliding window of the last up-to-N scans, true = detection
	hits    int
}

// newPreliminaryTrack seeds a track from a stereo pair. The pairing scan
// itself counts as the track's first M-of-N hit; the free measurement that
// fed the pair belongs to the scan before the track existed and is not
// double-counted.
func newPreliminaryTrack(est *Estimate) *PreliminaryTrack {
	return &PreliminaryTrack{
		ID:      "trk_" + uuid.NewString(),
		Phase:   PhasePreliminary,
		Current: est,
		hitMask: []bool{true},
		hits:    1,
	}
}

// record appends one scan's hit/miss outcome and slides the window to at
// most N entries, updating the running hit count.
func (pt *PreliminaryTrack) record(hit bool, n int) {
	pt.hitMask = append(pt.hitMask, hit)
	if len(pt.hitMask) > n {
		if pt.hitMask[0] {
			pt.hits--
		}
		pt.hitMask = pt.hitMask[1:]
	}
	if hit {
		pt.hits++
	}
}

// Initiator owns the free-measurement and preliminary-track state across
// scans.
type Initiator struct {
	cfg         Config
	free        []Measurement
	preliminary []*PreliminaryTrack
}

// NewInitiator creates an Initiator with the given configuration.
func NewInitiator(cfg Config) *Initiator {
	return &Initiator{cfg: cfg}
}

// ProcessScan runs one scan of unused measurements through the M-of-N
// pipeline: update existing preliminary tracks, pair remaining unused
// measurements with the free pool, and return any tracks confirmed this
// scan (each ready to seed a fresh active Target).
func (in *Initiator) ProcessScan(scanTime float64, unused []Measurement, activeTargets []*track.Target) ([]*PreliminaryTrack, error) {
	var confirmed []*PreliminaryTrack

	consumed := make([]bool, len(unused))
	var survivors []*PreliminaryTrack
	for _, pt := range in.preliminary {
		hit := in.updatePreliminary(pt, scanTime, unused, consumed)
		pt.record(hit, in.cfg.N)
		if pt.hits >= in.cfg.M {
			pt.Phase = PhaseConfirmed
			confirmed = append(confirmed, pt)
			continue
		}
		if len(pt.hitMask) >= in.cfg.N && pt.hits < in.cfg.M {
			pt.Phase = PhaseDiscarded
			continue
		}
		survivors = append(survivors, pt)
	}
	in.preliminary = survivors

	if len(in.preliminary) > 0 {
		p50, p85, p98 := SpeedPercentiles(in.preliminary)
		log.Printf("[Initiator] scan time=%.3f: %d preliminary tracks, speed p50=%.2f p85=%.2f p98=%.2f",
			scanTime, len(in.preliminary), p50, p85, p98)
	}

	var remaining []Measurement
	for i, m := range unused {
		if !consumed[i] && !in.nearActiveTrack(m, activeTargets) {
			remaining = append(remaining, m)
		}
	}

	in.pairFree(remaining)

	return confirmed, nil
}

// updatePreliminary predicts pt forward to scanTime, gates every unused
// measurement against that prediction, applies PDAF (or a trivial step if
// nothing gates), and reports whether at least one measurement gated (a
// "hit" for M-of-N).
func (in *Initiator) updatePreliminary(pt *PreliminaryTrack, scanTime float64, unused []Measurement, consumed []bool) bool {
	pt.Current = pt.Current.PredictTo(scanTime, in.cfg.Model)

	var gated [][2]float64
	for i, m := range unused {
		if consumed[i] {
			continue
		}
		if pt.Current.InsideGate(m.Value, in.cfg.GateGamma) {
			gated = append(gated, m.Value)
			consumed[i] = true
		}
	}
	pt.Current.PDAFStep(gated, in.cfg.GateGamma, in.cfg.Pd, in.cfg.Pg)
	return len(gated) > 0
}

// nearActiveTrack reports whether m is within MergeThreshold of any active
// target's currently selected position (de-duplication, spec.md §4.10).
func (in *Initiator) nearActiveTrack(m Measurement, activeTargets []*track.Target) bool {
	for _, tgt := range activeTargets {
		n := tgt.Tree.Node(tgt.SelectedLeaf)
		dx := m.Value[0] - n.XHat.AtVec(0)
		dy := m.Value[1] - n.XHat.AtVec(1)
		if math.Hypot(dx, dy) < in.cfg.MergeThreshold {
			return true
		}
	}
	return false
}

// pairFree pairs each existing free measurement with one of this scan's
// still-unpaired measurements via a minimum-cost Hungarian assignment
// under a hard distance gate, spawning one preliminary track per pair via
// the two-point stereo initializer, then replaces the free pool with
// whatever measurements remain unpaired.
func (in *Initiator) pairFree(remaining []Measurement) {
	if len(in.free) == 0 {
		in.free = remaining
		return
	}
	if len(remaining) == 0 {
		return
	}

	cost := make([][]float64, len(in.free))
	for i, f := range in.free {
		cost[i] = make([]float64, len(remaining))
		for j, r := range remaining {
			dx := r.Value[0] - f.Value[0]
			dy := r.Value[1] - f.Value[1]
			d := math.Hypot(dx, dy)
			if d > in.cfg.PairGate {
				cost[i][j] = 1e18
			} else {
				cost[i][j] = d
			}
		}
	}
	assignment := hungarian.Assign(cost)

	pairedRemaining := make([]bool, len(remaining))
	for i, j := range assignment {
		if j < 0 {
			continue
		}
		_, est2 := FromMeasurements(in.free[i], remaining[j], in.cfg.Model)
		pt := newPreliminaryTrack(est2)
		in.preliminary = append(in.preliminary, pt)
		pairedRemaining[j] = true
	}

	var newFree []Measurement
	for j, m := range remaining {
		if !pairedRemaining[j] {
			newFree = append(newFree, m)
		}
	}
	in.free = newFree
}

// SpeedPercentiles reports the P50/P85/P98 speed across every preliminary
// track's current posterior velocity, the same stat.Quantile/stat.Empirical
// shape internal/dispatcher's quality summary uses for confirmed tracks.
func SpeedPercentiles(tracks []*PreliminaryTrack) (p50, p85, p98 float64) {
	if len(tracks) == 0 {
		return 0, 0, 0
	}
	speeds := make([]float64, len(tracks))
	for i, pt := range tracks {
		vx, vy := pt.Current.EstPosterior.AtVec(2), pt.Current.EstPosterior.AtVec(3)
		speeds[i] = math.Hypot(vx, vy)
	}
	sort.Float64s(speeds)
	return stat.Quantile(0.5, stat.Empirical, speeds, nil),
		stat.Quantile(0.85, stat.Empirical, speeds, nil),
		stat.Quantile(0.98, stat.Empirical, speeds, nil)
}

// ToTarget converts a confirmed preliminary track into a fresh active
// Target rooted at its current posterior.
func (pt *PreliminaryTrack) ToTarget(scanNumber int, windowSize int) (*track.Target, error) {
	if pt.Phase != PhaseConfirmed {
		return nil, fmt.Errorf("initiator: ToTarget called on non-confirmed track %s", pt.ID)
	}
	x := mat.VecDenseCopyOf(pt.Current.EstPosterior)
	p := mat.DenseCopyOf(pt.Current.CovPosterior)
	tr := track.NewTree(scanNumber, pt.Current.Time, x, p, 0.9)
	return track.NewTarget(pt.ID, tr, windowSize), nil
}
