// Package dispatcher orchestrates one tracker run's per-scan pipeline:
// grow every target's hypothesis tree, cluster targets that share
// measurements, solve each cluster's association program, prune back to
// the sliding window, terminate dead targets, and hand unused
// measurements to the initiator. Per spec.md §5 the pipeline stages run
// strictly sequentially; only leaf growth within a stage is concurrent.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/banshee-data/tomht/internal/assoc"
	"github.com/banshee-data/tomht/internal/gcluster"
	"github.com/banshee-data/tomht/internal/growth"
	"github.com/banshee-data/tomht/internal/initiator"
	"github.com/banshee-data/tomht/internal/motion"
	"github.com/banshee-data/tomht/internal/track"
)

// ErrInvariantViolation marks a fatal, scan-aborting structural defect:
// length mismatch, duplicated leaf selection, or scan-number drift
// (spec.md §7 item 2).
var ErrInvariantViolation = errors.New("dispatcher: invariant violation")

// ErrShapeMismatch marks a malformed scan/AIS pairing (spec.md §7 item 5):
// the scan is rejected but the tracker's state is untouched and the next
// scan proceeds normally.
var ErrShapeMismatch = errors.New("dispatcher: scan/AIS shape mismatch")

// Config bundles every per-run tunable the dispatcher needs beyond what
// growth.Config and initiator.Config already carry.
type Config struct {
	Growth          growth.Config
	Initiator       initiator.Config
	RadarPosition   [2]float64
	RadarRange      float64
	Period          time.Duration // radar scan interval; the per-scan deadline
	TargetSizeLimit int           // node-count ceiling that forces window shrink (3000)
	WindowCeiling   int           // initial N, the global window ceiling
	InitialWindow   int           // window size seeded on newly confirmed targets
	Solver          assoc.Solver  // multi-target association solver; defaults to BranchAndBoundSolver
}

// Tracker owns the active/terminated target lists and the cross-scan
// initiator state for one run. It is not safe for concurrent use from
// multiple goroutines; ProcessScan is meant to be called from a single
// driving loop, one scan at a time.
type Tracker struct {
	cfg           Config
	targets       []*track.Target
	terminated    []*track.Target
	init          *initiator.Initiator
	scanNumber    int
	windowCeiling int
}

// New creates a Tracker with no active targets.
func New(cfg Config) *Tracker {
	if cfg.Solver == nil {
		cfg.Solver = assoc.BranchAndBoundSolver{}
	}
	return &Tracker{
		cfg:           cfg,
		init:          initiator.NewInitiator(cfg.Initiator),
		windowCeiling: cfg.WindowCeiling,
	}
}

// Targets returns the current active target list. Callers must not mutate
// the returned slice or its elements.
func (t *Tracker) Targets() []*track.Target { return t.targets }

// Terminated returns every target terminated so far across this run.
func (t *Tracker) Terminated() []*track.Target { return t.terminated }

// ScanResult is the per-scan output: the current best leaf per active
// target, plus whatever terminated or was newly confirmed this scan.
type ScanResult struct {
	ScanNumber      int
	Selected        []SelectedTrack
	NewlyConfirmed  []*track.Target
	NewlyTerminated []*track.Target
	Elapsed         time.Duration
	Quality         QualitySummary
}

// SelectedTrack is one target's current best hypothesis.
type SelectedTrack struct {
	TrackID string
	Node    track.Node
}

// ProcessScan runs the full pipeline for one scan. On a fatal error
// (invariant violation, non-optimal solve) every target tree is rolled
// back to its pre-scan state and the tracker's active/terminated lists are
// left exactly as they were before the call — copy-on-success.
func (t *Tracker) ProcessScan(ctx context.Context, scan growth.Scan, ais *growth.AISList) (*ScanResult, error) {
	if ais != nil && ais.Time != scan.Time {
		log.Printf("[Dispatcher] scan %d: ais.time=%v != scan.time=%v, rejecting scan", t.scanNumber+1, ais.Time, scan.Time)
		return nil, fmt.Errorf("%w: ais.time=%v scan.time=%v", ErrShapeMismatch, ais.Time, scan.Time)
	}

	scanStart := time.Now()
	nextScan := t.scanNumber + 1

	checkpoints := make([]int, len(t.targets))
	selectedBefore := make([]int32, len(t.targets))
	for i, tgt := range t.targets {
		checkpoints[i] = tgt.Tree.Checkpoint()
		selectedBefore[i] = tgt.SelectedLeaf
	}
	rollback := func() {
		for i, tgt := range t.targets {
			tgt.Tree.RollbackTo(checkpoints[i])
			tgt.SelectedLeaf = selectedBefore[i]
		}
	}

	results, err := growth.GrowAll(ctx, t.targets, scan, ais, t.cfg.Growth)
	if err != nil {
		rollback()
		return nil, fmt.Errorf("dispatcher: scan %d growth: %w", nextScan, err)
	}

	usedRadar := make(map[int]bool)
	for i, res := range results {
		for _, sp := range res.Spawns {
			if _, err := t.targets[i].Tree.Spawn(sp.Parent, sp.Node); err != nil {
				rollback()
				return nil, fmt.Errorf("%w: scan %d target %s: %v", ErrInvariantViolation, nextScan, t.targets[i].TrackID, err)
			}
		}
		for mi := range res.UsedRadar {
			usedRadar[mi] = true
		}
	}

	if err := t.checkInvariants(nextScan); err != nil {
		rollback()
		return nil, fmt.Errorf("dispatcher: scan %d: %w", nextScan, err)
	}

	clusters, err := gcluster.FindClusters(t.targets)
	if err != nil {
		rollback()
		return nil, fmt.Errorf("dispatcher: scan %d clustering: %w", nextScan, err)
	}

	for _, members := range clusters {
		program, err := assoc.BuildProgram(t.targets, members)
		if err != nil {
			rollback()
			return nil, fmt.Errorf("dispatcher: scan %d association: %w", nextScan, err)
		}
		if len(members) == 1 {
			leafIdx, err := assoc.SelectBest(program)
			if err != nil {
				rollback()
				return nil, fmt.Errorf("dispatcher: scan %d association: %w", nextScan, err)
			}
			t.targets[members[0]].SelectedLeaf = program.Leaves[leafIdx].Leaf
			continue
		}
		sol, err := t.cfg.Solver.Solve(program)
		if err != nil {
			rollback()
			return nil, fmt.Errorf("dispatcher: scan %d association: %w", nextScan, err)
		}
		for g, ti := range members {
			t.targets[ti].SelectedLeaf = program.Leaves[sol[g]].Leaf
		}
	}

	for _, tgt := range t.targets {
		if err := tgt.Prune(); err != nil {
			rollback()
			return nil, fmt.Errorf("%w: scan %d pruning %s: %v", ErrInvariantViolation, nextScan, tgt.TrackID, err)
		}
	}

	t.adaptWindows(clusters, results, nextScan)

	var newlyTerminated []*track.Target
	var survivors []*track.Target
	for _, tgt := range t.targets {
		if tgt.ShouldTerminate(t.cfg.RadarPosition, t.cfg.RadarRange) {
			newlyTerminated = append(newlyTerminated, tgt)
			t.terminated = append(t.terminated, tgt)
			continue
		}
		survivors = append(survivors, tgt)
	}
	t.targets = survivors

	var unused []initiator.Measurement
	for mi, m := range scan.Measurements {
		if !usedRadar[mi] {
			unused = append(unused, initiator.Measurement{Value: m.Value, Time: scan.Time})
		}
	}
	confirmed, err := t.init.ProcessScan(scan.Time, unused, t.targets)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: scan %d initiation: %w", nextScan, err)
	}
	var newlyConfirmed []*track.Target
	for _, pt := range confirmed {
		tgt, err := pt.ToTarget(nextScan, t.cfg.InitialWindow)
		if err != nil {
			return nil, fmt.Errorf("dispatcher: scan %d initiation: %w", nextScan, err)
		}
		t.targets = append(t.targets, tgt)
		newlyConfirmed = append(newlyConfirmed, tgt)
	}

	t.scanNumber = nextScan

	elapsed := time.Since(scanStart)
	t.logTiming(nextScan, elapsed)

	selected := make([]SelectedTrack, len(t.targets))
	for i, tgt := range t.targets {
		selected[i] = SelectedTrack{TrackID: tgt.TrackID, Node: *tgt.Tree.Node(tgt.SelectedLeaf)}
	}
	quality := computeQualitySummary(selected)
	log.Printf("[Dispatcher] scan %d quality: speed p50=%.2f p85=%.2f p98=%.2f, nis p50=%.2f p85=%.2f p98=%.2f",
		nextScan, quality.P50Speed, quality.P85Speed, quality.P98Speed,
		quality.P50Innovation, quality.P85Innovation, quality.P98Innovation)

	return &ScanResult{
		ScanNumber:      nextScan,
		Selected:        selected,
		NewlyConfirmed:  newlyConfirmed,
		NewlyTerminated: newlyTerminated,
		Elapsed:         elapsed,
		Quality:         quality,
	}, nil
}

// checkInvariants verifies every active target's selected-leaf-candidate
// set is internally consistent after growth: every current leaf belongs
// to scanNum, and (transitively, via Tree.Spawn's own enforcement) every
// non-root node's parent is exactly one scan behind it.
func (t *Tracker) checkInvariants(scanNum int) error {
	for _, tgt := range t.targets {
		leaves := tgt.Tree.Leaves()
		if len(leaves) == 0 {
			return fmt.Errorf("%w: target %s has no leaves after growth", ErrInvariantViolation, tgt.TrackID)
		}
		for _, leaf := range leaves {
			if tgt.Tree.Node(leaf).ScanNumber != scanNum {
				return fmt.Errorf("%w: target %s leaf scan_number mismatch", ErrInvariantViolation, tgt.TrackID)
			}
		}
	}
	return nil
}

// adaptWindows implements spec.md §4.8: shrink a target's window when its
// growth time exceeds its share of the per-scan deadline or its tree
// outgrows target_size_limit, and shrink the global ceiling (clamping
// every target to it) when the whole scan blew past 0.8*period.
func (t *Tracker) adaptWindows(clusters [][]int, results []growth.TargetResult, scanNum int) {
	period := t.cfg.Period
	perTargetSoft := 200 * time.Millisecond
	softTotal := time.Duration(float64(period) * 0.5)

	for _, members := range clusters {
		var total time.Duration
		for _, i := range members {
			if i < len(results) {
				total += results[i].Elapsed
			}
		}
		share := perTargetSoft
		if total > softTotal && len(members) > 0 {
			share = time.Duration(float64(softTotal) / float64(len(members)))
		}
		for _, i := range members {
			if i >= len(t.targets) || i >= len(results) {
				continue
			}
			tgt := t.targets[i]
			if results[i].Elapsed > share || tgt.Tree.NumNodes() > t.cfg.TargetSizeLimit {
				if tgt.WindowSize > 1 {
					tgt.WindowSize--
					log.Printf("[Dispatcher] scan %d: shrinking window for %s to %d (elapsed=%v nodes=%d)",
						scanNum, tgt.TrackID, tgt.WindowSize, results[i].Elapsed, tgt.Tree.NumNodes())
				}
			}
		}
	}

	var totalElapsed time.Duration
	for _, r := range results {
		totalElapsed += r.Elapsed
	}
	if period > 0 && totalElapsed > time.Duration(float64(period)*0.8) {
		if t.windowCeiling > 1 {
			t.windowCeiling--
		}
		log.Printf("[Dispatcher] scan %d: global window ceiling reduced to %d (scan elapsed=%v, period=%v)",
			scanNum, t.windowCeiling, totalElapsed, period)
		for _, tgt := range t.targets {
			if tgt.WindowSize > t.windowCeiling {
				tgt.WindowSize = t.windowCeiling
			}
		}
	}
}

// logTiming emits the WARNING/CRITICAL diagnostics spec.md §7 item 4
// requires: a scan exceeding the period is never fatal, only observed.
func (t *Tracker) logTiming(scanNum int, elapsed time.Duration) {
	period := t.cfg.Period
	if period <= 0 {
		return
	}
	ratio := float64(elapsed) / float64(period)
	switch {
	case ratio > 1.0:
		log.Printf("[Dispatcher] CRITICAL: scan %d took %v, period=%v (%.0f%% of budget)", scanNum, elapsed, period, ratio*100)
	case ratio > 0.6:
		log.Printf("[Dispatcher] WARNING: scan %d took %v, period=%v (%.0f%% of budget)", scanNum, elapsed, period, ratio*100)
	}
}

// RadarModel exposes the configured motion model for callers assembling a
// growth.Config and initiator.Config from a single source of truth.
func RadarModel(sigmaR, sigmaQ float64) *motion.Model { return motion.NewModel(sigmaR, sigmaQ) }
