// Package growth implements the gating-and-leaf-growth stage: for every
// current leaf of every target, predict, gate the scan's measurements, and
// spawn one child per gated measurement plus the mandatory zero-hypothesis
// child. Independent targets are processed by a bounded worker pool;
// workers are pure functions that return spawn descriptions rather than
// mutating the tree, so the coordinator can merge results single-threaded
// with no shared mutable state crossing a worker boundary — the same
// fan-out/merge discipline as a concurrency-bounded probe scanner.
package growth

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/tomht/internal/kalman"
	"github.com/banshee-data/tomht/internal/motion"
	"github.com/banshee-data/tomht/internal/track"
)

// Measurement is one point measurement in a scan.
type Measurement struct {
	Value [2]float64
}

// Scan is one radar sweep: a timestamp and its measurements.
type Scan struct {
	Time         float64
	Measurements []Measurement
}

// AISMessage is one AIS position report.
type AISMessage struct {
	State [4]float64 // px, py, vx, vy
	Time  float64
	MMSI  uint32
}

// AISList is the optional AIS channel accompanying a scan. Contract:
// Time == the Scan's Time when present.
type AISList struct {
	Time     float64
	Messages []AISMessage
}

// Config bundles the tunables the growth stage needs per scan.
type Config struct {
	Model      *motion.Model
	AISSigma   float64
	Eta2       float64 // gating threshold, e.g. 5.99 for 95% chi-squared(2)
	LambdaEx   float64 // extraneous-measurement density
	LambdaNu   float64 // AIS fusion density, used as lambda in NLLR for the AIS leg
	Concurrency int
}

// SpawnSpec describes one child to add to a target's tree. It is plain
// data: applying it (via track.Tree.Spawn) is the coordinator's job, never
// the worker's.
type SpawnSpec struct {
	Parent int32
	Node   track.Node
}

// TargetResult is one target's growth output plus the set of radar
// measurement indices it used (for the scan-wide used-mask).
type TargetResult struct {
	TargetIndex int
	Spawns      []SpawnSpec
	UsedRadar   map[int]bool
	Elapsed     time.Duration // wall time spent growing this target's leaves, for dynamic-window adaptation
}

// GrowAll runs the growth stage for every target concurrently, bounded by
// cfg.Concurrency, then returns each target's spawn list in target-index
// order (not completion order) so downstream stages stay deterministic per
// spec.md §5's fixed-index-order requirement.
func GrowAll(ctx context.Context, targets []*track.Target, scan Scan, ais *AISList, cfg Config) ([]TargetResult, error) {
	results := make([]TargetResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Concurrency > 0 {
		g.SetLimit(cfg.Concurrency)
	}

	for i, tgt := range targets {
		i, tgt := i, tgt
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			start := time.Now()
			res, err := GrowTarget(tgt, scan, ais, cfg)
			res.Elapsed = time.Since(start)
			if err != nil {
				return fmt.Errorf("growth: target %d (%s): %w", i, tgt.TrackID, err)
			}
			res.TargetIndex = i
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// GrowTarget computes the spawn list for one target's current leaves
// against one scan. It reads the target's tree but returns only data; it
// never calls Tree.Spawn, so it is safe to call concurrently for distinct
// targets sharing no state.
func GrowTarget(tgt *track.Target, scan Scan, ais *AISList, cfg Config) (TargetResult, error) {
	var out TargetResult
	out.UsedRadar = make(map[int]bool)

	leaves := tgt.Tree.Leaves()
	nextScan := scanNumberOf(tgt.Tree, leaves[0]) + 1

	for _, leafIdx := range leaves {
		leaf := tgt.Tree.Node(leafIdx)
		predicted := kalman.Predict(
			kalman.State{X: leaf.XHat, P: leaf.PHat},
			motion.Phi(scan.Time-leaf.Time),
			motion.Q(scan.Time-leaf.Time, cfg.Model.SigmaQ),
		)
		pc, err := kalman.PrecalcFromPrediction(predicted, cfg.Model.H, cfg.Model.R)
		if err != nil {
			// Numerical failure: skip this leaf's spawns entirely rather
			// than propagate a poisoned covariance (spec.md §7 item 1).
			continue
		}

		// Mandatory zero-hypothesis child.
		out.Spawns = append(out.Spawns, SpawnSpec{
			Parent: leafIdx,
			Node: track.Node{
				ScanNumber:        nextScan,
				Time:              scan.Time,
				MeasurementNumber: 0,
				Origin:            track.OriginMissed,
				XHat:              predicted.X,
				PHat:              predicted.P,
				CumulativeNLLR:    leaf.CumulativeNLLR + kalman.NLLRMissed(leaf.Pd),
				Pd:                leaf.Pd,
			},
		})

		for mi, meas := range scan.Measurements {
			z := mat.NewVecDense(2, []float64{meas.Value[0], meas.Value[1]})
			innov := kalman.Innovation(z, pc)
			nis := kalman.NIS(innov, pc)
			if nis > cfg.Eta2 {
				continue
			}
			xHat := kalman.Filter(predicted, pc, innov)
			out.Spawns = append(out.Spawns, SpawnSpec{
				Parent: leafIdx,
				Node: track.Node{
					ScanNumber:        nextScan,
					Time:              scan.Time,
					MeasurementNumber: mi + 1,
					Origin:            track.OriginRadar,
					XHat:              xHat,
					PHat:              pc.PHat,
					CumulativeNLLR:    leaf.CumulativeNLLR + kalman.NLLR(cfg.LambdaEx, leaf.Pd, pc, nis),
					Pd:                leaf.Pd,
					NIS:               nis,
				},
			})
			out.UsedRadar[mi] = true
		}

		if ais != nil {
			fused, err := fuseAISChildren(leaf, nextScan, scan, ais, cfg)
			if err != nil {
				return out, err
			}
			for _, f := range fused {
				out.Spawns = append(out.Spawns, SpawnSpec{Parent: leafIdx, Node: f})
				if f.FusedRadarIndex > 0 {
					out.UsedRadar[f.FusedRadarIndex-1] = true
				}
			}
		}
	}

	return out, nil
}

func scanNumberOf(tr *track.Tree, leaf int32) int {
	return tr.Node(leaf).ScanNumber
}
