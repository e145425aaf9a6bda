// Command tomht runs a track-oriented multi-hypothesis tracker over a
// recorded sequence of radar (and optional AIS) scans, persisting
// confirmed tracks to SQLite and writing the final trajectories in the
// original tracker's track-file and XML summary formats.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/banshee-data/tomht/internal/assoc"
	"github.com/banshee-data/tomht/internal/config"
	"github.com/banshee-data/tomht/internal/dispatcher"
	"github.com/banshee-data/tomht/internal/growth"
	"github.com/banshee-data/tomht/internal/initiator"
	"github.com/banshee-data/tomht/internal/motion"
	"github.com/banshee-data/tomht/internal/resultio"
	"github.com/banshee-data/tomht/internal/store"
	"github.com/banshee-data/tomht/internal/track"
	"github.com/banshee-data/tomht/internal/vizexport"
)

var (
	configFile  = flag.String("config", config.DefaultConfigPath, "Path to JSON tuning configuration file")
	scanFile    = flag.String("scan-file", "", "Path to JSON file containing the recorded scan sequence")
	dbPathFlag  = flag.String("db-path", "tomht.db", "Path to sqlite database file for run history")
	outDir      = flag.String("out-dir", "results", "Directory to write the track file and XML summary to")
	runName     = flag.String("run-name", "run", "Base filename for this run's output files")
	writeChart  = flag.Bool("chart", false, "Also write an HTML trajectory chart for confirmed tracks")
	versionFlag = flag.Bool("version", false, "Print version information and exit")
)

// scanFileDoc is the on-disk input format: a recorded sequence of scans,
// each with its radar measurements and an optional time-matched AIS
// report batch.
type scanFileDoc struct {
	Scans []scanFileEntry `json:"scans"`
}

type scanFileEntry struct {
	Time         float64      `json:"time"`
	Measurements [][2]float64 `json:"measurements"`
	AIS          []aisEntry   `json:"ais,omitempty"`
}

type aisEntry struct {
	MMSI  uint32     `json:"mmsi"`
	State [4]float64 `json:"state"`
}

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Println("tomht tracker (development build)")
		return
	}

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetOutput(os.Stdout)

	if *scanFile == "" {
		log.Fatalf("[Main] -scan-file is required")
	}

	tuningCfg, err := config.LoadTuningConfig(*configFile)
	if err != nil {
		log.Fatalf("[Main] failed to load tuning config: %v", err)
	}

	doc, err := loadScanFile(*scanFile)
	if err != nil {
		log.Fatalf("[Main] failed to load scan file: %v", err)
	}

	st, err := store.Open(*dbPathFlag)
	if err != nil {
		log.Fatalf("[Main] failed to open store: %v", err)
	}
	defer st.Close()

	configJSON, err := json.Marshal(tuningCfg)
	if err != nil {
		log.Fatalf("[Main] failed to marshal tuning config: %v", err)
	}
	runID, err := st.CreateRun(time.Now().UnixNano(), string(configJSON))
	if err != nil {
		log.Fatalf("[Main] failed to create run record: %v", err)
	}

	tracker := dispatcher.New(buildDispatcherConfig(tuningCfg))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runStart := time.Now()
scanLoop:
	for i, entry := range doc.Scans {
		select {
		case <-ctx.Done():
			log.Printf("[Main] interrupted after %d/%d scans", i, len(doc.Scans))
			break scanLoop
		default:
		}

		scan := growth.Scan{Time: entry.Time, Measurements: make([]growth.Measurement, len(entry.Measurements))}
		for j, m := range entry.Measurements {
			scan.Measurements[j] = growth.Measurement{Value: m}
		}

		var ais *growth.AISList
		if len(entry.AIS) > 0 {
			msgs := make([]growth.AISMessage, len(entry.AIS))
			for j, a := range entry.AIS {
				msgs[j] = growth.AISMessage{State: a.State, Time: entry.Time, MMSI: a.MMSI}
			}
			ais = &growth.AISList{Time: entry.Time, Messages: msgs}
		}

		result, err := tracker.ProcessScan(ctx, scan, ais)
		if err != nil {
			log.Printf("[Main] scan %d failed, skipping: %v", i, err)
			continue
		}

		for _, tgt := range result.NewlyConfirmed {
			if err := st.RegisterTrack(runID, tgt.TrackID, result.ScanNumber, "confirmed"); err != nil {
				log.Printf("[Main] register track %s: %v", tgt.TrackID, err)
			}
		}
		for _, sel := range result.Selected {
			if err := st.RecordLeaf(sel.TrackID, result.ScanNumber, entry.Time, &sel.Node); err != nil {
				log.Printf("[Main] record leaf %s: %v", sel.TrackID, err)
			}
		}
		for _, tgt := range result.NewlyTerminated {
			term := result.ScanNumber
			if err := st.SetTrackStatus(tgt.TrackID, "terminated", &term); err != nil {
				log.Printf("[Main] terminate track %s: %v", tgt.TrackID, err)
			}
		}
	}

	totalElapsed := time.Since(runStart)
	log.Printf("[Main] run complete: %d active, %d terminated, elapsed=%v", len(tracker.Targets()), len(tracker.Terminated()), totalElapsed)

	if err := writeOutputs(tracker, totalElapsed); err != nil {
		log.Printf("[Main] failed to write outputs: %v", err)
	}
}

func loadScanFile(path string) (*scanFileDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scan file: %w", err)
	}
	var doc scanFileDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse scan file: %w", err)
	}
	return &doc, nil
}

func buildDispatcherConfig(cfg *config.TuningConfig) dispatcher.Config {
	model := motion.NewModel(radarSigma(cfg), processSigma(cfg))

	var solver assoc.Solver
	if cfg.GetSolver() == "exhaustive" {
		solver = assoc.ExhaustiveSolver{}
	} else {
		solver = assoc.BranchAndBoundSolver{}
	}

	return dispatcher.Config{
		Growth: growth.Config{
			Model:       model,
			AISSigma:    aisSigma(cfg),
			Eta2:        cfg.GetEta2(),
			LambdaEx:    lambdaPhi(cfg),
			LambdaNu:    lambdaNu(cfg),
			Concurrency: 0,
		},
		Initiator: initiator.Config{
			Model:          model,
			N:              nChecks(cfg),
			M:              mRequired(cfg),
			GateGamma:      cfg.GetEta2(),
			Pd:             cfg.GetPD(),
			Pg:             0.99,
			MergeThreshold: mergeThreshold(cfg),
			PairGate:       pairGate(cfg),
			WindowSize:     initialWindow(cfg),
		},
		RadarPosition:   radarPosition(cfg),
		RadarRange:      radarRangeM(cfg),
		Period:          cfg.GetPeriod(),
		TargetSizeLimit: cfg.GetTargetSizeLimit(),
		WindowCeiling:   cfg.GetWindowCeiling(),
		InitialWindow:   initialWindow(cfg),
		Solver:          solver,
	}
}

// The following pull the remaining TuningConfig fields through; these
// fields have no Get* accessor in internal/config, so each falls back to
// the value config/tuning.defaults.json carries when the field is unset.

func initialWindow(cfg *config.TuningConfig) int {
	if cfg.InitialWindow == nil {
		return cfg.GetWindowCeiling()
	}
	return *cfg.InitialWindow
}

func radarSigma(cfg *config.TuningConfig) float64 {
	if cfg.RRadar == nil {
		return 5.0
	}
	return *cfg.RRadar
}

func aisSigma(cfg *config.TuningConfig) float64 {
	if cfg.RAIS == nil {
		return 3.0
	}
	return *cfg.RAIS
}

func processSigma(cfg *config.TuningConfig) float64 {
	if cfg.Q == nil {
		return 0.5
	}
	return *cfg.Q
}

func lambdaPhi(cfg *config.TuningConfig) float64 {
	if cfg.LambdaPhi == nil {
		return 1e-5
	}
	return *cfg.LambdaPhi
}

func lambdaNu(cfg *config.TuningConfig) float64 {
	if cfg.LambdaNu == nil {
		return 1e-5
	}
	return *cfg.LambdaNu
}

func nChecks(cfg *config.TuningConfig) int {
	if cfg.NChecks == nil {
		return 5
	}
	return *cfg.NChecks
}

func mRequired(cfg *config.TuningConfig) int {
	if cfg.MRequired == nil {
		return 3
	}
	return *cfg.MRequired
}

func mergeThreshold(cfg *config.TuningConfig) float64 {
	if cfg.MergeThreshold == nil {
		return 75.0
	}
	return *cfg.MergeThreshold
}

func pairGate(cfg *config.TuningConfig) float64 {
	if cfg.PairGate == nil {
		return 30.0
	}
	return *cfg.PairGate
}

func radarPosition(cfg *config.TuningConfig) [2]float64 {
	var pos [2]float64
	if cfg.RadarPositionX != nil {
		pos[0] = *cfg.RadarPositionX
	}
	if cfg.RadarPositionY != nil {
		pos[1] = *cfg.RadarPositionY
	}
	return pos
}

func radarRangeM(cfg *config.TuningConfig) float64 {
	if cfg.Range == nil {
		return 20000.0
	}
	return *cfg.Range
}

func writeOutputs(tracker *dispatcher.Tracker, elapsed time.Duration) error {
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	var tracks [][]resultio.Point
	var chartTracks []vizexport.Track
	for _, tgt := range append(append([]*track.Target{}, tracker.Targets()...), tracker.Terminated()...) {
		path, err := tgt.Tree.Path(tgt.SelectedLeaf)
		if err != nil {
			log.Printf("[Main] backtrack path for %s: %v", tgt.TrackID, err)
			continue
		}
		pts := make([]resultio.Point, len(path))
		for i, idx := range path {
			n := tgt.Tree.Node(idx)
			pts[i] = resultio.Point{X: n.XHat.AtVec(0), Y: n.XHat.AtVec(1)}
		}
		tracks = append(tracks, pts)
		chartTracks = append(chartTracks, vizexport.Track{Label: tgt.TrackID, Points: pts})
	}

	trackPath := filepath.Join(*outDir, *runName+".tracks.txt")
	if err := resultio.WriteTracksToFile(trackPath, tracks); err != nil {
		return fmt.Errorf("write track file: %w", err)
	}

	summaryPath := filepath.Join(*outDir, *runName+".summary.xml")
	results := []resultio.RunResult{{Index: 0, TotalSimTime: elapsed, Tracks: tracks}}
	if err := resultio.WriteRunSummary(summaryPath, results); err != nil {
		return fmt.Errorf("write run summary: %w", err)
	}

	if *writeChart {
		chartPath := filepath.Join(*outDir, *runName+".chart.html")
		if err := vizexport.WriteTrajectoryChart(chartPath, chartTracks, [2]float64{0, 0}, 0); err != nil {
			return fmt.Errorf("write trajectory chart: %w", err)
		}
	}

	log.Printf("[Main] wrote %d tracks to %s", len(tracks), trackPath)
	return nil
}
