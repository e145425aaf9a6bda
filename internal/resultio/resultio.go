// Package resultio writes tracker output in the two literal formats the
// original implementation used: a comma-separated (x,y)-tuple track file,
// and an XML "simulations" summary document for batched/Monte-Carlo runs.
package resultio

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Point is one (x, y) sample of a track's trajectory.
type Point struct {
	X, Y float64
}

// WriteTracksToFile writes one line per track: its points rendered as
// comma-joined "(x,y)" tuple strings, with no header. This mirrors
// pymht/utils/helpFunctions.writeTracksToFile exactly.
func WriteTracksToFile(path string, tracks [][]Point) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create track file directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create track file: %w", err)
	}
	defer f.Close()

	for _, trk := range tracks {
		tuples := make([]string, len(trk))
		for i, p := range trk {
			tuples[i] = fmt.Sprintf("(%s,%s)", formatFloat(p.X), formatFloat(p.Y))
		}
		if _, err := fmt.Fprintln(f, strings.Join(tuples, ",")); err != nil {
			return fmt.Errorf("write track line: %w", err)
		}
	}
	return nil
}

func formatFloat(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v), "0"), ".")
}

// simulationElem is one Monte-Carlo run's result, nested under the
// <simulations> root. Text holds the run's tracks, rendered the same way
// as the track file's tuple format, bracketed as a Python-literal-style
// list so the text is self-describing without extra schema.
type simulationElem struct {
	XMLName      xml.Name `xml:"Simulation"`
	Index        int      `xml:"i,attr"`
	TotalSimTime float64  `xml:"totalSimTime,attr"`
	Text         string   `xml:",chardata"`
}

// simulationsDoc is the <simulations nMonteCarlo="..."> root, one file per
// (solver, P_d, N, lambda_phi) configuration combination.
type simulationsDoc struct {
	XMLName     xml.Name         `xml:"simulations"`
	NMonteCarlo int              `xml:"nMonteCarlo,attr"`
	Runs        []simulationElem `xml:"Simulation"`
}

// RunResult is one completed tracker run to append to a summary document.
type RunResult struct {
	Index        int
	TotalSimTime time.Duration
	Tracks       [][]Point
}

// WriteRunSummary writes an XML "simulations" document collecting every
// run in results, matching the format
// pymht/utils/helpFunctions.writeElementToFile produces and
// examples/compareResults.py consumes.
func WriteRunSummary(path string, results []RunResult) error {
	doc := simulationsDoc{NMonteCarlo: len(results)}
	for _, r := range results {
		doc.Runs = append(doc.Runs, simulationElem{
			Index:        r.Index,
			TotalSimTime: r.TotalSimTime.Seconds(),
			Text:         renderTrackListLiteral(r.Tracks),
		})
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create summary directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create summary file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(xml.Header); err != nil {
		return fmt.Errorf("write xml header: %w", err)
	}
	enc := xml.NewEncoder(f)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode summary xml: %w", err)
	}
	return nil
}

// renderTrackListLiteral renders tracks as "[[(x,y),(x,y)],[(x,y)]]", the
// literal Python list-of-tuples repr the original's batch comparison tool
// parses back with ast.literal_eval.
func renderTrackListLiteral(tracks [][]Point) string {
	trackStrs := make([]string, len(tracks))
	for i, trk := range tracks {
		tuples := make([]string, len(trk))
		for j, p := range trk {
			tuples[j] = fmt.Sprintf("(%s,%s)", formatFloat(p.X), formatFloat(p.Y))
		}
		trackStrs[i] = "[" + strings.Join(tuples, ",") + "]"
	}
	return "[" + strings.Join(trackStrs, ",") + "]"
}
