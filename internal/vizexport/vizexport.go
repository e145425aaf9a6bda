// Package vizexport renders a tracker run's confirmed track trajectories
// as a standalone HTML chart, for visual sanity-checking a run without
// reaching for the track files or a plotting notebook.
package vizexport

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/tomht/internal/resultio"
)

// Track is one track's trajectory plus the label to show in the legend.
type Track struct {
	Label  string
	Points []resultio.Point
}

// WriteTrajectoryChart renders every track as a line series on a shared
// XY plot and writes the standalone HTML page to path.
func WriteTrajectoryChart(path string, tracks []Track, radarPos [2]float64, radarRange float64) error {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Tracker Run Trajectories",
			Theme:     "dark",
			Width:     "1000px",
			Height:    "1000px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Confirmed Track Trajectories",
			Subtitle: fmt.Sprintf("tracks=%d radar=(%.1f,%.1f) range=%.0fm", len(tracks), radarPos[0], radarPos[1], radarRange),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)

	for _, trk := range tracks {
		xAxis := make([]string, len(trk.Points))
		data := make([]opts.LineData, len(trk.Points))
		for i, p := range trk.Points {
			xAxis[i] = fmt.Sprintf("%.1f", p.X)
			data[i] = opts.LineData{Value: []interface{}{p.X, p.Y}}
		}
		line.SetXAxis(xAxis).AddSeries(trk.Label, data, charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(false)}))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create chart directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart file: %w", err)
	}
	defer f.Close()

	if err := line.Render(f); err != nil {
		return fmt.Errorf("render trajectory chart: %w", err)
	}
	return nil
}
