package vizexport

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/tomht/internal/resultio"
)

func TestWriteTrajectoryChartProducesHTML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "viz", "chart.html")
	tracks := []Track{
		{Label: "trk_1", Points: []resultio.Point{{X: 0, Y: 0}, {X: 1, Y: 1}}},
		{Label: "trk_2", Points: []resultio.Point{{X: 5, Y: -5}}},
	}
	if err := WriteTrajectoryChart(path, tracks, [2]float64{0, 0}, 20000); err != nil {
		t.Fatalf("WriteTrajectoryChart: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read chart file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "trk_1") || !strings.Contains(content, "trk_2") {
		t.Errorf("expected both track labels in chart output")
	}
	if !strings.Contains(strings.ToLower(content), "<html") {
		t.Errorf("expected a standalone HTML document")
	}
}

func TestWriteTrajectoryChartEmptyTracks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chart.html")
	if err := WriteTrajectoryChart(path, nil, [2]float64{0, 0}, 1000); err != nil {
		t.Fatalf("WriteTrajectoryChart with no tracks: %v", err)
	}
}
