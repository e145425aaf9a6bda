package store

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/tomht/internal/track"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tracker.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestOpenCreatesFreshSchema(t *testing.T) {
	st := openTestStore(t)

	var version int
	if err := st.QueryRow(`SELECT version FROM schema_migrations`).Scan(&version); err != nil {
		t.Fatalf("expected baselined schema_migrations row: %v", err)
	}
	if version != 1 {
		t.Errorf("version = %d, want 1", version)
	}
}

func TestCreateRunAndRegisterTrack(t *testing.T) {
	st := openTestStore(t)

	runID, err := st.CreateRun(1000, `{"p_d":0.9}`)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if runID == 0 {
		t.Fatal("expected nonzero run id")
	}

	if err := st.RegisterTrack(runID, "trk_1", 3, "preliminary"); err != nil {
		t.Fatalf("RegisterTrack: %v", err)
	}
	// Re-registering the same track id must not error (idempotent insert).
	if err := st.RegisterTrack(runID, "trk_1", 3, "preliminary"); err != nil {
		t.Fatalf("RegisterTrack (idempotent): %v", err)
	}

	var status string
	if err := st.QueryRow(`SELECT status FROM tracks WHERE track_id = ?`, "trk_1").Scan(&status); err != nil {
		t.Fatalf("query status: %v", err)
	}
	if status != "preliminary" {
		t.Errorf("status = %q, want preliminary", status)
	}
}

func TestSetTrackStatusRecordsTermination(t *testing.T) {
	st := openTestStore(t)
	runID, _ := st.CreateRun(0, "{}")
	if err := st.RegisterTrack(runID, "trk_2", 0, "confirmed"); err != nil {
		t.Fatalf("RegisterTrack: %v", err)
	}

	terminatedScan := 42
	if err := st.SetTrackStatus("trk_2", "terminated", &terminatedScan); err != nil {
		t.Fatalf("SetTrackStatus: %v", err)
	}

	var status string
	var scan int
	if err := st.QueryRow(`SELECT status, terminated_scan FROM tracks WHERE track_id = ?`, "trk_2").
		Scan(&status, &scan); err != nil {
		t.Fatalf("query: %v", err)
	}
	if status != "terminated" || scan != 42 {
		t.Errorf("got status=%q scan=%d, want terminated/42", status, scan)
	}
}

func TestRecordLeafAndLoadTrackPoints(t *testing.T) {
	st := openTestStore(t)
	runID, _ := st.CreateRun(0, "{}")
	if err := st.RegisterTrack(runID, "trk_3", 0, "confirmed"); err != nil {
		t.Fatalf("RegisterTrack: %v", err)
	}

	node := &track.Node{
		XHat: mat.NewVecDense(4, []float64{10, 20, 1, -1}),
		PHat: mat.NewDense(4, 4, nil),
	}
	if err := st.RecordLeaf("trk_3", 1, 1.0, node); err != nil {
		t.Fatalf("RecordLeaf: %v", err)
	}
	node.XHat = mat.NewVecDense(4, []float64{11, 19, 1, -1})
	if err := st.RecordLeaf("trk_3", 2, 2.0, node); err != nil {
		t.Fatalf("RecordLeaf: %v", err)
	}

	points, err := st.LoadTrackPoints("trk_3")
	if err != nil {
		t.Fatalf("LoadTrackPoints: %v", err)
	}

	want := []TrackPoint{
		{ScanNumber: 1, ScanTime: 1.0, X: 10, Y: 20, VX: 1, VY: -1},
		{ScanNumber: 2, ScanTime: 2.0, X: 11, Y: 19, VX: 1, VY: -1},
	}
	if diff := cmp.Diff(want, points); diff != "" {
		t.Errorf("LoadTrackPoints mismatch (-want +got):\n%s", diff)
	}
}
