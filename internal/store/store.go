// Package store persists scan runs, tracks, and the per-scan state of their
// selected hypothesis leaf to SQLite. A run groups every track initiated
// under one tuning configuration; tracks and their points can be replayed
// afterwards for analysis or visualization.
package store

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/tomht/internal/track"
)

//go:embed schema.sql
var schemaSQL string

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite connection holding tracker run history.
type Store struct {
	*sql.DB
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func migrationsSubFS() (fs.FS, error) {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create sub-filesystem for embedded migrations: %w", err)
	}
	return subFS, nil
}

// Open opens (creating if necessary) a SQLite database at path and ensures
// its schema is at the latest migration version.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := applyPragmas(db); err != nil {
		return nil, err
	}

	var schemaMigrationsExists bool
	err = db.QueryRow(`
		SELECT COUNT(*) > 0 FROM sqlite_master
		WHERE type='table' AND name='schema_migrations'
	`).Scan(&schemaMigrationsExists)
	if err != nil {
		return nil, fmt.Errorf("failed to check for schema_migrations table: %w", err)
	}

	st := &Store{db}
	migFS, err := migrationsSubFS()
	if err != nil {
		return nil, err
	}

	if schemaMigrationsExists {
		if err := st.MigrateUp(migFS); err != nil {
			return nil, err
		}
		return st, nil
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	latest, err := latestMigrationVersion(migFS)
	if err != nil {
		return nil, err
	}
	if err := st.baselineAtVersion(latest); err != nil {
		return nil, err
	}
	return st, nil
}

// latestMigrationVersion parses the highest version prefix out of the
// embedded migration filenames (NNNN_name.up.sql), mirroring the teacher's
// filename convention rather than walking the source driver's internals.
func latestMigrationVersion(migFS fs.FS) (uint, error) {
	entries, err := fs.ReadDir(migFS, ".")
	if err != nil {
		return 0, fmt.Errorf("failed to read migrations filesystem: %w", err)
	}
	var maxVersion uint
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		var version uint
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err == nil && version > maxVersion {
			maxVersion = version
		}
	}
	if maxVersion == 0 {
		return 0, fmt.Errorf("could not determine latest migration version")
	}
	return maxVersion, nil
}

// baselineAtVersion records a fresh database (already initialized from
// schema.sql) as being at the given migration version, without replaying
// migration history.
func (st *Store) baselineAtVersion(version uint) error {
	_, err := st.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER NOT NULL,
			dirty INTEGER NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS version_unique ON schema_migrations (version);
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure schema_migrations table: %w", err)
	}
	if _, err := st.Exec(`INSERT INTO schema_migrations (version, dirty) VALUES (?, 0)`, version); err != nil {
		return fmt.Errorf("failed to baseline at version %d: %w", version, err)
	}
	return nil
}

// MigrateUp runs all pending migrations up to the latest version.
func (st *Store) MigrateUp(migFS fs.FS) error {
	m, err := st.newMigrate(migFS)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

func (st *Store) newMigrate(migFS fs.FS) (*migrate.Migrate, error) {
	sourceDriver, err := iofs.New(migFS, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to create iofs source driver: %w", err)
	}
	driver, err := sqlite.WithInstance(st.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// CreateRun records a new scan run and returns its run_id. configJSON is
// the tuning configuration the run was started under, for reproducibility.
func (st *Store) CreateRun(startedUnixNanos int64, configJSON string) (int64, error) {
	res, err := st.Exec(
		`INSERT INTO scan_runs (started_unix_nanos, config_json) VALUES (?, ?)`,
		startedUnixNanos, configJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("create run: %w", err)
	}
	return res.LastInsertId()
}

// RegisterTrack inserts a new track row, idempotent on a re-initiated
// trackID (INSERT OR IGNORE, since the dispatcher may retry a scan after
// a rolled-back failure).
func (st *Store) RegisterTrack(runID int64, trackID string, initiatedScan int, status string) error {
	_, err := st.Exec(
		`INSERT OR IGNORE INTO tracks (track_id, run_id, initiated_scan, status) VALUES (?, ?, ?, ?)`,
		trackID, runID, initiatedScan, status,
	)
	if err != nil {
		return fmt.Errorf("register track %s: %w", trackID, err)
	}
	return nil
}

// SetTrackStatus updates a track's status, recording the terminating scan
// number when the new status is "terminated".
func (st *Store) SetTrackStatus(trackID, status string, terminatedScan *int) error {
	_, err := st.Exec(
		`UPDATE tracks SET status = ?, terminated_scan = ? WHERE track_id = ?`,
		status, terminatedScan, trackID,
	)
	if err != nil {
		return fmt.Errorf("set track %s status: %w", trackID, err)
	}
	return nil
}

// RecordLeaf persists the state of a target's selected leaf for one scan.
func (st *Store) RecordLeaf(trackID string, scanNumber int, scanTime float64, node *track.Node) error {
	covJSON, err := marshalCovariance(node.PHat)
	if err != nil {
		return fmt.Errorf("record leaf %s scan %d: %w", trackID, scanNumber, err)
	}
	_, err = st.Exec(
		`INSERT INTO track_points (track_id, scan_number, scan_time, pos_x, pos_y, vel_x, vel_y, covariance_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		trackID, scanNumber, scanTime,
		node.XHat.AtVec(0), node.XHat.AtVec(1), node.XHat.AtVec(2), node.XHat.AtVec(3),
		covJSON,
	)
	if err != nil {
		return fmt.Errorf("record leaf %s scan %d: %w", trackID, scanNumber, err)
	}
	return nil
}

// TrackPoint is one row of a track's recorded trajectory.
type TrackPoint struct {
	ScanNumber int
	ScanTime   float64
	X, Y       float64
	VX, VY     float64
}

// LoadTrackPoints returns every recorded point for a track, ordered by
// scan number.
func (st *Store) LoadTrackPoints(trackID string) ([]TrackPoint, error) {
	rows, err := st.Query(
		`SELECT scan_number, scan_time, pos_x, pos_y, vel_x, vel_y FROM track_points
		 WHERE track_id = ? ORDER BY scan_number ASC`,
		trackID,
	)
	if err != nil {
		return nil, fmt.Errorf("load track points for %s: %w", trackID, err)
	}
	defer rows.Close()

	var points []TrackPoint
	for rows.Next() {
		var p TrackPoint
		if err := rows.Scan(&p.ScanNumber, &p.ScanTime, &p.X, &p.Y, &p.VX, &p.VY); err != nil {
			return nil, fmt.Errorf("scan track point for %s: %w", trackID, err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func marshalCovariance(cov *mat.Dense) (string, error) {
	r, c := cov.Dims()
	flat := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			flat = append(flat, cov.At(i, j))
		}
	}
	b, err := json.Marshal(flat)
	if err != nil {
		return "", fmt.Errorf("marshal covariance: %w", err)
	}
	return string(b), nil
}
