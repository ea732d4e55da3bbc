// Package sink implements the event sink external collaborator: a
// SQLite-backed record of runs, tile requests, tile completions, and
// viewport completeness samples.
package sink

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/icemaian/qprism/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_uuid TEXT NOT NULL,
	experiment_name TEXT NOT NULL,
	scheduler_variant TEXT NOT NULL,
	netem_profile TEXT NOT NULL,
	trace TEXT NOT NULL,
	seed INTEGER NOT NULL,
	notes TEXT
);
CREATE TABLE IF NOT EXISTS tile_requests (
	run_id INTEGER NOT NULL,
	tile_id TEXT NOT NULL,
	zoom INTEGER NOT NULL,
	ring INTEGER NOT NULL,
	requested_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS tile_completions (
	run_id INTEGER NOT NULL,
	tile_id TEXT NOT NULL,
	zoom INTEGER NOT NULL,
	ring INTEGER NOT NULL,
	requested_at INTEGER NOT NULL,
	completed_at INTEGER NOT NULL,
	cancelled INTEGER NOT NULL,
	bytes_transferred INTEGER
);
CREATE TABLE IF NOT EXISTS viewport_samples (
	run_id INTEGER NOT NULL,
	ts_ms INTEGER NOT NULL,
	completeness REAL NOT NULL
);
`

// Sink is the event sink's write interface, matching the external
// collaborator contract: a run is opened once, then per-tile and
// per-sample events are logged against it.
type Sink interface {
	LogRun(experimentName, schedulerVariant, netemProfile, tracePath string, seed int64, notes string) (runID int64, runUUID string, err error)
	LogTileRequested(runID int64, req types.TileRequest) error
	LogTileCompleted(runID int64, comp types.TileCompletion) error
	LogViewportSample(runID int64, tsMs int64, completeness float64) error
	Close() error
}

// SQLiteSink is the concrete SQLite-backed Sink implementation.
type SQLiteSink struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates (or reuses) a SQLite database at path, ensuring the sink
// schema exists.
func Open(path string, logger *slog.Logger) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sink: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sink: create schema: %w", err)
	}
	return &SQLiteSink{db: db, logger: logger}, nil
}

func (s *SQLiteSink) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// LogRun inserts a new run row and returns its integer run_id alongside a
// freshly generated run UUID for cross-referencing external dashboards.
func (s *SQLiteSink) LogRun(experimentName, schedulerVariant, netemProfile, tracePath string, seed int64, notes string) (int64, string, error) {
	runUUID := uuid.New().String()

	res, err := s.db.Exec(
		`INSERT INTO runs (run_uuid, experiment_name, scheduler_variant, netem_profile, trace, seed, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runUUID, experimentName, schedulerVariant, netemProfile, tracePath, seed, notes,
	)
	if err != nil {
		return 0, "", fmt.Errorf("sink: log run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, "", fmt.Errorf("sink: run id: %w", err)
	}

	s.log().Info("run logged", "run_id", runID, "run_uuid", runUUID, "experiment", experimentName)
	return runID, runUUID, nil
}

// LogTileRequested records a tile fetch start.
func (s *SQLiteSink) LogTileRequested(runID int64, req types.TileRequest) error {
	_, err := s.db.Exec(
		`INSERT INTO tile_requests (run_id, tile_id, zoom, ring, requested_at) VALUES (?, ?, ?, ?, ?)`,
		runID, req.TileID, req.Zoom, int(req.Ring), req.RequestedAtMs,
	)
	if err != nil {
		return fmt.Errorf("sink: log tile requested: %w", err)
	}
	return nil
}

// LogTileCompleted records a tile fetch's outcome.
func (s *SQLiteSink) LogTileCompleted(runID int64, comp types.TileCompletion) error {
	_, err := s.db.Exec(
		`INSERT INTO tile_completions (run_id, tile_id, zoom, ring, requested_at, completed_at, cancelled, bytes_transferred)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, comp.TileID, comp.Zoom, int(comp.Ring), comp.RequestedAtMs, comp.CompletedAtMs, comp.Cancelled, comp.BytesTransferred,
	)
	if err != nil {
		return fmt.Errorf("sink: log tile completed: %w", err)
	}
	return nil
}

// LogViewportSample records one completeness-over-time sample.
func (s *SQLiteSink) LogViewportSample(runID int64, tsMs int64, completeness float64) error {
	_, err := s.db.Exec(
		`INSERT INTO viewport_samples (run_id, ts_ms, completeness) VALUES (?, ?, ?)`,
		runID, tsMs, completeness,
	)
	if err != nil {
		return fmt.Errorf("sink: log viewport sample: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
