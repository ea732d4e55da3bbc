package sink

import (
	"path/filepath"
	"testing"

	"github.com/icemaian/qprism/internal/tile"
	"github.com/icemaian/qprism/internal/types"
)

func openTestSink(t *testing.T) *SQLiteSink {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.sqlite")
	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLogRunReturnsIDAndUUID(t *testing.T) {
	s := openTestSink(t)

	runID, runUUID, err := s.LogRun("exp-1", "qprism_full", "lossy", "traces/pan.json", 42, "")
	if err != nil {
		t.Fatalf("LogRun: %v", err)
	}
	if runID == 0 {
		t.Error("expected non-zero run id")
	}
	if len(runUUID) != 36 {
		t.Errorf("runUUID %q does not look like a UUID", runUUID)
	}

	runID2, _, err := s.LogRun("exp-1", "qprism_full", "lossy", "traces/pan.json", 43, "")
	if err != nil {
		t.Fatalf("second LogRun: %v", err)
	}
	if runID2 == runID {
		t.Error("expected distinct run ids across runs")
	}
}

func TestLogTileRequestedAndCompleted(t *testing.T) {
	s := openTestSink(t)
	runID, _, err := s.LogRun("exp-1", "qprism_full", "lossy", "traces/pan.json", 42, "")
	if err != nil {
		t.Fatalf("LogRun: %v", err)
	}

	req := types.TileRequest{TileID: "5_5", Zoom: 10, Ring: tile.R0, RequestedAtMs: 100}
	if err := s.LogTileRequested(runID, req); err != nil {
		t.Fatalf("LogTileRequested: %v", err)
	}

	bytes := int64(1024)
	comp := types.TileCompletion{
		TileID: "5_5", Zoom: 10, Ring: tile.R0,
		RequestedAtMs: 100, CompletedAtMs: 150,
		Cancelled: false, BytesTransferred: &bytes,
	}
	if err := s.LogTileCompleted(runID, comp); err != nil {
		t.Fatalf("LogTileCompleted: %v", err)
	}
}

func TestLogViewportSample(t *testing.T) {
	s := openTestSink(t)
	runID, _, err := s.LogRun("exp-1", "qprism_full", "lossy", "traces/pan.json", 42, "")
	if err != nil {
		t.Fatalf("LogRun: %v", err)
	}

	if err := s.LogViewportSample(runID, 0, 0.0); err != nil {
		t.Fatalf("LogViewportSample: %v", err)
	}
	if err := s.LogViewportSample(runID, 1000, 0.5); err != nil {
		t.Fatalf("LogViewportSample: %v", err)
	}
}
