package driver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/icemaian/qprism/internal/scheduler"
	"github.com/icemaian/qprism/internal/tile"
	"github.com/icemaian/qprism/internal/trace"
	"github.com/icemaian/qprism/internal/types"
)

// recordingFetcher answers every fetch with fixed bytes, after an optional
// artificial delay so tests can exercise mid-flight cancellation.
type recordingFetcher struct {
	mu      sync.Mutex
	calls   []tile.Tile
	delay   time.Duration
	payload []byte
}

func (f *recordingFetcher) Fetch(ctx context.Context, t tile.Tile, ring tile.Ring) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, t)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	payload := f.payload
	if payload == nil {
		payload = []byte("ok")
	}
	return payload, nil
}

func (f *recordingFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// erroringFetcher always fails with a non-cancellation error.
type erroringFetcher struct{}

func (erroringFetcher) Fetch(ctx context.Context, t tile.Tile, ring tile.Ring) ([]byte, error) {
	return nil, errors.New("boom")
}

type fakeSink struct {
	mu        sync.Mutex
	requested []types.TileRequest
	completed []types.TileCompletion
}

func (s *fakeSink) LogTileRequested(runID int64, req types.TileRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requested = append(s.requested, req)
	return nil
}

func (s *fakeSink) LogTileCompleted(runID int64, comp types.TileCompletion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, comp)
	return nil
}

func onePointTrace() []trace.Point {
	return []trace.Point{
		{TMs: 0, Lat: 51.5, Lon: -0.1, Zoom: 10},
	}
}

func TestRunSingleTraceNilSchedulerFetchesEveryVisibleTileOnce(t *testing.T) {
	points := onePointTrace()
	visible := tile.VisibleTileCoords(points[0].Lat, points[0].Lon, points[0].Zoom, 800, 600)

	fetcher := &recordingFetcher{}
	sink := &fakeSink{}

	completions := RunSingleTrace(context.Background(), points, nil, fetcher, sink, 1, 42, nil)

	if fetcher.callCount() != len(visible) {
		t.Errorf("fetch calls = %d, want %d (one per visible tile)", fetcher.callCount(), len(visible))
	}
	if len(completions) != len(visible) {
		t.Errorf("completions = %d, want %d", len(completions), len(visible))
	}
	for _, c := range completions {
		if c.Cancelled {
			t.Errorf("unexpected cancelled completion: %+v", c)
		}
		if c.BytesTransferred == nil || *c.BytesTransferred != int64(len("ok")) {
			t.Errorf("bytes transferred = %v, want %d", c.BytesTransferred, len("ok"))
		}
	}

	seen := make(map[tile.Tile]int)
	for _, call := range fetcher.calls {
		seen[call]++
	}
	for tl, n := range seen {
		if n != 1 {
			t.Errorf("tile %v fetched %d times, want 1", tl, n)
		}
	}

	if len(sink.requested) != len(visible) {
		t.Errorf("sink logged %d requests, want %d", len(sink.requested), len(visible))
	}
	if len(sink.completed) != len(visible) {
		t.Errorf("sink logged %d completions, want %d", len(sink.completed), len(visible))
	}
}

func TestRunSingleTraceWithSchedulerLimitsToRing(t *testing.T) {
	points := onePointTrace()
	fetcher := &recordingFetcher{}
	sched := scheduler.NewPriorityOnlyScheduler()

	completions := RunSingleTrace(context.Background(), points, sched, fetcher, nil, 1, 7, nil)

	for _, c := range completions {
		if c.Ring > 3 {
			t.Errorf("completion ring %d exceeds max ring 3", c.Ring)
		}
	}
	if len(completions) == 0 {
		t.Fatal("expected at least one completion")
	}
}

func TestRunSingleTraceGenuineFetchErrorStillProducesTerminalCompletion(t *testing.T) {
	points := onePointTrace()
	visible := tile.VisibleTileCoords(points[0].Lat, points[0].Lon, points[0].Zoom, 800, 600)
	sink := &fakeSink{}

	completions := RunSingleTrace(context.Background(), points, nil, erroringFetcher{}, sink, 1, 1, nil)

	if len(completions) != len(visible) {
		t.Fatalf("completions = %d, want %d (one terminal completion per request)", len(completions), len(visible))
	}
	for _, c := range completions {
		if !c.Cancelled {
			t.Errorf("completion for a genuine fetch error should be marked terminal/cancelled: %+v", c)
		}
		if c.BytesTransferred == nil || *c.BytesTransferred != 0 {
			t.Errorf("bytes transferred = %v, want 0", c.BytesTransferred)
		}
	}
	if len(sink.completed) != len(visible) {
		t.Errorf("sink logged %d completions, want %d", len(sink.completed), len(visible))
	}
}

func TestRunSingleTraceCancellationMarksCompletionCancelled(t *testing.T) {
	fetcher := &recordingFetcher{delay: 200 * time.Millisecond}

	sched := scheduler.NewCancelOnlyScheduler()

	p1 := trace.Point{TMs: 0, Lat: 51.5, Lon: -0.1, Zoom: 10}
	// Far enough east that the two viewports' tile rectangles do not
	// overlap at zoom 10, so every tile visible at p1 is beyond maxRing
	// from p2's viewport and gets cancelled.
	p2 := trace.Point{TMs: 100, Lat: 51.5, Lon: 40.0, Zoom: 10}

	var completions []types.TileCompletion
	done := make(chan struct{})
	go func() {
		completions = RunSingleTrace(context.Background(), []trace.Point{p1, p2}, sched, fetcher, nil, 1, 3, nil)
		close(done)
	}()

	<-done

	foundCancelled := false
	for _, c := range completions {
		if c.Cancelled {
			foundCancelled = true
		}
	}
	if !foundCancelled {
		t.Errorf("expected at least one cancelled completion, got %+v", completions)
	}
}
