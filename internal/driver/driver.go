// Package driver implements the experiment driver (C11): replaying a trace
// against a scheduler variant with a seeded RNG, and recording tile
// request/completion events. The server itself is booted by the caller.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/icemaian/qprism/internal/scheduler"
	"github.com/icemaian/qprism/internal/tile"
	"github.com/icemaian/qprism/internal/trace"
	"github.com/icemaian/qprism/internal/types"
)

// DrainTimeout bounds how long RunSingleTrace waits for outstanding
// fetches to finish after the trace has been fully replayed.
const DrainTimeout = 60 * time.Second

// Fetcher issues a single tile fetch, honoring ctx cancellation. ring is
// the tile's ring distance from the viewport at request time, passed
// through so prioritized fetchers can attach an EPS priority header
// without recomputing it.
type Fetcher interface {
	Fetch(ctx context.Context, t tile.Tile, ring tile.Ring) ([]byte, error)
}

// Sink is the subset of sink.Sink the driver needs, kept local so the
// driver does not depend on the sink package and is trivially testable
// with a stub.
type Sink interface {
	LogTileRequested(runID int64, req types.TileRequest) error
	LogTileCompleted(runID int64, comp types.TileCompletion) error
}

const viewportWidthPx = 800
const viewportHeightPx = 600

// RunSingleTrace replays points against sched (nil selects the
// "fetch everything visible, no cancellation" default behavior used by
// the two *_default variants), issuing one fetch per newly scheduled
// tile via fetcher, and returns every completion observed. Visible tiles
// are shuffled each tick with a seed-derived RNG, matching the reference
// driver's exercise of scheduler ordering robustness.
func RunSingleTrace(ctx context.Context, points []trace.Point, sched scheduler.Scheduler, fetcher Fetcher, sinkImpl Sink, runID int64, seed int64, logger *slog.Logger) []types.TileCompletion {
	if logger == nil {
		logger = slog.Default()
	}

	t0 := time.Now()
	rng := rand.New(rand.NewSource(seed))

	requested := make(map[tile.Tile]struct{})
	inflight := make(map[tile.Tile]context.CancelFunc)
	inflightReq := make(map[tile.Tile]types.TileRequest)
	completedTiles := make(map[tile.Tile]struct{})

	var mu sync.Mutex
	var completions []types.TileCompletion
	var wg conc.WaitGroup

	// emit records a terminal completion for t exactly once, guarding
	// against the drain-timeout straggler sweep racing a fetch that
	// completes at the same moment.
	emit := func(t tile.Tile, comp types.TileCompletion) {
		mu.Lock()
		if _, done := completedTiles[t]; done {
			mu.Unlock()
			return
		}
		completedTiles[t] = struct{}{}
		completions = append(completions, comp)
		mu.Unlock()
		if sinkImpl != nil {
			if err := sinkImpl.LogTileCompleted(runID, comp); err != nil {
				logger.Warn("log tile completed failed", "tile", t.String(), "error", err)
			}
		}
	}

	for _, tp := range points {
		visibleXY := tile.VisibleTileCoords(tp.Lat, tp.Lon, tp.Zoom, viewportWidthPx, viewportHeightPx)
		if len(visibleXY) == 0 {
			continue
		}
		viewport, err := tile.ViewportFromVisible(visibleXY, tp.Zoom)
		if err != nil {
			continue
		}

		visibleTiles := make([]tile.Tile, 0, len(visibleXY))
		for coord := range visibleXY {
			visibleTiles = append(visibleTiles, tile.New(tp.Zoom, coord[0], coord[1]))
		}
		rng.Shuffle(len(visibleTiles), func(i, j int) {
			visibleTiles[i], visibleTiles[j] = visibleTiles[j], visibleTiles[i]
		})

		var toLoad, toCancel []tile.Tile
		if sched == nil {
			for _, t := range visibleTiles {
				if _, ok := requested[t]; !ok {
					toLoad = append(toLoad, t)
				}
			}
		} else {
			toLoad, toCancel = sched.Schedule(viewport, visibleTiles)
		}

		mu.Lock()
		for _, t := range toCancel {
			if cancel, ok := inflight[t]; ok {
				cancel()
			}
		}
		mu.Unlock()

		for _, t := range toLoad {
			if _, ok := requested[t]; ok {
				continue
			}
			requested[t] = struct{}{}

			ring := tile.RingEnum(t, viewport)
			req := types.TileRequest{TileID: t.ID(), Zoom: t.Z, Ring: ring, RequestedAtMs: tp.TMs}
			if sinkImpl != nil {
				if err := sinkImpl.LogTileRequested(runID, req); err != nil {
					logger.Warn("log tile requested failed", "tile", t.String(), "error", err)
				}
			}

			fetchCtx, cancel := context.WithCancel(ctx)
			mu.Lock()
			inflight[t] = cancel
			inflightReq[t] = req
			mu.Unlock()

			tt := t
			wg.Go(func() {
				completedAtMs := func() int64 { return time.Since(t0).Milliseconds() }

				data, ferr := fetcher.Fetch(fetchCtx, tt, ring)

				mu.Lock()
				delete(inflight, tt)
				delete(inflightReq, tt)
				mu.Unlock()

				if ferr != nil {
					// Both cancellation and a genuine fetch error (e.g. a
					// server error status) leave the tile unloaded; either
					// way a terminal completion must still close out the
					// TileRequest emitted above.
					if fetchCtx.Err() != nil {
						logger.Debug("tile fetch cancelled", "tile", tt.String())
					} else {
						logger.Warn("tile fetch failed", "tile", tt.String(), "error", ferr)
					}
					var zero int64
					emit(tt, types.TileCompletion{
						TileID: tt.ID(), Zoom: tt.Z, Ring: ring,
						RequestedAtMs: req.RequestedAtMs, CompletedAtMs: completedAtMs(),
						Cancelled: true, BytesTransferred: &zero,
					})
					return
				}

				n := int64(len(data))
				emit(tt, types.TileCompletion{
					TileID: tt.ID(), Zoom: tt.Z, Ring: ring,
					RequestedAtMs: req.RequestedAtMs, CompletedAtMs: completedAtMs(),
					Cancelled: false, BytesTransferred: &n,
				})
			})
		}
	}

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(DrainTimeout):
		logger.Warn(fmt.Sprintf("drain timed out after %s with fetches still outstanding", DrainTimeout))

		mu.Lock()
		stragglers := make([]tile.Tile, 0, len(inflight))
		for t, cancel := range inflight {
			cancel()
			stragglers = append(stragglers, t)
		}
		reqs := make(map[tile.Tile]types.TileRequest, len(inflightReq))
		for t, req := range inflightReq {
			reqs[t] = req
		}
		mu.Unlock()

		completedAtMs := time.Since(t0).Milliseconds()
		for _, t := range stragglers {
			req, ok := reqs[t]
			if !ok {
				continue
			}
			var zero int64
			emit(t, types.TileCompletion{
				TileID: t.ID(), Zoom: t.Z, Ring: req.Ring,
				RequestedAtMs: req.RequestedAtMs, CompletedAtMs: completedAtMs,
				Cancelled: true, BytesTransferred: &zero,
			})
		}

		mu.Lock()
		for _, t := range stragglers {
			delete(inflight, t)
			delete(inflightReq, t)
		}
		mu.Unlock()
	}

	mu.Lock()
	defer mu.Unlock()
	return append([]types.TileCompletion{}, completions...)
}
