package scheduler

import (
	"sort"

	"github.com/icemaian/qprism/internal/tile"
)

// maxRing is the farthest ring distance a scheduler will still consider a
// load candidate; tiles farther than this are neither loaded nor tracked.
const maxRing = 3

// Scheduler decides which tiles to start loading and which in-flight
// fetches to cancel, given the current viewport and the set of tiles
// visible this tick.
type Scheduler interface {
	Schedule(viewport tile.Viewport, tiles []tile.Tile) (toLoad, toCancel []tile.Tile)
}

func sortByRing(tiles []tile.Tile, viewport tile.Viewport) {
	sort.SliceStable(tiles, func(i, j int) bool {
		return tile.RingDistance(tiles[i], viewport) < tile.RingDistance(tiles[j], viewport)
	})
}

// PriorityOnlyScheduler loads every not-yet-in-flight tile within maxRing,
// ring-sorted nearest first, and never cancels anything in flight.
type PriorityOnlyScheduler struct {
	Inflight *InflightTracker
}

// NewPriorityOnlyScheduler builds a PriorityOnlyScheduler backed by its own
// inflight tracker.
func NewPriorityOnlyScheduler() *PriorityOnlyScheduler {
	return &PriorityOnlyScheduler{Inflight: NewInflightTracker()}
}

func (s *PriorityOnlyScheduler) Schedule(viewport tile.Viewport, tiles []tile.Tile) (toLoad, toCancel []tile.Tile) {
	candidates := make([]tile.Tile, 0, len(tiles))
	for _, t := range tiles {
		if s.Inflight.IsInFlight(t) {
			continue
		}
		if tile.RingDistance(t, viewport) <= maxRing {
			candidates = append(candidates, t)
		}
	}
	sortByRing(candidates, viewport)

	for _, t := range candidates {
		s.Inflight.Add(t)
	}
	return candidates, nil
}

// CancelOnlyScheduler cancels every in-flight tile that has drifted outside
// maxRing, then loads not-yet-in-flight tiles within maxRing in the order
// they were handed in (no ring sort).
type CancelOnlyScheduler struct {
	Inflight *InflightTracker
}

// NewCancelOnlyScheduler builds a CancelOnlyScheduler backed by its own
// inflight tracker.
func NewCancelOnlyScheduler() *CancelOnlyScheduler {
	return &CancelOnlyScheduler{Inflight: NewInflightTracker()}
}

func (s *CancelOnlyScheduler) Schedule(viewport tile.Viewport, tiles []tile.Tile) (toLoad, toCancel []tile.Tile) {
	toCancel = make([]tile.Tile, 0)
	for _, t := range s.Inflight.InFlight() {
		if tile.RingDistance(t, viewport) > maxRing {
			s.Inflight.Remove(t)
			toCancel = append(toCancel, t)
		}
	}

	toLoad = make([]tile.Tile, 0, len(tiles))
	for _, t := range tiles {
		if s.Inflight.IsInFlight(t) {
			continue
		}
		if tile.RingDistance(t, viewport) <= maxRing {
			toLoad = append(toLoad, t)
		}
	}

	for _, t := range toLoad {
		s.Inflight.Add(t)
	}
	return toLoad, toCancel
}

// QPrismScheduler combines cancellation of drifted-out tiles, ring-sorted
// loading of new candidates, and at most one fairness-guard promotion per
// round. Schedule loads every candidate within maxRing and never calls
// Fairness.RecordSkips itself, so a promotion happens only for tiles whose
// skips were recorded on Fairness from outside.
type QPrismScheduler struct {
	Inflight *InflightTracker
	Fairness *FairnessGuard
}

// NewQPrismScheduler builds a QPrismScheduler with its own inflight tracker
// and a fairness guard at the default threshold.
func NewQPrismScheduler() *QPrismScheduler {
	return &QPrismScheduler{
		Inflight: NewInflightTracker(),
		Fairness: NewFairnessGuard(DefaultFairnessThreshold),
	}
}

func (s *QPrismScheduler) Schedule(viewport tile.Viewport, tiles []tile.Tile) (toLoad, toCancel []tile.Tile) {
	toCancel = make([]tile.Tile, 0)
	for _, t := range s.Inflight.InFlight() {
		if tile.RingDistance(t, viewport) > maxRing {
			s.Inflight.Remove(t)
			s.Fairness.Reset([]tile.Tile{t})
			toCancel = append(toCancel, t)
		}
	}

	candidates := make([]tile.Tile, 0, len(tiles))
	for _, t := range tiles {
		if s.Inflight.IsInFlight(t) {
			continue
		}
		if tile.RingDistance(t, viewport) <= maxRing {
			candidates = append(candidates, t)
		}
	}
	sortByRing(candidates, viewport)
	candidates = s.Fairness.Promote(candidates)

	toLoad = candidates
	for _, t := range toLoad {
		s.Inflight.Add(t)
	}
	s.Fairness.Reset(toLoad)

	return toLoad, toCancel
}
