// Package scheduler implements the viewport-aware tile schedulers (C2-C4):
// an inflight tracker, a fairness guard, and the three scheduling policies
// that decide which tiles to load and which to cancel on each trace tick.
package scheduler

import (
	"sync"

	"github.com/icemaian/qprism/internal/tile"
)

// key is the map key for a Tile: (z, x, y).
type key struct {
	z, x, y uint32
}

func keyOf(t tile.Tile) key {
	return key{z: t.Z, x: t.X, y: t.Y}
}

// InflightTracker tracks which tiles currently have an outstanding fetch.
// It is safe for concurrent use.
type InflightTracker struct {
	mu       sync.Mutex
	inflight map[key]tile.Tile
}

// NewInflightTracker builds an empty tracker.
func NewInflightTracker() *InflightTracker {
	return &InflightTracker{inflight: make(map[key]tile.Tile)}
}

// Add marks t as in flight.
func (tr *InflightTracker) Add(t tile.Tile) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.inflight[keyOf(t)] = t
}

// Remove clears t's in-flight status, if present.
func (tr *InflightTracker) Remove(t tile.Tile) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	delete(tr.inflight, keyOf(t))
}

// Cancel is an alias for Remove: cancelling a fetch also clears in-flight
// status.
func (tr *InflightTracker) Cancel(t tile.Tile) {
	tr.Remove(t)
}

// IsInFlight reports whether t currently has an outstanding fetch.
func (tr *InflightTracker) IsInFlight(t tile.Tile) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	_, ok := tr.inflight[keyOf(t)]
	return ok
}

// InFlight returns a snapshot of all tiles currently in flight. Order is
// unspecified.
func (tr *InflightTracker) InFlight() []tile.Tile {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]tile.Tile, 0, len(tr.inflight))
	for _, t := range tr.inflight {
		out = append(out, t)
	}
	return out
}
