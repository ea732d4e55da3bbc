package scheduler

import (
	"testing"

	"github.com/icemaian/qprism/internal/tile"
)

// Scenario data mirrors test_scheduler.py in the original reference
// exactly: a viewport at z=10 covering x,y in [4,6], four tile groups named
// R0-R3, a set of tiles already in flight (two of which are needed,
// three of which have drifted outside the viewport), and an available-tile
// list built as [far R3 tile, a R0 tile, ...remainder in stable order].
// The group names are labels only: by RingDistance, tileR1a and tileR1c
// lie inside the viewport (ring 0), tileR2a and tileR2b are at ring 1, and
// tileR3a and tileR3b are at ring 2; the other tiles match their group.

var scenarioViewport = tile.Viewport{MinX: 4, MaxX: 6, MinY: 4, MaxY: 6, Z: 10}

var (
	tileR0a = tile.New(10, 5, 5)
	tileR0b = tile.New(10, 5, 6)
	tileR0c = tile.New(10, 6, 5)
	tileR0d = tile.New(10, 6, 6)

	tileR1a = tile.New(10, 4, 5)
	tileR1b = tile.New(10, 7, 6)
	tileR1c = tile.New(10, 5, 4)
	tileR1d = tile.New(10, 6, 7)

	tileR2a = tile.New(10, 3, 5)
	tileR2b = tile.New(10, 5, 3)
	tileR2c = tile.New(10, 8, 6)
	tileR2d = tile.New(10, 6, 8)

	tileR3a = tile.New(10, 2, 5)
	tileR3b = tile.New(10, 5, 2)
	tileR3c = tile.New(10, 9, 6)
	tileR3d = tile.New(10, 6, 9)
)

var r0Tiles = []tile.Tile{tileR0a, tileR0b, tileR0c, tileR0d}
var r1Tiles = []tile.Tile{tileR1a, tileR1b, tileR1c, tileR1d}
var r3Tiles = []tile.Tile{tileR3a, tileR3b, tileR3c, tileR3d}

// allNeededTiles intentionally excludes the R2 ring, matching the
// reference scenario (R2 tiles are neither seeded in flight nor expected
// in the result sets).
func allNeededTiles() []tile.Tile {
	out := make([]tile.Tile, 0, len(r0Tiles)+len(r1Tiles)+len(r3Tiles))
	out = append(out, r0Tiles...)
	out = append(out, r1Tiles...)
	out = append(out, r3Tiles...)
	return out
}

var (
	tileInflightNeeded1 = tileR0a
	tileInflightNeeded2 = tileR0b

	tileInflightOut1 = tile.New(10, 10, 10)
	tileInflightOut2 = tile.New(9, 5, 5)
	tileInflightOut3 = tile.New(11, 10, 10)
)

func outsideInflightTiles() []tile.Tile {
	return []tile.Tile{tileInflightOut1, tileInflightOut2, tileInflightOut3}
}

func initialInflightTiles() []tile.Tile {
	out := []tile.Tile{tileInflightNeeded1, tileInflightNeeded2}
	return append(out, outsideInflightTiles()...)
}

// availableTiles builds [tileR3c, tileR0b, ...rest] the way the reference
// prepends a far tile and an already-inflight tile ahead of the remaining
// needed tiles (order among the remainder does not matter for these
// assertions, so it is left stable rather than shuffled).
func availableTiles() []tile.Tile {
	rest := make([]tile.Tile, 0)
	for _, t := range allNeededTiles() {
		if t == tileR3c || t == tileR0b {
			continue
		}
		rest = append(rest, t)
	}
	out := []tile.Tile{tileR3c, tileR0b}
	return append(out, rest...)
}

func neededNewSet() map[tile.Tile]struct{} {
	set := make(map[tile.Tile]struct{})
	for _, t := range allNeededTiles() {
		if t == tileInflightNeeded1 || t == tileInflightNeeded2 {
			continue
		}
		set[t] = struct{}{}
	}
	return set
}

func toSet(tiles []tile.Tile) map[tile.Tile]struct{} {
	set := make(map[tile.Tile]struct{}, len(tiles))
	for _, t := range tiles {
		set[t] = struct{}{}
	}
	return set
}

func seedInflight(tr *InflightTracker, tiles []tile.Tile) {
	for _, t := range tiles {
		tr.Add(t)
	}
}

func TestQPrismScheduler_Scenario(t *testing.T) {
	s := NewQPrismScheduler()
	seedInflight(s.Inflight, initialInflightTiles())

	toLoad, toCancel := s.Schedule(scenarioViewport, availableTiles())

	if got, want := toSet(toCancel), toSet(outsideInflightTiles()); !setsEqual(got, want) {
		t.Errorf("toCancel = %v, want %v", toCancel, outsideInflightTiles())
	}
	if got, want := toSet(toLoad), neededNewSet(); !setsEqual(got, want) {
		t.Errorf("toLoad = %v, want set %v", toLoad, want)
	}
	assertRingSortedAscending(t, toLoad, scenarioViewport)

	if !s.Inflight.IsInFlight(tileInflightNeeded1) || !s.Inflight.IsInFlight(tileInflightNeeded2) {
		t.Error("needed in-flight tiles should remain in flight")
	}
	for _, out := range outsideInflightTiles() {
		if s.Inflight.IsInFlight(out) {
			t.Errorf("outside tile %v should no longer be in flight", out)
		}
	}
}

func TestPriorityOnlyScheduler_Scenario(t *testing.T) {
	s := NewPriorityOnlyScheduler()
	seedInflight(s.Inflight, initialInflightTiles())

	toLoad, toCancel := s.Schedule(scenarioViewport, availableTiles())

	if len(toCancel) != 0 {
		t.Errorf("toCancel = %v, want empty", toCancel)
	}
	if got, want := toSet(toLoad), neededNewSet(); !setsEqual(got, want) {
		t.Errorf("toLoad = %v, want set %v", toLoad, want)
	}
	assertRingSortedAscending(t, toLoad, scenarioViewport)

	for _, out := range outsideInflightTiles() {
		if !s.Inflight.IsInFlight(out) {
			t.Errorf("priority-only never cancels: outside tile %v should remain in flight", out)
		}
	}
}

func TestCancelOnlyScheduler_Scenario(t *testing.T) {
	s := NewCancelOnlyScheduler()
	seedInflight(s.Inflight, initialInflightTiles())

	toLoad, toCancel := s.Schedule(scenarioViewport, availableTiles())

	if got, want := toSet(toCancel), toSet(outsideInflightTiles()); !setsEqual(got, want) {
		t.Errorf("toCancel = %v, want %v", toCancel, outsideInflightTiles())
	}
	if got, want := toSet(toLoad), neededNewSet(); !setsEqual(got, want) {
		t.Errorf("toLoad = %v, want set %v", toLoad, want)
	}

	if len(toLoad) == 0 {
		t.Fatal("expected non-empty toLoad")
	}
	firstRing := tile.RingDistance(toLoad[0], scenarioViewport)
	if firstRing != maxRing {
		t.Errorf("toLoad[0] ring = %d, want %d (input-order preserved, not ring-sorted)", firstRing, maxRing)
	}

	minRest := firstRing
	for _, tl := range toLoad[1:] {
		r := tile.RingDistance(tl, scenarioViewport)
		if r < minRest {
			minRest = r
		}
	}
	if firstRing <= minRest {
		t.Errorf("expected first ring (%d) to exceed the minimum of the rest (%d), proving no ring sort", firstRing, minRest)
	}

	for _, out := range outsideInflightTiles() {
		if s.Inflight.IsInFlight(out) {
			t.Errorf("outside tile %v should no longer be in flight", out)
		}
	}
}

func TestFairnessGuardPromotesAfterThreshold(t *testing.T) {
	g := NewFairnessGuard(3)
	skipped := tile.New(5, 1, 1)
	others := []tile.Tile{tile.New(5, 2, 2), tile.New(5, 3, 3)}

	tasks := append([]tile.Tile{}, others...)
	tasks = append(tasks, skipped)

	for i := 0; i < 2; i++ {
		g.RecordSkips([]tile.Tile{skipped})
	}
	promoted := g.Promote(append([]tile.Tile{}, tasks...))
	if promoted[0] == skipped {
		t.Fatal("should not promote before threshold is reached")
	}

	g.RecordSkips([]tile.Tile{skipped})
	promoted = g.Promote(append([]tile.Tile{}, tasks...))
	if promoted[0] != skipped {
		t.Errorf("expected %v promoted to front, got %v", skipped, promoted[0])
	}
}

func setsEqual(a, b map[tile.Tile]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func assertRingSortedAscending(t *testing.T, tiles []tile.Tile, viewport tile.Viewport) {
	t.Helper()
	for i := 1; i < len(tiles); i++ {
		prev := tile.RingDistance(tiles[i-1], viewport)
		cur := tile.RingDistance(tiles[i], viewport)
		if prev > cur {
			t.Errorf("tiles not ring-sorted ascending at index %d: %d > %d", i, prev, cur)
		}
	}
}
