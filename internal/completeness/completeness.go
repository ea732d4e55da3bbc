// Package completeness implements the trace-driven tile-request generator
// and the viewport-completeness analyser (C10).
package completeness

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/icemaian/qprism/internal/tile"
	"github.com/icemaian/qprism/internal/trace"
	"github.com/icemaian/qprism/internal/types"
)

type tileKey struct {
	zoom uint32
	x, y uint32
}

// GenerateTileRequests walks a trace and emits one TileRequest per newly
// visible tile: for the first point every visible tile is new, and for
// every subsequent point only the tiles not already visible in the prior
// point are new. Each (zoom, x, y) is requested at most once across the
// whole trace. Requests are returned sorted by requested-at time.
func GenerateTileRequests(points []trace.Point) []types.TileRequest {
	requested := make(map[tileKey]struct{})
	var prevVisible map[[2]uint32]struct{}
	var requests []types.TileRequest

	for i, tp := range points {
		visible := tile.VisibleTileCoords(tp.Lat, tp.Lon, tp.Zoom, 800, 600)

		var newTiles map[[2]uint32]struct{}
		if i == 0 {
			newTiles = visible
		} else {
			newTiles = make(map[[2]uint32]struct{})
			for coord := range visible {
				if _, ok := prevVisible[coord]; !ok {
					newTiles[coord] = struct{}{}
				}
			}
		}

		cx, cy := tile.LatLonToTile(tp.Lat, tp.Lon, tp.Zoom)
		centerX := uint32(math.Floor(cx))
		centerY := uint32(math.Floor(cy))

		for _, coord := range sortedCoords(newTiles) {
			k := tileKey{zoom: tp.Zoom, x: coord[0], y: coord[1]}
			if _, ok := requested[k]; ok {
				continue
			}
			requested[k] = struct{}{}

			ring := ringFromCenter(coord[0], coord[1], centerX, centerY)
			requests = append(requests, types.TileRequest{
				TileID:        fmt.Sprintf("%d_%d", coord[0], coord[1]),
				Zoom:          tp.Zoom,
				Ring:          ring,
				RequestedAtMs: tp.TMs,
			})
		}

		prevVisible = visible
	}

	sort.SliceStable(requests, func(i, j int) bool {
		return requests[i].RequestedAtMs < requests[j].RequestedAtMs
	})
	return requests
}

func ringFromCenter(tx, ty, cx, cy uint32) tile.Ring {
	dx := absDiff(tx, cx)
	dy := absDiff(ty, cy)
	d := dx
	if dy > d {
		d = dy
	}
	if d > 3 {
		return tile.R3
	}
	return tile.Ring(d)
}

func absDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

func sortedCoords(set map[[2]uint32]struct{}) [][2]uint32 {
	out := make([][2]uint32, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}

// Sample is one point of the completeness-over-time series.
type Sample struct {
	TsMs int64
	Frac float64
}

// ComputeCompleteness folds tile completions onto a trace's viewport
// changes, producing a completeness fraction over time: for each trace
// point, "needed" is the set of tiles visible at that point; completions
// whose tile is needed (and not cancelled) are added to "loaded" as they
// arrive; completeness is len(loaded)/len(needed), or 1.0 when nothing is
// needed. On every viewport change, loaded is intersected with the new
// needed set (tiles no longer needed are dropped) and a fresh sample is
// emitted.
func ComputeCompleteness(points []trace.Point, completions []types.TileCompletion) []Sample {
	if len(points) == 0 {
		return nil
	}

	sortedPoints := append([]trace.Point{}, points...)
	sort.SliceStable(sortedPoints, func(i, j int) bool {
		return sortedPoints[i].TMs < sortedPoints[j].TMs
	})

	sortedCompletions := append([]types.TileCompletion{}, completions...)
	sort.SliceStable(sortedCompletions, func(i, j int) bool {
		return sortedCompletions[i].CompletedAtMs < sortedCompletions[j].CompletedAtMs
	})

	var samples []Sample
	loaded := make(map[tileKey]struct{})

	needed := neededSet(sortedPoints[0])
	samples = append(samples, Sample{TsMs: sortedPoints[0].TMs, Frac: fracOf(loaded, needed)})

	ci := 0
	for vIdx := 1; vIdx <= len(sortedPoints); vIdx++ {
		var nextViewTime int64
		hasNext := vIdx < len(sortedPoints)
		if hasNext {
			nextViewTime = sortedPoints[vIdx].TMs
		}

		for ci < len(sortedCompletions) && (!hasNext || sortedCompletions[ci].CompletedAtMs <= nextViewTime) {
			comp := sortedCompletions[ci]
			ci++

			k, ok := parseTileID(comp.TileID, comp.Zoom)
			if !ok {
				continue
			}
			if _, ok := needed[k]; ok && !comp.Cancelled {
				loaded[k] = struct{}{}
				samples = append(samples, Sample{TsMs: comp.CompletedAtMs, Frac: fracOf(loaded, needed)})
			}
		}

		if hasNext {
			needed = neededSet(sortedPoints[vIdx])
			for k := range loaded {
				if _, ok := needed[k]; !ok {
					delete(loaded, k)
				}
			}
			samples = append(samples, Sample{TsMs: nextViewTime, Frac: fracOf(loaded, needed)})
		}
	}

	return samples
}

func neededSet(tp trace.Point) map[tileKey]struct{} {
	visible := tile.VisibleTileCoords(tp.Lat, tp.Lon, tp.Zoom, 800, 600)
	out := make(map[tileKey]struct{}, len(visible))
	for coord := range visible {
		out[tileKey{zoom: tp.Zoom, x: coord[0], y: coord[1]}] = struct{}{}
	}
	return out
}

func fracOf(loaded, needed map[tileKey]struct{}) float64 {
	if len(needed) == 0 {
		return 1.0
	}
	count := 0
	for k := range loaded {
		if _, ok := needed[k]; ok {
			count++
		}
	}
	return float64(count) / float64(len(needed))
}

func parseTileID(id string, zoom uint32) (tileKey, bool) {
	parts := strings.SplitN(id, "_", 2)
	if len(parts) != 2 {
		return tileKey{}, false
	}
	var x, y uint32
	if _, err := fmt.Sscanf(parts[0], "%d", &x); err != nil {
		return tileKey{}, false
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &y); err != nil {
		return tileKey{}, false
	}
	return tileKey{zoom: zoom, x: x, y: y}, true
}
