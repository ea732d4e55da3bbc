// Package trace loads the viewport pan/zoom traces that experiment runs
// replay (C9).
package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cast"
)

// Point is a single sample of the viewport's center and zoom at a point in
// time.
type Point struct {
	TMs  int64
	Lat  float64
	Lon  float64
	Zoom uint32
}

// Load reads a trace file: a JSON array of objects each carrying t_ms,
// lat, lon, and zoom. Numeric fields may arrive as either JSON numbers or
// strings; all are coerced. The result is sorted ascending by TMs.
func Load(path string) ([]Point, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("trace: read %s: %w", path, err)
	}

	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("trace: parse %s: %w", path, err)
	}

	points := make([]Point, 0, len(items))
	for i, item := range items {
		for _, field := range []string{"t_ms", "lat", "lon", "zoom"} {
			if _, ok := item[field]; !ok {
				return nil, fmt.Errorf("trace: point %d missing field %q", i, field)
			}
		}

		tMs, err := cast.ToInt64E(item["t_ms"])
		if err != nil {
			return nil, fmt.Errorf("trace: point %d: t_ms: %w", i, err)
		}
		lat, err := cast.ToFloat64E(item["lat"])
		if err != nil {
			return nil, fmt.Errorf("trace: point %d: lat: %w", i, err)
		}
		lon, err := cast.ToFloat64E(item["lon"])
		if err != nil {
			return nil, fmt.Errorf("trace: point %d: lon: %w", i, err)
		}
		zoom, err := cast.ToUint32E(item["zoom"])
		if err != nil {
			return nil, fmt.Errorf("trace: point %d: zoom: %w", i, err)
		}

		points = append(points, Point{TMs: tMs, Lat: lat, Lon: lon, Zoom: zoom})
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].TMs < points[j].TMs
	})

	return points, nil
}
