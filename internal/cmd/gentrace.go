package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var gentraceCmd = &cobra.Command{
	Use:   "gentrace",
	Short: "Generate a synthetic panning trace between waypoints",
	RunE:  runGentrace,
}

func init() {
	rootCmd.AddCommand(gentraceCmd)

	gentraceCmd.Flags().String("waypoints", "", `Semicolon-separated "lon,lat" pairs, e.g. "-77.05,38.89;-77.04,38.89" (required)`)
	gentraceCmd.Flags().Uint32("zoom", 14, "Zoom level for every trace point")
	gentraceCmd.Flags().Int("seconds-between", 3, "Seconds of interpolated travel between consecutive waypoints")
	gentraceCmd.Flags().Int("fps", 10, "Trace points generated per second")
	gentraceCmd.Flags().String("out", "trace.json", "Output trace file path")

	if err := gentraceCmd.MarkFlagRequired("waypoints"); err != nil {
		panic(err)
	}

	for key, flag := range map[string]string{
		"gentrace.waypoints":       "waypoints",
		"gentrace.zoom":            "zoom",
		"gentrace.seconds_between": "seconds-between",
		"gentrace.fps":             "fps",
		"gentrace.out":             "out",
	} {
		if err := viper.BindPFlag(key, gentraceCmd.Flags().Lookup(flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", flag, err))
		}
	}
}

type tracePointJSON struct {
	TMs  int64   `json:"t_ms"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Zoom uint32  `json:"zoom"`
}

func runGentrace(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	waypoints, err := parseWaypoints(viper.GetString("gentrace.waypoints"))
	if err != nil {
		return err
	}
	if len(waypoints) < 2 {
		return fmt.Errorf("gentrace: need at least 2 waypoints, got %d", len(waypoints))
	}

	zoom := viper.GetUint32("gentrace.zoom")
	secondsBetween := viper.GetInt("gentrace.seconds_between")
	fps := viper.GetInt("gentrace.fps")

	points := generateTrace(waypoints, zoom, secondsBetween, fps)

	out, err := json.MarshalIndent(points, "", "  ")
	if err != nil {
		return fmt.Errorf("gentrace: encode trace: %w", err)
	}

	outPath := viper.GetString("gentrace.out")
	if err := os.WriteFile(outPath, out, 0o644); err != nil {
		return fmt.Errorf("gentrace: write %s: %w", outPath, err)
	}

	logger.Info("trace written", "points", len(points), "path", outPath)
	return nil
}

// generateTrace linearly interpolates between consecutive waypoints at
// fps points per second, secondsBetween seconds per leg, emitting one
// final point at the last waypoint.
func generateTrace(waypoints [][2]float64, zoom uint32, secondsBetween, fps int) []tracePointJSON {
	msPerFrame := int64(1000 / fps)
	steps := secondsBetween * fps

	var points []tracePointJSON
	var tMs int64

	for i := 0; i < len(waypoints)-1; i++ {
		lon0, lat0 := waypoints[i][0], waypoints[i][1]
		lon1, lat1 := waypoints[i+1][0], waypoints[i+1][1]
		for step := 0; step < steps; step++ {
			t := float64(step) / float64(steps)
			points = append(points, tracePointJSON{
				TMs:  tMs,
				Lat:  lerp(lat0, lat1, t),
				Lon:  lerp(lon0, lon1, t),
				Zoom: zoom,
			})
			tMs += msPerFrame
		}
	}

	last := waypoints[len(waypoints)-1]
	points = append(points, tracePointJSON{TMs: tMs, Lat: last[1], Lon: last[0], Zoom: zoom})
	return points
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// parseWaypoints parses "lon,lat;lon,lat;..." into an ordered list of
// [lon, lat] pairs.
func parseWaypoints(raw string) ([][2]float64, error) {
	if raw == "" {
		return nil, fmt.Errorf("gentrace: --waypoints is required")
	}

	var out [][2]float64
	for _, pair := range strings.Split(raw, ";") {
		parts := strings.Split(strings.TrimSpace(pair), ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("gentrace: malformed waypoint %q, want \"lon,lat\"", pair)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("gentrace: bad longitude in %q: %w", pair, err)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("gentrace: bad latitude in %q: %w", pair, err)
		}
		out = append(out, [2]float64{lon, lat})
	}
	return out, nil
}
