package cmd

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/icemaian/qprism/internal/completeness"
	"github.com/icemaian/qprism/internal/driver"
	"github.com/icemaian/qprism/internal/tile"
	"github.com/icemaian/qprism/internal/types"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export metrics aggregated across runs from the event sink as CSV, one file per metric",
	RunE:  runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().String("db", "", "Path to the sink's SQLite database (required)")
	exportCmd.Flags().String("out", "results", "Output directory for CSV files")
	exportCmd.Flags().Float64("complete-threshold", 0.95, "Completeness fraction used for time-to-first-viewport")

	if err := exportCmd.MarkFlagRequired("db"); err != nil {
		panic(err)
	}

	for key, flag := range map[string]string{
		"export.db":                 "db",
		"export.out":                "out",
		"export.complete_threshold": "complete-threshold",
	} {
		if err := viper.BindPFlag(key, exportCmd.Flags().Lookup(flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", flag, err))
		}
	}
}

func runExport(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	dbPath := viper.GetString("export.db")
	outDir := viper.GetString("export.out")
	threshold := viper.GetFloat64("export.complete_threshold")

	db, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		return fmt.Errorf("export: open %s: %w", dbPath, err)
	}
	defer db.Close()

	runIDs, err := queryRunIDs(db)
	if err != nil {
		return err
	}

	perRun := make([]driver.RunMetrics, 0, len(runIDs))
	for _, runID := range runIDs {
		completions, err := queryCompletions(db, runID)
		if err != nil {
			return err
		}
		samples, err := querySamples(db, runID)
		if err != nil {
			return err
		}
		perRun = append(perRun, driver.ComputeRunMetrics(samples, completions, threshold))
	}

	summary := driver.AggregateMetrics(perRun)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("export: create %s: %w", outDir, err)
	}

	for metric, stat := range summary {
		path := filepath.Join(outDir, metric+".csv")
		if err := writeMetricCSV(path, metric, stat); err != nil {
			return err
		}
	}

	logger.Info("export finished", "runs", len(runIDs), "out", outDir)
	return nil
}

func writeMetricCSV(path, metric string, stat driver.AggregateStat) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"metric", "mean", "stdev", "count"}); err != nil {
		return err
	}
	return w.Write([]string{
		metric,
		strconv.FormatFloat(stat.Mean, 'f', -1, 64),
		strconv.FormatFloat(stat.Stdev, 'f', -1, 64),
		strconv.Itoa(stat.Count),
	})
}

func queryRunIDs(db *sql.DB) ([]int64, error) {
	rows, err := db.Query(`SELECT run_id FROM runs`)
	if err != nil {
		return nil, fmt.Errorf("export: query runs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("export: scan run_id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func queryCompletions(db *sql.DB, runID int64) ([]types.TileCompletion, error) {
	rows, err := db.Query(
		`SELECT tile_id, zoom, ring, requested_at, completed_at, cancelled, bytes_transferred
		 FROM tile_completions WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("export: query tile_completions: %w", err)
	}
	defer rows.Close()

	var out []types.TileCompletion
	for rows.Next() {
		var c types.TileCompletion
		var ring int
		var bytes sql.NullInt64
		if err := rows.Scan(&c.TileID, &c.Zoom, &ring, &c.RequestedAtMs, &c.CompletedAtMs, &c.Cancelled, &bytes); err != nil {
			return nil, fmt.Errorf("export: scan tile_completion: %w", err)
		}
		c.Ring = tile.Ring(ring)
		if bytes.Valid {
			n := bytes.Int64
			c.BytesTransferred = &n
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func querySamples(db *sql.DB, runID int64) ([]completeness.Sample, error) {
	rows, err := db.Query(`SELECT ts_ms, completeness FROM viewport_samples WHERE run_id = ? ORDER BY ts_ms`, runID)
	if err != nil {
		return nil, fmt.Errorf("export: query viewport_samples: %w", err)
	}
	defer rows.Close()

	var out []completeness.Sample
	for rows.Next() {
		var s completeness.Sample
		if err := rows.Scan(&s.TsMs, &s.Frac); err != nil {
			return nil, fmt.Errorf("export: scan viewport_sample: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
