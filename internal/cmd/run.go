package cmd

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/quic-go/quic-go/http3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/icemaian/qprism/internal/completeness"
	"github.com/icemaian/qprism/internal/config"
	"github.com/icemaian/qprism/internal/driver"
	"github.com/icemaian/qprism/internal/mbtiles"
	"github.com/icemaian/qprism/internal/netem"
	"github.com/icemaian/qprism/internal/scheduler"
	"github.com/icemaian/qprism/internal/sink"
	"github.com/icemaian/qprism/internal/trace"
	"github.com/icemaian/qprism/internal/transport/h3client"
	"github.com/icemaian/qprism/internal/transport/h3server"
	"github.com/icemaian/qprism/internal/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an experiment: boot a server variant and replay its trace",
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("base-config", "config.yaml", "Base engine config file")
	runCmd.Flags().String("experiment", "", "Experiment config file (required)")
	runCmd.Flags().String("interface", "lo", "Network interface for link-profile emulation")
	runCmd.Flags().String("host", "127.0.0.1", "Server bind host")
	runCmd.Flags().Int("port", 4433, "Server bind port")
	runCmd.Flags().String("mbtiles", "", "Path to an MBTiles file (overrides the base config's default_tile_source)")
	runCmd.Flags().Bool("no-netem", false, "Skip applying the experiment's link profile")
	runCmd.Flags().Bool("dry-netem", false, "Print the tc(8) command instead of running it")
	runCmd.Flags().String("tls-cert", "certs/cert.pem", "TLS certificate path (generated on first run)")
	runCmd.Flags().String("tls-key", "certs/key.pem", "TLS key path (generated on first run)")

	if err := runCmd.MarkFlagRequired("experiment"); err != nil {
		panic(err)
	}

	for key, flag := range map[string]string{
		"run.base_config": "base-config",
		"run.experiment":  "experiment",
		"run.interface":   "interface",
		"run.host":        "host",
		"run.port":        "port",
		"run.mbtiles":     "mbtiles",
		"run.no_netem":    "no-netem",
		"run.dry_netem":   "dry-netem",
		"run.tls_cert":    "tls-cert",
		"run.tls_key":     "tls-key",
	} {
		if err := viper.BindPFlag(key, runCmd.Flags().Lookup(flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", flag, err))
		}
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	baseCfg, err := config.LoadBaseConfig(viper.GetString("run.base_config"))
	if err != nil {
		return err
	}
	expCfg, err := config.LoadExperimentConfig(viper.GetString("run.experiment"))
	if err != nil {
		return err
	}

	tracePath := expCfg.TracePath
	if tracePath == "" {
		tracePath = baseCfg.DefaultTrace
	}
	points, err := trace.Load(tracePath)
	if err != nil {
		return err
	}

	tilesPath := viper.GetString("run.mbtiles")
	if tilesPath == "" {
		tilesPath = baseCfg.DefaultTileSource
	}
	reader, err := mbtiles.OpenReader(tilesPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	variant := types.SchedulerVariant(expCfg.SchedulerVariant)

	eventSink, err := sink.Open(baseCfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer eventSink.Close()

	iface := viper.GetString("run.interface")
	dryNetem := viper.GetBool("run.dry_netem")
	if !viper.GetBool("run.no_netem") {
		profiles, err := netem.LoadProfiles(baseCfg.ExperimentRoot + "/netem_profiles.yaml")
		if err != nil {
			logger.Warn("link profiles not loaded, running without emulation", "error", err)
		} else if profile, ok := profiles[expCfg.NetemProfile]; ok {
			controller := netem.NewController(iface)
			argv, err := controller.Apply(profile, dryNetem)
			if err != nil {
				logger.Warn("netem apply failed", "error", err)
			} else {
				logger.Info("netem profile applied", "argv", argv)
			}
			defer func() {
				if _, err := controller.Clear(dryNetem); err != nil {
					logger.Warn("netem clear failed", "error", err)
				}
			}()
		} else {
			logger.Warn("netem profile not found", "profile", expCfg.NetemProfile)
		}
	}

	host := viper.GetString("run.host")
	port := viper.GetInt("run.port")
	addr := fmt.Sprintf("%s:%d", host, port)

	cert, err := loadOrGenerateCert(viper.GetString("run.tls_cert"), viper.GetString("run.tls_key"))
	if err != nil {
		return err
	}

	var handler http.Handler
	prioritized := variant == types.QPrismFull || variant == types.QPrismPriorityOnly || variant == types.QPrismCancelOnly
	if prioritized {
		shim := h3server.NewPrioritizedShim(reader, logger)
		defer shim.Stop()
		handler = shim
	} else {
		handler = h3server.NewBaseShim(reader, logger)
	}

	server := &http3.Server{
		Addr:      addr,
		TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{"h3"}},
		Handler:   handler,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()
	defer server.Close()

	// Give the listener a moment to bind before dialing it.
	time.Sleep(100 * time.Millisecond)
	select {
	case err := <-serverErr:
		return fmt.Errorf("cmd: server failed to start: %w", err)
	default:
	}

	client := h3client.New("https://"+addr, true)
	defer client.Close()

	fetcher := &driver.ClientFetcher{Client: client, Prioritized: prioritized}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := make([]driver.RunMetrics, 0, expCfg.Runs)
	for i := 0; i < expCfg.Runs; i++ {
		seed := expCfg.SeedBase + int64(i)
		runID, runUUID, err := eventSink.LogRun(expCfg.Name, string(variant), expCfg.NetemProfile, tracePath, seed, expCfg.Notes)
		if err != nil {
			return err
		}
		logger.Info("run starting", "run", i, "run_id", runID, "run_uuid", runUUID)

		sched := newScheduler(variant)
		completions := driver.RunSingleTrace(ctx, points, sched, fetcher, eventSink, runID, seed, logger)

		samples := completeness.ComputeCompleteness(points, completions)
		for _, s := range samples {
			if err := eventSink.LogViewportSample(runID, s.TsMs, s.Frac); err != nil {
				logger.Warn("log viewport sample failed", "error", err)
			}
		}

		m := driver.ComputeRunMetrics(samples, completions, baseCfg.ViewportCompleteThresh)
		logger.Info("run finished",
			"run", i, "ttfv_ms", m.TimeToFirstViewportMs, "stall_s", m.StallSeconds,
			"p50_ms", m.LatencyP50Ms, "p95_ms", m.LatencyP95Ms, "cancel_ratio", m.CancelRatio,
			"bytes", m.HumanizedBytes())
		metrics = append(metrics, m)
	}

	if len(metrics) > 1 {
		agg := driver.AggregateMetrics(metrics)
		for name, stat := range agg {
			logger.Info("aggregate metric", "metric", name, "mean", stat.Mean, "stdev", stat.Stdev, "count", stat.Count)
		}
	}

	return nil
}

func newScheduler(variant types.SchedulerVariant) scheduler.Scheduler {
	switch variant {
	case types.QPrismFull:
		return scheduler.NewQPrismScheduler()
	case types.QPrismPriorityOnly:
		return scheduler.NewPriorityOnlyScheduler()
	case types.QPrismCancelOnly:
		return scheduler.NewCancelOnlyScheduler()
	default:
		return nil
	}
}
