// Package config loads the base engine configuration and per-experiment
// configuration documents.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BaseConfig is the engine-wide configuration shared across experiments.
type BaseConfig struct {
	ExperimentRoot           string  `yaml:"experiment_root"`
	DBPath                   string  `yaml:"duckdb_path"`
	DefaultTrace             string  `yaml:"default_trace"`
	DefaultTileSource        string  `yaml:"default_tile_source"`
	ViewportSampleHz         int     `yaml:"viewport_sample_hz"`
	ViewportCompleteThresh   float64 `yaml:"viewport_complete_threshold"`
	StallThresholdSeconds    float64 `yaml:"stall_threshold_seconds"`
}

// LoadBaseConfig reads and validates a base configuration document.
// experiment_root, duckdb_path, default_trace, and default_tile_source are
// required; the remaining fields default if absent.
func LoadBaseConfig(path string) (BaseConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return BaseConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return BaseConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	for _, key := range []string{"experiment_root", "duckdb_path", "default_trace", "default_tile_source"} {
		if _, ok := doc[key]; !ok {
			return BaseConfig{}, fmt.Errorf("config: missing required key %q in %s", key, path)
		}
	}

	cfg := BaseConfig{
		ViewportSampleHz:       10,
		ViewportCompleteThresh: 0.95,
		StallThresholdSeconds:  0.25,
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return BaseConfig{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// ExperimentConfig describes a single experiment to run.
type ExperimentConfig struct {
	Name             string `yaml:"name"`
	SchedulerVariant string `yaml:"scheduler_variant"`
	NetemProfile     string `yaml:"netem_profile"`
	TracePath        string `yaml:"trace_path"`
	Runs             int    `yaml:"runs"`
	SeedBase         int64  `yaml:"seed_base"`
	Notes            string `yaml:"notes"`
}

// LoadExperimentConfig reads and validates an experiment document. name,
// scheduler_variant, netem_profile, and trace_path are required; runs
// defaults to 1 and seed_base defaults to 0.
func LoadExperimentConfig(path string) (ExperimentConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ExperimentConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return ExperimentConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	for _, key := range []string{"name", "scheduler_variant", "netem_profile", "trace_path"} {
		if _, ok := doc[key]; !ok {
			return ExperimentConfig{}, fmt.Errorf("config: missing required key %q in %s", key, path)
		}
	}

	cfg := ExperimentConfig{Runs: 1, SeedBase: 0}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return ExperimentConfig{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}
