package driver

import (
	"math"
	"sort"

	"github.com/dustin/go-humanize"

	"github.com/icemaian/qprism/internal/completeness"
	"github.com/icemaian/qprism/internal/types"
)

// RunMetrics summarizes one run's completions and completeness series.
type RunMetrics struct {
	TimeToFirstViewportMs float64
	StallSeconds          float64
	LatencyP50Ms          float64
	LatencyP95Ms          float64
	LatencyP99Ms          float64
	CancelRatio           float64
	TotalBytes            int64
}

// ComputeRunMetrics derives a RunMetrics from a run's completeness sample
// series and tile completions. completeThreshold is the fraction at or
// above which the viewport is considered "caught up" for the
// time-to-first-viewport calculation.
func ComputeRunMetrics(samples []completeness.Sample, completions []types.TileCompletion, completeThreshold float64) RunMetrics {
	m := RunMetrics{}

	m.TimeToFirstViewportMs = timeToFirstViewport(samples, completeThreshold)
	m.StallSeconds = stallSeconds(samples, completeThreshold)

	latencies := make([]float64, 0, len(completions))
	cancelled := 0
	for _, c := range completions {
		if c.Cancelled {
			cancelled++
			continue
		}
		latencies = append(latencies, float64(c.CompletedAtMs-c.RequestedAtMs))
		if c.BytesTransferred != nil {
			m.TotalBytes += *c.BytesTransferred
		}
	}

	m.LatencyP50Ms = percentile(latencies, 50)
	m.LatencyP95Ms = percentile(latencies, 95)
	m.LatencyP99Ms = percentile(latencies, 99)

	if total := len(completions); total > 0 {
		m.CancelRatio = float64(cancelled) / float64(total)
	}

	return m
}

// HumanizedBytes renders m.TotalBytes the way the teacher's progress
// logging humanizes transfer sizes.
func (m RunMetrics) HumanizedBytes() string {
	return humanize.Bytes(uint64(m.TotalBytes))
}

func timeToFirstViewport(samples []completeness.Sample, threshold float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	start := samples[0].TsMs
	for _, s := range samples {
		if s.Frac >= threshold {
			return float64(s.TsMs - start)
		}
	}
	return float64(samples[len(samples)-1].TsMs - start)
}

func stallSeconds(samples []completeness.Sample, threshold float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	var stalledMs int64
	for i := 1; i < len(samples); i++ {
		if samples[i-1].Frac < threshold {
			stalledMs += samples[i].TsMs - samples[i-1].TsMs
		}
	}
	return float64(stalledMs) / 1000.0
}

// percentile returns the p-th percentile (0-100) of values via linear
// interpolation between the two nearest ranks. Returns 0 for an empty
// input.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64{}, values...)
	sort.Float64s(sorted)

	n := len(sorted)
	k := (float64(n) - 1) * (p / 100.0)
	f := math.Floor(k)
	c := f + 1
	if c > float64(n-1) {
		c = float64(n - 1)
	}
	if f == c {
		return sorted[int(f)]
	}
	lo, hi := sorted[int(f)], sorted[int(c)]
	frac := k - f
	return lo + (hi-lo)*frac
}

// AggregateStat is the mean/stdev/count summary of one metric across runs.
type AggregateStat struct {
	Mean  float64
	Stdev float64
	Count int
}

// AggregateMetrics computes per-field AggregateStats across a set of
// per-run metrics, used when an experiment config requests more than one
// run.
func AggregateMetrics(all []RunMetrics) map[string]AggregateStat {
	fields := map[string][]float64{
		"ttfv_ms":        valuesOf(all, func(m RunMetrics) float64 { return m.TimeToFirstViewportMs }),
		"stall_seconds":  valuesOf(all, func(m RunMetrics) float64 { return m.StallSeconds }),
		"latency_p50_ms": valuesOf(all, func(m RunMetrics) float64 { return m.LatencyP50Ms }),
		"latency_p95_ms": valuesOf(all, func(m RunMetrics) float64 { return m.LatencyP95Ms }),
		"latency_p99_ms": valuesOf(all, func(m RunMetrics) float64 { return m.LatencyP99Ms }),
		"cancel_ratio":   valuesOf(all, func(m RunMetrics) float64 { return m.CancelRatio }),
	}

	out := make(map[string]AggregateStat, len(fields))
	for name, vs := range fields {
		out[name] = aggregate(vs)
	}
	return out
}

func valuesOf(all []RunMetrics, get func(RunMetrics) float64) []float64 {
	out := make([]float64, len(all))
	for i, m := range all {
		out[i] = get(m)
	}
	return out
}

func aggregate(values []float64) AggregateStat {
	n := len(values)
	if n == 0 {
		return AggregateStat{}
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	if n > 1 {
		variance /= float64(n - 1)
	} else {
		variance = 0
	}

	return AggregateStat{Mean: mean, Stdev: math.Sqrt(variance), Count: n}
}
