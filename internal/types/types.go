// Package types holds the data-model value types shared across the
// scheduler, transport, completeness, and driver packages: tile requests,
// completions, and the experiment scheduler variant identifiers.
package types

import "github.com/icemaian/qprism/internal/tile"

// TileRequest records that a tile fetch was started.
type TileRequest struct {
	TileID        string
	Zoom          uint32
	Ring          tile.Ring
	RequestedAtMs int64
	DeadlineMs    *int64
}

// TileCompletion records the outcome of a tile fetch: either it finished
// (with byte count) or was cancelled before finishing.
type TileCompletion struct {
	TileID           string
	Zoom             uint32
	Ring             tile.Ring
	RequestedAtMs    int64
	CompletedAtMs    int64
	Cancelled        bool
	BytesTransferred *int64
}

// SchedulerVariant names one of the five server/scheduler configurations
// an experiment can run against.
type SchedulerVariant string

const (
	HTTP2Default       SchedulerVariant = "http2_default"
	HTTP3Default       SchedulerVariant = "http3_default"
	QPrismFull         SchedulerVariant = "qprism_full"
	QPrismPriorityOnly SchedulerVariant = "qprism_priority_only"
	QPrismCancelOnly   SchedulerVariant = "qprism_cancel_only"
)
