// Package priority implements the RFC 9218 Extensible Priority Scheme
// mapping from ring distance to an HTTP priority header value (C5).
package priority

import (
	"fmt"

	"github.com/icemaian/qprism/internal/tile"
)

// EpsPriority is an RFC 9218 urgency/incremental pair.
type EpsPriority struct {
	Urgency     int
	Incremental bool
}

// EpsFromRing maps a ring distance to an EPS priority: urgency is the ring
// value clamped to [0,7], and incremental is set only for R0 (the visible
// viewport, where partial/progressive delivery is worth the client
// rendering a tile before it fully arrives).
func EpsFromRing(ring tile.Ring) EpsPriority {
	urgency := int(ring)
	if urgency < 0 {
		urgency = 0
	}
	if urgency > 7 {
		urgency = 7
	}
	return EpsPriority{
		Urgency:     urgency,
		Incremental: ring == tile.R0,
	}
}

// Header renders the value of an RFC 9218 "priority" header:
// "u=<urgency>" optionally followed by ", i" when incremental.
func (p EpsPriority) Header() string {
	if p.Incremental {
		return fmt.Sprintf("u=%d, i", p.Urgency)
	}
	return fmt.Sprintf("u=%d", p.Urgency)
}
