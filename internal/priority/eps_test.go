package priority

import (
	"testing"

	"github.com/icemaian/qprism/internal/tile"
)

func TestEpsFromRing(t *testing.T) {
	tests := []struct {
		ring   tile.Ring
		want   EpsPriority
		header string
	}{
		{tile.R0, EpsPriority{Urgency: 0, Incremental: true}, "u=0, i"},
		{tile.R1, EpsPriority{Urgency: 1, Incremental: false}, "u=1"},
		{tile.R3, EpsPriority{Urgency: 3, Incremental: false}, "u=3"},
	}

	for _, tt := range tests {
		got := EpsFromRing(tt.ring)
		if got != tt.want {
			t.Errorf("EpsFromRing(%v) = %+v, want %+v", tt.ring, got, tt.want)
		}
		if got.Header() != tt.header {
			t.Errorf("Header() = %q, want %q", got.Header(), tt.header)
		}
	}
}

func TestEpsFromRingClampsOutOfRangeUrgency(t *testing.T) {
	p := EpsFromRing(tile.Ring(9))
	if p.Urgency != 7 {
		t.Errorf("Urgency = %d, want clamped to 7", p.Urgency)
	}
	if p.Incremental {
		t.Error("ring != R0 must not be incremental")
	}
}
