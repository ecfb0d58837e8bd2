// Package throttle rate-limits inbound audio frames per client while letting
// keep-alive sized frames through untouched.
package throttle

import (
	"time"

	"transcription-relay/internal/clock"
)

// Decision is the outcome of admitting one frame.
type Decision int

const (
	// Forward - real audio within the limit.
	Forward Decision = iota
	// KeepAlive - frame is below the exemption size; never counted.
	KeepAlive
	// Drop - real audio over the limit.
	Drop
)

func (d Decision) String() string {
	switch d {
	case Forward:
		return "forward"
	case KeepAlive:
		return "keepalive"
	case Drop:
		return "drop"
	default:
		return "unknown"
	}
}

// Window is the span over which the per-client limit is counted.
const Window = time.Minute

// Throttle admits audio frames for a single client. It is not safe for
// concurrent use; each client loop owns its own Throttle.
type Throttle struct {
	// admitted is a ring of the last limit forward times; next is the
	// oldest slot once the ring is full.
	admitted    []time.Time
	next        int
	limit       int
	exemptBelow int
	clock       clock.Clock
}

// New returns a throttle allowing perMinute real-audio frames in any rolling
// one-minute window. Frames shorter than exemptBelow bytes bypass the window.
// perMinute <= 0 disables limiting.
func New(perMinute, exemptBelow int, clk clock.Clock) *Throttle {
	if clk == nil {
		clk = clock.Real()
	}
	t := &Throttle{exemptBelow: exemptBelow, clock: clk}
	if perMinute > 0 {
		t.limit = perMinute
		t.admitted = make([]time.Time, 0, perMinute)
	}
	return t
}

// Admit classifies a frame of n bytes.
func (t *Throttle) Admit(n int) Decision {
	if n < t.exemptBelow {
		return KeepAlive
	}
	if t.limit == 0 {
		return Forward
	}

	now := t.clock.Now()
	if len(t.admitted) < t.limit {
		t.admitted = append(t.admitted, now)
		return Forward
	}
	if now.Sub(t.admitted[t.next]) < Window {
		return Drop
	}
	t.admitted[t.next] = now
	t.next = (t.next + 1) % t.limit
	return Forward
}
