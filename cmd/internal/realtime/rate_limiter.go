package realtime

import "time"

// floodGuard caps inbound frames per connection over a sliding window.
// It is owned by a single read loop and is not safe for concurrent use.
type floodGuard struct {
	ring   []time.Time
	next   int
	filled bool
	window time.Duration
}

// newFloodGuard falls back to the package defaults for non-positive inputs.
func newFloodGuard(limit int, window time.Duration) *floodGuard {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &floodGuard{ring: make([]time.Time, limit), window: window}
}

// allow records a frame at now unless limit frames were already seen within the window.
func (g *floodGuard) allow(now time.Time) bool {
	if g.filled && now.Sub(g.ring[g.next]) < g.window {
		return false
	}
	g.ring[g.next] = now
	g.next++
	if g.next == len(g.ring) {
		g.next = 0
		g.filled = true
	}
	return true
}
