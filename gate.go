package dxscan

import "time"

// scanGate suppresses decoding after a detection until its cooldown elapses.
// Owned by the controller loop; the reopen timer posts back to that loop.
type scanGate struct {
	closed   bool
	cooldown time.Duration
	// generation invalidates reopen timers armed before a reset
	generation uint64
}

func (g *scanGate) isOpen() bool {
	return !g.closed
}

// close shuts the gate and returns the generation the reopen timer must carry
func (g *scanGate) close() uint64 {
	g.closed = true
	g.generation++
	return g.generation
}

// reopen opens the gate if generation is still current
func (g *scanGate) reopen(generation uint64) bool {
	if generation != g.generation {
		return false
	}
	g.closed = false
	return true
}

// reset opens the gate and invalidates pending reopen timers
func (g *scanGate) reset() {
	g.closed = false
	g.generation++
}
