package pipeline

import (
	"math"
	"sync"
)

// maxActivePercent is the ceiling during active work; 100 means ready
const maxActivePercent = 99

// ClampPercent maps a raw reading onto 0..99
func ClampPercent(reading float64) int {
	switch {
	case math.IsNaN(reading), reading <= 0:
		return 0
	case reading >= maxActivePercent:
		return maxActivePercent
	default:
		return int(math.Floor(reading))
	}
}

// progressTracker keeps processing frames non-decreasing. Engines may report
// from their own goroutines.
type progressTracker struct {
	mu     sync.Mutex
	active bool
	last   int
}

func (t *progressTracker) begin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = true
	t.last = 0
}

func (t *progressTracker) end() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = false
}

func (t *progressTracker) next(percent int) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.active || percent < t.last {
		return 0, false
	}
	t.last = percent
	return percent, true
}
