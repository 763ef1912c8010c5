//go:build !tinygo

package core

import "sync"

// State is a placeholder for interrupt state on regular Go
type State uintptr

// criticalSection serialises mux state on regular Go, where completions
// arrive from backend goroutines instead of interrupt handlers.
type criticalSection struct {
	mu sync.Mutex
}

// disableInterrupts enters the critical section
func (c *criticalSection) disableInterrupts() State {
	c.mu.Lock()
	return 0
}

// restoreInterrupts leaves the critical section
func (c *criticalSection) restoreInterrupts(state State) {
	c.mu.Unlock()
}
