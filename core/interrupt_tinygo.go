//go:build tinygo

package core

import "runtime/interrupt"

// criticalSection masks interrupts so completion handlers cannot preempt
// mux bookkeeping.
type criticalSection struct{}

// disableInterrupts disables interrupts and returns the previous state
func (c *criticalSection) disableInterrupts() interrupt.State {
	return interrupt.Disable()
}

// restoreInterrupts restores the interrupt state
func (c *criticalSection) restoreInterrupts(state interrupt.State) {
	interrupt.Restore(state)
}
