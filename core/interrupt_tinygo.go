//go:build tinygo

package core

import "runtime/interrupt"

// enterCritical masks interrupts so the handler cannot run while the
// issuing path updates transfer state
func (c *Controller) enterCritical() interrupt.State {
	return interrupt.Disable()
}

// exitCritical restores the interrupt state
func (c *Controller) exitCritical(state interrupt.State) {
	interrupt.Restore(state)
}
