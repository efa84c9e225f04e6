//go:build !tinygo

package core

// irqState is a placeholder for interrupt state on regular Go
type irqState uintptr

// enterCritical serializes the issuing path against the interrupt handler.
// Regular Go delivers interrupts from another goroutine, so a mutex does it.
func (c *Controller) enterCritical() irqState {
	c.mu.Lock()
	return 0
}

// exitCritical leaves the critical section
func (c *Controller) exitCritical(state irqState) {
	c.mu.Unlock()
}
