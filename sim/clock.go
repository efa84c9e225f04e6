package sim

import "sync"

// Clock is a fixed-rate clock source
type Clock struct {
	mu      sync.Mutex
	rate    uint32
	enabled bool
	users   int
}

// NewClock creates a stopped clock running at rateHz once enabled
func NewClock(rateHz uint32) *Clock {
	return &Clock{rate: rateHz}
}

// Rate returns the clock rate in Hz
func (c *Clock) Rate() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}

// SetRate changes the rate, as a parent clock reconfiguration would
func (c *Clock) SetRate(rateHz uint32) {
	c.mu.Lock()
	c.rate = rateHz
	c.mu.Unlock()
}

// Enable starts the clock. Enables are counted.
func (c *Clock) Enable() error {
	c.mu.Lock()
	c.users++
	c.enabled = true
	c.mu.Unlock()
	return nil
}

// Disable releases one enable
func (c *Clock) Disable() {
	c.mu.Lock()
	if c.users > 0 {
		c.users--
	}
	c.enabled = c.users > 0
	c.mu.Unlock()
}

// Enabled reports whether the clock is running
func (c *Clock) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}
