package bus

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/io/spi/driver"

	"corespi/core"
)

// OrderMSBFirst is the only bit order accepted by Conn.Configure
const OrderMSBFirst = 0

// Opener opens connections to peripherals on a set of buses, indexed by bus number
type Opener struct {
	Buses []*Bus
}

var _ driver.Opener = (*Opener)(nil)

// Open returns a connection to chip select chip on bus
func (o *Opener) Open(bus, chip int) (driver.Conn, error) {
	if bus < 0 || bus >= len(o.Buses) {
		return nil, fmt.Errorf("open bus %d: %w", bus, ErrNoBus)
	}
	b := o.Buses[bus]
	if chip < 0 || chip >= int(b.ctrl.NumChipSelect()) {
		return nil, fmt.Errorf("open bus %d chip %d: %w", bus, chip, core.ErrInvalidChipSelect)
	}
	return &Conn{handle: b.Device(uint8(chip))}, nil
}

// Conn is a connection opened by Opener
type Conn struct {
	mu     sync.Mutex
	handle *Handle
	closed bool
}

var _ driver.Conn = (*Conn)(nil)

// Configure sets one of driver.Mode, driver.Bits, driver.Speed or
// driver.Order. A negative value keeps the current setting.
func (c *Conn) Configure(k, v int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return core.ErrClosed
	}
	if v < 0 {
		return nil
	}

	dev := c.handle.Device()
	switch k {
	case driver.Mode:
		if v > int(core.Mode3) {
			return core.ErrUnsupportedMode
		}
		dev.Mode = core.Mode(v)
	case driver.Bits:
		if v != 8 {
			return ErrUnsupportedBits
		}
		return nil
	case driver.Speed:
		dev.MaxSpeedHz = uint32(v)
	case driver.Order:
		if v != OrderMSBFirst {
			return ErrUnsupportedOrder
		}
		return nil
	default:
		return fmt.Errorf("unknown configuration key %d", k)
	}
	return c.handle.Configure(dev.Mode, dev.MaxSpeedHz, dev.CSActiveHigh)
}

// Transfer exchanges tx for rx and waits delay afterwards
func (c *Conn) Transfer(tx, rx []byte, delay time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return core.ErrClosed
	}
	if err := c.handle.Tx(tx, rx); err != nil {
		return err
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	return nil
}

// Close releases the connection
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return core.ErrClosed
	}
	c.closed = true
	return nil
}
