package bus

import (
	"context"
	"time"

	"tinygo.org/x/drivers"

	"corespi/core"
)

// DefaultTimeout bounds a single Handle exchange
const DefaultTimeout = time.Second

// Handle is one peripheral on a Bus. It implements drivers.SPI so
// peripheral drivers written against that interface can use the bus.
type Handle struct {
	bus     *Bus
	dev     Device
	Timeout time.Duration
}

var _ drivers.SPI = (*Handle)(nil)

// Device returns a handle for chip select cs in mode 0 at the controller maximum speed
func (b *Bus) Device(cs uint8) *Handle {
	return &Handle{
		bus:     b,
		dev:     Device{ChipSelect: cs},
		Timeout: DefaultTimeout,
	}
}

// Configure replaces the peripheral settings; the chip select is kept
func (h *Handle) Configure(mode core.Mode, speedHz uint32, csActiveHigh bool) error {
	dev := Device{
		ChipSelect:   h.dev.ChipSelect,
		Mode:         mode,
		MaxSpeedHz:   speedHz,
		CSActiveHigh: csActiveHigh,
	}
	if err := h.bus.Setup(dev); err != nil {
		return err
	}
	h.dev = dev
	return nil
}

// Device returns the peripheral settings
func (h *Handle) Device() Device {
	return h.dev
}

// Tx clocks out w while reading into r. Either may be nil; if both are set
// they must have the same length.
func (h *Handle) Tx(w, r []byte) error {
	xfers, err := split(w, r)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.Timeout)
	defer cancel()
	return h.bus.Do(ctx, h.dev, xfers...)
}

// Transfer exchanges a single byte
func (h *Handle) Transfer(b byte) (byte, error) {
	var r [1]byte
	if err := h.Tx([]byte{b}, r[:]); err != nil {
		return 0, err
	}
	return r[0], nil
}
