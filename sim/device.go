// Package sim models the coreSPI register block so the transfer engine can
// run on a host: enable-gated configuration writes, TX/RX FIFOs, frame
// shifting, interrupt latching and a shared interrupt line.
package sim

import (
	"context"
	"sync"
	"time"

	"corespi/core"
)

// FIFO depths with and without CONTROL.BIGFIFO
const (
	BigFIFODepth   = 32
	SmallFIFODepth = 4
)

// Responder produces the byte clocked in on MISO for each byte sent on MOSI
type Responder func(selected core.SlaveSelect, mosi byte) byte

// Loopback returns every byte sent
func Loopback(_ core.SlaveSelect, mosi byte) byte {
	return mosi
}

// gatedControl are the CONTROL fields ignored while the block is enabled
const gatedControl = core.ControlModeMask | core.ControlFrameCntMask |
	core.ControlSPO | core.ControlSPH | core.ControlClkMode

// Device is a simulated coreSPI block. It implements core.Registers.
type Device struct {
	mu sync.Mutex

	control   core.Control
	frameSize uint32
	clkGen    uint32
	frameSup  uint32 // Upper 16 bits of the frame count
	ssel      core.SlaveSelect
	ris       core.IntStatus
	other     map[uint32]uint32

	tx      []byte
	rx      []byte
	shifted uint32 // Frames shifted in the current burst

	responder Responder
	line      *Line
	mosi      []byte
	droppedTx uint32
}

// NewDevice creates a block held in reset, raising interrupts on line (may be nil)
func NewDevice(line *Line) *Device {
	return &Device{
		control:   core.ControlReset,
		other:     make(map[uint32]uint32),
		responder: Loopback,
		line:      line,
	}
}

// SetResponder replaces the MISO model
func (d *Device) SetResponder(r Responder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responder = r
}

func (d *Device) depth() int {
	if d.control.Has(core.ControlBigFIFO) {
		return BigFIFODepth
	}
	return SmallFIFODepth
}

func (d *Device) frameCount() uint32 {
	return uint32(d.control.FrameCount()) | d.frameSup<<16
}

func (d *Device) enabled() bool {
	return d.control.Has(core.ControlEnable)
}

func (d *Device) status() core.Status {
	var s core.Status
	depth := d.depth()

	switch len(d.rx) {
	case 0:
		s |= core.StatusRxFIFOEmpty
	case 1:
		s |= core.StatusRxFIFOEmptyNext
	case depth - 1:
		s |= core.StatusRxFIFOFullNext
	case depth:
		s |= core.StatusRxFIFOFull
	}
	switch len(d.tx) {
	case 0:
		s |= core.StatusTxFIFOEmpty
	case 1:
		s |= core.StatusTxFIFOEmptyNext
	case depth - 1:
		s |= core.StatusTxFIFOFullNext
	case depth:
		s |= core.StatusTxFIFOFull
	}
	if d.ris.Has(core.IntRxOverflow) {
		s |= core.StatusRxOverflow
	}
	if d.ris.Has(core.IntTxUnderrun) {
		s |= core.StatusTxUnderrun
	}
	if d.ssel&core.SSelMask != 0 {
		s |= core.StatusSSel
	}
	if d.busy() {
		s |= core.StatusActive
	}
	return s
}

func (d *Device) busy() bool {
	return d.enabled() && !d.control.Has(core.ControlReset) && d.shifted < d.frameCount()
}

func (d *Device) mis() core.IntStatus {
	var mask core.IntStatus
	if d.control.Has(core.ControlTxDataInt) {
		mask |= core.IntTxDone
	}
	if d.control.Has(core.ControlRxDataInt) {
		mask |= core.IntRxReady
	}
	if d.control.Has(core.ControlRxOverInt) {
		mask |= core.IntRxOverflow
	}
	if d.control.Has(core.ControlTxUnderInt) {
		mask |= core.IntTxUnderrun
	}
	return d.ris & mask
}

// Read32 reads a register
func (d *Device) Read32(offset uint32) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch offset {
	case core.RegControl:
		return uint32(d.control)
	case core.RegFrameSize:
		return d.frameSize
	case core.RegStatus:
		return uint32(d.status())
	case core.RegRxData:
		if len(d.rx) == 0 {
			return 0
		}
		b := d.rx[0]
		d.rx = d.rx[1:]
		return uint32(b)
	case core.RegClkGen:
		return d.clkGen
	case core.RegSlaveSelect:
		return uint32(d.ssel)
	case core.RegMIS:
		return uint32(d.mis())
	case core.RegRIS:
		return uint32(d.ris)
	case core.RegFrameSup:
		return d.frameSup<<16 | uint32(d.control.FrameCount())
	case core.RegIntClear, core.RegTxData:
		return 0
	default:
		return d.other[offset]
	}
}

// Write32 writes a register. Framing, clock and length settings only take
// effect while CONTROL.ENABLE is clear.
func (d *Device) Write32(offset uint32, value uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch offset {
	case core.RegControl:
		v := core.Control(value)
		if d.enabled() {
			v = v&^gatedControl | d.control&gatedControl
		}
		d.control = v
		if !d.enabled() {
			d.shifted = 0
		}
	case core.RegFrameSize:
		if !d.enabled() {
			d.frameSize = value
		}
	case core.RegClkGen:
		if !d.enabled() {
			d.clkGen = value
		}
	case core.RegFrameSup:
		// Only the upper half is writable
		if !d.enabled() {
			d.frameSup = value >> 16
		}
	case core.RegIntClear:
		d.ris &^= core.IntStatus(value)
	case core.RegTxData:
		if len(d.tx) >= d.depth() {
			d.droppedTx++
			return
		}
		d.tx = append(d.tx, byte(value))
	case core.RegSlaveSelect:
		d.ssel = core.SlaveSelect(value)
	case core.RegStatus, core.RegRxData, core.RegMIS, core.RegRIS:
		// Read only
	default:
		d.other[offset] = value
	}
}

// Step shifts one frame if the block has one to shift and raises the
// interrupt line while any enabled interrupt is pending.
// It reports whether a frame was shifted.
func (d *Device) Step() bool {
	d.mu.Lock()
	shifted := d.shift()
	pending := d.mis() != 0
	d.mu.Unlock()

	if pending && d.line != nil {
		d.line.Raise()
	}
	return shifted
}

func (d *Device) shift() bool {
	if !d.busy() {
		return false
	}
	// With SPS set the select stays asserted and the block waits for data
	if len(d.tx) == 0 {
		return false
	}

	out := d.tx[0]
	d.tx = d.tx[1:]
	d.mosi = append(d.mosi, out)

	in := d.responder(d.ssel, out)
	if len(d.rx) >= d.depth() {
		d.ris |= core.IntRxOverflow
	} else {
		d.rx = append(d.rx, in)
	}
	d.ris |= core.IntRxReady

	d.shifted++
	if d.shifted == d.frameCount() {
		d.ris |= core.IntTxDone
	}
	return true
}

// Run steps the block until ctx is done, idling for interval when there is
// nothing to shift
func (d *Device) Run(ctx context.Context, interval time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !d.Step() {
			time.Sleep(interval)
		}
	}
}

// InjectOverflow latches an RX overflow
func (d *Device) InjectOverflow() {
	d.mu.Lock()
	d.ris |= core.IntRxOverflow
	d.mu.Unlock()
}

// InjectUnderrun latches a TX underrun
func (d *Device) InjectUnderrun() {
	d.mu.Lock()
	d.ris |= core.IntTxUnderrun
	d.mu.Unlock()
}

// MOSI returns every byte shifted out so far
func (d *Device) MOSI() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.mosi...)
}

// DroppedTx returns the number of TX_DATA writes lost to a full FIFO
func (d *Device) DroppedTx() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.droppedTx
}

// Control returns the effective CONTROL value
func (d *Device) Control() core.Control {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.control
}

// SlaveSelect returns the SLAVE_SELECT value
func (d *Device) SlaveSelect() core.SlaveSelect {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ssel
}
