// Package core implements the transfer engine of the coreSPI controller:
// clock divider selection, FIFO fill and drain, chip-select control and
// the interrupt-driven transfer state machine.
package core

import (
	"log/slog"
	"sync"
)

// TransferState is the state of the transfer state machine
type TransferState uint8

const (
	StateIdle         TransferState = iota // No transfer in flight
	StateTransferring                      // FIFO bursts in progress
	StateCompleting                        // Finished, waiting for the next request
)

func (s TransferState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTransferring:
		return "transferring"
	case StateCompleting:
		return "completing"
	default:
		return "unknown"
	}
}

// FinalizeFunc is called from the interrupt handler when the current
// transfer has finished. err is nil, ErrRxOverflow or ErrTxUnderrun.
type FinalizeFunc func(err error)

// Stats are running counters kept by a controller
type Stats struct {
	Transfers   uint32 // Transfers started
	FillBursts  uint32 // TX FIFO fills
	DrainBursts uint32 // RX FIFO drains
	BytesTx     uint32
	BytesRx     uint32
	Overflows   uint32
	Underruns   uint32
	Unhandled   uint32 // Interrupts on the shared line that were not ours
}

// Controller drives one coreSPI block
type Controller struct {
	mu sync.Mutex

	regs  Registers
	clk   ClockSource
	line  IRQLine
	name  string
	numCS uint8
	log   *slog.Logger

	maxSpeedHz uint32
	clkGen     ClockGen // Pending divider, applied by applyClockGen

	// Current transfer; buffers are borrowed until completion
	txBuf   []byte
	rxBuf   []byte
	txLen   int
	rxLen   int
	pending int

	state    TransferState
	seq      uint32
	finalize FinalizeFunc
	stats    Stats
	faults   FaultRing
	closed   bool
}

// New brings up a controller: it attaches the interrupt handler, enables the
// clock and initializes the block
func New(regs Registers, clk ClockSource, line IRQLine, cfg Config) (*Controller, error) {
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = Logger()
	}

	c := &Controller{
		regs:  regs,
		clk:   clk,
		line:  line,
		name:  cfg.Name,
		numCS: cfg.NumCS,
		log:   logger.With("component", "corespi", "dev", cfg.Name),
	}

	if err := line.Attach(c.name, c.HandleInterrupt); err != nil {
		c.log.Error("could not request irq", "err", err)
		return nil, err
	}

	if err := clk.Enable(); err != nil {
		line.Detach(c.name)
		c.log.Error("failed to enable clock", "err", err)
		return nil, err
	}

	c.init()

	c.log.Info("registered SPI controller", "max_speed_hz", c.maxSpeedHz, "num_cs", c.numCS)
	return c, nil
}

// init programs the block for master operation with software chip selects
func (c *Controller) init() {
	c.setFrameSize(DefaultFrameSize)

	// The fastest SPI clock is the bus clock itself
	c.maxSpeedHz = c.clk.Rate()

	// SPS keeps chip select asserted for the whole message even when the
	// TX FIFO runs empty; BIGFIFO gives 32 frames of depth for 8-bit frames
	c.disable()
	control := Control(c.regs.Read32(RegControl))
	control |= ControlMaster | ControlSPS | ControlBigFIFO
	control &^= ControlModeMask
	control |= FrameProtocolMotorola
	c.regs.Write32(RegControl, uint32(control))
	c.regs.Write32(RegControl, uint32(control|ControlEnable))

	c.enableInts()

	// Direct mode hands chip select to software; SSELOUT lets active-high
	// peripherals be driven to their idle level
	c.regs.Write32(RegSlaveSelect, uint32(SSelOut|SSelDirect))

	control = Control(c.regs.Read32(RegControl))
	control &^= ControlReset
	control |= ControlEnable
	c.regs.Write32(RegControl, uint32(control))
}

// Close tears the controller down. Interrupt sources are silenced before
// the clock is released so no interrupt fires against a stopped clock.
func (c *Controller) Close() error {
	s := c.enterCritical()
	if c.closed {
		c.exitCritical(s)
		return ErrClosed
	}
	c.closed = true
	c.disableInts()
	c.clk.Disable()
	c.disable()
	c.releaseBuffers()
	c.exitCritical(s)

	c.line.Detach(c.name)
	c.log.Info("controller removed")
	return nil
}

// Name returns the controller name
func (c *Controller) Name() string {
	return c.name
}

// MaxSpeedHz returns the fastest supported SPI clock
func (c *Controller) MaxSpeedHz() uint32 {
	return c.maxSpeedHz
}

// NumChipSelect returns the number of chip-select lines
func (c *Controller) NumChipSelect() uint8 {
	return c.numCS
}

// SetFinalizeFunc registers the callback invoked when a transfer finishes
func (c *Controller) SetFinalizeFunc(fn FinalizeFunc) {
	s := c.enterCritical()
	c.finalize = fn
	c.exitCritical(s)
}

// State returns the state of the transfer state machine
func (c *Controller) State() TransferState {
	s := c.enterCritical()
	defer c.exitCritical(s)
	return c.state
}

// Pending returns the number of frames written to the TX FIFO but not yet drained
func (c *Controller) Pending() int {
	s := c.enterCritical()
	defer c.exitCritical(s)
	return c.pending
}

// Remaining returns the bytes still to send and to receive
func (c *Controller) Remaining() (tx, rx int) {
	s := c.enterCritical()
	defer c.exitCritical(s)
	return c.txLen, c.rxLen
}

// Stats returns a copy of the running counters
func (c *Controller) Stats() Stats {
	s := c.enterCritical()
	defer c.exitCritical(s)
	return c.stats
}

// Faults returns the recorded faults, oldest first
func (c *Controller) Faults() []FaultEvent {
	s := c.enterCritical()
	defer c.exitCritical(s)
	return c.faults.Snapshot()
}

// DumpFaults writes the fault ring to w
func (c *Controller) DumpFaults(w DebugWriter) {
	s := c.enterCritical()
	snapshot := c.faults
	c.exitCritical(s)
	snapshot.Dump(w)
}

// ClearFaults empties the fault ring
func (c *Controller) ClearFaults() {
	s := c.enterCritical()
	c.faults.Clear()
	c.exitCritical(s)
}

func (c *Controller) recordFault(kind FaultKind) {
	c.faults.Record(FaultEvent{
		Kind:  kind,
		Seq:   c.seq,
		RxLen: uint32(c.rxLen),
		TxLen: uint32(c.txLen),
	})
}

func (c *Controller) releaseBuffers() {
	c.txBuf = nil
	c.rxBuf = nil
}
