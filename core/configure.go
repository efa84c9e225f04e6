package core

// Mode holds SPI mode bits.
// Mode 0: CPOL=0, CPHA=0 (clock idle low, sample on rising edge)
// Mode 1: CPOL=0, CPHA=1 (clock idle low, sample on falling edge)
// Mode 2: CPOL=1, CPHA=0 (clock idle high, sample on falling edge)
// Mode 3: CPOL=1, CPHA=1 (clock idle high, sample on rising edge)
type Mode uint8

// Mode bits
const (
	ModeCPHA   Mode = 0x01
	ModeCPOL   Mode = 0x02
	ModeCSHigh Mode = 0x04 // Chip select is active high

	Mode0 Mode = 0
	Mode1 Mode = ModeCPHA
	Mode2 Mode = ModeCPOL
	Mode3 Mode = ModeCPOL | ModeCPHA

	// ModeBitsSupported are the mode bits the controller honours
	ModeBitsSupported = ModeCPOL | ModeCPHA | ModeCSHigh
)

// Clock returns the CPOL/CPHA part of the mode (0-3)
func (m Mode) Clock() Mode {
	return m & (ModeCPOL | ModeCPHA)
}

// control returns the CONTROL bits for the clock part of the mode
func (m Mode) control() Control {
	switch m.Clock() {
	case Mode1:
		return ControlSPH
	case Mode2:
		return ControlSPO
	case Mode3:
		return ControlSPH | ControlSPO
	default:
		return 0
	}
}

// The block ignores writes to framing, clock and length fields while
// CONTROL.ENABLE is set, so each of these helpers disables the block,
// writes, and enables it again.

func (c *Controller) disable() {
	control := Control(c.regs.Read32(RegControl))
	control &^= ControlEnable
	c.regs.Write32(RegControl, uint32(control))
}

func (c *Controller) setFrameSize(bits uint32) {
	c.disable()

	c.regs.Write32(RegFrameSize, bits)

	control := Control(c.regs.Read32(RegControl))
	control |= ControlEnable
	c.regs.Write32(RegControl, uint32(control))
}

func (c *Controller) setMode(mode Mode) {
	c.disable()

	control := Control(c.regs.Read32(RegControl))
	control &^= ControlModeBits
	control |= mode.control()
	c.regs.Write32(RegControl, uint32(control))

	control |= ControlEnable
	c.regs.Write32(RegControl, uint32(control))
}

// setXferSize programs the frame count. The low 16 bits live in CONTROL;
// the high 16 bits go to the upper half of FRAMESUP, whose lower half
// reads back the low bits but ignores writes.
func (c *Controller) setXferSize(n int) {
	c.disable()

	control := Control(c.regs.Read32(RegControl))
	control = control.WithFrameCount(uint16(n & 0xFFFF))
	c.regs.Write32(RegControl, uint32(control))

	c.regs.Write32(RegFrameSup, uint32(n)&0xFFFF0000)

	control |= ControlEnable
	c.regs.Write32(RegControl, uint32(control))
}

// applyClockGen writes the pending divider to the hardware
func (c *Controller) applyClockGen() {
	c.disable()

	control := Control(c.regs.Read32(RegControl))
	if c.clkGen.Mode1 {
		control |= ControlClkMode
	} else {
		control &^= ControlClkMode
	}

	c.regs.Write32(RegClkGen, c.clkGen.Value)
	c.regs.Write32(RegControl, uint32(control))
	c.regs.Write32(RegControl, uint32(control|ControlEnable))
}

// calculateClockGen stores the divider for targetHz as the pending setting
// without touching the hardware
func (c *Controller) calculateClockGen(targetHz uint32) error {
	gen, err := CalculateClockGen(c.clk.Rate(), targetHz)
	if err != nil {
		return err
	}
	c.clkGen = gen
	return nil
}

func (c *Controller) enableInts() {
	c.disable()

	control := Control(c.regs.Read32(RegControl))
	control |= ControlIntMask
	c.regs.Write32(RegControl, uint32(control))

	control |= ControlEnable
	c.regs.Write32(RegControl, uint32(control))
}

func (c *Controller) disableInts() {
	c.disable()

	control := Control(c.regs.Read32(RegControl))
	control &^= ControlIntMask
	c.regs.Write32(RegControl, uint32(control))

	control |= ControlEnable
	c.regs.Write32(RegControl, uint32(control))
}

// Setup prepares a peripheral on chip select cs. Active-high peripherals
// are added to the select group so their line is driven to its idle level.
func (c *Controller) Setup(cs uint8, mode Mode) error {
	if cs >= c.numCS {
		return ErrInvalidChipSelect
	}
	if mode&^ModeBitsSupported != 0 {
		return ErrUnsupportedMode
	}

	s := c.enterCritical()
	defer c.exitCritical(s)
	if c.closed {
		return ErrClosed
	}

	if mode&ModeCSHigh != 0 {
		reg := SlaveSelect(c.regs.Read32(RegSlaveSelect))
		c.regs.Write32(RegSlaveSelect, uint32(reg.With(cs, true)))
	}
	return nil
}

// SetCS flips the select bit for cs. Direct chip-select mode keeps
// SLAVE_SELECT writable while enabled, so no disable cycle is needed.
func (c *Controller) SetCS(cs uint8, disable bool) error {
	if cs >= c.numCS {
		return ErrInvalidChipSelect
	}

	s := c.enterCritical()
	defer c.exitCritical(s)
	if c.closed {
		return ErrClosed
	}

	reg := SlaveSelect(c.regs.Read32(RegSlaveSelect))
	c.regs.Write32(RegSlaveSelect, uint32(reg.With(cs, !disable)))
	return nil
}

// PrepareMessage configures framing and clock mode before a batch of transfers
func (c *Controller) PrepareMessage(mode Mode) error {
	if mode&^ModeBitsSupported != 0 {
		return ErrUnsupportedMode
	}

	s := c.enterCritical()
	defer c.exitCritical(s)
	if c.closed {
		return ErrClosed
	}
	if c.state == StateTransferring {
		return ErrBusy
	}
	c.state = StateIdle

	c.setFrameSize(DefaultFrameSize)
	c.setMode(mode)
	return nil
}
