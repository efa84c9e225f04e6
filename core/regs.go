package core

// coreSPI register offsets (32-bit access)
const (
	RegControl     = 0x00
	RegFrameSize   = 0x04
	RegStatus      = 0x08
	RegIntClear    = 0x0C
	RegRxData      = 0x10
	RegTxData      = 0x14
	RegClkGen      = 0x18
	RegSlaveSelect = 0x1C
	RegMIS         = 0x20 // Masked interrupt status
	RegRIS         = 0x24 // Raw interrupt status
	RegControl2    = 0x28
	RegCommand     = 0x2C
	RegPktSize     = 0x30
	RegCmdSize     = 0x34
	RegHWStatus    = 0x38
	RegStat8       = 0x3C
	RegCtrl2       = 0x48
	RegFrameSup    = 0x50 // Upper 16 bits of the frame count

	// RegBlockSize is the size of the mapped register window
	RegBlockSize = 0x54
)

// Control is the value of the CONTROL register
type Control uint32

// CONTROL register bits
const (
	ControlEnable     Control = 1 << 0
	ControlMaster     Control = 1 << 1
	ControlRxDataInt  Control = 1 << 4
	ControlTxDataInt  Control = 1 << 5
	ControlRxOverInt  Control = 1 << 6
	ControlTxUnderInt Control = 1 << 7
	ControlSPO        Control = 1 << 24 // Clock polarity
	ControlSPH        Control = 1 << 25 // Clock phase
	ControlSPS        Control = 1 << 26 // Hold select for the whole message
	ControlFrameURun  Control = 1 << 27
	ControlClkMode    Control = 1 << 28
	ControlBigFIFO    Control = 1 << 29
	ControlOENOff     Control = 1 << 30
	ControlReset      Control = 1 << 31

	ControlModeMask     Control = 0x3 << 2
	ControlFrameCntMask Control = 0xFFFF << controlFrameCntShift

	// ControlIntMask covers the four interrupt source enables
	ControlIntMask = ControlRxDataInt | ControlTxDataInt | ControlRxOverInt | ControlTxUnderInt

	// ControlModeBits covers CPOL/CPHA
	ControlModeBits = ControlSPO | ControlSPH

	controlFrameCntShift = 8
)

// Frame protocol values for the CONTROL mode field
const (
	FrameProtocolMotorola Control = 0 << 2
	FrameProtocolTI       Control = 1 << 2
	FrameProtocolNSC      Control = 2 << 2
)

// Has reports whether all bits in mask are set
func (c Control) Has(mask Control) bool {
	return c&mask == mask
}

// FrameCount returns the low 16 bits of the transfer length
func (c Control) FrameCount() uint16 {
	return uint16((c & ControlFrameCntMask) >> controlFrameCntShift)
}

// WithFrameCount returns c with the frame-count field replaced
func (c Control) WithFrameCount(n uint16) Control {
	return c&^ControlFrameCntMask | Control(n)<<controlFrameCntShift
}

// Status is the value of the STATUS register
type Status uint32

// STATUS register bits
const (
	StatusTxDatSent       Status = 1 << 0
	StatusRxDatRxed       Status = 1 << 1
	StatusRxOverflow      Status = 1 << 2
	StatusTxUnderrun      Status = 1 << 3
	StatusRxFIFOFull      Status = 1 << 4
	StatusRxFIFOFullNext  Status = 1 << 5
	StatusRxFIFOEmpty     Status = 1 << 6
	StatusRxFIFOEmptyNext Status = 1 << 7
	StatusTxFIFOFull      Status = 1 << 8
	StatusTxFIFOFullNext  Status = 1 << 9
	StatusTxFIFOEmpty     Status = 1 << 10
	StatusTxFIFOEmptyNext Status = 1 << 11
	StatusFrameStart      Status = 1 << 12
	StatusSSel            Status = 1 << 13
	StatusActive          Status = 1 << 14
)

// Has reports whether all bits in mask are set
func (s Status) Has(mask Status) bool {
	return s&mask == mask
}

// IntStatus is the value of the MIS, RIS and INT_CLEAR registers
type IntStatus uint32

// Interrupt bits
const (
	IntTxDone      IntStatus = 1 << 0
	IntRxReady     IntStatus = 1 << 1
	IntRxOverflow  IntStatus = 1 << 2
	IntTxUnderrun  IntStatus = 1 << 3
	IntDefinedMask IntStatus = 0xF
)

// Has reports whether all bits in mask are set
func (i IntStatus) Has(mask IntStatus) bool {
	return i&mask == mask
}

// SlaveSelect is the value of the SLAVE_SELECT register
type SlaveSelect uint32

// SLAVE_SELECT register bits
const (
	SSelMask   SlaveSelect = 0xFF
	SSelDirect SlaveSelect = 1 << 8
	SSelOut    SlaveSelect = 1 << 9
)

// Selected reports whether chip-select line cs is driven
func (s SlaveSelect) Selected(cs uint8) bool {
	return s&(1<<cs) != 0
}

// With returns s with chip-select bit cs set or cleared
func (s SlaveSelect) With(cs uint8, on bool) SlaveSelect {
	s &^= 1 << cs
	if on {
		s |= 1 << cs
	}
	return s
}
