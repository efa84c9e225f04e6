package core

import (
	"errors"
	"io"
	"sync"
	"testing"
)

// testClock is a fixed-rate ClockSource
type testClock struct {
	rate      uint32
	enabled   bool
	enableErr error
	onDisable func()
}

func (c *testClock) Rate() uint32 { return c.rate }

func (c *testClock) Enable() error {
	if c.enableErr != nil {
		return c.enableErr
	}
	c.enabled = true
	return nil
}

func (c *testClock) Disable() {
	if c.onDisable != nil {
		c.onDisable()
	}
	c.enabled = false
}

// testLine is an IRQLine that keeps handlers for manual dispatch
type testLine struct {
	handlers  map[string]IRQHandler
	attachErr error
}

func newTestLine() *testLine {
	return &testLine{handlers: make(map[string]IRQHandler)}
}

func (l *testLine) Attach(name string, handler IRQHandler) error {
	if l.attachErr != nil {
		return l.attachErr
	}
	if _, exists := l.handlers[name]; exists {
		return errors.New("handler already attached")
	}
	l.handlers[name] = handler
	return nil
}

func (l *testLine) Detach(name string) {
	delete(l.handlers, name)
}

const testClockHz = 100000000

// newTestController creates a controller over a RegisterFile with a 100MHz clock
func newTestController(t *testing.T) (*Controller, *RegisterFile, *testClock, *testLine) {
	t.Helper()

	regs := NewRegisterFile()
	clk := &testClock{rate: testClockHz}
	line := newTestLine()

	c, err := New(regs, clk, line, Config{Name: "spi0", Logger: NewLogger(io.Discard)})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	regs.ResetTrace()
	return c, regs, clk, line
}

// finalizeRecorder collects FinalizeFunc invocations
type finalizeRecorder struct {
	calls int
	errs  []error
}

func (r *finalizeRecorder) fn(err error) {
	r.calls++
	r.errs = append(r.errs, err)
}

// gatedControl are the CONTROL fields the block ignores while enabled
const gatedControl = ControlModeMask | ControlFrameCntMask | ControlSPO | ControlSPH | ControlClkMode

// checkDisabledWrites verifies that every write to an enable-gated field
// happened while the last written CONTROL value had ENABLE clear
func checkDisabledWrites(t *testing.T, initial Control, trace []Access) {
	t.Helper()

	cur := initial
	for i, a := range trace {
		if !a.Write {
			continue
		}
		switch a.Offset {
		case RegControl:
			v := Control(a.Value)
			if v&gatedControl != cur&gatedControl && cur.Has(ControlEnable) {
				t.Errorf("access %d: CONTROL gated fields changed while enabled (0x%08X -> 0x%08X)", i, uint32(cur), a.Value)
			}
			cur = v
		case RegFrameSize, RegClkGen, RegFrameSup:
			if cur.Has(ControlEnable) {
				t.Errorf("access %d: write to 0x%02X while enabled", i, a.Offset)
			}
		}
	}
	if !cur.Has(ControlEnable) {
		t.Errorf("controller left disabled (CONTROL=0x%08X)", uint32(cur))
	}
}

// Access is one recorded register access
type Access struct {
	Write  bool
	Offset uint32
	Value  uint32
}

// RegisterFile is a plain register array that records every access. It
// gives the data and status registers just enough behaviour to exercise
// the controller without a hardware model: RX_DATA pops a scripted queue, TX_DATA writes are collected, STATUS
// reports RX-empty and TX-full from those queues, and INT_CLEAR clears
// bits in MIS and RIS.
type RegisterFile struct {
	mu     sync.Mutex
	regs   [RegBlockSize / 4]uint32
	trace  []Access
	rx     []byte
	tx     []byte
	txRoom int
}

// NewRegisterFile creates a register file with an unlimited TX FIFO
func NewRegisterFile() *RegisterFile {
	return &RegisterFile{txRoom: -1}
}

// Read32 reads a register
func (f *RegisterFile) Read32(offset uint32) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()

	var v uint32
	switch offset {
	case RegRxData:
		if len(f.rx) > 0 {
			v = uint32(f.rx[0])
			f.rx = f.rx[1:]
		}
	case RegStatus:
		s := Status(f.regs[offset/4])
		if len(f.rx) == 0 {
			s |= StatusRxFIFOEmpty
		}
		if f.txRoom == 0 {
			s |= StatusTxFIFOFull
		}
		v = uint32(s)
	default:
		v = f.regs[offset/4]
	}
	f.trace = append(f.trace, Access{Offset: offset, Value: v})
	return v
}

// Write32 writes a register
func (f *RegisterFile) Write32(offset uint32, value uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.trace = append(f.trace, Access{Write: true, Offset: offset, Value: value})
	switch offset {
	case RegTxData:
		f.tx = append(f.tx, byte(value))
		if f.txRoom > 0 {
			f.txRoom--
		}
	case RegIntClear:
		f.regs[RegMIS/4] &^= value
		f.regs[RegRIS/4] &^= value
	default:
		f.regs[offset/4] = value
	}
}

// Set stores a register value without recording an access
func (f *RegisterFile) Set(offset uint32, value uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[offset/4] = value
}

// Get returns a register value without recording an access
func (f *RegisterFile) Get(offset uint32) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regs[offset/4]
}

// QueueRx appends bytes that subsequent RX_DATA reads return
func (f *RegisterFile) QueueRx(data ...byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rx = append(f.rx, data...)
}

// SetTxRoom limits how many TX_DATA writes are accepted before STATUS
// reports the TX FIFO full. A negative value means unlimited.
func (f *RegisterFile) SetTxRoom(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txRoom = n
}

// TxData returns the bytes written to TX_DATA so far
func (f *RegisterFile) TxData() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.tx...)
}

// Trace returns the recorded accesses
func (f *RegisterFile) Trace() []Access {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Access(nil), f.trace...)
}

// ResetTrace discards recorded accesses and collected TX bytes
func (f *RegisterFile) ResetTrace() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trace = nil
	f.tx = nil
}

// Count returns how many accesses touched offset
func (f *RegisterFile) Count(offset uint32, write bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.trace {
		if a.Offset == offset && a.Write == write {
			n++
		}
	}
	return n
}
