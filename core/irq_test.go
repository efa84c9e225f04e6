package core

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestInterruptNotOurs(t *testing.T) {
	c, regs, _, _ := newTestController(t)

	if c.HandleInterrupt() != IRQNone {
		t.Error("Expected IRQNone with MIS clear")
	}

	// Bits outside the four defined sources are ignored
	regs.Set(RegMIS, 0xF0)
	if c.HandleInterrupt() != IRQNone {
		t.Error("Expected IRQNone with only undefined MIS bits")
	}

	if n := regs.Count(RegIntClear, true); n != 0 {
		t.Errorf("Foreign interrupt must not be acknowledged, saw %d INT_CLEAR writes", n)
	}
	if c.Stats().Unhandled != 2 {
		t.Errorf("Expected 2 unhandled interrupts, got %d", c.Stats().Unhandled)
	}
	if c.State() != StateIdle {
		t.Errorf("State changed by a foreign interrupt: %v", c.State())
	}
}

func TestInterruptRxReadyAcknowledgeOnly(t *testing.T) {
	c, regs, _, _ := newTestController(t)
	rec := &finalizeRecorder{}
	c.SetFinalizeFunc(rec.fn)

	if _, err := c.TransferOne(&Transfer{Len: 4, SpeedHz: 1000000}); err != nil {
		t.Fatalf("TransferOne failed: %v", err)
	}
	regs.QueueRx(1, 2, 3, 4)
	regs.ResetTrace()

	regs.Set(RegMIS, uint32(IntRxReady))
	if c.HandleInterrupt() != IRQHandled {
		t.Fatal("Expected IRQHandled")
	}

	trace := regs.Trace()
	var cleared []uint32
	for _, a := range trace {
		if a.Write && a.Offset == RegIntClear {
			cleared = append(cleared, a.Value)
		}
	}
	if len(cleared) != 1 || cleared[0] != uint32(IntRxReady) {
		t.Errorf("Expected a single RX-ready acknowledge, got %v", cleared)
	}
	if n := regs.Count(RegRxData, false); n != 0 {
		t.Errorf("RX-ready must not drain the FIFO, saw %d reads", n)
	}
	if rec.calls != 0 {
		t.Error("RX-ready must not complete the transfer")
	}
	if c.State() != StateTransferring {
		t.Errorf("Expected transferring state, got %v", c.State())
	}
}

func TestInterruptRxOverflowForcesCompletion(t *testing.T) {
	c, regs, _, _ := newTestController(t)
	rec := &finalizeRecorder{}
	c.SetFinalizeFunc(rec.fn)

	rx := make([]byte, 64)
	if _, err := c.TransferOne(&Transfer{Rx: rx, Len: 64, SpeedHz: 1000000}); err != nil {
		t.Fatalf("TransferOne failed: %v", err)
	}

	regs.Set(RegMIS, uint32(IntRxOverflow))
	c.HandleInterrupt()

	if rec.calls != 1 || !errors.Is(rec.errs[0], ErrRxOverflow) {
		t.Fatalf("Expected completion with ErrRxOverflow, got %d calls %v", rec.calls, rec.errs)
	}
	tx, rxLeft := c.Remaining()
	if tx != 32 || rxLeft != 64 {
		t.Errorf("Faulted transfer must stay where it stopped, got tx=%d rx=%d", tx, rxLeft)
	}
	if c.State() != StateCompleting {
		t.Errorf("Expected completing state, got %v", c.State())
	}
	if regs.Get(RegMIS) != 0 {
		t.Errorf("Expected overflow acknowledged, MIS=0x%X", regs.Get(RegMIS))
	}
	if c.Stats().Overflows != 1 {
		t.Errorf("Expected overflow counted")
	}
	faults := c.Faults()
	if len(faults) != 1 || faults[0].Kind != FaultRxOverflow || faults[0].RxLen != 64 {
		t.Errorf("Unexpected fault ring %+v", faults)
	}

	// A late TX-done only gets acknowledged
	regs.ResetTrace()
	regs.Set(RegMIS, uint32(IntTxDone))
	c.HandleInterrupt()
	if n := regs.Count(RegTxData, true) + regs.Count(RegRxData, false); n != 0 {
		t.Errorf("Abandoned transfer touched the FIFOs %d times", n)
	}
	if rec.calls != 1 {
		t.Errorf("Completion signalled again")
	}
}

func TestInterruptTxUnderrunForcesCompletion(t *testing.T) {
	c, regs, _, _ := newTestController(t)
	rec := &finalizeRecorder{}
	c.SetFinalizeFunc(rec.fn)

	if _, err := c.TransferOne(&Transfer{Len: 100, SpeedHz: 1000000}); err != nil {
		t.Fatalf("TransferOne failed: %v", err)
	}

	regs.Set(RegMIS, uint32(IntTxUnderrun))
	c.HandleInterrupt()

	if rec.calls != 1 || !errors.Is(rec.errs[0], ErrTxUnderrun) {
		t.Fatalf("Expected completion with ErrTxUnderrun, got %d calls %v", rec.calls, rec.errs)
	}
	if c.Stats().Underruns != 1 {
		t.Error("Expected underrun counted")
	}
}

func TestInterruptMultipleBitsSignalOnce(t *testing.T) {
	c, regs, _, _ := newTestController(t)
	rec := &finalizeRecorder{}
	c.SetFinalizeFunc(rec.fn)

	if _, err := c.TransferOne(&Transfer{Len: 8, SpeedHz: 1000000}); err != nil {
		t.Fatalf("TransferOne failed: %v", err)
	}
	regs.QueueRx(make([]byte, 8)...)
	regs.Set(RegMIS, uint32(IntTxDone|IntRxReady|IntRxOverflow|IntTxUnderrun))
	c.HandleInterrupt()

	if rec.calls != 1 {
		t.Fatalf("Expected exactly one completion, got %d", rec.calls)
	}
	if !errors.Is(rec.errs[0], ErrRxOverflow) {
		t.Errorf("Expected overflow reported first, got %v", rec.errs[0])
	}
	if n := regs.Count(RegIntClear, true); n != 4 {
		t.Errorf("Expected all four bits acknowledged, got %d writes", n)
	}
	if regs.Get(RegMIS) != 0 {
		t.Errorf("MIS not fully cleared: 0x%X", regs.Get(RegMIS))
	}
}

func TestFinalizeMayStartNextTransfer(t *testing.T) {
	c, regs, _, _ := newTestController(t)

	started := false
	c.SetFinalizeFunc(func(err error) {
		if started {
			return
		}
		started = true
		if _, err := c.TransferOne(&Transfer{Len: 1, SpeedHz: 1000000}); err != nil {
			t.Errorf("TransferOne from finalize failed: %v", err)
		}
	})

	if _, err := c.TransferOne(&Transfer{Len: 1, SpeedHz: 1000000}); err != nil {
		t.Fatalf("TransferOne failed: %v", err)
	}
	regs.QueueRx(0)
	regs.Set(RegMIS, uint32(IntTxDone))
	c.HandleInterrupt()

	if !started || c.State() != StateTransferring {
		t.Errorf("Expected second transfer in flight, state %v", c.State())
	}
}

func TestFaultRingDump(t *testing.T) {
	var ring FaultRing
	for i := uint32(1); i <= 40; i++ {
		ring.Record(FaultEvent{Kind: FaultTxUnderrun, Seq: i})
	}

	events := ring.Snapshot()
	if len(events) != FaultRingSize {
		t.Fatalf("Expected %d events, got %d", FaultRingSize, len(events))
	}
	if events[0].Seq != 9 || events[len(events)-1].Seq != 40 {
		t.Errorf("Expected oldest 9 and newest 40, got %d and %d", events[0].Seq, events[len(events)-1].Seq)
	}

	var lines []string
	ring.Dump(func(s string) { lines = append(lines, s) })
	if len(lines) != FaultRingSize+2 {
		t.Errorf("Expected %d dump lines, got %d", FaultRingSize+2, len(lines))
	}
	if !strings.Contains(lines[1], "TX_UNDERRUN seq=9") {
		t.Errorf("Unexpected first dump line %q", lines[1])
	}

	ring.Clear()
	if len(ring.Snapshot()) != 0 {
		t.Error("Expected empty ring after Clear")
	}
}

func TestInterruptFaultsOnlyRecorded(t *testing.T) {
	var buf bytes.Buffer
	regs := NewRegisterFile()
	c, err := New(regs, &testClock{rate: testClockHz}, newTestLine(), Config{Name: "spi0", Logger: NewLogger(&buf)})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	rec := &finalizeRecorder{}
	c.SetFinalizeFunc(rec.fn)

	if _, err := c.TransferOne(&Transfer{Len: 64, SpeedHz: 1000000}); err != nil {
		t.Fatalf("TransferOne failed: %v", err)
	}
	buf.Reset()

	regs.Set(RegMIS, uint32(IntRxOverflow|IntTxUnderrun))
	if c.HandleInterrupt() != IRQHandled {
		t.Fatal("Expected IRQHandled")
	}

	if buf.Len() != 0 {
		t.Errorf("Interrupt handler logged: %q", buf.String())
	}
	if rec.calls != 1 || !errors.Is(rec.errs[0], ErrRxOverflow) {
		t.Errorf("Expected completion with ErrRxOverflow, got %d calls %v", rec.calls, rec.errs)
	}
	if n := len(c.Faults()); n != 2 {
		t.Errorf("Expected both faults in the ring, got %d", n)
	}
}
