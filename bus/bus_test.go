package bus

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/exp/io/spi/driver"

	"corespi/core"
	"corespi/sim"
)

type rig struct {
	ctrl *core.Controller
	dev  *sim.Device
	bus  *Bus

	mu       sync.Mutex
	selected []core.SlaveSelect // SLAVE_SELECT seen with each byte
}

func newRig(t *testing.T, run bool) *rig {
	t.Helper()
	core.SetLogger(core.NewLogger(io.Discard))

	line := sim.NewLine()
	dev := sim.NewDevice(line)
	ctrl, err := core.New(dev, sim.NewClock(100000000), line, core.Config{Name: "spi0", Logger: core.NewLogger(io.Discard)})
	if err != nil {
		t.Fatalf("core.New failed: %v", err)
	}

	r := &rig{ctrl: ctrl, dev: dev, bus: New(ctrl)}
	dev.SetResponder(func(sel core.SlaveSelect, b byte) byte {
		r.mu.Lock()
		r.selected = append(r.selected, sel)
		r.mu.Unlock()
		return b ^ 0xFF
	})

	if run {
		r.run(t)
	}
	return r
}

func (r *rig) run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go r.dev.Run(ctx, 5*time.Microsecond)
}

func invert(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = ^b[i]
	}
	return out
}

func TestDoRunsTransfersUnderOneSelect(t *testing.T) {
	r := newRig(t, true)
	dev := Device{ChipSelect: 2, Mode: core.Mode3}

	tx1 := []byte{0x9F, 0x00, 0x00}
	rx1 := make([]byte, 3)
	tx2 := make([]byte, 70)
	for i := range tx2 {
		tx2[i] = byte(i)
	}
	rx2 := make([]byte, 70)

	err := r.bus.Do(context.Background(), dev,
		&core.Transfer{Tx: tx1, Rx: rx1, Len: 3},
		&core.Transfer{Tx: tx2, Rx: rx2, Len: 70},
	)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}

	if diff := cmp.Diff(invert(tx1), rx1); diff != "" {
		t.Errorf("First RX mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(invert(tx2), rx2); diff != "" {
		t.Errorf("Second RX mismatch (-want +got):\n%s", diff)
	}

	r.mu.Lock()
	for i, sel := range r.selected {
		if !sel.Selected(2) {
			t.Fatalf("Byte %d shifted without chip select 2 asserted", i)
		}
	}
	r.mu.Unlock()

	if r.dev.SlaveSelect().Selected(2) {
		t.Error("Chip select left asserted after the message")
	}
	control := r.dev.Control()
	if !control.Has(core.ControlSPO) || !control.Has(core.ControlSPH) {
		t.Errorf("Expected mode 3 programmed, CONTROL=0x%08X", uint32(control))
	}
}

func TestDoSpeed(t *testing.T) {
	r := newRig(t, true)

	if err := r.bus.Do(context.Background(), Device{MaxSpeedHz: 10000000}, &core.Transfer{Len: 1}); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if got := r.dev.Read32(core.RegClkGen); got != 4 {
		t.Errorf("Expected CLK_GEN 4 for 10 MHz, got %d", got)
	}

	// Per-transfer speed wins over the device setting
	if err := r.bus.Do(context.Background(), Device{MaxSpeedHz: 10000000}, &core.Transfer{Len: 1, SpeedHz: 5000000}); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if got := r.dev.Read32(core.RegClkGen); got != 9 {
		t.Errorf("Expected CLK_GEN 9 for 5 MHz, got %d", got)
	}

	if got := r.bus.SpeedHz(Device{}); got != 100000000 {
		t.Errorf("Expected controller maximum, got %d", got)
	}
	if got := r.bus.SpeedHz(Device{MaxSpeedHz: 200000000}); got != 100000000 {
		t.Errorf("Expected speed clamped to controller maximum, got %d", got)
	}
}

func TestDoActiveHighSelect(t *testing.T) {
	r := newRig(t, true)
	dev := Device{ChipSelect: 1, CSActiveHigh: true}

	if err := r.bus.Setup(dev); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if !r.dev.SlaveSelect().Selected(1) {
		t.Fatal("Expected active-high select driven to idle")
	}

	if err := r.bus.Do(context.Background(), dev, &core.Transfer{Len: 2}); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	r.mu.Lock()
	for _, sel := range r.selected {
		if sel.Selected(1) {
			t.Error("Active-high select bit must be cleared while asserted")
		}
	}
	r.mu.Unlock()
	if !r.dev.SlaveSelect().Selected(1) {
		t.Error("Expected active-high select back at idle")
	}
}

func TestSetupSwitchesSelectPolarity(t *testing.T) {
	r := newRig(t, true)
	h := r.bus.Device(2)

	if err := h.Configure(core.Mode0, 0, true); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if !r.dev.SlaveSelect().Selected(2) {
		t.Fatal("Expected active-high select idle with its bit set")
	}

	if err := h.Configure(core.Mode0, 0, false); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if r.dev.SlaveSelect().Selected(2) {
		t.Errorf("Expected active-low select idle with its bit clear, SLAVE_SELECT=0x%X", uint32(r.dev.SlaveSelect()))
	}

	if err := r.bus.Setup(Device{ChipSelect: 3}); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if r.dev.SlaveSelect().Selected(3) {
		t.Error("Expected a fresh active-low select idle")
	}
}

func TestDoStopsAtFirstError(t *testing.T) {
	r := newRig(t, true)

	rx := make([]byte, 4)
	err := r.bus.Do(context.Background(), Device{},
		&core.Transfer{Len: 4, SpeedHz: 1},
		&core.Transfer{Rx: rx, Len: 4},
	)
	if !errors.Is(err, core.ErrInvalidFrequency) {
		t.Fatalf("Expected ErrInvalidFrequency, got %v", err)
	}
	if len(r.dev.MOSI()) != 0 {
		t.Error("Transfers after the failure must be skipped")
	}
	if r.dev.SlaveSelect().Selected(0) {
		t.Error("Chip select left asserted after a failed message")
	}
}

func TestDoInvalidChipSelect(t *testing.T) {
	r := newRig(t, false)

	if err := r.bus.Do(context.Background(), Device{ChipSelect: 8}); !errors.Is(err, core.ErrInvalidChipSelect) {
		t.Errorf("Expected ErrInvalidChipSelect, got %v", err)
	}
	if err := r.bus.Setup(Device{ChipSelect: 8}); !errors.Is(err, core.ErrInvalidChipSelect) {
		t.Errorf("Expected ErrInvalidChipSelect from Setup, got %v", err)
	}
}

func TestDoDeadlineBreaksBus(t *testing.T) {
	r := newRig(t, false)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := r.bus.Do(ctx, Device{}, &core.Transfer{Len: 4})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected DeadlineExceeded, got %v", err)
	}
	if !r.bus.Broken() {
		t.Fatal("Expected bus marked broken")
	}
	if err := r.bus.Do(context.Background(), Device{}, &core.Transfer{Len: 1}); !errors.Is(err, ErrBroken) {
		t.Errorf("Expected ErrBroken, got %v", err)
	}

	if err := r.bus.Reset(); !errors.Is(err, core.ErrBusy) {
		t.Errorf("Expected ErrBusy while the abandoned transfer shifts, got %v", err)
	}
	if !r.dev.SlaveSelect().Selected(0) {
		t.Error("Expected the abandoned message to keep its chip select")
	}

	// Let the abandoned transfer finish, then recover
	r.run(t)
	deadline := time.Now().Add(5 * time.Second)
	for r.ctrl.State() != core.StateCompleting {
		if time.Now().After(deadline) {
			t.Fatal("Abandoned transfer never finished")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(5 * time.Millisecond)

	if err := r.bus.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if r.dev.SlaveSelect().Selected(0) {
		t.Error("Reset must release the abandoned chip select")
	}
	if r.bus.Broken() {
		t.Error("Expected bus usable after Reset")
	}

	rx := make([]byte, 2)
	if err := r.bus.Do(context.Background(), Device{}, &core.Transfer{Tx: []byte{1, 2}, Rx: rx, Len: 2}); err != nil {
		t.Fatalf("Do after Reset failed: %v", err)
	}
	if diff := cmp.Diff([]byte{0xFE, 0xFD}, rx); diff != "" {
		t.Errorf("RX mismatch (-want +got):\n%s", diff)
	}
}

func TestDoOverflow(t *testing.T) {
	r := newRig(t, false)
	var buf bytes.Buffer
	r.bus.log = core.NewLogger(&buf)

	errc := make(chan error, 1)
	go func() {
		errc <- r.bus.Do(context.Background(), Device{}, &core.Transfer{Len: 40})
	}()

	deadline := time.Now().Add(5 * time.Second)
	for r.ctrl.State() != core.StateTransferring {
		if time.Now().After(deadline) {
			t.Fatal("Transfer never started")
		}
		time.Sleep(time.Millisecond)
	}
	r.dev.InjectOverflow()
	r.dev.Step()

	if err := <-errc; !errors.Is(err, core.ErrRxOverflow) {
		t.Errorf("Expected ErrRxOverflow, got %v", err)
	}
	if !strings.Contains(buf.String(), "transfer fault") {
		t.Errorf("Expected the fault logged by the issuing path, got %q", buf.String())
	}
}

func TestHandleImplementsSPI(t *testing.T) {
	r := newRig(t, true)
	h := r.bus.Device(3)

	if err := h.Configure(core.Mode1, 2000000, false); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	got, err := h.Transfer(0x5A)
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if got != 0xA5 {
		t.Errorf("Expected 0xA5, got 0x%02X", got)
	}

	rx := make([]byte, 4)
	if err := h.Tx(nil, rx); err != nil {
		t.Fatalf("Tx failed: %v", err)
	}
	if diff := cmp.Diff(invert([]byte{core.FillerByte, core.FillerByte, core.FillerByte, core.FillerByte}), rx); diff != "" {
		t.Errorf("RX mismatch (-want +got):\n%s", diff)
	}

	if err := h.Tx([]byte{1, 2}, make([]byte, 3)); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("Expected ErrLengthMismatch, got %v", err)
	}
}

func TestSplit(t *testing.T) {
	xfers, err := split(make([]byte, core.MaxTransferLen+10), nil)
	if err != nil {
		t.Fatalf("split failed: %v", err)
	}
	if len(xfers) != 2 || xfers[0].Len != core.MaxTransferLen || xfers[1].Len != 10 {
		t.Errorf("Unexpected split into %d transfers", len(xfers))
	}
	if xfers[1].Rx != nil {
		t.Error("Expected nil RX sink preserved")
	}
}

func TestOpener(t *testing.T) {
	r := newRig(t, true)
	o := &Opener{Buses: []*Bus{r.bus}}

	if _, err := o.Open(1, 0); !errors.Is(err, ErrNoBus) {
		t.Errorf("Expected ErrNoBus, got %v", err)
	}
	if _, err := o.Open(0, 8); !errors.Is(err, core.ErrInvalidChipSelect) {
		t.Errorf("Expected ErrInvalidChipSelect, got %v", err)
	}

	conn, err := o.Open(0, 4)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	for _, c := range []struct{ k, v int }{
		{driver.Mode, 2},
		{driver.Bits, 8},
		{driver.Speed, 1000000},
		{driver.Order, OrderMSBFirst},
		{driver.Speed, -1},
	} {
		if err := conn.Configure(c.k, c.v); err != nil {
			t.Errorf("Configure(%d, %d) failed: %v", c.k, c.v, err)
		}
	}
	if err := conn.Configure(driver.Bits, 16); !errors.Is(err, ErrUnsupportedBits) {
		t.Errorf("Expected ErrUnsupportedBits, got %v", err)
	}
	if err := conn.Configure(driver.Order, 1); !errors.Is(err, ErrUnsupportedOrder) {
		t.Errorf("Expected ErrUnsupportedOrder, got %v", err)
	}
	if err := conn.Configure(driver.Mode, 4); !errors.Is(err, core.ErrUnsupportedMode) {
		t.Errorf("Expected ErrUnsupportedMode, got %v", err)
	}

	rx := make([]byte, 2)
	start := time.Now()
	if err := conn.Transfer([]byte{0x0F, 0xF0}, rx, 2*time.Millisecond); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if time.Since(start) < 2*time.Millisecond {
		t.Error("Expected the post-transfer delay")
	}
	if diff := cmp.Diff([]byte{0xF0, 0x0F}, rx); diff != "" {
		t.Errorf("RX mismatch (-want +got):\n%s", diff)
	}
	if got := r.dev.Read32(core.RegClkGen); got != 49 {
		t.Errorf("Expected CLK_GEN 49 for 1 MHz, got %d", got)
	}
	if !r.dev.Control().Has(core.ControlSPO) || r.dev.Control().Has(core.ControlSPH) {
		t.Errorf("Expected mode 2, CONTROL=0x%08X", uint32(r.dev.Control()))
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := conn.Transfer([]byte{0}, nil, 0); !errors.Is(err, core.ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
