// Package bus serializes SPI messages onto a coreSPI controller. It asserts
// chip select around each message, runs the transfers one after another and
// waits for the interrupt-driven completion of each.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"corespi/core"
)

var (
	// ErrBroken is returned after a message was abandoned mid-transfer
	ErrBroken = errors.New("bus broken by an abandoned transfer")

	ErrLengthMismatch   = errors.New("tx and rx lengths differ")
	ErrUnsupportedBits  = errors.New("only 8 bits per word supported")
	ErrUnsupportedOrder = errors.New("only MSB-first bit order supported")
	ErrNoBus            = errors.New("no such bus")
)

// Controller is the transfer engine a Bus drives
type Controller interface {
	Setup(cs uint8, mode core.Mode) error
	SetCS(cs uint8, disable bool) error
	PrepareMessage(mode core.Mode) error
	TransferOne(x *core.Transfer) (core.TransferResult, error)
	SetFinalizeFunc(fn core.FinalizeFunc)
	State() core.TransferState
	MaxSpeedHz() uint32
	NumChipSelect() uint8
}

// Device describes a peripheral on the bus
type Device struct {
	ChipSelect   uint8
	Mode         core.Mode
	MaxSpeedHz   uint32 // Zero uses the controller maximum
	CSActiveHigh bool
}

func (d Device) mode() core.Mode {
	m := d.Mode
	if d.CSActiveHigh {
		m |= core.ModeCSHigh
	}
	return m
}

// completion carries a finished transfer's result back to Do
type completion struct {
	token uint32
	err   error
}

// Bus runs one message at a time on a controller
type Bus struct {
	mu     sync.Mutex
	ctrl   Controller
	log    *slog.Logger
	broken bool
	stale  Device // Owner of the abandoned message

	token uint32        // Last token handed out, guarded by mu
	armed atomic.Uint32 // Token awaiting completion, zero when none
	done  chan completion
}

// New wraps ctrl and takes over its finalize callback
func New(ctrl Controller) *Bus {
	b := &Bus{
		ctrl: ctrl,
		log:  core.Logger().With("component", "bus"),
		done: make(chan completion, 2),
	}
	ctrl.SetFinalizeFunc(b.finalize)
	return b
}

// finalize runs in interrupt context. It takes no lock and never blocks.
func (b *Bus) finalize(err error) {
	token := b.armed.Swap(0)
	if token == 0 {
		return
	}
	select {
	case b.done <- completion{token: token, err: err}:
	default:
	}
}

// arm hands out the token the next completion must carry
func (b *Bus) arm() uint32 {
	b.token++
	if b.token == 0 {
		b.token = 1
	}
	b.armed.Store(b.token)
	return b.token
}

// wait blocks until the transfer holding token completes or ctx ends
func (b *Bus) wait(ctx context.Context, token uint32) error {
	for {
		select {
		case c := <-b.done:
			if c.token == token {
				return c.err
			}
			// Late completion of an abandoned transfer
		case <-ctx.Done():
			b.armed.CompareAndSwap(token, 0)
			return ctx.Err()
		}
	}
}

// Setup validates dev, configures its chip select and drives it idle
func (b *Bus) Setup(dev Device) error {
	if dev.ChipSelect >= b.ctrl.NumChipSelect() {
		return core.ErrInvalidChipSelect
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ctrl.Setup(dev.ChipSelect, dev.mode()); err != nil {
		return err
	}
	if err := b.setCS(dev, false); err != nil {
		return fmt.Errorf("idle chip select %d: %w", dev.ChipSelect, err)
	}
	return nil
}

// SpeedHz returns the clock used for dev's transfers
func (b *Bus) SpeedHz(dev Device) uint32 {
	limit := b.ctrl.MaxSpeedHz()
	if dev.MaxSpeedHz == 0 || dev.MaxSpeedHz > limit {
		return limit
	}
	return dev.MaxSpeedHz
}

// setCS drives dev's chip select to its asserted or idle level
func (b *Bus) setCS(dev Device, assert bool) error {
	enable := assert
	if dev.CSActiveHigh {
		enable = !enable
	}
	return b.ctrl.SetCS(dev.ChipSelect, !enable)
}

// Do runs xfers as one message to dev with chip select held asserted.
// Transfers without a speed use dev's. It returns the first error; the
// remaining transfers are skipped.
//
// The controller has no way to cancel a transfer. When ctx ends first the
// bus is marked broken and refuses messages until Reset.
func (b *Bus) Do(ctx context.Context, dev Device, xfers ...*core.Transfer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.broken {
		return ErrBroken
	}
	if dev.ChipSelect >= b.ctrl.NumChipSelect() {
		return core.ErrInvalidChipSelect
	}

	if err := b.ctrl.PrepareMessage(dev.mode()); err != nil {
		return fmt.Errorf("prepare message: %w", err)
	}
	if err := b.setCS(dev, true); err != nil {
		return fmt.Errorf("assert chip select %d: %w", dev.ChipSelect, err)
	}

	var result error
	for i, x := range xfers {
		xfer := *x
		if xfer.SpeedHz == 0 {
			xfer.SpeedHz = b.SpeedHz(dev)
		}

		token := b.arm()
		state, err := b.ctrl.TransferOne(&xfer)
		if err != nil {
			b.armed.Store(0)
			result = fmt.Errorf("transfer %d: %w", i, err)
			break
		}
		if state == core.TransferDone {
			b.armed.Store(0)
			continue
		}

		err = b.wait(ctx, token)
		if err != nil && err == ctx.Err() {
			b.broken = true
			b.stale = dev
			b.log.Error("transfer abandoned", "cs", dev.ChipSelect, "len", xfer.Len, "err", err)
			return err
		}
		if err != nil {
			b.log.Error("transfer fault", "cs", dev.ChipSelect, "len", xfer.Len, "err", err)
			result = fmt.Errorf("transfer %d: %w", i, err)
			break
		}
	}

	if err := b.setCS(dev, false); err != nil && result == nil {
		result = fmt.Errorf("release chip select %d: %w", dev.ChipSelect, err)
	}
	return result
}

// Broken reports whether a message was abandoned
func (b *Bus) Broken() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.broken
}

// Reset recovers a broken bus once the abandoned transfer has finished. It
// returns core.ErrBusy while the controller is still shifting and releases
// the chip select the abandoned message left asserted.
func (b *Bus) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.broken {
		return nil
	}
	if b.ctrl.State() == core.StateTransferring {
		return core.ErrBusy
	}
	b.armed.Store(0)
	if err := b.setCS(b.stale, false); err != nil {
		return fmt.Errorf("release chip select %d: %w", b.stale.ChipSelect, err)
	}
	b.broken = false
	b.stale = Device{}
	return nil
}

// split cuts a full-duplex exchange into transfers the controller accepts
func split(w, r []byte) ([]*core.Transfer, error) {
	if w != nil && r != nil && len(w) != len(r) {
		return nil, ErrLengthMismatch
	}
	n := max(len(w), len(r))

	var xfers []*core.Transfer
	for off := 0; off < n; off += core.MaxTransferLen {
		end := min(off+core.MaxTransferLen, n)
		x := &core.Transfer{Len: end - off}
		if w != nil {
			x.Tx = w[off:end]
		}
		if r != nil {
			x.Rx = r[off:end]
		}
		xfers = append(xfers, x)
	}
	return xfers, nil
}
