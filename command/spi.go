package command

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"corespi/bus"
	"corespi/core"
)

// MaxDataLen bounds the data of one spi_transfer so its response fits a frame
const MaxDataLen = 48

// DefaultTransferTimeout bounds one SPI message
const DefaultTransferTimeout = time.Second

// Diagnostics is the controller side the fault and stats commands read
type Diagnostics interface {
	Faults() []core.FaultEvent
	ClearFaults()
	Stats() core.Stats
	DumpFaults(w core.DebugWriter)
}

type spiDevice struct {
	oid      uint8
	dev      bus.Device
	shutdown []byte
}

// SPI is the SPI command set bound to one bus
type SPI struct {
	mu       sync.Mutex
	bus      *bus.Bus
	diag     Diagnostics
	numCS    uint8
	devices  map[uint8]*spiDevice
	shutdown bool
	timeout  time.Duration
	log      *slog.Logger
}

// NewSPI registers the SPI commands on reg
func NewSPI(reg *Registry, b *bus.Bus, diag Diagnostics, numCS uint8) *SPI {
	s := &SPI{
		bus:     b,
		diag:    diag,
		numCS:   numCS,
		devices: make(map[uint8]*spiDevice),
		timeout: DefaultTransferTimeout,
		log:     core.Logger().With("component", "spi"),
	}

	reg.MustRegister("config_spi", "oid=%c cs=%c cs_active_high=%c", s.handleConfigSPI)
	reg.MustRegister("spi_set_bus", "oid=%c mode=%u rate=%u", s.handleSetBus)
	reg.MustRegister("spi_transfer", "oid=%c data=%*s", s.handleTransfer)
	reg.MustRegister("spi_send", "oid=%c data=%*s", s.handleSend)
	reg.MustRegister("config_spi_shutdown", "oid=%c data=%*s", s.handleConfigShutdown)
	reg.MustRegister("get_faults", "", s.handleGetFaults)
	reg.MustRegister("clear_faults", "", s.handleClearFaults)
	reg.MustRegister("get_stats", "", s.handleGetStats)
	reg.MustRegister("emergency_stop", "", s.handleEmergencyStop)

	reg.MustRegister("spi_transfer_response", "oid=%c response=%*s", nil)
	reg.MustRegister("fault", "kind=%c seq=%u rx=%u tx=%u", nil)
	reg.MustRegister("stats", "transfers=%u fill=%u drain=%u tx=%u rx=%u overflows=%u underruns=%u unhandled=%u", nil)

	reg.SetConstant("SPI_NUM_CS", numCS)
	reg.SetConstant("SPI_MAX_DATA", MaxDataLen)
	reg.SetConstant("SPI_FIFO_DEPTH", core.FIFODepth)
	return s
}

func (s *SPI) device(oid uint32) (*spiDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return nil, ErrShutdown
	}
	d, ok := s.devices[uint8(oid)]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownOID, oid)
	}
	return d, nil
}

// config_spi oid=%c cs=%c cs_active_high=%c
func (s *SPI) handleConfigSPI(args Args, out *Output) error {
	oid := uint8(args.Uint("oid"))
	cs := args.Uint("cs")
	if cs >= uint32(s.numCS) {
		return core.ErrInvalidChipSelect
	}

	d := &spiDevice{
		oid: oid,
		dev: bus.Device{ChipSelect: uint8(cs), CSActiveHigh: args.Uint("cs_active_high") != 0},
	}
	// Drives an active-high select to its idle level
	if err := s.bus.Setup(d.dev); err != nil {
		return err
	}

	s.mu.Lock()
	s.devices[oid] = d
	s.mu.Unlock()
	return nil
}

// spi_set_bus oid=%c mode=%u rate=%u
func (s *SPI) handleSetBus(args Args, out *Output) error {
	d, err := s.device(args.Uint("oid"))
	if err != nil {
		return err
	}
	mode := args.Uint("mode")
	if mode > uint32(core.Mode3) {
		return core.ErrUnsupportedMode
	}

	dev := d.dev
	dev.Mode = core.Mode(mode)
	dev.MaxSpeedHz = args.Uint("rate")
	if err := s.bus.Setup(dev); err != nil {
		return err
	}

	s.mu.Lock()
	d.dev = dev
	s.mu.Unlock()
	return nil
}

func (s *SPI) exchange(d *spiDevice, tx, rx []byte) error {
	if len(tx) > MaxDataLen {
		return fmt.Errorf("%d bytes: %w", len(tx), core.ErrTransferTooLong)
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.mu.Lock()
	dev := d.dev
	s.mu.Unlock()
	return s.bus.Do(ctx, dev, &core.Transfer{Tx: tx, Rx: rx, Len: len(tx)})
}

// spi_transfer oid=%c data=%*s
func (s *SPI) handleTransfer(args Args, out *Output) error {
	d, err := s.device(args.Uint("oid"))
	if err != nil {
		return err
	}
	tx := args.Bytes("data")
	rx := make([]byte, len(tx))
	if err := s.exchange(d, tx, rx); err != nil {
		return err
	}
	return out.Send("spi_transfer_response", d.oid, rx)
}

// spi_send oid=%c data=%*s
func (s *SPI) handleSend(args Args, out *Output) error {
	d, err := s.device(args.Uint("oid"))
	if err != nil {
		return err
	}
	return s.exchange(d, args.Bytes("data"), nil)
}

// config_spi_shutdown oid=%c data=%*s
func (s *SPI) handleConfigShutdown(args Args, out *Output) error {
	d, err := s.device(args.Uint("oid"))
	if err != nil {
		return err
	}
	msg := args.Bytes("data")
	if len(msg) > MaxDataLen {
		return core.ErrTransferTooLong
	}

	s.mu.Lock()
	d.shutdown = msg
	s.mu.Unlock()
	return nil
}

func (s *SPI) handleGetFaults(args Args, out *Output) error {
	for _, f := range s.diag.Faults() {
		if err := out.Send("fault", uint8(f.Kind), f.Seq, f.RxLen, f.TxLen); err != nil {
			return err
		}
	}
	return nil
}

func (s *SPI) handleClearFaults(args Args, out *Output) error {
	s.diag.ClearFaults()
	return nil
}

func (s *SPI) handleGetStats(args Args, out *Output) error {
	st := s.diag.Stats()
	return out.Send("stats", st.Transfers, st.FillBursts, st.DrainBursts, st.BytesTx, st.BytesRx,
		st.Overflows, st.Underruns, st.Unhandled)
}

func (s *SPI) handleEmergencyStop(args Args, out *Output) error {
	s.Shutdown()
	return nil
}

// Shutdown sends every configured shutdown message and refuses further
// SPI commands. Failures are logged; every device gets its attempt.
func (s *SPI) Shutdown() {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.shutdown = true
	var pending []*spiDevice
	for _, d := range s.devices {
		if len(d.shutdown) > 0 {
			pending = append(pending, d)
		}
	}
	s.mu.Unlock()

	for _, d := range pending {
		if err := s.exchange(d, d.shutdown, nil); err != nil {
			s.log.Error("shutdown message failed", "oid", d.oid, "err", err)
		}
	}
	if len(s.diag.Faults()) > 0 {
		s.diag.DumpFaults(func(line string) { s.log.Warn(line) })
	}
	s.log.Warn("spi shut down", "devices", len(pending))
}

// IsShutdown reports whether Shutdown ran
func (s *SPI) IsShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}
