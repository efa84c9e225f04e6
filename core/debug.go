package core

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
)

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

var (
	// logLevel controls the minimum log level of the default logger
	logLevel = new(slog.LevelVar)

	defaultLogger *slog.Logger
	logMutex      sync.RWMutex
)

func init() {
	logLevel.Set(slog.LevelWarn)
	defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

// SetLogLevel sets the minimum level of the default logger
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

// SetLogger replaces the default logger used by controllers created
// without an explicit Config.Logger
func SetLogger(logger *slog.Logger) {
	logMutex.Lock()
	defer logMutex.Unlock()
	defaultLogger = logger
}

// Logger returns the default logger
func Logger() *slog.Logger {
	logMutex.RLock()
	defer logMutex.RUnlock()
	return defaultLogger
}

// NewLogger creates a text logger writing to w at the default level
func NewLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

// FaultKind classifies a recorded fault
type FaultKind uint8

// Fault kinds
const (
	FaultRxOverflow       FaultKind = 1 // RX FIFO overflowed, transfer forced complete
	FaultTxUnderrun       FaultKind = 2 // TX FIFO underran, transfer forced complete
	FaultInvalidFrequency FaultKind = 3 // No divider for the requested clock
)

func (k FaultKind) String() string {
	switch k {
	case FaultRxOverflow:
		return "RX_OVERFLOW"
	case FaultTxUnderrun:
		return "TX_UNDERRUN"
	case FaultInvalidFrequency:
		return "INVALID_FREQ"
	default:
		return "UNKNOWN"
	}
}

// FaultEvent captures controller state at the time of a fault
type FaultEvent struct {
	Kind  FaultKind
	Seq   uint32 // Transfer sequence number
	RxLen uint32 // Bytes still to receive
	TxLen uint32 // Bytes still to send
}

// FaultRingSize is the number of faults kept for post-mortem
const FaultRingSize = 32

// FaultRing keeps the most recent faults.
// Recording is allocation free so it can run from the interrupt handler.
type FaultRing struct {
	events [FaultRingSize]FaultEvent
	head   uint8
}

// Record appends a fault, overwriting the oldest once full
func (r *FaultRing) Record(evt FaultEvent) {
	idx := r.head
	r.events[idx] = evt
	r.head = (idx + 1) % FaultRingSize
}

// Snapshot returns the recorded faults from oldest to newest
func (r *FaultRing) Snapshot() []FaultEvent {
	var out []FaultEvent
	start := r.head
	for i := uint8(0); i < FaultRingSize; i++ {
		evt := r.events[(start+i)%FaultRingSize]
		if evt.Kind == 0 {
			continue // Empty slot
		}
		out = append(out, evt)
	}
	return out
}

// Clear empties the ring
func (r *FaultRing) Clear() {
	for i := range r.events {
		r.events[i] = FaultEvent{}
	}
	r.head = 0
}

// Dump writes the recorded faults, one line each
func (r *FaultRing) Dump(w DebugWriter) {
	if w == nil {
		return
	}
	w("[FAULT] === Fault Ring Dump ===")
	for _, evt := range r.Snapshot() {
		w("[FAULT] " + evt.Kind.String() +
			" seq=" + strconv.FormatUint(uint64(evt.Seq), 10) +
			" rx=" + strconv.FormatUint(uint64(evt.RxLen), 10) +
			" tx=" + strconv.FormatUint(uint64(evt.TxLen), 10))
	}
	w("[FAULT] === End Dump ===")
}
