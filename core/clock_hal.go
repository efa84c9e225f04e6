package core

// ClockSource is the peripheral bus clock feeding the controller.
// The controller borrows it: it is enabled by New and disabled by Close.
type ClockSource interface {
	// Rate returns the current clock frequency in Hz (0 if unknown)
	Rate() uint32

	// Enable starts the clock
	Enable() error

	// Disable stops the clock
	Disable()
}
