package core

import "errors"

// Controller errors
var (
	// ErrInvalidFrequency indicates no clock divider can produce the requested rate
	ErrInvalidFrequency = errors.New("invalid SPI clock frequency")

	// ErrRxOverflow indicates the receive FIFO overflowed during a transfer
	ErrRxOverflow = errors.New("RX FIFO overflow")

	// ErrTxUnderrun indicates the transmit FIFO ran dry during a transfer
	ErrTxUnderrun = errors.New("TX FIFO underrun")

	// ErrBusy indicates a transfer is already in flight
	ErrBusy = errors.New("transfer in progress")

	// ErrClosed indicates the controller has been torn down
	ErrClosed = errors.New("controller closed")

	// ErrInvalidChipSelect indicates a chip select outside the configured range
	ErrInvalidChipSelect = errors.New("invalid chip select")

	// ErrUnsupportedMode indicates mode bits the controller cannot honour
	ErrUnsupportedMode = errors.New("unsupported SPI mode")

	// ErrTransferTooLong indicates a transfer longer than MaxTransferLen
	ErrTransferTooLong = errors.New("transfer too long")

	// ErrShortBuffer indicates a TX or RX buffer shorter than the transfer length
	ErrShortBuffer = errors.New("buffer shorter than transfer length")
)
