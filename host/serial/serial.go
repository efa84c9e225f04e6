// Package serial opens the serial link to the controller firmware
package serial

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// Port is an open serial link
type Port interface {
	io.ReadWriteCloser

	// Flush discards buffered data in both directions
	Flush() error
}

// Config holds serial port settings
type Config struct {
	Device      string        `json:"device"`
	Baud        int           `json:"baud"`
	ReadTimeout time.Duration `json:"read-timeout"` // Zero blocks
}

// DefaultConfig returns the settings the firmware console uses
func DefaultConfig(device string) *Config {
	return &Config{
		Device: device,
		Baud:   250000,
	}
}

// Open opens the port described by cfg
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}
	return port, nil
}
