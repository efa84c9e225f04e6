package core

import (
	"encoding/json"
	"log/slog"
)

// Controller defaults and hardware limits
const (
	MaxChipSelect    = 8
	DefaultFrameSize = 8
	FIFODepth        = 32
	MaxTransferLen   = 0xFFFF
	FillerByte       = 0xAA // Sent when a transfer has no TX buffer
	DefaultName      = "corespi"
)

// Config describes one controller instance
type Config struct {
	// Name identifies the controller in logs and on a shared interrupt line
	Name string `json:"name"`

	// NumCS is the number of chip-select lines wired (1-8, default 8)
	NumCS uint8 `json:"num-cs"`

	// BaseAddr is the physical address of the register block (hardware targets only)
	BaseAddr uint64 `json:"base-addr"`

	// Logger overrides the package default logger
	Logger *slog.Logger `json:"-"`
}

// LoadConfig parses a JSON controller configuration
func LoadConfig(jsonData []byte) (*Config, error) {
	var cfg Config

	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration against hardware limits
func (c *Config) Validate() error {
	if c.NumCS == 0 || c.NumCS > MaxChipSelect {
		return ErrInvalidChipSelect
	}
	return nil
}

// applyDefaults fills in missing configuration values
func applyDefaults(cfg *Config) {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.NumCS == 0 {
		cfg.NumCS = MaxChipSelect
	}
}
