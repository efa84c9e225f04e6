package core

import "math/bits"

// Clock generator limits
const (
	ClkGenMode1Max = 255
	ClkGenMode0Max = 15
	ClkGenMin      = 0
)

// ClockGen is a CLK_GEN divider setting.
//
// The divider register has two interpretations selected by CONTROL.CLKMODE:
//
//	mode 1: SPICLK = PCLK / (2 * (CLK_GEN + 1)), CLK_GEN 1..255
//	mode 0: SPICLK = PCLK / 2^(CLK_GEN + 1),     CLK_GEN 0..15
type ClockGen struct {
	Mode1 bool
	Value uint32
}

// Divisor returns the PCLK to SPICLK division ratio
func (g ClockGen) Divisor() uint32 {
	if g.Mode1 {
		return 2 * (g.Value + 1)
	}
	return 1 << (g.Value + 1)
}

// RateHz returns the SPI clock produced from a source clock of srcHz
func (g ClockGen) RateHz(srcHz uint32) uint32 {
	return srcHz / g.Divisor()
}

// CalculateClockGen picks the divider for targetHz given a source clock of srcHz.
// Mode 1 is tried first; when its value falls outside 1..255 mode 0 is used.
// The resulting SPI clock never exceeds targetHz.
func CalculateClockGen(srcHz, targetHz uint32) (ClockGen, error) {
	if srcHz == 0 || targetHz == 0 {
		return ClockGen{}, ErrInvalidFrequency
	}
	spiHz := uint64(min(targetHz, srcHz))
	src := uint64(srcHz)

	gen := divRoundUp(src, 2*spiHz) - 1
	if gen > ClkGenMode1Max || gen <= ClkGenMin {
		ratio := divRoundUp(src, spiHz)
		gen = uint64(bits.Len64(ratio) - 1)
		if gen > ClkGenMode0Max {
			return ClockGen{}, ErrInvalidFrequency
		}
		return ClockGen{Mode1: false, Value: uint32(gen)}, nil
	}
	return ClockGen{Mode1: true, Value: uint32(gen)}, nil
}

func divRoundUp(n, d uint64) uint64 {
	return (n + d - 1) / d
}
