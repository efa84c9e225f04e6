//go:build tinygo

package core

import (
	"runtime/volatile"
	"unsafe"
)

// MMIO accesses a memory-mapped coreSPI register block
type MMIO struct {
	base uintptr
}

// NewMMIO maps the register block at base. Board code calls it with the
// block's Config.BaseAddr and passes the result to New.
func NewMMIO(base uintptr) *MMIO {
	return &MMIO{base: base}
}

func (m *MMIO) reg(offset uint32) *volatile.Register32 {
	return (*volatile.Register32)(unsafe.Pointer(m.base + uintptr(offset)))
}

// Read32 reads the register at offset
func (m *MMIO) Read32(offset uint32) uint32 {
	return m.reg(offset).Get()
}

// Write32 writes the register at offset
func (m *MMIO) Write32(offset uint32, value uint32) {
	m.reg(offset).Set(value)
}
