package core

// IRQResult reports whether an interrupt handler serviced the interrupt
type IRQResult uint8

const (
	IRQNone    IRQResult = iota // Not raised by this device
	IRQHandled                  // Serviced
)

// IRQHandler services an interrupt on a possibly shared line
type IRQHandler func() IRQResult

// IRQLine is an interrupt line that may be shared between devices.
// Each attached handler is called on every interrupt and reports
// whether the interrupt was its own.
type IRQLine interface {
	// Attach registers handler under name
	Attach(name string, handler IRQHandler) error

	// Detach removes the handler registered under name
	Detach(name string)
}
