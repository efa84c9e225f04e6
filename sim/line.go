package sim

import (
	"errors"
	"sync"

	"corespi/core"
)

var errHandlerExists = errors.New("handler already attached")

type lineHandler struct {
	name    string
	handler core.IRQHandler
}

// Line is a shared, level-triggered interrupt line. Every attached handler
// is called on each raise; handlers are never run concurrently.
type Line struct {
	mu       sync.Mutex
	dispatch sync.Mutex
	handlers []lineHandler

	raised    uint32
	unhandled uint32
}

// NewLine creates a line with no handlers
func NewLine() *Line {
	return &Line{}
}

// Attach adds a named handler
func (l *Line) Attach(name string, handler core.IRQHandler) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, h := range l.handlers {
		if h.name == name {
			return errHandlerExists
		}
	}
	l.handlers = append(l.handlers, lineHandler{name: name, handler: handler})
	return nil
}

// Detach removes the handler attached as name
func (l *Line) Detach(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, h := range l.handlers {
		if h.name == name {
			l.handlers = append(l.handlers[:i], l.handlers[i+1:]...)
			return
		}
	}
}

// Raise runs every handler. An interrupt no handler claims is counted as unhandled.
func (l *Line) Raise() core.IRQResult {
	l.dispatch.Lock()
	defer l.dispatch.Unlock()

	l.mu.Lock()
	handlers := append([]lineHandler(nil), l.handlers...)
	l.raised++
	l.mu.Unlock()

	result := core.IRQNone
	for _, h := range handlers {
		if h.handler() == core.IRQHandled {
			result = core.IRQHandled
		}
	}

	if result == core.IRQNone {
		l.mu.Lock()
		l.unhandled++
		l.mu.Unlock()
	}
	return result
}

// Raised returns how many times the line was raised
func (l *Line) Raised() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.raised
}

// Unhandled returns how many raises no handler claimed
func (l *Line) Unhandled() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unhandled
}
