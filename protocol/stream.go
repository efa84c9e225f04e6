package protocol

import (
	"io"
	"sync"
)

// Stream reads and writes frames over a byte stream such as a serial port
type Stream struct {
	r   io.Reader
	w   io.Writer
	dec *FrameDecoder
	buf []byte

	wmu sync.Mutex
}

// NewStream wraps rw
func NewStream(rw io.ReadWriter) *Stream {
	return &Stream{
		r:   rw,
		w:   rw,
		dec: NewFrameDecoder(),
		buf: make([]byte, 256),
	}
}

// ReadFrame blocks until a frame arrives or the reader fails.
// It must not be called concurrently.
func (s *Stream) ReadFrame() (Frame, error) {
	for {
		if f, ok := s.dec.Next(); ok {
			return f, nil
		}
		n, err := s.r.Read(s.buf)
		if n > 0 {
			s.dec.Feed(s.buf[:n])
			continue
		}
		if err != nil {
			return Frame{}, err
		}
	}
}

// WriteFrame frames and writes payload. Safe for concurrent use.
func (s *Stream) WriteFrame(seq uint8, payload []byte) error {
	frame, err := AppendFrame(make([]byte, 0, len(payload)+MessageLengthMin), seq, payload)
	if err != nil {
		return err
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err = s.w.Write(frame)
	return err
}

// Decoder returns the underlying frame decoder
func (s *Stream) Decoder() *FrameDecoder {
	return s.dec
}
