package command

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"corespi/core"
	"corespi/protocol"
)

// maxErrorMsg keeps an error response within one frame
const maxErrorMsg = 40

// Server reads request frames, dispatches every command in them and
// answers with the request's sequence number: zero or more response
// frames followed by an empty acknowledgement frame.
type Server struct {
	reg    *Registry
	stream *protocol.Stream
	log    *slog.Logger
}

// NewServer serves reg over rw
func NewServer(reg *Registry, rw io.ReadWriter) *Server {
	return &Server{
		reg:    reg,
		stream: protocol.NewStream(rw),
		log:    core.Logger().With("component", "server"),
	}
}

// Serve handles requests until the stream ends or ctx is done. A closed
// stream ends Serve without error.
func (s *Server) Serve(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := s.stream.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
		if err := s.handle(f); err != nil {
			return err
		}
	}
}

func (s *Server) handle(f protocol.Frame) error {
	out := NewOutput(s.reg)
	data := f.Payload

	for len(data) > 0 {
		id, err := protocol.DecodeVLQUint(&data)
		if err != nil {
			s.log.Warn("malformed request", "seq", f.Seq, "err", err)
			break
		}
		if err := s.reg.Dispatch(uint16(id), &data, out); err != nil {
			s.log.Warn("command failed", "id", id, "err", err)
			msg := err.Error()
			if len(msg) > maxErrorMsg {
				msg = msg[:maxErrorMsg]
			}
			if err := out.Send("error", id, msg); err != nil {
				return err
			}
			break
		}
	}

	for _, payload := range out.Payloads() {
		if err := s.stream.WriteFrame(f.Seq, payload); err != nil {
			return err
		}
	}
	return s.stream.WriteFrame(f.Seq, nil)
}
