// Package client talks to the controller firmware over a framed serial link
package client

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"corespi/command"
	"corespi/core"
	"corespi/protocol"
)

// Bootstrap message ids, fixed before the dictionary is known
const (
	identifyResponseID = 0
	identifyID         = 1
	errorID            = 2
)

// identifyChunk is the dictionary chunk size requested per identify
const identifyChunk = 40

var (
	ErrNoDictionary   = errors.New("dictionary not loaded")
	ErrUnknownMessage = errors.New("unknown message")
)

// RemoteError is an error reported by the firmware
type RemoteError struct {
	ID  uint32
	Msg string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("command %d failed: %s", e.ID, e.Msg)
}

// Response is one decoded response message
type Response struct {
	Name string
	Args command.Args
}

type message struct {
	id     uint16
	name   string
	params []command.Param
}

// Client issues one command at a time and collects its responses
type Client struct {
	conn   io.ReadWriteCloser
	stream *protocol.Stream
	frames chan protocol.Frame
	done   chan struct{}
	quit   chan struct{}
	err    error // Reader failure, valid once done is closed
	log    *slog.Logger

	closeOnce sync.Once

	mu        sync.Mutex
	seq       uint8
	dict      *command.Dictionary
	commands  map[string]*message
	responses map[uint16]*message
}

// New starts a client on conn
func New(conn io.ReadWriteCloser) *Client {
	c := &Client{
		conn:   conn,
		stream: protocol.NewStream(conn),
		frames: make(chan protocol.Frame, 16),
		done:   make(chan struct{}),
		quit:   make(chan struct{}),
		log:    core.Logger().With("component", "client"),
		seq:    protocol.MessageDest,
	}
	c.bootstrap()
	go c.readLoop()
	return c
}

func (c *Client) bootstrap() {
	offset := command.Param{Name: "offset", Kind: command.ParamUint}
	c.commands = map[string]*message{
		"identify": {id: identifyID, name: "identify", params: []command.Param{offset, {Name: "count", Kind: command.ParamUint}}},
	}
	c.responses = map[uint16]*message{
		identifyResponseID: {id: identifyResponseID, name: "identify_response", params: []command.Param{offset, {Name: "data", Kind: command.ParamBytes}}},
		errorID:            {id: errorID, name: "error", params: []command.Param{{Name: "id", Kind: command.ParamUint}, {Name: "msg", Kind: command.ParamBytes}}},
	}
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		f, err := c.stream.ReadFrame()
		if err != nil {
			c.err = err
			return
		}
		select {
		case c.frames <- f:
		case <-c.quit:
			c.err = io.ErrClosedPipe
			return
		}
	}
}

// Close closes the connection and stops the reader
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.quit) })
	return c.conn.Close()
}

// Identify retrieves and loads the data dictionary
func (c *Client) Identify(ctx context.Context) error {
	var raw []byte
	for {
		resps, err := c.Call(ctx, "identify", len(raw), identifyChunk)
		if err != nil {
			return fmt.Errorf("identify at offset %d: %w", len(raw), err)
		}
		if len(resps) != 1 || resps[0].Name != "identify_response" {
			return fmt.Errorf("identify at offset %d: unexpected response", len(raw))
		}
		if got := resps[0].Args.Uint("offset"); got != uint32(len(raw)) {
			return fmt.Errorf("offset mismatch: expected %d, got %d", len(raw), got)
		}
		chunk := resps[0].Args.Bytes("data")
		raw = append(raw, chunk...)
		if len(chunk) < identifyChunk {
			break
		}
	}
	c.log.Debug("dictionary retrieved", "bytes", len(raw))

	data, err := decompress(raw)
	if err != nil {
		return err
	}
	var dict command.Dictionary
	if err := json.Unmarshal(data, &dict); err != nil {
		return fmt.Errorf("failed to parse dictionary: %w", err)
	}
	return c.load(&dict)
}

// decompress inflates a zlib dictionary; anything else is taken as plain JSON
func decompress(raw []byte) ([]byte, error) {
	if len(raw) < 2 || raw[0] != 0x78 {
		return raw, nil
	}
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress dictionary: %w", err)
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress dictionary: %w", err)
	}
	return data, nil
}

func parseSignature(sig string, id int) (*message, error) {
	name, format, _ := strings.Cut(sig, " ")
	params, err := command.ParseFormat(format)
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", name, err)
	}
	return &message{id: uint16(id), name: name, params: params}, nil
}

func (c *Client) load(dict *command.Dictionary) error {
	commands := make(map[string]*message, len(dict.Commands))
	for sig, id := range dict.Commands {
		m, err := parseSignature(sig, id)
		if err != nil {
			return err
		}
		commands[m.name] = m
	}
	responses := make(map[uint16]*message, len(dict.Responses))
	for sig, id := range dict.Responses {
		m, err := parseSignature(sig, id)
		if err != nil {
			return err
		}
		responses[m.id] = m
	}

	c.mu.Lock()
	c.dict = dict
	c.commands = commands
	c.responses = responses
	c.mu.Unlock()
	return nil
}

// Dictionary returns the loaded dictionary, nil before Identify
func (c *Client) Dictionary() *command.Dictionary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dict
}

// Call sends command name with values in format order and waits for its
// acknowledgement. A firmware error comes back as *RemoteError.
func (c *Client) Call(ctx context.Context, name string, values ...any) ([]Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd, ok := c.commands[name]
	if !ok {
		if c.dict == nil {
			return nil, ErrNoDictionary
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, name)
	}

	payload := protocol.AppendVLQUint(nil, uint32(cmd.id))
	payload, err := command.Encode(payload, cmd.params, values...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	seq := c.seq
	c.seq = protocol.NextSeq(c.seq)
	if err := c.stream.WriteFrame(seq, payload); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	var resps []Response
	for {
		var f protocol.Frame
		select {
		case f = <-c.frames:
		case <-c.done:
			return nil, fmt.Errorf("%s: connection lost: %w", name, c.err)
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w", name, ctx.Err())
		}

		// Left over from an abandoned call
		if f.Seq != seq {
			c.log.Debug("stale frame", "seq", f.Seq, "want", seq)
			continue
		}
		if len(f.Payload) == 0 {
			break
		}
		if resps, err = c.decode(f.Payload, resps); err != nil {
			return nil, err
		}
	}

	for _, r := range resps {
		if r.Name == "error" {
			return resps, &RemoteError{ID: r.Args.Uint("id"), Msg: string(r.Args.Bytes("msg"))}
		}
	}
	return resps, nil
}

func (c *Client) decode(data []byte, resps []Response) ([]Response, error) {
	for len(data) > 0 {
		id, err := protocol.DecodeVLQUint(&data)
		if err != nil {
			return nil, err
		}
		m, ok := c.responses[uint16(id)]
		if !ok {
			return nil, fmt.Errorf("%w: response id %d", ErrUnknownMessage, id)
		}
		args, err := command.Decode(&data, m.params)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m.name, err)
		}
		resps = append(resps, Response{Name: m.name, Args: args})
	}
	return resps, nil
}
