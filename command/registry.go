// Package command implements the firmware command layer: a registry of
// named messages with their wire formats, the data dictionary the host
// retrieves at connect time, the SPI command set and a frame server.
package command

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
)

// Version is reported in the data dictionary
const Version = "corespi-0.1.0"

var buildVersions = runtime.Compiler + "-" + runtime.Version()

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrUnknownOID     = errors.New("unknown oid")
	ErrShutdown       = errors.New("firmware is shut down")
)

// Handler runs a command. Responses are queued on out.
type Handler func(args Args, out *Output) error

// Command is a registered message. Responses have no handler.
type Command struct {
	ID      uint16
	Name    string
	Format  string
	Params  []Param
	Handler Handler
}

// Dictionary is the data dictionary describing every message
type Dictionary struct {
	Version       string            `json:"version"`
	BuildVersions string            `json:"build_versions"`
	Config        map[string]string `json:"config"`
	Commands      map[string]int    `json:"commands"`
	Responses     map[string]int    `json:"responses"`
}

// Signature returns the "name format" key used in the dictionary
func (c *Command) Signature() string {
	if c.Format == "" {
		return c.Name
	}
	return c.Name + " " + c.Format
}

// Registry holds all messages. Ids are assigned in registration order.
type Registry struct {
	mu        sync.RWMutex
	commands  []*Command
	byName    map[string]*Command
	constants map[string]string
	cached    []byte
}

// NewRegistry creates a registry holding the bootstrap messages, which
// must keep ids 0 and 1
func NewRegistry() *Registry {
	r := &Registry{
		byName:    make(map[string]*Command),
		constants: make(map[string]string),
	}
	r.MustRegister("identify_response", "offset=%u data=%.*s", nil)
	r.MustRegister("identify", "offset=%u count=%c", r.handleIdentify)
	r.MustRegister("error", "id=%u msg=%*s", nil)
	return r
}

// Register adds a message. Registering a name again returns its existing id.
func (r *Registry) Register(name, format string, handler Handler) (uint16, error) {
	params, err := ParseFormat(format)
	if err != nil {
		return 0, fmt.Errorf("register %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cmd, ok := r.byName[name]; ok {
		return cmd.ID, nil
	}
	cmd := &Command{
		ID:      uint16(len(r.commands)),
		Name:    name,
		Format:  format,
		Params:  params,
		Handler: handler,
	}
	r.commands = append(r.commands, cmd)
	r.byName[name] = cmd
	r.cached = nil
	return cmd.ID, nil
}

// MustRegister is Register for formats known to be valid
func (r *Registry) MustRegister(name, format string, handler Handler) uint16 {
	id, err := r.Register(name, format, handler)
	if err != nil {
		panic(err)
	}
	return id
}

// SetConstant publishes a constant in the dictionary
func (r *Registry) SetConstant(name string, value any) {
	r.mu.Lock()
	r.constants[name] = fmt.Sprint(value)
	r.cached = nil
	r.mu.Unlock()
}

// Lookup returns the message with id
func (r *Registry) Lookup(id uint16) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.commands) {
		return nil, false
	}
	return r.commands[id], true
}

// ByName returns the message called name
func (r *Registry) ByName(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.byName[name]
	return cmd, ok
}

// Count returns the number of registered messages
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Dispatch decodes the arguments of command id from data and runs it
func (r *Registry) Dispatch(id uint16, data *[]byte, out *Output) error {
	cmd, ok := r.Lookup(id)
	if !ok || cmd.Handler == nil {
		return fmt.Errorf("%w: id %d", ErrUnknownCommand, id)
	}
	args, err := Decode(data, cmd.Params)
	if err != nil {
		return fmt.Errorf("%s: %w", cmd.Name, err)
	}
	return cmd.Handler(args, out)
}

// Describe builds the dictionary
func (r *Registry) Describe() Dictionary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d := Dictionary{
		Version:       Version,
		BuildVersions: buildVersions,
		Config:        make(map[string]string, len(r.constants)),
		Commands:      make(map[string]int),
		Responses:     make(map[string]int),
	}
	for k, v := range r.constants {
		d.Config[k] = v
	}
	for _, cmd := range r.commands {
		if cmd.Handler != nil {
			d.Commands[cmd.Signature()] = int(cmd.ID)
		} else {
			d.Responses[cmd.Signature()] = int(cmd.ID)
		}
	}
	return d
}

// CompressedDictionary returns the zlib-compressed JSON dictionary
func (r *Registry) CompressedDictionary() ([]byte, error) {
	r.mu.RLock()
	cached := r.cached
	r.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	raw, err := json.Marshal(r.Describe())
	if err != nil {
		return nil, fmt.Errorf("marshal dictionary: %w", err)
	}
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("compress dictionary: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress dictionary: %w", err)
	}

	r.mu.Lock()
	r.cached = buf.Bytes()
	r.mu.Unlock()
	return buf.Bytes(), nil
}

// Names returns every message name sorted by id
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.commands))
	for i, cmd := range r.commands {
		names[i] = cmd.Name
	}
	return names
}

func (r *Registry) handleIdentify(args Args, out *Output) error {
	dict, err := r.CompressedDictionary()
	if err != nil {
		return err
	}

	offset := args.Uint("offset")
	count := args.Uint("count")
	var chunk []byte
	if offset < uint32(len(dict)) {
		end := min(offset+count, uint32(len(dict)))
		chunk = dict[offset:end]
	}
	return out.Send("identify_response", offset, chunk)
}

// SortedSignatures returns the signatures of a dictionary section in id order
func SortedSignatures(section map[string]int) []string {
	sigs := make([]string, 0, len(section))
	for sig := range section {
		sigs = append(sigs, sig)
	}
	sort.Slice(sigs, func(i, j int) bool { return section[sigs[i]] < section[sigs[j]] })
	return sigs
}
