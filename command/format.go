package command

import (
	"errors"
	"fmt"
	"strings"

	"corespi/protocol"
)

// ParamKind is the wire type of a message parameter
type ParamKind uint8

const (
	ParamUint  ParamKind = iota // %u %c %hu
	ParamInt                    // %i %hi
	ParamBytes                  // %*s %.*s
)

// Param is one "name=%x" field of a message format
type Param struct {
	Name string
	Kind ParamKind
}

var errBadFormat = errors.New("bad message format")

// ParseFormat parses a format such as "oid=%c data=%*s"
func ParseFormat(format string) ([]Param, error) {
	var params []Param
	for _, field := range strings.Fields(format) {
		name, typ, ok := strings.Cut(field, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: %q", errBadFormat, field)
		}
		var kind ParamKind
		switch typ {
		case "%u", "%c", "%hu":
			kind = ParamUint
		case "%i", "%hi":
			kind = ParamInt
		case "%*s", "%.*s":
			kind = ParamBytes
		default:
			return nil, fmt.Errorf("%w: unknown type %q", errBadFormat, typ)
		}
		params = append(params, Param{Name: name, Kind: kind})
	}
	return params, nil
}

// Args are decoded message parameters. Integers are uint32 or int32,
// byte strings are []byte.
type Args map[string]any

// Uint returns an unsigned parameter, zero if absent
func (a Args) Uint(name string) uint32 {
	switch v := a[name].(type) {
	case uint32:
		return v
	case int32:
		return uint32(v)
	}
	return 0
}

// Int returns a signed parameter, zero if absent
func (a Args) Int(name string) int32 {
	switch v := a[name].(type) {
	case int32:
		return v
	case uint32:
		return int32(v)
	}
	return 0
}

// Bytes returns a byte-string parameter
func (a Args) Bytes(name string) []byte {
	b, _ := a[name].([]byte)
	return b
}

// Decode reads params from data, advancing it
func Decode(data *[]byte, params []Param) (Args, error) {
	args := make(Args, len(params))
	for _, p := range params {
		switch p.Kind {
		case ParamUint:
			v, err := protocol.DecodeVLQUint(data)
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", p.Name, err)
			}
			args[p.Name] = v
		case ParamInt:
			v, err := protocol.DecodeVLQInt(data)
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", p.Name, err)
			}
			args[p.Name] = v
		case ParamBytes:
			v, err := protocol.DecodeVLQBytes(data)
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", p.Name, err)
			}
			args[p.Name] = append([]byte(nil), v...)
		}
	}
	return args, nil
}

// Encode appends values for params in order. Integer parameters accept any
// Go integer type; byte strings accept []byte or string.
func Encode(dst []byte, params []Param, values ...any) ([]byte, error) {
	if len(values) != len(params) {
		return dst, fmt.Errorf("expected %d values, got %d", len(params), len(values))
	}
	for i, p := range params {
		switch p.Kind {
		case ParamUint, ParamInt:
			v, ok := toInt(values[i])
			if !ok {
				return dst, fmt.Errorf("%s: expected integer, got %T", p.Name, values[i])
			}
			dst = protocol.AppendVLQInt(dst, int32(v))
		case ParamBytes:
			switch v := values[i].(type) {
			case []byte:
				dst = protocol.AppendVLQBytes(dst, v)
			case string:
				dst = protocol.AppendVLQBytes(dst, []byte(v))
			default:
				return dst, fmt.Errorf("%s: expected bytes, got %T", p.Name, values[i])
			}
		}
	}
	return dst, nil
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
