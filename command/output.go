package command

import (
	"fmt"

	"corespi/protocol"
)

// Output collects the response messages of one request
type Output struct {
	reg  *Registry
	msgs [][]byte
}

// NewOutput creates an empty output for reg
func NewOutput(reg *Registry) *Output {
	return &Output{reg: reg}
}

// Send queues response name with values in format order
func (o *Output) Send(name string, values ...any) error {
	cmd, ok := o.reg.ByName(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	msg := protocol.AppendVLQUint(nil, uint32(cmd.ID))
	msg, err := Encode(msg, cmd.Params, values...)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if len(msg) > protocol.MessagePayloadMax {
		return fmt.Errorf("%s: %w", name, protocol.ErrPayloadTooLarge)
	}
	o.msgs = append(o.msgs, msg)
	return nil
}

// Messages returns the queued messages
func (o *Output) Messages() [][]byte {
	return o.msgs
}

// Payloads packs the messages into as few frame payloads as possible
func (o *Output) Payloads() [][]byte {
	var payloads [][]byte
	var cur []byte
	for _, msg := range o.msgs {
		if len(cur)+len(msg) > protocol.MessagePayloadMax {
			payloads = append(payloads, cur)
			cur = nil
		}
		cur = append(cur, msg...)
	}
	if len(cur) > 0 {
		payloads = append(payloads, cur)
	}
	return payloads
}
