// Package protocol implements the serial framing used between the host and
// the controller firmware: VLQ-encoded message fields packed into
// CRC16-checked frames.
package protocol

import "errors"

// Frame layout: [len][seq][payload...][crc hi][crc lo][sync]
const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePayloadMax  = MessageLengthMax - MessageLengthMin

	MessageSync    = 0x7E
	MessageDest    = 0x10
	MessageSeqMask = 0x0F
)

var (
	ErrInvalidVLQ      = errors.New("invalid VLQ encoding")
	ErrBufferTooSmall  = errors.New("buffer too small")
	ErrPayloadTooLarge = errors.New("payload too large for one frame")
)

// NextSeq returns the sequence number following seq
func NextSeq(seq uint8) uint8 {
	return (seq+1)&MessageSeqMask | MessageDest
}
