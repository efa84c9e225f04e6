package protocol

// Frame is one decoded frame
type Frame struct {
	Seq     uint8
	Payload []byte
}

// AppendFrame appends payload framed with seq
func AppendFrame(dst []byte, seq uint8, payload []byte) ([]byte, error) {
	if len(payload) > MessagePayloadMax {
		return dst, ErrPayloadTooLarge
	}

	start := len(dst)
	dst = append(dst, byte(len(payload)+MessageLengthMin), seq)
	dst = append(dst, payload...)
	crc := CRC16(dst[start:])
	return append(dst, byte(crc>>8), byte(crc), MessageSync), nil
}

// FrameDecoder splits a byte stream into frames. Bytes that do not form a
// valid frame are discarded up to the next sync byte.
type FrameDecoder struct {
	buf     []byte
	synced  bool
	dropped uint32
	resyncs uint32
}

// NewFrameDecoder creates a decoder that starts synchronized
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{synced: true}
}

// Feed appends received bytes
func (d *FrameDecoder) Feed(data []byte) {
	d.buf = append(d.buf, data...)
}

// Next returns the next complete frame. The payload is a copy.
func (d *FrameDecoder) Next() (Frame, bool) {
	for len(d.buf) > 0 {
		if !d.synced {
			i := indexSync(d.buf)
			if i < 0 {
				d.dropped += uint32(len(d.buf))
				d.buf = d.buf[:0]
				return Frame{}, false
			}
			d.dropped += uint32(i)
			d.buf = d.buf[i+1:]
			d.synced = true
			d.resyncs++
			continue
		}

		if d.buf[0] == MessageSync {
			d.buf = d.buf[1:]
			continue
		}
		if len(d.buf) < MessageLengthMin {
			return Frame{}, false
		}

		n := int(d.buf[0])
		seq := d.buf[1]
		if n < MessageLengthMin || n > MessageLengthMax || seq&^MessageSeqMask != MessageDest {
			d.synced = false
			continue
		}
		if len(d.buf) < n {
			return Frame{}, false
		}
		if d.buf[n-1] != MessageSync {
			d.synced = false
			continue
		}
		crc := uint16(d.buf[n-3])<<8 | uint16(d.buf[n-2])
		if crc != CRC16(d.buf[:n-MessageTrailerSize]) {
			d.synced = false
			continue
		}

		f := Frame{
			Seq:     seq,
			Payload: append([]byte(nil), d.buf[MessageHeaderSize:n-MessageTrailerSize]...),
		}
		d.buf = d.buf[n:]
		return f, true
	}
	return Frame{}, false
}

// Dropped returns the number of bytes discarded while resynchronizing
func (d *FrameDecoder) Dropped() uint32 {
	return d.dropped
}

// Resyncs returns how many times the decoder lost and regained sync
func (d *FrameDecoder) Resyncs() uint32 {
	return d.resyncs
}

func indexSync(b []byte) int {
	for i, c := range b {
		if c == MessageSync {
			return i
		}
	}
	return -1
}
