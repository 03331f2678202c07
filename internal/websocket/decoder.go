package websocket

import (
	"encoding/binary"
	"math"
)

type decodeState uint8

const (
	readHeader decodeState = iota
	readExtendedLength
	readMaskKey
	readPayload
	decodeFailed
)

// Decoder turns a byte stream into frames without ever blocking. Feed may be
// given any number of bytes; state for a partially received frame is kept
// until the rest arrives.
type Decoder struct {
	// MaxPayload bounds a single frame; 0 leaves only the MaxInt32 cap.
	MaxPayload uint64
	// RequireMask rejects unmasked frames, as a server must.
	RequireMask bool

	state   decodeState
	hdr     [8]byte
	hdrLen  int
	hdrNeed int
	frame   Frame
	payload []byte
	err     error
}

// need returns how many more bytes the current state wants.
func (d *Decoder) need() int {
	switch d.state {
	case readHeader:
		return 2 - d.hdrLen
	case readExtendedLength, readMaskKey:
		return d.hdrNeed - d.hdrLen
	case readPayload:
		return int(d.frame.Length) - len(d.payload)
	}
	return 0
}

// Reset discards any partial frame.
func (d *Decoder) Reset() {
	*d = Decoder{MaxPayload: d.MaxPayload, RequireMask: d.RequireMask}
}

// Feed consumes bytes from data. When a frame completes it is returned
// together with the number of bytes used; the rest of data has not been
// looked at. A nil frame means everything was consumed and more is needed.
func (d *Decoder) Feed(data []byte) (int, *Frame, error) {
	if d.state == decodeFailed {
		return 0, nil, d.err
	}
	consumed := 0
	for {
		if d.state == readPayload && len(d.payload) == int(d.frame.Length) {
			return consumed, d.complete(), nil
		}
		if consumed == len(data) {
			return consumed, nil, nil
		}
		rest := data[consumed:]

		switch d.state {
		case readHeader:
			n := copy(d.hdr[d.hdrLen:2], rest)
			d.hdrLen += n
			consumed += n
			if d.hdrLen == 2 {
				if err := d.parseHeader(); err != nil {
					return consumed, nil, d.fail(err)
				}
			}

		case readExtendedLength:
			n := copy(d.hdr[d.hdrLen:d.hdrNeed], rest)
			d.hdrLen += n
			consumed += n
			if d.hdrLen == d.hdrNeed {
				var length uint64
				if d.hdrNeed == 2 {
					length = uint64(binary.BigEndian.Uint16(d.hdr[:2]))
				} else {
					length = binary.BigEndian.Uint64(d.hdr[:8])
					if length>>63 != 0 {
						return consumed, nil, d.fail(violation(CloseProtocolError, "64-bit length has the most significant bit set"))
					}
				}
				if err := d.setLength(length); err != nil {
					return consumed, nil, d.fail(err)
				}
			}

		case readMaskKey:
			n := copy(d.frame.MaskKey[d.hdrLen:4], rest)
			d.hdrLen += n
			consumed += n
			if d.hdrLen == 4 {
				d.startPayload()
			}

		case readPayload:
			want := int(d.frame.Length) - len(d.payload)
			if want > len(rest) {
				want = len(rest)
			}
			start := len(d.payload)
			d.payload = append(d.payload, rest[:want]...)
			if d.frame.Masked {
				maskBytes(d.payload[start:], d.frame.MaskKey, start)
			}
			consumed += want
		}
	}
}

func (d *Decoder) fail(err *Error) error {
	d.state = decodeFailed
	d.err = err
	return err
}

func (d *Decoder) parseHeader() *Error {
	b0, b1 := d.hdr[0], d.hdr[1]
	d.frame = Frame{
		FIN:    b0&0x80 != 0,
		RSV:    b0 & 0x70,
		Opcode: Opcode(b0 & 0x0F),
		Masked: b1&0x80 != 0,
	}
	f := &d.frame
	if f.RSV != 0 {
		return violation(CloseProtocolError, "reserved bits set without a negotiated extension")
	}
	if !f.Opcode.valid() {
		return violation(CloseProtocolError, "unknown opcode 0x%X", byte(f.Opcode))
	}
	if f.Opcode.IsControl() && !f.FIN {
		return violation(CloseProtocolError, "fragmented %s frame", f.Opcode)
	}
	if d.RequireMask && !f.Masked {
		return violation(CloseProtocolError, "unmasked frame from client")
	}

	d.hdrLen = 0
	switch n := b1 & 0x7F; n {
	case 126:
		d.state = readExtendedLength
		d.hdrNeed = 2
	case 127:
		d.state = readExtendedLength
		d.hdrNeed = 8
	default:
		return d.setLength(uint64(n))
	}
	if f.Opcode.IsControl() {
		return violation(CloseProtocolError, "%s frame with extended length", f.Opcode)
	}
	return nil
}

func (d *Decoder) setLength(n uint64) *Error {
	d.frame.Length = n
	if d.frame.Opcode.IsControl() && n > MaxControlPayload {
		return violation(CloseProtocolError, "%s payload of %d bytes exceeds %d", d.frame.Opcode, n, MaxControlPayload)
	}
	if d.MaxPayload > 0 && n > d.MaxPayload {
		return tooLarge("frame payload of %d bytes exceeds %d", n, d.MaxPayload)
	}
	if n > math.MaxInt32 {
		return tooLarge("frame payload of %d bytes exceeds %d", n, math.MaxInt32)
	}
	d.hdrLen = 0
	if d.frame.Masked {
		d.state = readMaskKey
		return nil
	}
	d.startPayload()
	return nil
}

func (d *Decoder) startPayload() {
	d.state = readPayload
	// grow with the data actually received rather than the declared length
	d.payload = make([]byte, 0, min(int(d.frame.Length), 4096))
}

func (d *Decoder) complete() *Frame {
	f := d.frame
	f.Payload = d.payload
	d.frame = Frame{}
	d.payload = nil
	d.hdrLen = 0
	d.state = readHeader
	return &f
}
