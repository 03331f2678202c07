package websocket

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Opcode is the 4-bit frame type.
type Opcode byte

// WebSocket frame opcodes
const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// IsControl reports whether op is close, ping or pong.
func (op Opcode) IsControl() bool {
	return op&0x8 != 0
}

func (op Opcode) valid() bool {
	switch op {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return true
	}
	return false
}

// String returns a human-readable opcode name
func (op Opcode) String() string {
	switch op {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return fmt.Sprintf("unknown(0x%X)", byte(op))
	}
}

// CloseCode is the status code carried by a close frame.
type CloseCode uint16

const (
	CloseNormal          CloseCode = 1000
	CloseGoingAway       CloseCode = 1001
	CloseProtocolError   CloseCode = 1002
	CloseUnsupportedData CloseCode = 1003
	CloseNoStatus        CloseCode = 1005
	CloseAbnormal        CloseCode = 1006
	CloseInvalidPayload  CloseCode = 1007
	ClosePolicyViolation CloseCode = 1008
	CloseMessageTooBig   CloseCode = 1009
	CloseMandatoryExt    CloseCode = 1010
	CloseInternalError   CloseCode = 1011
	CloseServiceRestart  CloseCode = 1012
	CloseTryAgainLater   CloseCode = 1013
	CloseBadGateway      CloseCode = 1014
)

// validOnWire reports whether a peer may send code in a close frame.
func (c CloseCode) validOnWire() bool {
	switch {
	case c >= 1000 && c <= 1003, c >= 1007 && c <= 1014:
		return true
	case c >= 3000 && c <= 4999:
		return true
	}
	return false
}

// MaxControlPayload is the protocol limit for ping, pong and close payloads.
const MaxControlPayload = 125

// Frame is one decoded wire frame. Payload is already unmasked.
type Frame struct {
	FIN     bool
	RSV     byte // RSV1-3 as the high bits of byte 0
	Opcode  Opcode
	Masked  bool
	Length  uint64
	MaskKey [4]byte
	Payload []byte
}

// String returns a debug representation of the frame
func (f *Frame) String() string {
	return fmt.Sprintf("Frame{FIN=%v, Opcode=%s, Masked=%v, Length=%d}",
		f.FIN, f.Opcode, f.Masked, f.Length)
}

func appendHeader(dst []byte, fin bool, op Opcode, masked bool, n int) []byte {
	b0 := byte(op) & 0x0F
	if fin {
		b0 |= 0x80
	}
	var maskBit byte
	if masked {
		maskBit = 0x80
	}
	dst = append(dst, b0)
	switch {
	case n < 126:
		dst = append(dst, maskBit|byte(n))
	case n <= 0xFFFF:
		dst = append(dst, maskBit|126)
		dst = binary.BigEndian.AppendUint16(dst, uint16(n))
	default:
		dst = append(dst, maskBit|127)
		dst = binary.BigEndian.AppendUint64(dst, uint64(n))
	}
	return dst
}

// AppendFrame appends an unmasked (server to client) frame to dst.
func AppendFrame(dst []byte, fin bool, op Opcode, payload []byte) []byte {
	dst = appendHeader(dst, fin, op, false, len(payload))
	return append(dst, payload...)
}

// AppendMaskedFrame appends a client to server frame masked with key.
func AppendMaskedFrame(dst []byte, fin bool, op Opcode, key [4]byte, payload []byte) []byte {
	dst = appendHeader(dst, fin, op, true, len(payload))
	dst = append(dst, key[:]...)
	start := len(dst)
	dst = append(dst, payload...)
	maskBytes(dst[start:], key, 0)
	return dst
}

// maskBytes XORs b with key in place. pos is the index of b[0] within the
// frame payload, so masking can resume across partial reads.
func maskBytes(b []byte, key [4]byte, pos int) {
	for i := range b {
		b[i] ^= key[(pos+i)&3]
	}
}

// closePayload builds the body of a close frame.
func closePayload(code CloseCode, reason string) []byte {
	if code == 0 || code == CloseNoStatus {
		return nil
	}
	if len(reason) > MaxControlPayload-2 {
		reason = reason[:MaxControlPayload-2]
	}
	p := binary.BigEndian.AppendUint16(make([]byte, 0, 2+len(reason)), uint16(code))
	return append(p, reason...)
}

// ReadFrame reads exactly one frame from r. It drives a Decoder with reads
// sized to what the decoder needs, so nothing past the frame is consumed.
// Masked and unmasked frames are both accepted.
func ReadFrame(r io.Reader, maxPayload uint64) (*Frame, error) {
	d := &Decoder{MaxPayload: maxPayload}
	buf := make([]byte, 0, 14)
	for {
		need := d.need()
		if cap(buf) < need {
			buf = make([]byte, 0, need)
		}
		chunk := buf[:need]
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, fmt.Errorf("failed to read frame: %w", err)
		}
		_, frame, err := d.Feed(chunk)
		if err != nil {
			return nil, err
		}
		if frame != nil {
			return frame, nil
		}
	}
}
