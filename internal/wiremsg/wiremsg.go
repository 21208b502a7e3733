// Package wiremsg codes MPC protocol messages to and from the on-wire
// frame format: from_id:u8 | has_to:u8 | to_id:u8 | payload_len:u32 BE | payload.
package wiremsg

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const headerSize = 1 + 1 + 1 + 4 // from_id, has_to, to_id, payload_len

// ErrPayloadTooLarge is returned when a decoded frame's declared
// payload_len exceeds the bytes actually available.
var ErrPayloadTooLarge = errors.New("wiremsg: payload_len exceeds buffer")

// ErrFrameTooShort is returned when fewer than headerSize bytes are
// available to decode a header.
var ErrFrameTooShort = errors.New("wiremsg: frame shorter than header")

// Frame is one on-wire MPC protocol message.
type Frame struct {
	FromID      uint8
	HasTo       bool
	ToID        uint8 // meaningful only when HasTo
	Payload     []byte
	IsBroadcast bool // derived: !HasTo
}

// Encode serializes f into the wire format.
func Encode(f Frame) []byte {
	buf := make([]byte, headerSize+len(f.Payload))
	buf[0] = f.FromID
	if f.HasTo {
		buf[1] = 1
	}
	buf[2] = f.ToID
	binary.BigEndian.PutUint32(buf[3:7], uint32(len(f.Payload)))
	copy(buf[headerSize:], f.Payload)
	return buf
}

// Decode parses a single frame from buf. It refuses frames whose declared
// payload_len exceeds the remaining buffer.
func Decode(buf []byte) (Frame, error) {
	if len(buf) < headerSize {
		return Frame{}, ErrFrameTooShort
	}
	fromID := buf[0]
	hasTo := buf[1] != 0
	toID := buf[2]
	payloadLen := binary.BigEndian.Uint32(buf[3:7])

	available := uint32(len(buf) - headerSize)
	if payloadLen > available {
		return Frame{}, fmt.Errorf("%w: declared %d, have %d", ErrPayloadTooLarge, payloadLen, available)
	}

	payload := make([]byte, payloadLen)
	copy(payload, buf[headerSize:headerSize+int(payloadLen)])

	return Frame{
		FromID:      fromID,
		HasTo:       hasTo,
		ToID:        toID,
		Payload:     payload,
		IsBroadcast: !hasTo,
	}, nil
}

// Clone returns a deep copy of f's payload. The coordinator MUST clone a
// message before handing it to more than one party, since the underlying
// MPC library consumes (takes ownership of) message objects on handling.
func Clone(f Frame) Frame {
	payload := make([]byte, len(f.Payload))
	copy(payload, f.Payload)
	return Frame{FromID: f.FromID, HasTo: f.HasTo, ToID: f.ToID, Payload: payload, IsBroadcast: f.IsBroadcast}
}
