package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ControlTag wraps control frames so they can be told apart from handshake
// and application frames by their first bytes. The number lies in the
// first-come-first-served range and spells "cirr".
const ControlTag uint64 = 0x63697272

// ControlMessage is a keepalive or close frame handled by the transport.
type ControlMessage struct {
	Type     ControlMessageType `cbor:"1,keyasint"`
	Sequence uint32             `cbor:"2,keyasint,omitempty"`
}

// ControlMessageType is the kind of a control frame. Zero is invalid.
type ControlMessageType uint8

const (
	ControlPing ControlMessageType = iota + 1
	ControlPong

	// ControlClose announces that the sender is going away.
	ControlClose
)

func (t ControlMessageType) String() string {
	switch t {
	case ControlPing:
		return "ping"
	case ControlPong:
		return "pong"
	case ControlClose:
		return "close"
	}
	return fmt.Sprintf("control(%d)", uint8(t))
}

// Ping returns a ping carrying seq.
func Ping(seq uint32) *ControlMessage { return &ControlMessage{Type: ControlPing, Sequence: seq} }

// Pong answers the ping carrying seq.
func Pong(seq uint32) *ControlMessage { return &ControlMessage{Type: ControlPong, Sequence: seq} }

// Close returns a close announcement.
func Close() *ControlMessage { return &ControlMessage{Type: ControlClose} }

// EncodeControlMessage returns msg wrapped in ControlTag.
func EncodeControlMessage(msg *ControlMessage) ([]byte, error) {
	return Marshal(cbor.Tag{Number: ControlTag, Content: msg})
}

// IsControlMessage reports whether data starts with ControlTag. The
// payload itself is not validated.
func IsControlMessage(data []byte) bool {
	const majorTag = 6
	if len(data) == 0 || data[0]>>5 != majorTag {
		return false
	}
	var tag cbor.RawTag
	return Unmarshal(data, &tag) == nil && tag.Number == ControlTag
}

// DecodeControlMessage unwraps a control frame.
func DecodeControlMessage(data []byte) (*ControlMessage, error) {
	var tag cbor.RawTag
	if len(data) == 0 || Unmarshal(data, &tag) != nil || tag.Number != ControlTag {
		return nil, ErrNotControlMessage
	}
	msg := new(ControlMessage)
	if err := Unmarshal(tag.Content, msg); err != nil {
		return nil, fmt.Errorf("%w: control payload: %v", ErrMalformedFrame, err)
	}
	return msg, nil
}
