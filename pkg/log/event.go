package log

import (
	"fmt"
	"strings"
	"time"
)

// Event is one captured protocol event. Exactly one of the payload
// pointers is set. CBOR keys are small integers.
type Event struct {
	Timestamp    time.Time `cbor:"1,keyasint"`
	ConnectionID string    `cbor:"2,keyasint"`
	Direction    Direction `cbor:"3,keyasint"`
	Layer        Layer     `cbor:"4,keyasint"`
	Category     Category  `cbor:"5,keyasint"`

	LocalRole  Role   `cbor:"6,keyasint,omitempty"`
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// DeviceID and OrganizationID identify the authenticated peer once the
	// handshake has bound them.
	DeviceID       string `cbor:"8,keyasint,omitempty"`
	OrganizationID string `cbor:"9,keyasint,omitempty"`

	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	ControlMsg  *ControlMsgEvent  `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
	Handshake   *HandshakeEvent   `cbor:"15,keyasint,omitempty"`
}

// Direction is the flow of a frame relative to the local end.
type Direction uint8

const (
	DirectionIn Direction = iota
	DirectionOut
)

// Layer is the protocol layer that produced an event.
type Layer uint8

const (
	// LayerTransport carries raw frames and control messages.
	LayerTransport Layer = iota
	// LayerHandshake is the challenge/answer/result exchange.
	LayerHandshake
	// LayerApplication covers commands and connection pooling.
	LayerApplication
)

// Category classifies an event.
type Category uint8

const (
	CategoryMessage Category = iota
	CategoryControl
	CategoryState
	CategoryError
)

// Role is the side of the connection that recorded the event.
type Role uint8

const (
	RoleClient Role = iota
	RoleBackend
)

var (
	directionNames = []string{"IN", "OUT"}
	layerNames     = []string{"TRANSPORT", "HANDSHAKE", "APPLICATION"}
	categoryNames  = []string{"MESSAGE", "CONTROL", "STATE", "ERROR"}
	roleNames      = []string{"CLIENT", "BACKEND"}
	msgTypeNames   = []string{"REQUEST", "RESPONSE"}
	entityNames    = []string{"CONNECTION", "HANDSHAKE", "POOL"}
	controlNames   = []string{"PING", "PONG", "CLOSE"}
)

func nameOf[T ~uint8](names []string, v T) string {
	if int(v) < len(names) {
		return names[v]
	}
	return "UNKNOWN"
}

func parseName[T ~uint8](what string, names []string, s string) (T, error) {
	for i, n := range names {
		if strings.EqualFold(n, s) {
			return T(i), nil
		}
	}
	return 0, fmt.Errorf("invalid %s %q (want one of %s)", what, s, strings.ToLower(strings.Join(names, ", ")))
}

func (d Direction) String() string      { return nameOf(directionNames, d) }
func (l Layer) String() string          { return nameOf(layerNames, l) }
func (c Category) String() string       { return nameOf(categoryNames, c) }
func (r Role) String() string           { return nameOf(roleNames, r) }
func (m MessageType) String() string    { return nameOf(msgTypeNames, m) }
func (s StateEntity) String() string    { return nameOf(entityNames, s) }
func (c ControlMsgType) String() string { return nameOf(controlNames, c) }

// ParseDirection accepts "in" or "out" in any case.
func ParseDirection(s string) (Direction, error) {
	return parseName[Direction]("direction", directionNames, s)
}

// ParseLayer accepts a layer name in any case.
func ParseLayer(s string) (Layer, error) {
	return parseName[Layer]("layer", layerNames, s)
}

// ParseCategory accepts a category name in any case.
func ParseCategory(s string) (Category, error) {
	return parseName[Category]("category", categoryNames, s)
}

// FrameEvent is a raw frame seen by the transport.
type FrameEvent struct {
	// Size counts the length header too.
	Size int    `cbor:"1,keyasint"`
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated is set when Data holds only a prefix of the payload.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent is a decoded request or response.
type MessageEvent struct {
	Type MessageType `cbor:"1,keyasint"`
	Cmd  string      `cbor:"2,keyasint,omitempty"`

	// Status, Reason and ProcessingTime are set on responses.
	Status         string         `cbor:"3,keyasint,omitempty"`
	Reason         string         `cbor:"4,keyasint,omitempty"`
	ProcessingTime *time.Duration `cbor:"5,keyasint,omitempty"`
}

// MessageType tells requests from responses.
type MessageType uint8

const (
	MessageTypeRequest MessageType = iota
	MessageTypeResponse
)

// HandshakeEvent is one handshake frame.
type HandshakeEvent struct {
	// Step is "challenge", "answer" or "result".
	Step string `cbor:"1,keyasint"`

	// AnswerType is the identity kind carried by an answer.
	AnswerType string `cbor:"2,keyasint,omitempty"`

	// Result is the code of a result frame.
	Result string `cbor:"3,keyasint,omitempty"`

	APIVersion string `cbor:"4,keyasint,omitempty"`
}

// StateChangeEvent is a lifecycle transition of a connection, a handshake
// or a pool.
type StateChangeEvent struct {
	Entity   StateEntity `cbor:"1,keyasint"`
	OldState string      `cbor:"2,keyasint,omitempty"`
	NewState string      `cbor:"3,keyasint"`
	Reason   string      `cbor:"4,keyasint,omitempty"`
}

// StateEntity names what changed state.
type StateEntity uint8

const (
	StateEntityConnection StateEntity = iota
	StateEntityHandshake
	StateEntityPool
)

// ControlMsgEvent is a keepalive or close control frame.
type ControlMsgEvent struct {
	Type     ControlMsgType `cbor:"1,keyasint"`
	Sequence uint32         `cbor:"2,keyasint,omitempty"`
}

// ControlMsgType is the kind of control frame.
type ControlMsgType uint8

const (
	ControlMsgPing ControlMsgType = iota
	ControlMsgPong
	ControlMsgClose
)

// ErrorEventData describes a failure at any layer.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`

	// Kind is the backend error kind, when one applies.
	Kind string `cbor:"3,keyasint,omitempty"`

	// Context names the operation that failed.
	Context string `cbor:"4,keyasint,omitempty"`
}
