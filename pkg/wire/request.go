package wire

import "github.com/fxamacker/cbor/v2"

// Response statuses.
const (
	StatusOK             = "ok"
	StatusUnknownCommand = "unknown_command"
	StatusBadMessage     = "bad_message"
	StatusError          = "error"
)

// Request is an application frame sent once the handshake is done.
// The payload schema belongs to the command.
//
// CBOR encoding:
//
//	{
//	  1: cmd     // string
//	  2: payload // any, optional
//	}
type Request struct {
	Cmd     string          `cbor:"1,keyasint"`
	Payload cbor.RawMessage `cbor:"2,keyasint,omitempty"`
}

// Response answers a Request.
//
// CBOR encoding:
//
//	{
//	  1: status  // string
//	  2: reason  // string, optional
//	  3: payload // any, optional
//	}
type Response struct {
	Status  string          `cbor:"1,keyasint"`
	Reason  string          `cbor:"2,keyasint,omitempty"`
	Payload cbor.RawMessage `cbor:"3,keyasint,omitempty"`
}

// IsOK returns true if the response status is StatusOK.
func (r *Response) IsOK() bool {
	return r.Status == StatusOK
}

// PingPayload is the payload of the "ping" command and its response.
type PingPayload struct {
	Ping string `cbor:"1,keyasint"`
}

// NewPingRequest builds a ping request carrying msg.
func NewPingRequest(msg string) (*Request, error) {
	payload, err := Marshal(PingPayload{Ping: msg})
	if err != nil {
		return nil, err
	}
	return &Request{Cmd: "ping", Payload: payload}, nil
}
