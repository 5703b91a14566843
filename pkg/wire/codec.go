package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Frames are encoded deterministically: canonical key order, definite
// lengths and Unix timestamps. Decoding tolerates indefinite lengths and
// duplicate keys (last one wins) so newer peers are not rejected.
var (
	encMode = mustEncMode(cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix,
	})
	decMode = mustDecMode(cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	})
)

func mustEncMode(opts cbor.EncOptions) cbor.EncMode {
	m, err := opts.EncMode()
	if err != nil {
		panic("wire: " + err.Error())
	}
	return m
}

func mustDecMode(opts cbor.DecOptions) cbor.DecMode {
	m, err := opts.DecMode()
	if err != nil {
		panic("wire: " + err.Error())
	}
	return m
}

func Marshal(v any) ([]byte, error)      { return encMode.Marshal(v) }
func Unmarshal(data []byte, v any) error { return decMode.Unmarshal(data, v) }

type validator interface{ Validate() error }

// pointerTo constrains P to *T with a Validate method.
type pointerTo[T any] interface {
	*T
	validator
}

func encodeFrame(kind string, v validator) ([]byte, error) {
	if err := v.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", kind, err)
	}
	return Marshal(v)
}

func decodeFrame[T any, P pointerTo[T]](kind string, data []byte) (*T, error) {
	v := new(T)
	if err := Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrMalformedFrame, kind, err)
	}
	if err := P(v).Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", kind, err)
	}
	return v, nil
}

// EncodeChallenge stamps c as a challenge frame and encodes it.
func EncodeChallenge(c *Challenge) ([]byte, error) {
	c.Handshake = HandshakeChallenge
	return encodeFrame("challenge", c)
}

// EncodeAnswer stamps a as an answer frame and encodes it.
func EncodeAnswer(a *Answer) ([]byte, error) {
	a.Handshake = HandshakeAnswer
	return encodeFrame("answer", a)
}

// EncodeResult stamps r as a result frame and encodes it.
func EncodeResult(r *Result) ([]byte, error) {
	r.Handshake = HandshakeResult
	return encodeFrame("result", r)
}

func DecodeChallenge(data []byte) (*Challenge, error) { return decodeFrame[Challenge]("challenge", data) }
func DecodeAnswer(data []byte) (*Answer, error)       { return decodeFrame[Answer]("answer", data) }
func DecodeResult(data []byte) (*Result, error)       { return decodeFrame[Result]("result", data) }

// Validate requires a command name.
func (r *Request) Validate() error {
	if r.Cmd == "" {
		return ErrMissingCommand
	}
	return nil
}

func EncodeRequest(req *Request) ([]byte, error)    { return encodeFrame("request", req) }
func DecodeRequest(data []byte) (*Request, error)   { return decodeFrame[Request]("request", data) }
func EncodeResponse(resp *Response) ([]byte, error) { return Marshal(resp) }

func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrMalformedFrame, err)
	}
	return &resp, nil
}
