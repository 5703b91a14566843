package wire

import (
	"errors"
	"fmt"
)

// Handshake frame markers (key 1 of every handshake frame).
const (
	HandshakeChallenge = "challenge"
	HandshakeAnswer    = "answer"
	HandshakeResult    = "result"
)

// ChallengeSize is the number of random bytes in a challenge.
const ChallengeSize = 48

// Frame errors.
var (
	ErrMalformedFrame    = errors.New("malformed frame")
	ErrUnexpectedFrame   = errors.New("unexpected frame")
	ErrNotControlMessage = errors.New("not a control message")
	ErrMissingCommand    = errors.New("missing command")
)

// Challenge is sent by the server right after the connection is opened.
//
// CBOR encoding:
//
//	{
//	  1: "challenge",
//	  2: challenge            // bytes
//	  3: supportedAPIVersions // [string], optional
//	}
type Challenge struct {
	Handshake            string   `cbor:"1,keyasint"`
	Challenge            []byte   `cbor:"2,keyasint"`
	SupportedAPIVersions []string `cbor:"3,keyasint,omitempty"`
}

// Validate checks the frame marker and challenge presence.
func (c *Challenge) Validate() error {
	if c.Handshake != HandshakeChallenge {
		return fmt.Errorf("%w: expected %q, got %q", ErrUnexpectedFrame, HandshakeChallenge, c.Handshake)
	}
	if len(c.Challenge) == 0 {
		return fmt.Errorf("%w: empty challenge", ErrMalformedFrame)
	}
	return nil
}

// AnswerType identifies the identity a client answers with.
type AnswerType uint8

const (
	AnswerAnonymous      AnswerType = 1
	AnswerAuthenticated  AnswerType = 2
	AnswerAdministration AnswerType = 3
)

// String returns the answer type name.
func (t AnswerType) String() string {
	switch t {
	case AnswerAnonymous:
		return "anonymous"
	case AnswerAuthenticated:
		return "authenticated"
	case AnswerAdministration:
		return "administration"
	default:
		return "unknown"
	}
}

// Answer is the client's response to a challenge.
//
// CBOR encoding:
//
//	{
//	  1: "answer",
//	  2: type             // AnswerType
//	  3: clientAPIVersion // string
//	  4: organizationId   // string, anonymous/authenticated
//	  5: rootVerifyKey    // bytes, optional
//	  6: deviceId         // string, authenticated
//	  7: signedAnswer     // bytes, authenticated (signature || challenge)
//	  8: token            // string, administration
//	}
type Answer struct {
	Handshake        string     `cbor:"1,keyasint"`
	Type             AnswerType `cbor:"2,keyasint"`
	ClientAPIVersion string     `cbor:"3,keyasint"`
	OrganizationID   string     `cbor:"4,keyasint,omitempty"`
	RootVerifyKey    []byte     `cbor:"5,keyasint,omitempty"`
	DeviceID         string     `cbor:"6,keyasint,omitempty"`
	SignedAnswer     []byte     `cbor:"7,keyasint,omitempty"`
	Token            string     `cbor:"8,keyasint,omitempty"`
}

// Validate checks that the fields required by the answer type are present.
func (a *Answer) Validate() error {
	if a.Handshake != HandshakeAnswer {
		return fmt.Errorf("%w: expected %q, got %q", ErrUnexpectedFrame, HandshakeAnswer, a.Handshake)
	}
	if a.ClientAPIVersion == "" {
		return fmt.Errorf("%w: missing client API version", ErrMalformedFrame)
	}

	switch a.Type {
	case AnswerAnonymous:
		if a.OrganizationID == "" {
			return fmt.Errorf("%w: anonymous answer without organization", ErrMalformedFrame)
		}
	case AnswerAuthenticated:
		if a.OrganizationID == "" || a.DeviceID == "" || len(a.SignedAnswer) == 0 {
			return fmt.Errorf("%w: incomplete authenticated answer", ErrMalformedFrame)
		}
	case AnswerAdministration:
		if a.Token == "" {
			return fmt.Errorf("%w: administration answer without token", ErrMalformedFrame)
		}
	default:
		return fmt.Errorf("%w: unknown answer type %d", ErrMalformedFrame, a.Type)
	}
	return nil
}

// ResultCode is the server's verdict on an answer.
type ResultCode string

const (
	ResultOK                  ResultCode = "ok"
	ResultBadProtocol         ResultCode = "bad_protocol"
	ResultBadAPIVersion       ResultCode = "bad_api_version"
	ResultBadIdentity         ResultCode = "bad_identity"
	ResultBadAdminToken       ResultCode = "bad_admin_token"
	ResultRevokedDevice       ResultCode = "revoked_device"
	ResultUnknownOrganization ResultCode = "unknown_organization"
	ResultRVKMismatch         ResultCode = "rvk_mismatch"
)

// Result closes the handshake.
//
// CBOR encoding:
//
//	{
//	  1: "result",
//	  2: result           // ResultCode
//	  3: help             // string, optional
//	  4: serverAPIVersion // string, optional
//	}
type Result struct {
	Handshake        string     `cbor:"1,keyasint"`
	Result           ResultCode `cbor:"2,keyasint"`
	Help             string     `cbor:"3,keyasint,omitempty"`
	ServerAPIVersion string     `cbor:"4,keyasint,omitempty"`
}

// Validate checks the frame marker and result presence.
func (r *Result) Validate() error {
	if r.Handshake != HandshakeResult {
		return fmt.Errorf("%w: expected %q, got %q", ErrUnexpectedFrame, HandshakeResult, r.Handshake)
	}
	if r.Result == "" {
		return fmt.Errorf("%w: empty result", ErrMalformedFrame)
	}
	return nil
}
