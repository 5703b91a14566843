package handshake

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/cirrusvault/cirrus-go/pkg/identity"
	"github.com/cirrusvault/cirrus-go/pkg/version"
	"github.com/cirrusvault/cirrus-go/pkg/wire"
)

// ServerHandshake is the backend side of a handshake: it issues the
// challenge, checks the answer and encodes the result.
type ServerHandshake struct {
	serverVersion version.APIVersion
	supported     []string
	rand          io.Reader

	challenge []byte
	answer    *wire.Answer
}

// ServerOption configures a ServerHandshake.
type ServerOption func(*ServerHandshake)

// WithServerAPIVersion sets the version reported in the result.
func WithServerAPIVersion(v version.APIVersion) ServerOption {
	return func(s *ServerHandshake) {
		s.serverVersion = v
	}
}

// WithSupportedAPIVersions sets the versions advertised in the challenge.
func WithSupportedAPIVersions(versions ...string) ServerOption {
	return func(s *ServerHandshake) {
		s.supported = versions
	}
}

// NewServerHandshake creates the backend side of a handshake.
func NewServerHandshake(opts ...ServerOption) *ServerHandshake {
	s := &ServerHandshake{
		serverVersion: version.MustParse(version.Current),
		rand:          rand.Reader,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BuildChallenge returns an encoded challenge frame with fresh random bytes.
func (s *ServerHandshake) BuildChallenge() ([]byte, error) {
	s.challenge = make([]byte, wire.ChallengeSize)
	if _, err := io.ReadFull(s.rand, s.challenge); err != nil {
		return nil, fmt.Errorf("generate challenge: %w", err)
	}
	return wire.EncodeChallenge(&wire.Challenge{
		Challenge:            s.challenge,
		SupportedAPIVersions: s.supported,
	})
}

// ProcessAnswer decodes an answer and checks the client API version.
// Identity checks are left to the caller (see VerifySignedAnswer).
// The returned error maps to a result code with ResultCodeFor.
func (s *ServerHandshake) ProcessAnswer(data []byte) (*wire.Answer, error) {
	if s.challenge == nil {
		return nil, fmt.Errorf("%w: answer before challenge", ErrProtocol)
	}
	answer, err := wire.DecodeAnswer(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	s.answer = answer

	client, err := version.Parse(answer.ClientAPIVersion)
	if err != nil {
		return answer, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if !s.serverVersion.Compatible(client) {
		return answer, &VersionMismatchError{
			ServerVersion: s.serverVersion.String(),
			ClientVersion: client.String(),
		}
	}
	return answer, nil
}

// VerifySignedAnswer checks that the authenticated answer is the current
// challenge signed by key.
func (s *ServerHandshake) VerifySignedAnswer(key identity.VerifyKey) error {
	if s.answer == nil || s.answer.Type != wire.AnswerAuthenticated {
		return fmt.Errorf("%w: no authenticated answer", ErrProtocol)
	}
	msg, err := key.Verify(s.answer.SignedAnswer)
	if err != nil || !bytes.Equal(msg, s.challenge) {
		return &RejectedError{Result: wire.ResultBadIdentity, Help: "invalid signature"}
	}
	return nil
}

// BuildResult returns an encoded result frame carrying the server version.
func (s *ServerHandshake) BuildResult(code wire.ResultCode, help string) ([]byte, error) {
	return wire.EncodeResult(&wire.Result{
		Result:           code,
		Help:             help,
		ServerAPIVersion: s.serverVersion.String(),
	})
}

// Answer returns the last processed answer.
func (s *ServerHandshake) Answer() *wire.Answer {
	return s.answer
}
