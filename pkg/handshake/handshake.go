package handshake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cirrusvault/cirrus-go/pkg/log"
	"github.com/cirrusvault/cirrus-go/pkg/version"
	"github.com/cirrusvault/cirrus-go/pkg/wire"
)

// State is the progress of a client handshake.
type State uint8

const (
	StateCreated State = iota
	StateChallengeReceived
	StateAnswerSent
	StateResultReceived
	StateAccepted
	StateRejected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateChallengeReceived:
		return "CHALLENGE_RECEIVED"
	case StateAnswerSent:
		return "ANSWER_SENT"
	case StateResultReceived:
		return "RESULT_RECEIVED"
	case StateAccepted:
		return "ACCEPTED"
	case StateRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Conn is the frame stream a handshake runs over. *transport.Transport
// satisfies it.
type Conn interface {
	Send(ctx context.Context, data []byte) error
	Recv(ctx context.Context) ([]byte, error)
}

// stepLogger is implemented by connections that record handshake steps.
type stepLogger interface {
	LogHandshake(direction log.Direction, ev log.HandshakeEvent)
}

// Handshake is the client side of one handshake. It is single use.
type Handshake struct {
	variant       Variant
	clientVersion version.APIVersion

	mu      sync.Mutex
	started bool
	state   State
	result  *wire.Result
}

// Option configures a Handshake.
type Option func(*Handshake)

// WithClientAPIVersion overrides the API version the client announces.
func WithClientAPIVersion(v version.APIVersion) Option {
	return func(h *Handshake) {
		h.clientVersion = v
	}
}

// New creates a handshake for the given variant.
func New(v Variant, opts ...Option) *Handshake {
	h := &Handshake{
		variant:       v,
		clientVersion: version.MustParse(version.Current),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Variant returns the identity variant.
func (h *Handshake) Variant() Variant {
	return h.variant
}

// State returns the current state.
func (h *Handshake) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Accepted reports whether the backend accepted the handshake.
func (h *Handshake) Accepted() bool {
	return h.State() == StateAccepted
}

// Describe returns a short label of the identity used.
func (h *Handshake) Describe() string {
	return h.variant.Describe()
}

// Result returns the result frame, or nil before it was received.
func (h *Handshake) Result() *wire.Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// ServerAPIVersion returns the API version the backend reported, if any.
func (h *Handshake) ServerAPIVersion() string {
	if r := h.Result(); r != nil {
		return r.ServerAPIVersion
	}
	return ""
}

// Run performs the exchange over conn. Run may only be called once.
func (h *Handshake) Run(ctx context.Context, conn Conn) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return ErrAlreadyRun
	}
	h.started = true
	h.mu.Unlock()

	logger, _ := conn.(stepLogger)

	data, err := conn.Recv(ctx)
	if err != nil {
		return h.reject(&TransportError{Step: "recv challenge", Err: err})
	}
	challenge, err := wire.DecodeChallenge(data)
	if err != nil {
		return h.reject(fmt.Errorf("%w: %v", ErrProtocol, err))
	}
	h.setState(StateChallengeReceived)
	h.logStep(logger, log.DirectionIn, log.HandshakeEvent{Step: wire.HandshakeChallenge})

	if len(challenge.SupportedAPIVersions) > 0 {
		if _, ok := h.clientVersion.Negotiate(challenge.SupportedAPIVersions); !ok {
			return h.reject(&VersionMismatchError{
				ServerVersion: strings.Join(challenge.SupportedAPIVersions, ", "),
				ClientVersion: h.clientVersion.String(),
			})
		}
	}

	answer, err := h.variant.BuildAnswer(challenge)
	if err != nil {
		return h.reject(err)
	}
	answer.ClientAPIVersion = h.clientVersion.String()
	frame, err := wire.EncodeAnswer(answer)
	if err != nil {
		return h.reject(fmt.Errorf("%w: %v", ErrProtocol, err))
	}
	if err := conn.Send(ctx, frame); err != nil {
		return h.reject(&TransportError{Step: "send answer", Err: err})
	}
	h.setState(StateAnswerSent)
	h.logStep(logger, log.DirectionOut, log.HandshakeEvent{
		Step:       wire.HandshakeAnswer,
		AnswerType: answer.Type.String(),
		APIVersion: answer.ClientAPIVersion,
	})

	data, err = conn.Recv(ctx)
	if err != nil {
		return h.reject(&TransportError{Step: "recv result", Err: err})
	}
	result, err := wire.DecodeResult(data)
	if err != nil {
		return h.reject(fmt.Errorf("%w: %v", ErrProtocol, err))
	}
	h.mu.Lock()
	h.result = result
	h.state = StateResultReceived
	h.mu.Unlock()
	h.logStep(logger, log.DirectionIn, log.HandshakeEvent{
		Step:       wire.HandshakeResult,
		Result:     string(result.Result),
		APIVersion: result.ServerAPIVersion,
	})

	if err := h.checkServerVersion(result); err != nil {
		return h.reject(err)
	}
	if err := h.variant.ValidateResult(result); err != nil {
		return h.reject(err)
	}

	h.setState(StateAccepted)
	return nil
}

// checkServerVersion detects an API version mismatch from the result.
func (h *Handshake) checkServerVersion(result *wire.Result) error {
	mismatch := &VersionMismatchError{
		ServerVersion: result.ServerAPIVersion,
		ClientVersion: h.clientVersion.String(),
	}
	if result.Result == wire.ResultBadAPIVersion {
		return mismatch
	}
	if result.ServerAPIVersion == "" {
		return nil
	}
	server, err := version.Parse(result.ServerAPIVersion)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if !h.clientVersion.Compatible(server) {
		return mismatch
	}
	return nil
}

func (h *Handshake) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

func (h *Handshake) reject(err error) error {
	h.setState(StateRejected)
	return err
}

func (h *Handshake) logStep(l stepLogger, dir log.Direction, ev log.HandshakeEvent) {
	if l == nil {
		return
	}
	l.LogHandshake(dir, ev)
}

// IsTransportError reports whether err is a *TransportError.
func IsTransportError(err error) bool {
	var tErr *TransportError
	return errors.As(err, &tErr)
}
