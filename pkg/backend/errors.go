package backend

import (
	"errors"
	"fmt"

	"github.com/cirrusvault/cirrus-go/pkg/transport"
)

// Kind classifies a backend connection failure.
type Kind uint8

const (
	// KindUnknown is reported by KindOf for errors this package did not
	// classify.
	KindUnknown Kind = iota

	// KindConfig means the address and identity cannot be used together.
	KindConfig

	// KindNotAvailable means the backend could not be reached or the
	// connection was lost during setup.
	KindNotAvailable

	// KindVersionMismatch means client and backend speak incompatible API
	// versions.
	KindVersionMismatch

	// KindRevokedDevice means the backend refused a revoked device.
	KindRevokedDevice

	// KindHandshake means the backend rejected the handshake or sent
	// malformed frames.
	KindHandshake

	// KindPoolClosed means a connection was requested from a closed pool.
	KindPoolClosed

	// KindPeerClosed means the backend closed an established connection.
	KindPeerClosed
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindNotAvailable:
		return "not_available"
	case KindVersionMismatch:
		return "version_mismatch"
	case KindRevokedDevice:
		return "revoked_device"
	case KindHandshake:
		return "handshake"
	case KindPoolClosed:
		return "pool_closed"
	case KindPeerClosed:
		return "peer_closed"
	default:
		return "unknown"
	}
}

// Sentinels matching each kind with errors.Is.
var (
	ErrConfig          = errors.New("invalid backend connection configuration")
	ErrNotAvailable    = errors.New("backend not available")
	ErrVersionMismatch = errors.New("incompatible backend API version")
	ErrRevokedDevice   = errors.New("device revoked")
	ErrHandshake       = errors.New("backend handshake failed")
	ErrPoolClosed      = errors.New("connection pool closed")

	// ErrPeerClosed is propagated verbatim when the backend closes an
	// established transport.
	ErrPeerClosed = transport.ErrClosedByPeer
)

var kindSentinels = map[Kind]error{
	KindConfig:          ErrConfig,
	KindNotAvailable:    ErrNotAvailable,
	KindVersionMismatch: ErrVersionMismatch,
	KindRevokedDevice:   ErrRevokedDevice,
	KindHandshake:       ErrHandshake,
	KindPoolClosed:      ErrPoolClosed,
	KindPeerClosed:      ErrPeerClosed,
}

// Error is a classified backend connection error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, kindSentinels[e.Kind])
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, kindSentinels[e.Kind], e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && target == sentinel
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err. A transport closed by the backend is
// KindPeerClosed even when it was not wrapped in an *Error.
func KindOf(err error) Kind {
	var bErr *Error
	if errors.As(err, &bErr) {
		return bErr.Kind
	}
	if errors.Is(err, ErrPeerClosed) {
		return KindPeerClosed
	}
	return KindUnknown
}

// Retryable reports whether retrying the operation may succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNotAvailable, KindPeerClosed:
		return true
	default:
		return false
	}
}
