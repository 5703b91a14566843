package handshake

import (
	"errors"
	"fmt"

	"github.com/cirrusvault/cirrus-go/pkg/wire"
)

// Handshake errors.
var (
	// ErrProtocol indicates a malformed or out-of-order handshake frame.
	ErrProtocol = errors.New("handshake protocol error")

	// ErrRevokedDevice indicates the backend refused a revoked device.
	ErrRevokedDevice = errors.New("device has been revoked")

	// ErrAlreadyRun is returned when Run is called a second time.
	ErrAlreadyRun = errors.New("handshake already run")
)

// TransportError reports that a handshake frame could not be exchanged.
type TransportError struct {
	// Step is the exchange that failed (e.g. "recv challenge").
	Step string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("handshake %s: %v", e.Step, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// VersionMismatchError reports incompatible client and server API versions.
type VersionMismatchError struct {
	ServerVersion string
	ClientVersion string
}

func (e *VersionMismatchError) Error() string {
	if e.ServerVersion == "" {
		return fmt.Sprintf("incompatible API version (client %s)", e.ClientVersion)
	}
	return fmt.Sprintf("incompatible API version: server %s, client %s", e.ServerVersion, e.ClientVersion)
}

// RejectedError reports a non-ok handshake result.
type RejectedError struct {
	Result wire.ResultCode
	Help   string
}

func (e *RejectedError) Error() string {
	if e.Help == "" {
		return fmt.Sprintf("handshake rejected: %s", e.Result)
	}
	return fmt.Sprintf("handshake rejected: %s (%s)", e.Result, e.Help)
}

// Is makes every rejection match ErrProtocol.
func (e *RejectedError) Is(target error) bool {
	return target == ErrProtocol
}

// ResultCodeFor maps an error returned by ServerHandshake.ProcessAnswer to
// the result code sent back to the client.
func ResultCodeFor(err error) wire.ResultCode {
	var vErr *VersionMismatchError
	var rErr *RejectedError
	switch {
	case err == nil:
		return wire.ResultOK
	case errors.As(err, &vErr):
		return wire.ResultBadAPIVersion
	case errors.Is(err, ErrRevokedDevice):
		return wire.ResultRevokedDevice
	case errors.As(err, &rErr):
		return rErr.Result
	default:
		return wire.ResultBadProtocol
	}
}
