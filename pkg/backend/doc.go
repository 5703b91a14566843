// Package backend opens authenticated connections to a cirrus backend and
// pools them for reuse.
//
// # Establishing connections
//
// Connect checks that the identity fits the address, dials the backend
// (upgrading to TLS when the address asks for it), and runs the handshake:
//
//	tr, err := backend.Connect(ctx, backend.ConfigFromEnv(), addr, identity.Anonymous())
//
// Every failure is a classified *Error. Use errors.Is with the sentinels
// (ErrNotAvailable, ErrVersionMismatch, ...) or KindOf to branch on it.
//
// # Scoped use
//
// WithAnonymousConnection and WithAdministrationConnection close their
// transport when the callback returns. WithAuthenticatedPool tears its
// pool down the same way.
//
// # Pooling
//
// A Pool keeps at most Capacity transports, in use or idle. Acquire hands
// out the oldest idle transport or connects a new one, and takes it back
// when the callback succeeds. A callback error closes the transport, except
// ErrPeerClosed which means the backend already did.
package backend
