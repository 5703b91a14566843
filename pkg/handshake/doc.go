// Package handshake implements the challenge/response exchange that opens
// every backend connection.
//
// The exchange is three frames long:
//
//	server                         client
//	  │ ─────── challenge ───────▶ │
//	  │ ◀────── answer ─────────── │
//	  │ ─────── result ──────────▶ │
//
// The client side is a one-shot state machine (Handshake) parameterized by
// a Variant: Anonymous, Authenticated or Administration. ServerHandshake is
// the backend half, used by test backends.
//
// Failures are reported in priority order: *TransportError when a frame
// could not be exchanged, *VersionMismatchError for incompatible API
// versions, ErrRevokedDevice for a revoked device, and *RejectedError or
// ErrProtocol for anything else.
package handshake
