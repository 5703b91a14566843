// Package wire defines the CBOR wire format of the backend connection layer.
//
// Every frame on a transport is a single CBOR item. Structs use integer keys
// for compactness.
//
// # Frame Kinds
//
// Three kinds of frames travel on a connection:
//   - Handshake: challenge (server to client), answer (client to server),
//     result (server to client), exchanged once right after connecting
//   - Control: ping/pong/close, wrapped in CBOR tag ControlTag so they can
//     be told apart from any other frame without decoding it
//   - Requests and responses: application frames, opaque to the transport
//
// # Handshake Results
//
// The result frame carries a ResultCode. Anything other than ResultOK
// rejects the connection; ResultRevokedDevice and ResultBadAPIVersion are
// reported distinctly so callers can react to them.
package wire
