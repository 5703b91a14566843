// Package transport carries CBOR frames between a cirrus client and
// backend.
//
// A Transport wraps one net.Conn, plain TCP or TLS, and exchanges frames
// prefixed with a 4-byte big-endian length. Control messages (ping, pong
// and close) travel as tagged frames on the same stream and are consumed
// by Recv; everything else is handed to the caller.
//
// Dial opens client transports. TLS certificates are checked against
// DialConfig.CAFile, or the system roots when it is empty, with the
// backend hostname as server name and cirrus/<major> offered over ALPN.
// Server accepts backend-side transports and is used by the mock backend.
//
// Keep-alive runs inside Recv. After PingInterval of silence it sends a
// ping; once MaxMissedPongs pings go unanswered Recv closes the transport
// and returns ErrKeepAliveTimeout. Idle pooled transports are not pinged.
package transport
