// Package log captures protocol events from cirrus connections.
//
// Capture is separate from operational logging with slog. Each Event
// records one frame, handshake step, control message, state transition or
// error, tagged with its connection ID and layer. Set a Logger on the
// backend configuration to receive them:
//
//	fl, _ := log.NewFileLogger("client.clog")
//	cfg.ProtocolLogger = log.NewMultiLogger(fl, log.NewSlogAdapter(slog.Default()))
//
// Capture files are a plain concatenation of CBOR-encoded events with
// integer keys. Reader streams them back through a Filter; the cirrus-log
// command views, filters, exports and summarizes them.
package log
