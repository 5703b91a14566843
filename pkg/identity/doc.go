// Package identity defines the identity material used to authenticate a
// backend connection.
//
// A connection runs under exactly one of three identities:
//   - anonymous: no credentials, only the organization being addressed
//   - device: a DeviceID together with its SigningKey
//   - administration: a server-wide administration token
//
// Signing keys are Ed25519 keys producing NaCl combined signed messages
// (signature followed by the message), so the verifier recovers the signed
// payload from the signature itself.
package identity
