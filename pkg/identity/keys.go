package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/sign"
)

// Key sizes.
const (
	// VerifyKeySize is the size of a verify (public) key in bytes.
	VerifyKeySize = 32

	// SigningKeySize is the size of a signing (private) key in bytes.
	SigningKeySize = 64

	// SeedSize is the size of the seed a signing key is derived from.
	SeedSize = ed25519.SeedSize

	// SignatureOverhead is the number of bytes a signature adds to a message.
	SignatureOverhead = sign.Overhead
)

// Key errors.
var (
	ErrInvalidKey       = errors.New("invalid key")
	ErrInvalidSignature = errors.New("invalid signature")
)

// VerifyKey is an Ed25519 public key.
type VerifyKey [VerifyKeySize]byte

// ParseVerifyKey decodes a raw 32-byte verify key.
func ParseVerifyKey(raw []byte) (VerifyKey, error) {
	var k VerifyKey
	if len(raw) != VerifyKeySize {
		return k, fmt.Errorf("%w: verify key must be %d bytes, got %d", ErrInvalidKey, VerifyKeySize, len(raw))
	}
	copy(k[:], raw)
	return k, nil
}

// ParseVerifyKeyString decodes a verify key from unpadded URL-safe base64.
func ParseVerifyKeyString(s string) (VerifyKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return VerifyKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return ParseVerifyKey(raw)
}

// Bytes returns a copy of the raw key.
func (k VerifyKey) Bytes() []byte {
	return append([]byte(nil), k[:]...)
}

// String returns the key as unpadded URL-safe base64.
func (k VerifyKey) String() string {
	return base64.RawURLEncoding.EncodeToString(k[:])
}

// Verify checks a combined signed message and returns the embedded message.
func (k VerifyKey) Verify(signed []byte) ([]byte, error) {
	pub := [VerifyKeySize]byte(k)
	msg, ok := sign.Open(nil, signed, &pub)
	if !ok {
		return nil, ErrInvalidSignature
	}
	return msg, nil
}

// SigningKey is an Ed25519 private key.
type SigningKey struct {
	priv [SigningKeySize]byte
}

// GenerateSigningKey creates a new random signing key.
func GenerateSigningKey() (*SigningKey, error) {
	return generateSigningKey(rand.Reader)
}

func generateSigningKey(r io.Reader) (*SigningKey, error) {
	_, priv, err := sign.GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return &SigningKey{priv: *priv}, nil
}

// SigningKeyFromSeed derives a signing key from a 32-byte seed.
func SigningKeyFromSeed(seed []byte) (*SigningKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("%w: seed must be %d bytes, got %d", ErrInvalidKey, SeedSize, len(seed))
	}
	k := &SigningKey{}
	copy(k.priv[:], ed25519.NewKeyFromSeed(seed))
	return k, nil
}

// Seed returns the seed the key was derived from.
func (k *SigningKey) Seed() []byte {
	return append([]byte(nil), k.priv[:SeedSize]...)
}

// VerifyKey returns the matching public key.
func (k *SigningKey) VerifyKey() VerifyKey {
	var v VerifyKey
	copy(v[:], k.priv[SeedSize:])
	return v
}

// Sign returns the combined signed message (signature || msg).
func (k *SigningKey) Sign(msg []byte) []byte {
	return sign.Sign(nil, msg, &k.priv)
}

// String hides the key material.
func (k *SigningKey) String() string {
	return "SigningKey(" + k.VerifyKey().String() + ")"
}
