package handshake

import (
	"fmt"

	"github.com/cirrusvault/cirrus-go/pkg/identity"
	"github.com/cirrusvault/cirrus-go/pkg/wire"
)

// Variant builds the answer for one identity kind and judges the result.
// The Handshake fills in the frame marker and client API version.
type Variant interface {
	// BuildAnswer answers a decoded challenge.
	BuildAnswer(challenge *wire.Challenge) (*wire.Answer, error)

	// ValidateResult judges a result that passed the version checks.
	ValidateResult(result *wire.Result) error

	// Describe returns a short label for logs.
	Describe() string
}

// Anonymous asserts membership of an organization without credentials.
type Anonymous struct {
	OrganizationID identity.OrganizationID

	// RootVerifyKey lets the backend check that the client targets the
	// right organization. Nil when the organization is not bootstrapped yet.
	RootVerifyKey *identity.VerifyKey
}

// BuildAnswer implements Variant.
func (a *Anonymous) BuildAnswer(*wire.Challenge) (*wire.Answer, error) {
	if a.OrganizationID == "" {
		return nil, fmt.Errorf("%w: anonymous handshake without organization", ErrProtocol)
	}
	ans := &wire.Answer{
		Type:           wire.AnswerAnonymous,
		OrganizationID: a.OrganizationID.String(),
	}
	if a.RootVerifyKey != nil {
		ans.RootVerifyKey = a.RootVerifyKey.Bytes()
	}
	return ans, nil
}

// ValidateResult implements Variant.
func (a *Anonymous) ValidateResult(result *wire.Result) error {
	return rejectUnlessOK(result)
}

// Describe implements Variant.
func (a *Anonymous) Describe() string {
	return "anonymous@" + a.OrganizationID.String()
}

// Authenticated proves possession of a device signing key by signing the
// challenge.
type Authenticated struct {
	OrganizationID identity.OrganizationID
	DeviceID       identity.DeviceID
	SigningKey     *identity.SigningKey
	RootVerifyKey  *identity.VerifyKey
}

// BuildAnswer implements Variant.
func (a *Authenticated) BuildAnswer(challenge *wire.Challenge) (*wire.Answer, error) {
	if a.SigningKey == nil {
		return nil, fmt.Errorf("%w: no signing key for %s", ErrProtocol, a.DeviceID)
	}
	ans := &wire.Answer{
		Type:           wire.AnswerAuthenticated,
		OrganizationID: a.OrganizationID.String(),
		DeviceID:       a.DeviceID.String(),
		SignedAnswer:   a.SigningKey.Sign(challenge.Challenge),
	}
	if a.RootVerifyKey != nil {
		ans.RootVerifyKey = a.RootVerifyKey.Bytes()
	}
	return ans, nil
}

// ValidateResult implements Variant. A revoked device is reported as
// ErrRevokedDevice.
func (a *Authenticated) ValidateResult(result *wire.Result) error {
	if result.Result == wire.ResultRevokedDevice {
		if result.Help != "" {
			return fmt.Errorf("%w: %s", ErrRevokedDevice, result.Help)
		}
		return ErrRevokedDevice
	}
	return rejectUnlessOK(result)
}

// Describe implements Variant.
func (a *Authenticated) Describe() string {
	return a.DeviceID.String() + "@" + a.OrganizationID.String()
}

// Administration authenticates with a bare administration token.
type Administration struct {
	Token string
}

// BuildAnswer implements Variant.
func (a *Administration) BuildAnswer(*wire.Challenge) (*wire.Answer, error) {
	if a.Token == "" {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, identity.ErrEmptyToken)
	}
	return &wire.Answer{Type: wire.AnswerAdministration, Token: a.Token}, nil
}

// ValidateResult implements Variant.
func (a *Administration) ValidateResult(result *wire.Result) error {
	return rejectUnlessOK(result)
}

// Describe implements Variant.
func (a *Administration) Describe() string {
	return "<administration>"
}

func rejectUnlessOK(result *wire.Result) error {
	if result.Result == wire.ResultOK {
		return nil
	}
	return &RejectedError{Result: result.Result, Help: result.Help}
}
