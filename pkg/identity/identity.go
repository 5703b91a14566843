package identity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Identity errors.
var (
	ErrInvalidOrganizationID = errors.New("invalid organization id")
	ErrInvalidDeviceID       = errors.New("invalid device id")
	ErrEmptyToken            = errors.New("empty administration token")
)

var namePattern = regexp.MustCompile(`^[\w\-]{1,32}$`)

// OrganizationID identifies an organization on a backend.
type OrganizationID string

// ParseOrganizationID validates and returns an organization id.
func ParseOrganizationID(s string) (OrganizationID, error) {
	if !namePattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidOrganizationID, s)
	}
	return OrganizationID(s), nil
}

// String returns the organization id.
func (o OrganizationID) String() string {
	return string(o)
}

// DeviceID identifies one device of a user, formatted as "user@device".
type DeviceID string

// ParseDeviceID validates and returns a device id.
func ParseDeviceID(s string) (DeviceID, error) {
	user, device, ok := strings.Cut(s, "@")
	if !ok || !namePattern.MatchString(user) || !namePattern.MatchString(device) {
		return "", fmt.Errorf("%w: %q (expected user@device)", ErrInvalidDeviceID, s)
	}
	return DeviceID(s), nil
}

// UserID returns the user part of the device id.
func (d DeviceID) UserID() string {
	user, _, _ := strings.Cut(string(d), "@")
	return user
}

// DeviceName returns the device part of the device id.
func (d DeviceID) DeviceName() string {
	_, device, _ := strings.Cut(string(d), "@")
	return device
}

// String returns the device id.
func (d DeviceID) String() string {
	return string(d)
}

// Kind selects which identity a connection authenticates with.
type Kind uint8

const (
	// KindAnonymous connects without credentials.
	KindAnonymous Kind = iota

	// KindDevice authenticates a device with its signing key.
	KindDevice

	// KindAdministration authenticates with an administration token.
	KindAdministration
)

// String returns the identity kind name.
func (k Kind) String() string {
	switch k {
	case KindAnonymous:
		return "anonymous"
	case KindDevice:
		return "device"
	case KindAdministration:
		return "administration"
	default:
		return "unknown"
	}
}

// Material is the credential set for one connection.
// The zero value is the anonymous identity.
type Material struct {
	// DeviceID and SigningKey are set for device identities.
	DeviceID   DeviceID
	SigningKey *SigningKey

	// AdministrationToken is set for administration identities.
	AdministrationToken string
}

// Anonymous returns the anonymous identity.
func Anonymous() Material {
	return Material{}
}

// Device returns a device identity. The signing key may be nil, in which
// case the identity is rejected when a connection is attempted.
func Device(id DeviceID, key *SigningKey) Material {
	return Material{DeviceID: id, SigningKey: key}
}

// Administration returns an administration identity.
func Administration(token string) Material {
	return Material{AdministrationToken: token}
}

// Kind reports which identity the material describes. An administration
// token takes precedence, then a device id.
func (m Material) Kind() Kind {
	switch {
	case m.AdministrationToken != "":
		return KindAdministration
	case m.DeviceID != "":
		return KindDevice
	default:
		return KindAnonymous
	}
}

// LogValue returns the identity label used in connection logs.
func (m Material) LogValue() string {
	switch m.Kind() {
	case KindAdministration:
		return "<administration>"
	case KindDevice:
		return m.DeviceID.String()
	default:
		return "<anonymous>"
	}
}
