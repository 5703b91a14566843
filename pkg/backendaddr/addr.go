// Package backendaddr describes backend endpoints: where to connect and in
// which identity mode.
package backendaddr

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/cirrusvault/cirrus-go/pkg/identity"
)

// URL constants.
const (
	// Scheme is the URL scheme of backend addresses.
	Scheme = "cirrus"

	// DefaultTLSPort is used when no port is given and TLS is enabled.
	DefaultTLSPort = 443

	// DefaultPlainPort is used when no port is given and TLS is disabled.
	DefaultPlainPort = 80

	// ActionBootstrapOrganization marks a bootstrap address in the query.
	ActionBootstrapOrganization = "bootstrap_organization"
)

// ErrInvalidAddr is wrapped by every address validation failure.
var ErrInvalidAddr = errors.New("invalid backend address")

// Mode selects which kind of endpoint an address describes.
type Mode uint8

const (
	// ModeServer addresses the backend itself (administration).
	ModeServer Mode = iota

	// ModeOrganization addresses a bootstrapped organization.
	ModeOrganization

	// ModeBootstrap addresses an organization that still has to be bootstrapped.
	ModeBootstrap
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeServer:
		return "server"
	case ModeOrganization:
		return "organization"
	case ModeBootstrap:
		return "bootstrap"
	default:
		return "unknown"
	}
}

// Addr is an endpoint descriptor. Build it with one of the constructors or
// Parse; treat it as immutable afterwards.
type Addr struct {
	Hostname string
	Port     uint16
	UseTLS   bool
	Mode     Mode

	// OrganizationID is set in organization and bootstrap modes.
	OrganizationID identity.OrganizationID

	// RootVerifyKey is set in organization mode only.
	RootVerifyKey *identity.VerifyKey

	// BootstrapToken is set in bootstrap mode only.
	BootstrapToken string
}

// NewServerAddr returns an administration-mode address.
func NewServerAddr(hostname string, port uint16, useTLS bool) (Addr, error) {
	a := Addr{Hostname: hostname, Port: port, UseTLS: useTLS, Mode: ModeServer}
	return a, a.Validate()
}

// NewOrganizationAddr returns an organization-mode address.
func NewOrganizationAddr(hostname string, port uint16, useTLS bool, org identity.OrganizationID, rvk identity.VerifyKey) (Addr, error) {
	a := Addr{
		Hostname:       hostname,
		Port:           port,
		UseTLS:         useTLS,
		Mode:           ModeOrganization,
		OrganizationID: org,
		RootVerifyKey:  &rvk,
	}
	return a, a.Validate()
}

// NewBootstrapAddr returns a bootstrap-mode address.
func NewBootstrapAddr(hostname string, port uint16, useTLS bool, org identity.OrganizationID, token string) (Addr, error) {
	a := Addr{
		Hostname:       hostname,
		Port:           port,
		UseTLS:         useTLS,
		Mode:           ModeBootstrap,
		OrganizationID: org,
		BootstrapToken: token,
	}
	return a, a.Validate()
}

// Validate checks the mode invariants and reports every violation found.
func (a Addr) Validate() error {
	var errs error

	if a.Hostname == "" {
		errs = multierror.Append(errs, fmt.Errorf("%w: missing hostname", ErrInvalidAddr))
	}
	if a.Port == 0 {
		errs = multierror.Append(errs, fmt.Errorf("%w: missing port", ErrInvalidAddr))
	}

	switch a.Mode {
	case ModeServer:
		if a.OrganizationID != "" {
			errs = multierror.Append(errs, fmt.Errorf("%w: server address cannot name an organization", ErrInvalidAddr))
		}
		if a.RootVerifyKey != nil {
			errs = multierror.Append(errs, fmt.Errorf("%w: server address cannot carry a root verify key", ErrInvalidAddr))
		}
	case ModeOrganization:
		if _, err := identity.ParseOrganizationID(string(a.OrganizationID)); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%w: %v", ErrInvalidAddr, err))
		}
		if a.RootVerifyKey == nil {
			errs = multierror.Append(errs, fmt.Errorf("%w: organization address requires a root verify key", ErrInvalidAddr))
		}
	case ModeBootstrap:
		if _, err := identity.ParseOrganizationID(string(a.OrganizationID)); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%w: %v", ErrInvalidAddr, err))
		}
		if a.RootVerifyKey != nil {
			errs = multierror.Append(errs, fmt.Errorf("%w: bootstrap address cannot carry a root verify key", ErrInvalidAddr))
		}
		if a.BootstrapToken == "" {
			errs = multierror.Append(errs, fmt.Errorf("%w: bootstrap address requires a token", ErrInvalidAddr))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("%w: unknown mode %d", ErrInvalidAddr, a.Mode))
	}

	return errs
}

// HostPort returns the "host:port" dial target.
func (a Addr) HostPort() string {
	return net.JoinHostPort(a.Hostname, strconv.Itoa(int(a.Port)))
}

// Parse decodes a backend URL:
//
//	cirrus://host[:port][/org]?[no_ssl=true][&rvk=<key>][&action=bootstrap_organization&token=<t>]
func Parse(s string) (Addr, error) {
	u, err := url.Parse(s)
	if err != nil {
		return Addr{}, fmt.Errorf("%w: %v", ErrInvalidAddr, err)
	}
	if u.Scheme != Scheme {
		return Addr{}, fmt.Errorf("%w: scheme must be %q, got %q", ErrInvalidAddr, Scheme, u.Scheme)
	}

	q := u.Query()
	a := Addr{
		Hostname: u.Hostname(),
		UseTLS:   !strings.EqualFold(q.Get("no_ssl"), "true"),
	}

	switch p := u.Port(); {
	case p != "":
		port, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return Addr{}, fmt.Errorf("%w: bad port %q", ErrInvalidAddr, p)
		}
		a.Port = uint16(port)
	case a.UseTLS:
		a.Port = DefaultTLSPort
	default:
		a.Port = DefaultPlainPort
	}

	org := strings.Trim(u.Path, "/")
	switch {
	case org == "":
		a.Mode = ModeServer
	case q.Get("action") == ActionBootstrapOrganization:
		a.Mode = ModeBootstrap
		a.OrganizationID = identity.OrganizationID(org)
		a.BootstrapToken = q.Get("token")
	default:
		a.Mode = ModeOrganization
		a.OrganizationID = identity.OrganizationID(org)
		if raw := q.Get("rvk"); raw != "" {
			rvk, err := identity.ParseVerifyKeyString(raw)
			if err != nil {
				return Addr{}, fmt.Errorf("%w: %v", ErrInvalidAddr, err)
			}
			a.RootVerifyKey = &rvk
		}
	}

	if err := a.Validate(); err != nil {
		return Addr{}, err
	}
	return a, nil
}

// String formats the address as a backend URL accepted by Parse.
func (a Addr) String() string {
	u := url.URL{Scheme: Scheme, Host: a.HostPort()}
	q := url.Values{}
	if !a.UseTLS {
		q.Set("no_ssl", "true")
	}

	switch a.Mode {
	case ModeOrganization:
		u.Path = "/" + a.OrganizationID.String()
		if a.RootVerifyKey != nil {
			q.Set("rvk", a.RootVerifyKey.String())
		}
	case ModeBootstrap:
		u.Path = "/" + a.OrganizationID.String()
		q.Set("action", ActionBootstrapOrganization)
		q.Set("token", a.BootstrapToken)
	}

	u.RawQuery = q.Encode()
	return u.String()
}
