package backendaddr

import (
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cirrusvault/cirrus-go/pkg/identity"
)

func testVerifyKey(t *testing.T) identity.VerifyKey {
	t.Helper()
	key, err := identity.GenerateSigningKey()
	require.NoError(t, err)
	return key.VerifyKey()
}

func TestConstructors(t *testing.T) {
	rvk := testVerifyKey(t)

	t.Run("Server", func(t *testing.T) {
		a, err := NewServerAddr("backend.example.com", 443, true)
		require.NoError(t, err)
		assert.Equal(t, ModeServer, a.Mode)
		assert.Equal(t, "backend.example.com:443", a.HostPort())
	})

	t.Run("Organization", func(t *testing.T) {
		a, err := NewOrganizationAddr("localhost", 6777, false, "CoolOrg", rvk)
		require.NoError(t, err)
		assert.Equal(t, ModeOrganization, a.Mode)
		require.NotNil(t, a.RootVerifyKey)
		assert.Equal(t, rvk, *a.RootVerifyKey)
	})

	t.Run("Bootstrap", func(t *testing.T) {
		a, err := NewBootstrapAddr("localhost", 6777, false, "CoolOrg", "tok")
		require.NoError(t, err)
		assert.Equal(t, ModeBootstrap, a.Mode)
		assert.Nil(t, a.RootVerifyKey)
	})

	t.Run("BootstrapWithoutToken", func(t *testing.T) {
		_, err := NewBootstrapAddr("localhost", 6777, false, "CoolOrg", "")
		assert.ErrorIs(t, err, ErrInvalidAddr)
	})
}

func TestValidateReportsAllViolations(t *testing.T) {
	rvk := testVerifyKey(t)
	a := Addr{Mode: ModeServer, OrganizationID: "CoolOrg", RootVerifyKey: &rvk}

	err := a.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidAddr)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	// missing hostname, missing port, organization, root key
	assert.Len(t, merr.Errors, 4)
}

func TestValidateOrganizationRequiresRootKey(t *testing.T) {
	a := Addr{Hostname: "localhost", Port: 1, Mode: ModeOrganization, OrganizationID: "CoolOrg"}
	assert.ErrorIs(t, a.Validate(), ErrInvalidAddr)
}

func TestParse(t *testing.T) {
	rvk := testVerifyKey(t)

	tests := []struct {
		name     string
		url      string
		wantMode Mode
		wantPort uint16
		wantTLS  bool
		wantErr  bool
	}{
		{name: "ServerDefaultTLSPort", url: "cirrus://backend.example.com", wantMode: ModeServer, wantPort: 443, wantTLS: true},
		{name: "ServerNoSSL", url: "cirrus://localhost?no_ssl=true", wantMode: ModeServer, wantPort: 80},
		{name: "Organization", url: "cirrus://localhost:6777/CoolOrg?no_ssl=true&rvk=" + rvk.String(), wantMode: ModeOrganization, wantPort: 6777},
		{name: "Bootstrap", url: "cirrus://localhost:6777/CoolOrg?action=bootstrap_organization&token=abc", wantMode: ModeBootstrap, wantPort: 6777, wantTLS: true},
		{name: "OrganizationMissingKey", url: "cirrus://localhost/CoolOrg", wantErr: true},
		{name: "BadScheme", url: "http://localhost", wantErr: true},
		{name: "BadKey", url: "cirrus://localhost/CoolOrg?rvk=xyz", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Parse(tt.url)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAddr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMode, a.Mode)
			assert.Equal(t, tt.wantPort, a.Port)
			assert.Equal(t, tt.wantTLS, a.UseTLS)
		})
	}
}

func TestStringRoundTrip(t *testing.T) {
	rvk := testVerifyKey(t)
	org, err := NewOrganizationAddr("localhost", 6777, false, "CoolOrg", rvk)
	require.NoError(t, err)
	boot, err := NewBootstrapAddr("backend.example.com", 443, true, "CoolOrg", "abc")
	require.NoError(t, err)
	srv, err := NewServerAddr("backend.example.com", 8443, true)
	require.NoError(t, err)

	for _, a := range []Addr{org, boot, srv} {
		parsed, err := Parse(a.String())
		require.NoError(t, err, a.String())
		assert.Equal(t, a, parsed)
	}
}
