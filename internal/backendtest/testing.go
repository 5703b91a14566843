package backendtest

import (
	"context"
	"testing"

	"github.com/neilotoole/slogt"

	"github.com/cirrusvault/cirrus-go/pkg/identity"
)

// Start runs a backend for the duration of the test. Logs go to t.Log
// unless a WithLogger option overrides it.
func Start(t testing.TB, opts ...Option) *Backend {
	t.Helper()

	opts = append([]Option{WithLogger(slogt.New(t))}, opts...)
	b, err := New(context.Background(), opts...)
	if err != nil {
		t.Fatalf("start backend: %v", err)
	}
	t.Cleanup(b.Close)
	return b
}

// MustAddOrganization is AddOrganization failing the test on error.
func (b *Backend) MustAddOrganization(t testing.TB, id identity.OrganizationID) *Organization {
	t.Helper()

	org, err := b.AddOrganization(id)
	if err != nil {
		t.Fatalf("add organization %s: %v", id, err)
	}
	return org
}

// MustAddDevice is AddDevice failing the test on error.
func (b *Backend) MustAddDevice(t testing.TB, org identity.OrganizationID, device identity.DeviceID) *identity.SigningKey {
	t.Helper()

	key, err := b.AddDevice(org, device)
	if err != nil {
		t.Fatalf("add device %s: %v", device, err)
	}
	return key
}
