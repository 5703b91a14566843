package main

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cirrusvault/cirrus-go/pkg/backendaddr"
	"github.com/cirrusvault/cirrus-go/pkg/connection"
	"github.com/cirrusvault/cirrus-go/pkg/identity"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "probe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func testSeed() string {
	seed := make([]byte, identity.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	return base64.RawURLEncoding.EncodeToString(seed)
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
address: cirrus://127.0.0.1:6777?no_ssl=true
dial_timeout: 2s
log_level: debug
identity:
  device: alice@laptop
  seed: `+testSeed()+`
retry:
  attempts: 5
  initial: 10ms
  max: 1s
pool:
  capacity: 4
  keepalive: 30s
count: 20
`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 20, cfg.Count)
	assert.Equal(t, 1, cfg.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Timeout)

	opts, err := cfg.options()
	require.NoError(t, err)
	assert.Equal(t, backendaddr.ModeServer, opts.Addr.Mode)
	assert.False(t, opts.Addr.UseTLS)
	assert.Equal(t, uint16(6777), opts.Addr.Port)
	assert.Equal(t, 2*time.Second, opts.Backend.DialTimeout)
	assert.Equal(t, 5, opts.Retry.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, opts.Retry.Backoff.Initial)
	assert.Equal(t, connection.JitterFactor, opts.Retry.Backoff.Jitter)
	assert.Equal(t, 4, opts.Pool.Capacity)
	assert.Equal(t, 30*time.Second, opts.Pool.Keepalive)
	assert.Equal(t, identity.KindDevice, opts.Identity.Kind())
	assert.Equal(t, identity.DeviceID("alice@laptop"), opts.Identity.DeviceID)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)
	assert.Equal(t, connection.DefaultMaxAttempts, cfg.Retry.Attempts)

	_, err = cfg.options()
	assert.Error(t, err, "no address")

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = loadConfig(writeConfig(t, "count: [1"))
	assert.Error(t, err)
}

func TestOptionsBadAddress(t *testing.T) {
	cfg := defaultConfig()
	for _, raw := range []string{
		"https://example.com/acme",
		"cirrus://example.com/acme",
	} {
		cfg.Address = raw
		_, err := cfg.options()
		assert.ErrorIs(t, err, backendaddr.ErrInvalidAddr, raw)
	}
}

func TestIdentityMaterial(t *testing.T) {
	tests := []struct {
		name    string
		cfg     IdentityConfig
		want    identity.Kind
		wantErr bool
	}{
		{"anonymous", IdentityConfig{}, identity.KindAnonymous, false},
		{"device", IdentityConfig{Device: "alice@laptop", Seed: testSeed()}, identity.KindDevice, false},
		{"admin wins", IdentityConfig{Device: "alice@laptop", AdminToken: "tok"}, identity.KindAdministration, false},
		{"device without seed", IdentityConfig{Device: "alice@laptop"}, 0, true},
		{"bad device id", IdentityConfig{Device: "alice", Seed: testSeed()}, 0, true},
		{"seed not base64", IdentityConfig{Device: "alice@laptop", Seed: "!!"}, 0, true},
		{"short seed", IdentityConfig{Device: "alice@laptop", Seed: "AAEC"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := tt.cfg.material()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Kind())
		})
	}
}
