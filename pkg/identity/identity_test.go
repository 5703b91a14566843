package identity

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDeviceID(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"alice@laptop", false},
		{"bob@phone-2", false},
		{"alice", true},
		{"@laptop", true},
		{"alice@", true},
		{"al ice@laptop", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			id, err := ParseDeviceID(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDeviceID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.in, id.String())
		})
	}

	id := DeviceID("alice@laptop")
	assert.Equal(t, "alice", id.UserID())
	assert.Equal(t, "laptop", id.DeviceName())
}

func TestParseOrganizationID(t *testing.T) {
	_, err := ParseOrganizationID("CoolOrg")
	assert.NoError(t, err)

	_, err = ParseOrganizationID("")
	assert.ErrorIs(t, err, ErrInvalidOrganizationID)

	_, err = ParseOrganizationID("bad/org")
	assert.ErrorIs(t, err, ErrInvalidOrganizationID)
}

func TestMaterialKind(t *testing.T) {
	key, err := GenerateSigningKey()
	require.NoError(t, err)

	assert.Equal(t, KindAnonymous, Anonymous().Kind())
	assert.Equal(t, KindDevice, Device("alice@laptop", key).Kind())
	assert.Equal(t, KindAdministration, Administration("s3cr3t").Kind())

	assert.Equal(t, "<anonymous>", Anonymous().LogValue())
	assert.Equal(t, "alice@laptop", Device("alice@laptop", key).LogValue())
	assert.Equal(t, "<administration>", Administration("s3cr3t").LogValue())
}

func TestSignVerify(t *testing.T) {
	key, err := GenerateSigningKey()
	require.NoError(t, err)

	msg := []byte("challenge bytes")
	signed := key.Sign(msg)
	assert.Len(t, signed, len(msg)+SignatureOverhead)

	got, err := key.VerifyKey().Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	t.Run("TamperedMessage", func(t *testing.T) {
		bad := bytes.Clone(signed)
		bad[len(bad)-1] ^= 0xFF
		_, err := key.VerifyKey().Verify(bad)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("WrongKey", func(t *testing.T) {
		other, err := GenerateSigningKey()
		require.NoError(t, err)
		_, err = other.VerifyKey().Verify(signed)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})
}

func TestSigningKeyFromSeed(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, SeedSize)

	a, err := SigningKeyFromSeed(seed)
	require.NoError(t, err)
	b, err := SigningKeyFromSeed(seed)
	require.NoError(t, err)

	assert.Equal(t, a.VerifyKey(), b.VerifyKey())
	assert.Equal(t, seed, a.Seed())

	_, err = SigningKeyFromSeed(seed[:10])
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestVerifyKeyString(t *testing.T) {
	key, err := GenerateSigningKey()
	require.NoError(t, err)

	vk := key.VerifyKey()
	parsed, err := ParseVerifyKeyString(vk.String())
	require.NoError(t, err)
	assert.Equal(t, vk, parsed)

	_, err = ParseVerifyKeyString("not-a-key")
	assert.ErrorIs(t, err, ErrInvalidKey)
}
