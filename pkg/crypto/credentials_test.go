package crypto

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test key generated with: openssl rand -base64 32
const testKey = "dGVzdC1rZXktZm9yLXVuaXQtdGVzdHMtMzItYnl0ZXM="

func TestNewConfigEncryptor(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{name: "valid 32-byte base64 key", key: testKey},
		{name: "empty key", key: "", wantErr: ErrInvalidKey},
		{name: "passphrase is hashed", key: "my-simple-passphrase"},
		{name: "short base64 key is hashed", key: base64.StdEncoding.EncodeToString([]byte("sixteen-byte-key"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewConfigEncryptor(tt.key)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, enc)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, enc)
		})
	}
}

func TestConfigEncryptor_EncryptDecrypt(t *testing.T) {
	enc, err := NewConfigEncryptor(testKey)
	require.NoError(t, err)

	sealed, err := enc.Encrypt("ghp_secret_token")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "ghp_secret_token")

	plain, err := enc.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "ghp_secret_token", plain)
}

func TestConfigEncryptor_EmptyStringsPassThrough(t *testing.T) {
	enc, err := NewConfigEncryptor(testKey)
	require.NoError(t, err)

	sealed, err := enc.Encrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", sealed)

	plain, err := enc.Decrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", plain)
}

func TestConfigEncryptor_NonceMakesOutputsDiffer(t *testing.T) {
	enc, err := NewConfigEncryptor(testKey)
	require.NoError(t, err)

	a, err := enc.Encrypt("same")
	require.NoError(t, err)
	b, err := enc.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestConfigEncryptor_WrongKeyFails(t *testing.T) {
	enc, err := NewConfigEncryptor(testKey)
	require.NoError(t, err)
	other, err := NewConfigEncryptor("a-different-passphrase")
	require.NoError(t, err)

	sealed, err := enc.Encrypt("payload")
	require.NoError(t, err)

	_, err = other.Decrypt(sealed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecryptionFailed))
}

func TestConfigEncryptor_TamperedCiphertextFails(t *testing.T) {
	enc, err := NewConfigEncryptor(testKey)
	require.NoError(t, err)

	_, err = enc.Decrypt("not base64 !!")
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = enc.Decrypt(base64.StdEncoding.EncodeToString([]byte("short")))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "too short"))
}

func TestConfigEncryptor_ConfigRoundTrip(t *testing.T) {
	enc, err := NewConfigEncryptor(testKey)
	require.NoError(t, err)

	sealed, err := enc.EncryptConfig(map[string]any{
		"ical_url": "https://example.com/cal.ics",
		"port":     5432,
	})
	require.NoError(t, err)

	config, err := enc.DecryptConfig(sealed)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/cal.ics", config["ical_url"])
	// JSON numbers come back as float64.
	assert.Equal(t, float64(5432), config["port"])

	empty, err := enc.DecryptConfig("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
