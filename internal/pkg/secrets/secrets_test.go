package secrets

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := New([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	token, err := c.Encrypt("pm-server-token-xyz")
	require.NoError(t, err)
	assert.NotEqual(t, "pm-server-token-xyz", token)

	got, err := c.Decrypt(token)
	require.NoError(t, err)
	assert.Equal(t, "pm-server-token-xyz", got)
}

func TestDecryptRejectsTampering(t *testing.T) {
	c, err := New([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	token, err := c.Encrypt("secret")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(token)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	_, err = c.Decrypt(base64.StdEncoding.EncodeToString(raw))
	assert.Error(t, err)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	c, err := New([]byte("0123456789abcdef"))
	require.NoError(t, err)

	_, err = c.Decrypt("not base64 at all!!!")
	assert.Error(t, err)

	_, err = c.Decrypt(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)
}

func TestNewRejectsBadKeyLength(t *testing.T) {
	_, err := New([]byte("too-short"))
	assert.ErrorIs(t, err, errBadKey)
}

func TestNewFromEnvKeyFormats(t *testing.T) {
	// Raw 32-byte string.
	t.Setenv(EnvKeyName, "0123456789abcdef0123456789abcdef")
	c, err := NewFromEnv()
	require.NoError(t, err)
	require.NotNil(t, c)

	// Base64-encoded 32-byte key.
	t.Setenv(EnvKeyName, base64.StdEncoding.EncodeToString(make([]byte, 32)))
	_, err = NewFromEnv()
	require.NoError(t, err)

	t.Setenv(EnvKeyName, "nope")
	_, err = NewFromEnv()
	assert.Error(t, err)
}

func TestDifferentKeysCannotDecrypt(t *testing.T) {
	a, err := New([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	b, err := New([]byte("fedcba9876543210fedcba9876543210"))
	require.NoError(t, err)

	token, err := a.Encrypt("secret")
	require.NoError(t, err)
	_, err = b.Decrypt(token)
	assert.Error(t, err)
}
