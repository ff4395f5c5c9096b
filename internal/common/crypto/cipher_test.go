package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	c, err := NewCipher(key)
	require.NoError(t, err)
	return c
}

func TestCipher_RoundTrip(t *testing.T) {
	c := newTestCipher(t)

	for _, plaintext := range []string{"Hello!", "", "Привіт, як справи?", string(bytes.Repeat([]byte("x"), 4096))} {
		sealed, err := c.Encrypt([]byte(plaintext), []byte("msg-1"))
		require.NoError(t, err)
		if plaintext != "" {
			assert.NotContains(t, string(sealed), plaintext)
		}

		opened, err := c.Decrypt(sealed, []byte("msg-1"))
		require.NoError(t, err)
		assert.Equal(t, plaintext, string(opened))
	}
}

func TestCipher_NoncesDiffer(t *testing.T) {
	c := newTestCipher(t)
	a, err := c.Encrypt([]byte("same"), nil)
	require.NoError(t, err)
	b, err := c.Encrypt([]byte("same"), nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCipher_DecryptFailures(t *testing.T) {
	c := newTestCipher(t)
	sealed, err := c.Encrypt([]byte("secret"), []byte("msg-1"))
	require.NoError(t, err)

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xff

	unknownVersion := append([]byte(nil), sealed...)
	unknownVersion[0] = 9

	tests := []struct {
		name    string
		cipher  *Cipher
		data    []byte
		ad      []byte
		wantErr error
	}{
		{name: "tampered", cipher: c, data: tampered, ad: []byte("msg-1")},
		{name: "wrong record", cipher: c, data: sealed, ad: []byte("msg-2")},
		{name: "foreign key", cipher: newTestCipher(t), data: sealed, ad: []byte("msg-1")},
		{name: "truncated", cipher: c, data: sealed[:5], ad: []byte("msg-1"), wantErr: ErrMalformedCipher},
		{name: "unknown version", cipher: c, data: unknownVersion, ad: []byte("msg-1"), wantErr: ErrUnsupportedFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cipher.Decrypt(tt.data, tt.ad)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestNewCipher_RejectsBadKey(t *testing.T) {
	_, err := NewCipher([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}
