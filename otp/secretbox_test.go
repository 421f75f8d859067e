package otp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretBoxRoundTrip(t *testing.T) {
	secrets := []string{
		"",
		"JBSWY3DPEHPK3PXP",
		testSecret,
		"arbitrary passphrase with spaces & punctuation!",
		strings.Repeat("x", 256),
	}
	for _, s := range secrets {
		payload, err := EncryptSecret(s, "wrapping-key")
		require.NoError(t, err)

		got, err := DecryptSecret(payload, "wrapping-key")
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestEncryptSecret_PayloadShape(t *testing.T) {
	payload, err := EncryptSecret(testSecret, "k")
	require.NoError(t, err)

	parts := strings.Split(payload, ".")
	require.Len(t, parts, 4)
	assert.Equal(t, "v1", parts[0])
	assert.True(t, IsEncryptedPayload(payload))
	assert.False(t, IsEncryptedPayload(testSecret))

	// Fresh nonce per call: two encryptions of the same secret differ.
	payload2, err := EncryptSecret(testSecret, "k")
	require.NoError(t, err)
	assert.NotEqual(t, payload, payload2)
}

func TestEncryptSecret_EmptyKeyRejected(t *testing.T) {
	_, err := EncryptSecret(testSecret, "")
	assert.Error(t, err)
}

func TestDecryptSecret_WrongKey(t *testing.T) {
	payload, err := EncryptSecret(testSecret, "right-key")
	require.NoError(t, err)

	_, err = DecryptSecret(payload, "wrong-key")
	assert.Error(t, err)
}

func TestDecryptSecret_Tampered(t *testing.T) {
	payload, err := EncryptSecret(testSecret, "k")
	require.NoError(t, err)
	parts := strings.Split(payload, ".")

	flip := func(s string) string {
		b := []byte(s)
		if b[0] == 'A' {
			b[0] = 'B'
		} else {
			b[0] = 'A'
		}
		return string(b)
	}

	tests := []struct {
		name    string
		payload string
	}{
		{"tampered ciphertext", strings.Join([]string{parts[0], parts[1], flip(parts[2]), parts[3]}, ".")},
		{"tampered tag", strings.Join([]string{parts[0], parts[1], parts[2], flip(parts[3])}, ".")},
		{"tampered nonce", strings.Join([]string{parts[0], flip(parts[1]), parts[2], parts[3]}, ".")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecryptSecret(tt.payload, "k")
			assert.Error(t, err)
		})
	}
}

func TestDecryptSecret_Malformed(t *testing.T) {
	good, err := EncryptSecret(testSecret, "k")
	require.NoError(t, err)
	parts := strings.Split(good, ".")

	tests := []struct {
		name    string
		payload string
	}{
		{"empty", ""},
		{"missing segments", "v1.abc.def"},
		{"extra segment", good + ".extra"},
		{"wrong version", strings.Replace(good, "v1.", "v2.", 1)},
		{"nonce not base64url", strings.Join([]string{parts[0], "!!!", parts[2], parts[3]}, ".")},
		{"ciphertext not base64url", strings.Join([]string{parts[0], parts[1], "!!!", parts[3]}, ".")},
		{"tag not base64url", strings.Join([]string{parts[0], parts[1], parts[2], "!!!"}, ".")},
		{"short nonce", strings.Join([]string{parts[0], "AAAA", parts[2], parts[3]}, ".")},
		{"short tag", strings.Join([]string{parts[0], parts[1], parts[2], "AAAA"}, ".")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecryptSecret(tt.payload, "k")
			assert.Error(t, err)
		})
	}
}
