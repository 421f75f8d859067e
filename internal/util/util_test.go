package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomBytes(t *testing.T) {
	a, err := RandomBytes(32)
	require.NoError(t, err)
	require.Len(t, a, 32)

	b, err := RandomBytes(32)
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "two draws should not collide")
}

func TestRandomToken(t *testing.T) {
	tok, err := RandomToken(SessionTokenBytes)
	require.NoError(t, err)
	// 32 bytes -> 43 base64url chars, no padding.
	assert.Len(t, tok, 43)
	assert.NotContains(t, tok, "=")
}

func TestBase32RoundTrip(t *testing.T) {
	for n := 0; n <= 64; n++ {
		buf, err := RandomBytes(n)
		require.NoError(t, err)
		decoded, err := Base32Decode(Base32Encode(buf))
		require.NoError(t, err, "length %d", n)
		assert.Equal(t, buf, decoded, "length %d", n)
	}
}

func TestBase32DecodeRejectsPadding(t *testing.T) {
	_, err := Base32Decode("MZXW6===")
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	// NFKD decomposes the precomposed form; both spellings of é compare equal.
	assert.Equal(t, Normalize("café"), Normalize("café"))
}

func TestArgon2idRoundTrip(t *testing.T) {
	encoded, err := HashArgon2id("correct horse battery staple", DefaultArgon2idParams())
	require.NoError(t, err)

	ok, err := VerifyArgon2id("correct horse battery staple", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyArgon2id("wrong password", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyArgon2idMalformed(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
	}{
		{"empty", ""},
		{"not phc", "plainhash"},
		{"wrong algorithm", "$argon2i$v=19$m=65536,t=1,p=4$c2FsdA$a2V5"},
		{"bad version", "$argon2id$v=18$m=65536,t=1,p=4$c2FsdA$a2V5"},
		{"bad salt", "$argon2id$v=19$m=65536,t=1,p=4$!!$a2V5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := VerifyArgon2id("x", tt.encoded)
			assert.Error(t, err)
		})
	}
}

func TestWipeBytes(t *testing.T) {
	b := []byte{1, 2, 3}
	WipeBytes(b)
	assert.Equal(t, []byte{0, 0, 0}, b)
}
