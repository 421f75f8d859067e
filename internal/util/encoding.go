package util

import (
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"

	"golang.org/x/text/unicode/norm"
)

// Normalize applies NFKD normalization so visually-identical user input
// (usernames, recovery codes) compares equal regardless of how the client
// composed it.
func Normalize(s string) string {
	return norm.NFKD.String(s)
}

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// Base32Encode encodes bytes with the RFC 4648 alphabet, no padding.
func Base32Encode(b []byte) string {
	return b32.EncodeToString(b)
}

// Base32Decode decodes an unpadded RFC 4648 base32 string.
func Base32Decode(s string) ([]byte, error) {
	return b32.DecodeString(s)
}

func B64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func B64URLDecode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

func HexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
