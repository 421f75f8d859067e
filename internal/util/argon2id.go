package util

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

type Argon2idParams struct {
	Time        uint32
	MemoryKiB   uint32
	Parallelism uint8
	KeyLen      uint32
}

func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:        1,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
		KeyLen:      32,
	}
}

// HashArgon2id derives an argon2id hash of the password and encodes it in
// PHC string format: $argon2id$v=19$m=...,t=...,p=...$<salt>$<key>.
func HashArgon2id(password string, params Argon2idParams) (string, error) {
	salt, err := RandomBytes(16)
	if err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		params.MemoryKiB, params.Time, params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyArgon2id re-derives the key from the password using the parameters
// embedded in the PHC string and compares in constant time. A malformed
// encoded hash is an error (configuration problem), not a mismatch.
func VerifyArgon2id(password, encoded string) (bool, error) {
	params, salt, key, err := parseArgon2idHash(encoded)
	if err != nil {
		return false, err
	}
	derived := argon2.IDKey([]byte(password), salt, params.Time, params.MemoryKiB, params.Parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(derived, key) == 1, nil
}

// ValidArgon2idHash reports whether encoded parses as a PHC argon2id
// string. Used at configuration load so a broken hash fails fast instead
// of rejecting every login.
func ValidArgon2idHash(encoded string) error {
	_, _, _, err := parseArgon2idHash(encoded)
	return err
}

func parseArgon2idHash(encoded string) (Argon2idParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Argon2idParams{}, nil, nil, fmt.Errorf("malformed argon2id hash")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return Argon2idParams{}, nil, nil, fmt.Errorf("malformed argon2id version: %w", err)
	}
	if version != argon2.Version {
		return Argon2idParams{}, nil, nil, fmt.Errorf("unsupported argon2id version %d", version)
	}

	var params Argon2idParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.MemoryKiB, &params.Time, &params.Parallelism); err != nil {
		return Argon2idParams{}, nil, nil, fmt.Errorf("malformed argon2id parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Argon2idParams{}, nil, nil, fmt.Errorf("malformed argon2id salt: %w", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return Argon2idParams{}, nil, nil, fmt.Errorf("malformed argon2id key: %w", err)
	}
	params.KeyLen = uint32(len(key))
	return params, salt, key, nil
}
