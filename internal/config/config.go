// Package config loads the process-wide credential and server
// configuration from the environment into an immutable snapshot.
//
// Validation is deliberately strict and happens once, at load: a malformed
// password hash, encrypted TOTP payload, or missing signing secret is a
// fatal configuration error, never a per-request authentication failure.
// Re-sync is modeled as calling Load again and swapping the returned
// snapshot; a snapshot itself is never mutated.
package config

import (
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"github.com/caarlos0/env/v11"

	"github.com/mknight/gatehouse/internal/util"
	"github.com/mknight/gatehouse/otp"
)

const minSecretLen = 16

// envConfig is the raw environment shape. All variables carry the
// GATEHOUSE_ prefix.
type envConfig struct {
	Addr         string `env:"ADDR" envDefault:":8080"`
	StoreBackend string `env:"STORE_BACKEND" envDefault:"sqlite"`
	DataPath     string `env:"DATA_PATH" envDefault:"./data/gatehouse.db"`

	AdminUsername     string `env:"ADMIN_USERNAME,notEmpty"`
	AdminPasswordHash string `env:"ADMIN_PASSWORD_HASH,notEmpty"`
	// TOTPSecret accepts a raw base32 secret, an arbitrary passphrase, or
	// a sealed v1.<nonce>.<ct>.<tag> payload (requires TOTPEncKey).
	TOTPSecret    string   `env:"TOTP_SECRET,notEmpty"`
	TOTPEncKey    string   `env:"TOTP_ENC_KEY"`
	SessionSecret string   `env:"SESSION_SECRET,notEmpty"`
	CSRFSecret    string   `env:"CSRF_SECRET,notEmpty"`
	RecoveryCodes []string `env:"RECOVERY_CODES" envSeparator:","`

	AdminSessionTTL     time.Duration `env:"ADMIN_SESSION_TTL" envDefault:"24h"`
	GuestbookSessionTTL time.Duration `env:"GUESTBOOK_SESSION_TTL" envDefault:"720h"`

	LoginRateLimit     int           `env:"LOGIN_RATE_LIMIT" envDefault:"10"`
	LoginRateWindow    time.Duration `env:"LOGIN_RATE_WINDOW" envDefault:"1m"`
	VerifyRateLimit    int           `env:"VERIFY_RATE_LIMIT" envDefault:"10"`
	VerifyRateWindow   time.Duration `env:"VERIFY_RATE_WINDOW" envDefault:"1m"`
	SignupRateLimit    int           `env:"SIGNUP_RATE_LIMIT" envDefault:"20"`
	SignupRateWindow   time.Duration `env:"SIGNUP_RATE_WINDOW" envDefault:"1m"`
}

// RateLimit couples a fixed-window threshold with its window.
type RateLimit struct {
	Limit  int
	Window time.Duration
}

// Snapshot is the immutable view of configuration handed to the auth
// components. Long-lived secret material sits in memguard enclaves and is
// only decrypted into locked buffers on demand.
type Snapshot struct {
	Addr         string
	StoreBackend string
	DataPath     string

	AdminUsername      string
	adminPasswordHash  string
	totpSecret         *memguard.Enclave
	sessionSecret      *memguard.Enclave
	csrfSecret         *memguard.Enclave
	RecoveryCodeHashes []string

	AdminSessionTTL     time.Duration
	GuestbookSessionTTL time.Duration

	LoginRate  RateLimit
	VerifyRate RateLimit
	SignupRate RateLimit
}

// Load reads and validates configuration from the environment. Each call
// returns a fresh snapshot, which makes it the re-sync primitive as well.
func Load() (*Snapshot, error) {
	raw, err := env.ParseAsWithOptions[envConfig](env.Options{Prefix: "GATEHOUSE_"})
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return build(raw)
}

func build(raw envConfig) (*Snapshot, error) {
	switch raw.StoreBackend {
	case "sqlite", "bolt", "memory":
	default:
		return nil, fmt.Errorf("unknown store backend %q", raw.StoreBackend)
	}

	if err := util.ValidArgon2idHash(raw.AdminPasswordHash); err != nil {
		return nil, fmt.Errorf("admin password hash: %w", err)
	}
	if len(raw.SessionSecret) < minSecretLen {
		return nil, fmt.Errorf("session secret must be at least %d characters", minSecretLen)
	}
	if len(raw.CSRFSecret) < minSecretLen {
		return nil, fmt.Errorf("csrf secret must be at least %d characters", minSecretLen)
	}
	if raw.LoginRateLimit < 1 || raw.VerifyRateLimit < 1 || raw.SignupRateLimit < 1 {
		return nil, fmt.Errorf("rate limits must be positive")
	}

	secret := raw.TOTPSecret
	if otp.IsEncryptedPayload(secret) {
		if raw.TOTPEncKey == "" {
			return nil, fmt.Errorf("totp secret is encrypted but GATEHOUSE_TOTP_ENC_KEY is not set")
		}
		plain, err := otp.DecryptSecret(secret, raw.TOTPEncKey)
		if err != nil {
			return nil, fmt.Errorf("decrypting totp secret: %w", err)
		}
		secret = plain
	}
	secret = otp.NormalizeSecret(secret)

	// Recovery codes arrive as plaintext and are held only as salted
	// hashes; the session secret is the salt.
	hashes := make([]string, 0, len(raw.RecoveryCodes))
	for _, code := range raw.RecoveryCodes {
		if otp.NormalizeRecoveryCode(code) == "" {
			continue
		}
		hashes = append(hashes, otp.HashRecoveryCode(code, raw.SessionSecret))
	}

	return &Snapshot{
		Addr:                raw.Addr,
		StoreBackend:        raw.StoreBackend,
		DataPath:            raw.DataPath,
		AdminUsername:       raw.AdminUsername,
		adminPasswordHash:   raw.AdminPasswordHash,
		totpSecret:          memguard.NewEnclave([]byte(secret)),
		sessionSecret:       memguard.NewEnclave([]byte(raw.SessionSecret)),
		csrfSecret:          memguard.NewEnclave([]byte(raw.CSRFSecret)),
		RecoveryCodeHashes:  hashes,
		AdminSessionTTL:     raw.AdminSessionTTL,
		GuestbookSessionTTL: raw.GuestbookSessionTTL,
		LoginRate:           RateLimit{Limit: raw.LoginRateLimit, Window: raw.LoginRateWindow},
		VerifyRate:          RateLimit{Limit: raw.VerifyRateLimit, Window: raw.VerifyRateWindow},
		SignupRate:          RateLimit{Limit: raw.SignupRateLimit, Window: raw.SignupRateWindow},
	}, nil
}

// VerifyAdminPassword checks a candidate password against the stored
// argon2id hash.
func (s *Snapshot) VerifyAdminPassword(password string) (bool, error) {
	return util.VerifyArgon2id(password, s.adminPasswordHash)
}

// TOTPSecret opens the enclave and returns the normalized secret. The
// returned string is a copy; the locked buffer is destroyed before return.
func (s *Snapshot) TOTPSecret() (string, error) {
	return openEnclave(s.totpSecret)
}

// SessionSecret returns the HMAC key for login challenges and recovery
// code salting.
func (s *Snapshot) SessionSecret() (string, error) {
	return openEnclave(s.sessionSecret)
}

// CSRFSecret returns the HMAC key for CSRF token signatures.
func (s *Snapshot) CSRFSecret() (string, error) {
	return openEnclave(s.csrfSecret)
}

func openEnclave(e *memguard.Enclave) (string, error) {
	buf, err := e.Open()
	if err != nil {
		return "", fmt.Errorf("opening secret enclave: %w", err)
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}
