package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	challengeCookieName = "admin_challenge"
	// challengeTTL bounds the gap between primary credential success and
	// second-factor completion.
	challengeTTL = 5 * time.Minute
)

// mintLoginChallenge issues the signed, self-contained token that bridges
// primary authentication and the second factor. It is a capability, not a
// database row: verification is stateless and expiry needs no cleanup job.
func mintLoginChallenge(secret, username string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(challengeTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing login challenge: %w", err)
	}
	return token, nil
}

// readLoginChallenge validates signature and TTL and returns the username
// the challenge was issued for. It does not consume the challenge; only a
// second-factor attempt clears the cookie.
func readLoginChallenge(secret, token string, now time.Time) (string, bool) {
	if token == "" {
		return "", false
	}
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) {
			return []byte(secret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return "", false
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", false
	}
	return claims.Subject, true
}
