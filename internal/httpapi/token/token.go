// Package token mints and verifies the two kinds of HS256 JWT this engine's
// HTTP surface uses: a long-lived admin bearer token guarding mutating
// endpoints, and a short-lived subscribe token scoping one caller to one
// run's event stream. There is no user/tenant model in this engine's data
// model, so the admin token carries no subject — a shared secret is the
// entire authorization check.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalid covers every verification failure: bad signature, expired,
// wrong scope. The HTTP layer maps it to 401 without distinguishing further.
var ErrInvalid = errors.New("invalid or expired token")

// subscribeClaims scopes a token to exactly one run.
type subscribeClaims struct {
	RunID string `json:"runId"`
	jwt.RegisteredClaims
}

// MintSubscribe returns a token valid for ttl, scoped to runID.
func MintSubscribe(secret []byte, runID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := subscribeClaims{
		RunID: runID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign subscribe token: %w", err)
	}
	return signed, nil
}

// VerifySubscribe checks that raw is a valid, unexpired subscribe token
// scoped to runID.
func VerifySubscribe(secret []byte, raw, runID string) error {
	claims := &subscribeClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Method.Alg())
		}
		return secret, nil
	})
	if err != nil || !tok.Valid {
		return ErrInvalid
	}
	if claims.RunID != runID {
		return ErrInvalid
	}
	return nil
}

// VerifyAdmin checks that raw is a validly signed, unexpired admin token.
// The engine has no user/tenant model, so the only claim that matters is
// the signature: possession of a token signed with the admin secret is the
// entire authorization check.
func VerifyAdmin(secret []byte, raw string) error {
	claims := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Method.Alg())
		}
		return secret, nil
	})
	if err != nil || !tok.Valid {
		return ErrInvalid
	}
	return nil
}

// MintAdmin returns an admin bearer token valid for ttl. Exposed mainly for
// tests; operators may also mint one out of band with any HS256 JWT library
// sharing the same secret.
func MintAdmin(secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign admin token: %w", err)
	}
	return signed, nil
}
