// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenantkit Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// Session token configuration.
const (
	DefaultTokenTTL    = 30 * time.Minute
	MinTokenSecretSize = 32 // bytes
)

// SupportedTokenAlgorithms lists the HMAC algorithms accepted for session tokens.
var SupportedTokenAlgorithms = []string{"HS256", "HS384", "HS512"}

// SessionClaims are the claims carried by a session token.
// Subject holds the user's email.
type SessionClaims struct {
	jwt.RegisteredClaims
}

// TokenIssuer mints and validates signed bearer tokens. Tokens are stateless:
// there is no server-side refresh or revocation, so a leaked token stays
// usable until it expires.
type TokenIssuer struct {
	secret     []byte
	method     jwt.SigningMethod
	defaultTTL time.Duration
}

// NewTokenIssuer creates a TokenIssuer for the given HMAC algorithm.
// A non-positive defaultTTL falls back to DefaultTokenTTL.
func NewTokenIssuer(secret []byte, algorithm string, defaultTTL time.Duration) (*TokenIssuer, error) {
	if len(secret) < MinTokenSecretSize {
		return nil, oops.Code("TOKEN_INVALID_SECRET").
			With("min_bytes", MinTokenSecretSize).
			Errorf("token secret must be at least %d bytes", MinTokenSecretSize)
	}

	var method jwt.SigningMethod
	switch algorithm {
	case "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, oops.Code("TOKEN_INVALID_ALGORITHM").
			With("algorithm", algorithm).
			Errorf("unsupported token algorithm %q", algorithm)
	}

	if defaultTTL <= 0 {
		defaultTTL = DefaultTokenTTL
	}

	return &TokenIssuer{
		secret:     secret,
		method:     method,
		defaultTTL: defaultTTL,
	}, nil
}

// DefaultTTL returns the lifetime used when Issue is called with ttl <= 0.
func (i *TokenIssuer) DefaultTTL() time.Duration {
	return i.defaultTTL
}

// Issue signs a token for subject that expires after ttl.
// Returns the token and its expiry.
func (i *TokenIssuer) Issue(subject string, ttl time.Duration) (string, time.Time, error) {
	return i.IssueAt(subject, ttl, time.Now())
}

// IssueAt is Issue with an explicit issue time.
// Useful for testing with deterministic time values.
func (i *TokenIssuer) IssueAt(subject string, ttl time.Duration, now time.Time) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, oops.Code("TOKEN_ISSUE_FAILED").Errorf("token subject cannot be empty")
	}
	if ttl <= 0 {
		ttl = i.defaultTTL
	}

	expiresAt := now.Add(ttl)
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(i.method, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, oops.Code("TOKEN_ISSUE_FAILED").
			With("operation", "sign token").
			Wrap(err)
	}
	return signed, expiresAt, nil
}

// Validate verifies the token's signature and expiry and returns its subject.
func (i *TokenIssuer) Validate(token string) (string, error) {
	return i.ValidateAt(token, time.Now())
}

// ValidateAt is Validate evaluated at the given time.
// Every failure (bad signature, wrong algorithm, malformed, expired, missing
// subject) yields the same AUTH_INVALID_TOKEN code.
func (i *TokenIssuer) ValidateAt(token string, now time.Time) (string, error) {
	if token == "" {
		return "", oops.Code(CodeInvalidToken).Errorf("token cannot be empty")
	}

	parsed, err := jwt.ParseWithClaims(token, &SessionClaims{},
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{i.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return "", oops.Code(CodeInvalidToken).
			With("expired", errorIsExpired(err)).
			Wrap(err)
	}

	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid {
		return "", oops.Code(CodeInvalidToken).Wrap(jwt.ErrTokenInvalidClaims)
	}
	if claims.Subject == "" {
		return "", oops.Code(CodeInvalidToken).Errorf("token has no subject")
	}

	return claims.Subject, nil
}

func errorIsExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}
