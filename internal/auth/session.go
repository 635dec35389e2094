// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session token configuration.
const (
	SessionTokenExpiry = 24 * time.Hour
	MinSessionKeyBytes = 32
)

// SessionIssuer issues and verifies stateless, HMAC-signed session tokens.
// The signing key is fixed at construction; rotating it means building a new
// issuer, which invalidates every outstanding token.
type SessionIssuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// SessionOption configures a SessionIssuer.
type SessionOption func(*SessionIssuer)

// WithSessionTTL overrides the token lifetime.
func WithSessionTTL(ttl time.Duration) SessionOption {
	return func(s *SessionIssuer) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSessionClock overrides the time source used for issuing and verifying.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *SessionIssuer) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSessionIssuer creates a SessionIssuer signing with key.
func NewSessionIssuer(key []byte, opts ...SessionOption) (*SessionIssuer, error) {
	if len(key) < MinSessionKeyBytes {
		return nil, oops.Code("SESSION_KEY_TOO_SHORT").
			With("min_bytes", MinSessionKeyBytes).
			Errorf("session signing key must be at least %d bytes, got %d", MinSessionKeyBytes, len(key))
	}

	s := &SessionIssuer{
		key: append([]byte(nil), key...),
		ttl: SessionTokenExpiry,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns the lifetime of issued tokens.
func (s *SessionIssuer) TTL() time.Duration {
	return s.ttl
}

// Issue creates a token bound to userID, valid for the issuer's TTL.
func (s *SessionIssuer) Issue(userID ulid.ULID) (string, time.Time, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return "", time.Time{}, oops.Code("SESSION_INVALID_SUBJECT").Errorf("user ID cannot be zero")
	}

	issuedAt := s.now().Truncate(time.Second)
	expiresAt := issuedAt.Add(s.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", time.Time{}, oops.Code("SESSION_SIGN_FAILED").Wrap(err)
	}
	return signed, expiresAt, nil
}

// Verify checks the token signature and expiry and returns the bound user ID.
// Every failure is reported as an authentication error with the same code.
func (s *SessionIssuer) Verify(token string) (ulid.ULID, error) {
	if token == "" {
		return ulid.ULID{}, errInvalidSession("empty token")
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return ulid.ULID{}, errInvalidSession("token rejected")
	}

	userID, err := ulid.ParseStrict(claims.Subject)
	if err != nil {
		return ulid.ULID{}, errInvalidSession("malformed subject")
	}
	return userID, nil
}

func errInvalidSession(reason string) error {
	return oops.Code("AUTH_SESSION_INVALID").
		Public("not authorized, please log in").
		Wrapf(ErrAuthentication, "invalid session: %s", reason)
}
