// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Reset token configuration.
const (
	ResetTokenBytes  = 32               // 32 random bytes = 64 hex chars
	ResetTokenExpiry = 40 * time.Minute // validity window
)

// ResetToken is a pending password reset. Only the hash of the secret handed
// to the user is stored.
type ResetToken struct {
	ID        ulid.ULID
	UserID    ulid.ULID
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// NewResetToken creates a validated ResetToken.
func NewResetToken(userID ulid.ULID, tokenHash string, createdAt, expiresAt time.Time) (*ResetToken, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("RESET_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("RESET_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if !expiresAt.After(createdAt) {
		return nil, oops.Code("RESET_INVALID_EXPIRY").Errorf("expiry must be after creation")
	}
	return &ResetToken{
		ID:        ulid.Make(),
		UserID:    userID,
		TokenHash: tokenHash,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}, nil
}

// IsExpired reports whether t is no longer usable at now. A token is live
// strictly before its ExpiresAt.
func IsExpired(t *ResetToken, now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// GenerateResetSecret creates a reset secret for userID and its hash.
// The secret is 32 random bytes hex-encoded, followed by the user ID so that
// secrets of different users can never collide.
// Returns (plaintext_secret, sha256_hash, error).
func GenerateResetSecret(userID ulid.ULID) (secret, hash string, err error) {
	buf := make([]byte, ResetTokenBytes)
	if _, err = rand.Read(buf); err != nil {
		return "", "", oops.Code("RESET_TOKEN_GENERATE_FAILED").Wrap(err)
	}

	secret = hex.EncodeToString(buf) + userID.String()
	return secret, HashResetSecret(secret), nil
}

// HashResetSecret computes the hex-encoded SHA256 of a secret.
func HashResetSecret(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:])
}

// VerifyResetSecret checks if the plaintext secret matches the stored hash.
// Uses constant-time comparison to prevent timing attacks.
func VerifyResetSecret(secret, hash string) bool {
	if secret == "" || hash == "" {
		return false
	}
	computed := HashResetSecret(secret)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

// ResetTokenRepository manages reset token persistence. Implementations must
// make ReplaceForUser and TakeByHash atomic.
type ResetTokenRepository interface {
	// Create stores a new reset token. Returns an error wrapping ErrConflict
	// if the user already has one.
	Create(ctx context.Context, token *ResetToken) error

	// GetByUser retrieves the pending token for a user, expired or not.
	// Returns ErrNotFound if none exists.
	GetByUser(ctx context.Context, userID ulid.ULID) (*ResetToken, error)

	// DeleteByUser removes any token for a user. Deleting nothing is not an error.
	DeleteByUser(ctx context.Context, userID ulid.ULID) error

	// ReplaceForUser deletes any token for token.UserID and stores token, as
	// one atomic step.
	ReplaceForUser(ctx context.Context, token *ResetToken) error

	// TakeByHash finds the token with the given hash that is unexpired at now
	// and deletes it in the same atomic step. Returns ErrNotFound when no
	// live token matches.
	TakeByHash(ctx context.Context, tokenHash string, now time.Time) (*ResetToken, error)

	// DeleteExpired removes tokens expired at now and returns how many.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
