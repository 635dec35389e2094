// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/credkeep/pkg/errutil"
)

// ResetManager runs the reset-token protocol: issue a secret, keep only its
// hash, and let it be consumed at most once inside its validity window.
//
// Per user the states are NONE -> PENDING -> {CONSUMED | EXPIRED | SUPERSEDED},
// all of which collapse back to NONE.
type ResetManager struct {
	repo ResetTokenRepository
	ttl  time.Duration
	now  func() time.Time
}

// ResetOption configures a ResetManager.
type ResetOption func(*ResetManager)

// WithResetTTL overrides the validity window.
func WithResetTTL(ttl time.Duration) ResetOption {
	return func(m *ResetManager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithResetClock overrides the time source.
func WithResetClock(now func() time.Time) ResetOption {
	return func(m *ResetManager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewResetManager creates a ResetManager.
func NewResetManager(repo ResetTokenRepository, opts ...ResetOption) (*ResetManager, error) {
	if repo == nil {
		return nil, oops.Errorf("reset token repository is required")
	}
	m := &ResetManager{
		repo: repo,
		ttl:  ResetTokenExpiry,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// TTL returns the validity window of issued secrets.
func (m *ResetManager) TTL() time.Duration {
	return m.ttl
}

// RequestReset supersedes any pending token for userID and issues a new one.
// Returns the plaintext secret for delivery to the user; it is never stored.
func (m *ResetManager) RequestReset(ctx context.Context, userID ulid.ULID) (string, error) {
	secret, hash, err := GenerateResetSecret(userID)
	if err != nil {
		return "", oops.Code("RESET_REQUEST_FAILED").
			With("operation", "GenerateResetSecret").
			Wrap(errutil.Seal(err))
	}

	now := m.now()
	token, err := NewResetToken(userID, hash, now, now.Add(m.ttl))
	if err != nil {
		return "", oops.Code("RESET_REQUEST_FAILED").
			With("operation", "NewResetToken").
			Wrap(errutil.Seal(err))
	}

	if err := m.repo.ReplaceForUser(ctx, token); err != nil {
		return "", oops.Code("RESET_REQUEST_FAILED").
			With("operation", "ReplaceForUser").
			With("user_id", userID.String()).
			Wrap(errutil.Seal(err))
	}

	return secret, nil
}

// Consume resolves secret to its user and deletes the token in one step.
// Unknown, expired, superseded and already-consumed secrets all fail with the
// same authentication error.
func (m *ResetManager) Consume(ctx context.Context, secret string) (ulid.ULID, error) {
	token, err := m.take(ctx, secret)
	if err != nil {
		return ulid.ULID{}, err
	}
	return token.UserID, nil
}

func (m *ResetManager) take(ctx context.Context, secret string) (*ResetToken, error) {
	if secret == "" {
		return nil, errInvalidResetToken()
	}

	token, err := m.repo.TakeByHash(ctx, HashResetSecret(secret), m.now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, errInvalidResetToken()
		}
		return nil, oops.Code("RESET_CONSUME_FAILED").
			With("operation", "TakeByHash").
			Wrap(errutil.Seal(err))
	}
	return token, nil
}

// reinstate stores a token taken by take again, when the password write that
// should have followed failed. A token issued in the meantime wins: Create
// then fails on the per-user uniqueness and the old token stays gone.
func (m *ResetManager) reinstate(ctx context.Context, token *ResetToken) error {
	if IsExpired(token, m.now()) {
		return nil
	}
	if err := m.repo.Create(ctx, token); err != nil {
		return oops.Code("RESET_REINSTATE_FAILED").
			With("user_id", token.UserID.String()).
			Wrap(errutil.Seal(err))
	}
	return nil
}

// PurgeExpired physically removes tokens that lookups already ignore.
func (m *ResetManager) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := m.repo.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, oops.Code("RESET_PURGE_FAILED").Wrap(errutil.Seal(err))
	}
	return n, nil
}

func errInvalidResetToken() error {
	return oops.Code("RESET_TOKEN_INVALID").
		Public("invalid or expired token").
		Wrapf(ErrAuthentication, "reset token invalid or expired")
}
