// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/credkeep/internal/auth"
)

// ResetTokenRepository implements auth.ResetTokenRepository over maps. A
// single mutex makes ReplaceForUser and TakeByHash atomic.
type ResetTokenRepository struct {
	mu     sync.Mutex
	byHash map[string]*auth.ResetToken
	byUser map[ulid.ULID]string
}

// NewResetTokenRepository creates an empty ResetTokenRepository.
func NewResetTokenRepository() *ResetTokenRepository {
	return &ResetTokenRepository{
		byHash: make(map[string]*auth.ResetToken),
		byUser: make(map[ulid.ULID]string),
	}
}

// Create stores a new reset token.
func (r *ResetTokenRepository) Create(_ context.Context, token *auth.ResetToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byUser[token.UserID]; exists {
		return oops.Code("RESET_EXISTS").
			With("user_id", token.UserID.String()).
			Wrap(auth.ErrConflict)
	}
	r.insertLocked(token)
	return nil
}

// GetByUser retrieves the token for a user, expired or not.
func (r *ResetTokenRepository) GetByUser(_ context.Context, userID ulid.ULID) (*auth.ResetToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hash, ok := r.byUser[userID]
	if !ok {
		return nil, oops.Code("RESET_NOT_FOUND").
			With("user_id", userID.String()).
			Wrap(auth.ErrNotFound)
	}
	clone := *r.byHash[hash]
	return &clone, nil
}

// DeleteByUser removes any token for a user.
func (r *ResetTokenRepository) DeleteByUser(_ context.Context, userID ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteUserLocked(userID)
	return nil
}

// ReplaceForUser deletes any token of token.UserID and stores token.
func (r *ResetTokenRepository) ReplaceForUser(_ context.Context, token *auth.ResetToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteUserLocked(token.UserID)
	r.insertLocked(token)
	return nil
}

// TakeByHash removes and returns the live token with the given hash.
func (r *ResetTokenRepository) TakeByHash(_ context.Context, tokenHash string, now time.Time) (*auth.ResetToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.byHash[tokenHash]
	if !ok || auth.IsExpired(token, now) {
		return nil, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	delete(r.byHash, tokenHash)
	delete(r.byUser, token.UserID)
	return token, nil
}

// DeleteExpired removes tokens expired at now.
func (r *ResetTokenRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for hash, token := range r.byHash {
		if auth.IsExpired(token, now) {
			delete(r.byHash, hash)
			delete(r.byUser, token.UserID)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored tokens, expired ones included.
func (r *ResetTokenRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byHash)
}

func (r *ResetTokenRepository) insertLocked(token *auth.ResetToken) {
	clone := *token
	r.byHash[token.TokenHash] = &clone
	r.byUser[token.UserID] = token.TokenHash
}

func (r *ResetTokenRepository) deleteUserLocked(userID ulid.ULID) {
	if hash, ok := r.byUser[userID]; ok {
		delete(r.byHash, hash)
		delete(r.byUser, userID)
	}
}
