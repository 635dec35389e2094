// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memory provides in-process implementations of the auth
// repositories. They are used by tests and by `serve --store memory` for
// local development; data does not survive a restart.
package memory

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/credkeep/internal/auth"
)

// Compile-time interface checks.
var (
	_ auth.UserRepository       = (*UserRepository)(nil)
	_ auth.ResetTokenRepository = (*ResetTokenRepository)(nil)
)

// UserRepository implements auth.UserRepository over maps.
type UserRepository struct {
	mu      sync.RWMutex
	byID    map[ulid.ULID]*auth.User
	byEmail map[string]ulid.ULID
}

// NewUserRepository creates an empty UserRepository.
func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:    make(map[ulid.ULID]*auth.User),
		byEmail: make(map[string]ulid.ULID),
	}
}

// Create stores a new user. Uniqueness is checked under the write lock.
func (r *UserRepository) Create(_ context.Context, user *auth.User) error {
	email := auth.NormalizeEmail(user.Email)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[email]; exists {
		return oops.Code("USER_EMAIL_EXISTS").
			With("user_id", user.ID.String()).
			Wrap(auth.ErrConflict)
	}
	if _, exists := r.byID[user.ID]; exists {
		return oops.Code("USER_ID_EXISTS").
			With("id", user.ID.String()).
			Wrap(auth.ErrConflict)
	}

	stored := *user
	stored.Email = email
	r.byID[user.ID] = &stored
	r.byEmail[email] = user.ID
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byID[id]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	clone := *user
	return &clone, nil
}

// GetByEmail retrieves a user by email (case-insensitive).
func (r *UserRepository) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	email = auth.NormalizeEmail(email)

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").
			Wrap(auth.ErrNotFound)
	}
	clone := *r.byID[id]
	return &clone, nil
}

// Update persists the profile fields of an existing user.
func (r *UserRepository) Update(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[user.ID]
	if !ok {
		return oops.Code("USER_NOT_FOUND").
			With("id", user.ID.String()).
			Wrap(auth.ErrNotFound)
	}
	stored.Name = user.Name
	stored.Photo = user.Photo
	stored.Phone = user.Phone
	stored.Bio = user.Bio
	stored.UpdatedAt = user.UpdatedAt
	return nil
}

// UpdatePassword replaces the stored password hash.
func (r *UserRepository) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	stored.PasswordHash = passwordHash
	return nil
}

// Len returns the number of stored users.
func (r *UserRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
