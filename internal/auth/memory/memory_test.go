// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/credkeep/internal/auth"
	"github.com/holomush/credkeep/internal/auth/memory"
)

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewUserRepository()

	u, err := auth.NewUser("Ann", "ann@x.com", "hash", time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, u))

	t.Run("email is unique ignoring case", func(t *testing.T) {
		dup, err := auth.NewUser("Other", "ann@x.com", "hash", time.Now())
		require.NoError(t, err)
		dup.Email = "ANN@X.COM"
		assert.ErrorIs(t, repo.Create(ctx, dup), auth.ErrConflict)
	})

	t.Run("returned users are copies", func(t *testing.T) {
		got, err := repo.GetByID(ctx, u.ID)
		require.NoError(t, err)
		got.Name = "mutated"

		again, err := repo.GetByEmail(ctx, "Ann@x.com")
		require.NoError(t, err)
		assert.Equal(t, "Ann", again.Name)
	})

	t.Run("update changes profile fields only", func(t *testing.T) {
		changed := *u
		changed.Bio = "bio"
		changed.Email = "new@x.com"
		changed.PasswordHash = "ignored"
		require.NoError(t, repo.Update(ctx, &changed))

		got, err := repo.GetByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "bio", got.Bio)
		assert.Equal(t, "ann@x.com", got.Email)
		assert.Equal(t, "hash", got.PasswordHash)
	})

	t.Run("password update", func(t *testing.T) {
		require.NoError(t, repo.UpdatePassword(ctx, u.ID, "new-hash"))
		got, err := repo.GetByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "new-hash", got.PasswordHash)
	})

	t.Run("unknown user", func(t *testing.T) {
		missing := ulid.Make()
		_, err := repo.GetByID(ctx, missing)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		_, err = repo.GetByEmail(ctx, "nobody@x.com")
		assert.ErrorIs(t, err, auth.ErrNotFound)
		assert.ErrorIs(t, repo.Update(ctx, &auth.User{ID: missing}), auth.ErrNotFound)
		assert.ErrorIs(t, repo.UpdatePassword(ctx, missing, "x"), auth.ErrNotFound)
	})

	assert.Equal(t, 1, repo.Len())
}

func newToken(t *testing.T, userID ulid.ULID, secret string, now time.Time) *auth.ResetToken {
	t.Helper()
	tok, err := auth.NewResetToken(userID, auth.HashResetSecret(secret), now, now.Add(auth.ResetTokenExpiry))
	require.NoError(t, err)
	return tok
}

func TestResetTokenRepository(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("create enforces one token per user", func(t *testing.T) {
		repo := memory.NewResetTokenRepository()
		userID := ulid.Make()
		require.NoError(t, repo.Create(ctx, newToken(t, userID, "a", now)))
		assert.ErrorIs(t, repo.Create(ctx, newToken(t, userID, "b", now)), auth.ErrConflict)
	})

	t.Run("replace drops the previous hash", func(t *testing.T) {
		repo := memory.NewResetTokenRepository()
		userID := ulid.Make()
		first := newToken(t, userID, "first", now)
		require.NoError(t, repo.ReplaceForUser(ctx, first))
		require.NoError(t, repo.ReplaceForUser(ctx, newToken(t, userID, "second", now)))

		_, err := repo.TakeByHash(ctx, first.TokenHash, now)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		assert.Equal(t, 1, repo.Len())
	})

	t.Run("take removes the token", func(t *testing.T) {
		repo := memory.NewResetTokenRepository()
		tok := newToken(t, ulid.Make(), "once", now)
		require.NoError(t, repo.Create(ctx, tok))

		got, err := repo.TakeByHash(ctx, tok.TokenHash, now)
		require.NoError(t, err)
		assert.Equal(t, tok.UserID, got.UserID)

		_, err = repo.GetByUser(ctx, tok.UserID)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("take ignores expired tokens but leaves them for the purge", func(t *testing.T) {
		repo := memory.NewResetTokenRepository()
		tok := newToken(t, ulid.Make(), "stale", now)
		require.NoError(t, repo.Create(ctx, tok))

		_, err := repo.TakeByHash(ctx, tok.TokenHash, tok.ExpiresAt)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		assert.Equal(t, 1, repo.Len())

		n, err := repo.DeleteExpired(ctx, tok.ExpiresAt)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		assert.Equal(t, 0, repo.Len())
	})

	t.Run("delete by user", func(t *testing.T) {
		repo := memory.NewResetTokenRepository()
		tok := newToken(t, ulid.Make(), "x", now)
		require.NoError(t, repo.Create(ctx, tok))
		require.NoError(t, repo.DeleteByUser(ctx, tok.UserID))
		require.NoError(t, repo.DeleteByUser(ctx, tok.UserID), "deleting nothing is fine")
		assert.Equal(t, 0, repo.Len())
	})
}
