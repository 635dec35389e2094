// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/credkeep/internal/auth"
)

// Compile-time interface check.
var _ auth.ResetTokenRepository = (*ResetTokenRepository)(nil)

const resetColumns = `id, user_id, token_hash, created_at, expires_at`

// ResetTokenRepository implements auth.ResetTokenRepository using PostgreSQL.
// The unique index on user_id holds at most one token per user.
type ResetTokenRepository struct {
	db DB
}

// NewResetTokenRepository creates a new ResetTokenRepository.
func NewResetTokenRepository(db DB) *ResetTokenRepository {
	return &ResetTokenRepository{db: db}
}

// Create stores a new reset token.
func (r *ResetTokenRepository) Create(ctx context.Context, token *auth.ResetToken) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO reset_tokens (`+resetColumns+`)
		VALUES ($1, $2, $3, $4, $5)
	`, token.ID.String(), token.UserID.String(), token.TokenHash, token.CreatedAt, token.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("RESET_EXISTS").
				With("user_id", token.UserID.String()).
				Wrap(auth.ErrConflict)
		}
		return oops.Code("RESET_CREATE_FAILED").
			With("operation", "insert reset_token").
			With("user_id", token.UserID.String()).
			Wrap(err)
	}
	return nil
}

// GetByUser retrieves the token for a user, expired or not.
func (r *ResetTokenRepository) GetByUser(ctx context.Context, userID ulid.ULID) (*auth.ResetToken, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+resetColumns+`
		FROM reset_tokens
		WHERE user_id = $1
	`, userID.String())

	token, err := scanResetToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("RESET_NOT_FOUND").
			With("user_id", userID.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("RESET_GET_BY_USER_FAILED").
			With("operation", "get reset by user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return token, nil
}

// DeleteByUser removes any token for a user.
func (r *ResetTokenRepository) DeleteByUser(ctx context.Context, userID ulid.ULID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM reset_tokens WHERE user_id = $1`, userID.String())
	if err != nil {
		return oops.Code("RESET_DELETE_FAILED").
			With("operation", "delete resets by user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

// ReplaceForUser supersedes any token of the user with token in a single
// upsert, so concurrent requests resolve to the last writer.
func (r *ResetTokenRepository) ReplaceForUser(ctx context.Context, token *auth.ResetToken) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO reset_tokens (`+resetColumns+`)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET id = EXCLUDED.id,
		    token_hash = EXCLUDED.token_hash,
		    created_at = EXCLUDED.created_at,
		    expires_at = EXCLUDED.expires_at
	`, token.ID.String(), token.UserID.String(), token.TokenHash, token.CreatedAt, token.ExpiresAt)
	if err != nil {
		return oops.Code("RESET_REPLACE_FAILED").
			With("operation", "upsert reset_token").
			With("user_id", token.UserID.String()).
			Wrap(err)
	}
	return nil
}

// TakeByHash deletes and returns the live token with the given hash. The
// DELETE ... RETURNING makes lookup and removal one statement, so concurrent
// callers cannot both receive the row.
func (r *ResetTokenRepository) TakeByHash(ctx context.Context, tokenHash string, now time.Time) (*auth.ResetToken, error) {
	row := r.db.QueryRow(ctx, `
		DELETE FROM reset_tokens
		WHERE token_hash = $1 AND expires_at > $2
		RETURNING `+resetColumns, tokenHash, now)

	token, err := scanResetToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("RESET_TAKE_FAILED").
			With("operation", "delete reset by hash").
			Wrap(err)
	}
	return token, nil
}

// DeleteExpired removes tokens expired at now.
func (r *ResetTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM reset_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, oops.Code("RESET_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired resets").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanResetToken scans a row into a ResetToken.
func scanResetToken(row pgx.Row) (*auth.ResetToken, error) {
	var (
		idStr     string
		userIDStr string
		token     auth.ResetToken
	)

	if err := row.Scan(&idStr, &userIDStr, &token.TokenHash, &token.CreatedAt, &token.ExpiresAt); err != nil {
		// Callers map pgx.ErrNoRows and wrap everything else with their own code.
		return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("RESET_INVALID_ID").With("id", idStr).Wrap(err)
	}
	userID, err := ulid.Parse(userIDStr)
	if err != nil {
		return nil, oops.Code("RESET_INVALID_USER_ID").With("user_id", userIDStr).Wrap(err)
	}
	token.ID = id
	token.UserID = userID
	return &token, nil
}
