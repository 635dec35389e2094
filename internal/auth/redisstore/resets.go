// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package redisstore keeps reset tokens in Redis. Each token is a hash under
// <prefix>token:<token_hash> and each user points at its token through
// <prefix>user:<user_id>. Both keys expire with the token, so Redis drops
// expired tokens on its own; DeleteExpired only catches tokens whose expiry
// was judged against a clock other than the server's.
//
// Every mutation is a Lua script, which Redis runs atomically. The scripts
// derive keys from the prefix, so all keys must live on one node.
package redisstore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/holomush/credkeep/internal/auth"
)

// Compile-time interface check.
var _ auth.ResetTokenRepository = (*ResetTokenRepository)(nil)

// DefaultKeyPrefix namespaces the keys written by ResetTokenRepository.
const DefaultKeyPrefix = "credkeep:reset:"

// storeScript writes a token. ARGV[7] == "1" supersedes any token of the
// user; otherwise an existing token makes the script return 0.
var storeScript = redis.NewScript(`
local userKey, tokenKey = KEYS[1], KEYS[2]
local old = redis.call('GET', userKey)
if old then
  if ARGV[7] ~= '1' then
    return 0
  end
  redis.call('DEL', ARGV[1] .. old)
end
redis.call('HSET', tokenKey, 'id', ARGV[2], 'user_id', ARGV[3], 'created_ms', ARGV[4], 'expires_ms', ARGV[5])
redis.call('PEXPIREAT', tokenKey, ARGV[5])
redis.call('SET', userKey, ARGV[6])
redis.call('PEXPIREAT', userKey, ARGV[5])
return 1
`)

// takeScript deletes and returns the token at KEYS[1] if its expiry is after
// ARGV[1]. ARGV[2] is the user key prefix; ARGV[3] the token hash.
var takeScript = redis.NewScript(`
local f = redis.call('HMGET', KEYS[1], 'id', 'user_id', 'created_ms', 'expires_ms')
if not f[1] then
  return false
end
if tonumber(f[4]) <= tonumber(ARGV[1]) then
  return false
end
redis.call('DEL', KEYS[1])
local userKey = ARGV[2] .. f[2]
if redis.call('GET', userKey) == ARGV[3] then
  redis.call('DEL', userKey)
end
return f
`)

// purgeScript deletes the token at KEYS[1] if it is expired at ARGV[1].
var purgeScript = redis.NewScript(`
local f = redis.call('HMGET', KEYS[1], 'user_id', 'expires_ms')
if not f[1] then
  return 0
end
if tonumber(f[2]) > tonumber(ARGV[1]) then
  return 0
end
redis.call('DEL', KEYS[1])
local userKey = ARGV[2] .. f[1]
if redis.call('GET', userKey) == ARGV[3] then
  redis.call('DEL', userKey)
end
return 1
`)

// dropUserScript removes the token of the user at KEYS[1].
var dropUserScript = redis.NewScript(`
local h = redis.call('GET', KEYS[1])
if h then
  redis.call('DEL', ARGV[1] .. h)
end
redis.call('DEL', KEYS[1])
return 1
`)

// ResetTokenRepository implements auth.ResetTokenRepository on Redis.
// Timestamps are kept at millisecond precision.
type ResetTokenRepository struct {
	rdb    redis.UniversalClient
	prefix string
}

// Option configures a ResetTokenRepository.
type Option func(*ResetTokenRepository)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(r *ResetTokenRepository) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// NewResetTokenRepository creates a ResetTokenRepository on rdb.
func NewResetTokenRepository(rdb redis.UniversalClient, opts ...Option) *ResetTokenRepository {
	r := &ResetTokenRepository{rdb: rdb, prefix: DefaultKeyPrefix}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *ResetTokenRepository) tokenPrefix() string { return r.prefix + "token:" }
func (r *ResetTokenRepository) userPrefix() string  { return r.prefix + "user:" }

func (r *ResetTokenRepository) tokenKey(hash string) string { return r.tokenPrefix() + hash }

func (r *ResetTokenRepository) userKey(id ulid.ULID) string { return r.userPrefix() + id.String() }

// Create stores a new reset token.
func (r *ResetTokenRepository) Create(ctx context.Context, token *auth.ResetToken) error {
	stored, err := r.store(ctx, token, false)
	if err != nil {
		return oops.Code("RESET_CREATE_FAILED").
			With("operation", "store reset token").
			With("user_id", token.UserID.String()).
			Wrap(err)
	}
	if !stored {
		return oops.Code("RESET_EXISTS").
			With("user_id", token.UserID.String()).
			Wrap(auth.ErrConflict)
	}
	return nil
}

// ReplaceForUser supersedes any token of the user with token.
func (r *ResetTokenRepository) ReplaceForUser(ctx context.Context, token *auth.ResetToken) error {
	if _, err := r.store(ctx, token, true); err != nil {
		return oops.Code("RESET_REPLACE_FAILED").
			With("operation", "replace reset token").
			With("user_id", token.UserID.String()).
			Wrap(err)
	}
	return nil
}

func (r *ResetTokenRepository) store(ctx context.Context, token *auth.ResetToken, replace bool) (bool, error) {
	mode := "0"
	if replace {
		mode = "1"
	}
	n, err := storeScript.Run(ctx, r.rdb,
		[]string{r.userKey(token.UserID), r.tokenKey(token.TokenHash)},
		r.tokenPrefix(),
		token.ID.String(),
		token.UserID.String(),
		token.CreatedAt.UnixMilli(),
		token.ExpiresAt.UnixMilli(),
		token.TokenHash,
		mode,
	).Int()
	if err != nil {
		return false, err //nolint:wrapcheck // callers wrap with operation context
	}
	return n == 1, nil
}

// GetByUser retrieves the token of a user. Tokens past their expiry have
// already been evicted by Redis.
func (r *ResetTokenRepository) GetByUser(ctx context.Context, userID ulid.ULID) (*auth.ResetToken, error) {
	hash, err := r.rdb.Get(ctx, r.userKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, errResetNotFound(userID)
	}
	if err != nil {
		return nil, oops.Code("RESET_GET_BY_USER_FAILED").
			With("operation", "get user pointer").
			With("user_id", userID.String()).
			Wrap(err)
	}

	vals, err := r.rdb.HMGet(ctx, r.tokenKey(hash), "id", "user_id", "created_ms", "expires_ms").Result()
	if err != nil {
		return nil, oops.Code("RESET_GET_BY_USER_FAILED").
			With("operation", "get token").
			With("user_id", userID.String()).
			Wrap(err)
	}
	if vals[0] == nil {
		return nil, errResetNotFound(userID)
	}
	return decodeToken(hash, vals)
}

// DeleteByUser removes any token for a user.
func (r *ResetTokenRepository) DeleteByUser(ctx context.Context, userID ulid.ULID) error {
	err := dropUserScript.Run(ctx, r.rdb, []string{r.userKey(userID)}, r.tokenPrefix()).Err()
	if err != nil {
		return oops.Code("RESET_DELETE_FAILED").
			With("operation", "delete resets by user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

// TakeByHash deletes and returns the live token with the given hash.
func (r *ResetTokenRepository) TakeByHash(ctx context.Context, tokenHash string, now time.Time) (*auth.ResetToken, error) {
	res, err := takeScript.Run(ctx, r.rdb,
		[]string{r.tokenKey(tokenHash)},
		now.UnixMilli(),
		r.userPrefix(),
		tokenHash,
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("RESET_TAKE_FAILED").
			With("operation", "take reset by hash").
			Wrap(err)
	}
	return decodeToken(tokenHash, res)
}

// DeleteExpired scans the token keys and removes those expired at now.
func (r *ResetTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var removed int64
	iter := r.rdb.Scan(ctx, 0, r.tokenPrefix()+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		hash := key[len(r.tokenPrefix()):]
		n, err := purgeScript.Run(ctx, r.rdb, []string{key}, now.UnixMilli(), r.userPrefix(), hash).Int64()
		if err != nil {
			return removed, oops.Code("RESET_DELETE_EXPIRED_FAILED").
				With("operation", "purge reset token").
				Wrap(err)
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, oops.Code("RESET_DELETE_EXPIRED_FAILED").
			With("operation", "scan reset tokens").
			Wrap(err)
	}
	return removed, nil
}

// decodeToken builds a ResetToken from the id, user_id, created_ms and
// expires_ms fields, in that order.
func decodeToken(hash string, fields []any) (*auth.ResetToken, error) {
	if len(fields) != 4 {
		return nil, oops.Code("RESET_DECODE_FAILED").Errorf("expected 4 fields, got %d", len(fields))
	}
	str := make([]string, len(fields))
	for i, f := range fields {
		s, ok := f.(string)
		if !ok {
			return nil, oops.Code("RESET_DECODE_FAILED").Errorf("field %d is %T", i, f)
		}
		str[i] = s
	}

	id, err := ulid.Parse(str[0])
	if err != nil {
		return nil, oops.Code("RESET_INVALID_ID").With("id", str[0]).Wrap(err)
	}
	userID, err := ulid.Parse(str[1])
	if err != nil {
		return nil, oops.Code("RESET_INVALID_USER_ID").With("user_id", str[1]).Wrap(err)
	}
	createdMs, err := strconv.ParseInt(str[2], 10, 64)
	if err != nil {
		return nil, oops.Code("RESET_DECODE_FAILED").With("field", "created_ms").Wrap(err)
	}
	expiresMs, err := strconv.ParseInt(str[3], 10, 64)
	if err != nil {
		return nil, oops.Code("RESET_DECODE_FAILED").With("field", "expires_ms").Wrap(err)
	}

	return &auth.ResetToken{
		ID:        id,
		UserID:    userID,
		TokenHash: hash,
		CreatedAt: time.UnixMilli(createdMs),
		ExpiresAt: time.UnixMilli(expiresMs),
	}, nil
}

func errResetNotFound(userID ulid.ULID) error {
	return oops.Code("RESET_NOT_FOUND").
		With("user_id", userID.String()).
		Wrap(auth.ErrNotFound)
}
