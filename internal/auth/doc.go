// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth provides the credential and session lifecycle for credkeep.
//
// # Domain Types
//
// Domain types (User, ResetToken) should be created using their constructors:
//   - NewUser - creates a User with a validated name, normalised email and hash
//   - NewResetToken - creates a ResetToken with validated user and expiry
//
// Direct struct initialization bypasses validation and may create invalid state.
// Repository implementations receive pre-validated types from these constructors.
//
// # Components
//
//   - Argon2idHasher - salted password digests, constant-time verification
//   - SessionIssuer - stateless HS256 session tokens with an injected key
//   - ResetManager - single-use, time-limited password reset secrets
//   - Service - register, login, profile, change/forgot/reset password
//
// # Errors
//
// Every returned error wraps one of ErrValidation, ErrConflict, ErrNotFound,
// ErrAuthentication or ErrDelivery and carries an oops code. Use KindOf or
// errors.Is to branch; never match on message text.
package auth
