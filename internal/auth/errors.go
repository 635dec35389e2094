// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import "errors"

// Sentinel errors carried (via oops.Wrap) by every error this package returns.
// Callers classify failures with errors.Is or KindOf, never by message text.
var (
	// ErrValidation marks missing or malformed input. No side effect occurred.
	ErrValidation = errors.New("validation failed")
	// ErrConflict marks a uniqueness violation, e.g. an email already registered.
	ErrConflict = errors.New("conflict")
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAuthentication marks a wrong password or an invalid or expired token.
	ErrAuthentication = errors.New("authentication failed")
	// ErrDelivery marks a notifier failure. It is retryable.
	ErrDelivery = errors.New("delivery failed")
)

// Kind classifies an error returned by the credential service.
type Kind int

// Error kinds, in the order they are checked by KindOf.
const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindAuthentication
	KindDelivery
)

var kindNames = map[Kind]string{
	KindInternal:       "internal",
	KindValidation:     "validation",
	KindConflict:       "conflict",
	KindNotFound:       "not_found",
	KindAuthentication: "authentication",
	KindDelivery:       "delivery",
}

// String returns the snake_case kind name used in logs and metric labels.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// KindOf resolves the kind of err. A nil error has no meaningful kind and
// reports KindInternal, as does any error not wrapping one of the sentinels.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAuthentication):
		return KindAuthentication
	case errors.Is(err, ErrDelivery):
		return KindDelivery
	default:
		return KindInternal
	}
}
