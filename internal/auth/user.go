// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Account field constraints.
const (
	MinPasswordLength = 6
	MaxNameLength     = 100
	MaxBioLength      = 250
)

// DefaultPhotoURL is assigned to users who have not uploaded a photo.
const DefaultPhotoURL = "https://i.ibb.co/4pDNDk1/avatar.png"

// User represents an account. PasswordHash never leaves this package's
// callers through Profile.
type User struct {
	ID           ulid.ULID
	Name         string
	Email        string
	PasswordHash string
	Photo        string
	Phone        string
	Bio          string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewUser creates a validated User. The email is normalised.
func NewUser(name, email, passwordHash string, now time.Time) (*User, error) {
	name = strings.TrimSpace(name)
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("USER_INVALID_HASH").Wrapf(ErrValidation, "password hash cannot be empty")
	}

	return &User{
		ID:           ulid.Make(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		Photo:        DefaultPhotoURL,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Profile is the public view of a User.
type Profile struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Photo string `json:"photo"`
	Phone string `json:"phone"`
	Bio   string `json:"bio"`
}

// Profile returns the public fields of u.
func (u *User) Profile() Profile {
	return Profile{
		ID:    u.ID.String(),
		Name:  u.Name,
		Email: u.Email,
		Photo: u.Photo,
		Phone: u.Phone,
		Bio:   u.Bio,
	}
}

// ProfileUpdate names the mutable profile fields. A nil field keeps the
// current value; a non-nil field replaces it, including with "".
type ProfileUpdate struct {
	Name  *string `json:"name,omitempty"`
	Phone *string `json:"phone,omitempty"`
	Bio   *string `json:"bio,omitempty"`
	Photo *string `json:"photo,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (p ProfileUpdate) IsEmpty() bool {
	return p.Name == nil && p.Phone == nil && p.Bio == nil && p.Photo == nil
}

// Validate checks the supplied fields without touching a user.
func (p ProfileUpdate) Validate() error {
	if p.Name != nil {
		if err := ValidateName(strings.TrimSpace(*p.Name)); err != nil {
			return err
		}
	}
	if p.Bio != nil && utf8.RuneCountInString(*p.Bio) > MaxBioLength {
		return oops.Code("USER_INVALID_BIO").
			With("max", MaxBioLength).
			Public("bio must not be more than 250 characters").
			Wrapf(ErrValidation, "bio exceeds %d characters", MaxBioLength)
	}
	return nil
}

// Apply merges p into u. Email is never touched. Callers must Validate first.
func (p ProfileUpdate) Apply(u *User, now time.Time) {
	if p.Name != nil {
		u.Name = strings.TrimSpace(*p.Name)
	}
	if p.Phone != nil {
		u.Phone = *p.Phone
	}
	if p.Bio != nil {
		u.Bio = *p.Bio
	}
	if p.Photo != nil {
		u.Photo = *p.Photo
	}
	u.UpdatedAt = now
}

// NormalizeEmail trims and lower-cases an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateName requires a non-blank display name of bounded length.
func ValidateName(name string) error {
	if name == "" {
		return oops.Code("USER_INVALID_NAME").
			Public("name is required").
			Wrapf(ErrValidation, "name cannot be empty")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return oops.Code("USER_INVALID_NAME").
			With("max", MaxNameLength).
			Public("name is too long").
			Wrapf(ErrValidation, "name exceeds %d characters", MaxNameLength)
	}
	return nil
}

// ValidateEmail requires a bare RFC 5322 address (no display name).
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code("USER_INVALID_EMAIL").
			Public("email is required").
			Wrapf(ErrValidation, "email cannot be empty")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return oops.Code("USER_INVALID_EMAIL").
			Public("please enter a valid email").
			Wrapf(ErrValidation, "malformed email address")
	}
	return nil
}

// ValidatePassword enforces the minimum password length.
func ValidatePassword(password string) error {
	if password == "" {
		return ErrEmptyPassword
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return oops.Code("AUTH_PASSWORD_TOO_SHORT").
			With("min", MinPasswordLength).
			Public("password must be at least 6 characters").
			Wrapf(ErrValidation, "password shorter than %d characters", MinPasswordLength)
	}
	return nil
}

// UserRepository manages user persistence.
type UserRepository interface {
	// Create stores a new user. Returns an error wrapping ErrConflict if the
	// email is already registered.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by normalised email.
	// Returns ErrNotFound if no user has the given email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// Update persists the profile fields of an existing user.
	Update(ctx context.Context, user *User) error

	// UpdatePassword replaces the stored password hash.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error
}
