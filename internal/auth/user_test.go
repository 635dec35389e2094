// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/credkeep/internal/auth"
	"github.com/holomush/credkeep/pkg/errutil"
)

func TestNewUser(t *testing.T) {
	now := time.Now()

	u, err := auth.NewUser("  Ann ", " Ann@X.com ", "hash", now)
	require.NoError(t, err)
	assert.Equal(t, "Ann", u.Name)
	assert.Equal(t, "ann@x.com", u.Email)
	assert.Equal(t, auth.DefaultPhotoURL, u.Photo)
	assert.Equal(t, now, u.CreatedAt)
	assert.Equal(t, now, u.UpdatedAt)

	_, err = auth.NewUser("Ann", "ann@x.com", "", now)
	errutil.AssertErrorCode(t, err, "USER_INVALID_HASH")
}

func TestValidateEmail(t *testing.T) {
	valid := []string{"ann@x.com", "first.last+tag@sub.example.org"}
	for _, email := range valid {
		assert.NoError(t, auth.ValidateEmail(email), email)
	}

	invalid := []string{"", "ann", "ann@", "@x.com", "Ann <ann@x.com>", "ann@x.com extra"}
	for _, email := range invalid {
		err := auth.ValidateEmail(email)
		assert.ErrorIs(t, err, auth.ErrValidation, "%q should be rejected", email)
	}
}

func TestValidateName(t *testing.T) {
	require.NoError(t, auth.ValidateName("Ann"))
	assert.ErrorIs(t, auth.ValidateName(""), auth.ErrValidation)
	assert.ErrorIs(t, auth.ValidateName(strings.Repeat("a", auth.MaxNameLength+1)), auth.ErrValidation)
	assert.NoError(t, auth.ValidateName(strings.Repeat("é", auth.MaxNameLength)), "length counts runes")
}

func TestValidatePassword(t *testing.T) {
	assert.NoError(t, auth.ValidatePassword("123456"))
	errutil.AssertErrorCode(t, auth.ValidatePassword("12345"), "AUTH_PASSWORD_TOO_SHORT")
	errutil.AssertErrorCode(t, auth.ValidatePassword(""), "AUTH_EMPTY_PASSWORD")
}

func TestProfileUpdate(t *testing.T) {
	assert.True(t, auth.ProfileUpdate{}.IsEmpty())
	assert.False(t, auth.ProfileUpdate{Bio: ptr("")}.IsEmpty())

	t.Run("bio length", func(t *testing.T) {
		ok := strings.Repeat("b", auth.MaxBioLength)
		assert.NoError(t, auth.ProfileUpdate{Bio: &ok}.Validate())

		long := ok + "b"
		err := auth.ProfileUpdate{Bio: &long}.Validate()
		errutil.AssertErrorCode(t, err, "USER_INVALID_BIO")
		errutil.AssertPublicMessage(t, err, "bio must not be more than 250 characters")
	})

	t.Run("apply never touches email", func(t *testing.T) {
		u, err := auth.NewUser("Ann", "ann@x.com", "hash", time.Now())
		require.NoError(t, err)
		later := u.UpdatedAt.Add(time.Minute)

		auth.ProfileUpdate{Name: ptr(" Annie "), Photo: ptr("p.png")}.Apply(u, later)
		assert.Equal(t, "Annie", u.Name)
		assert.Equal(t, "p.png", u.Photo)
		assert.Equal(t, "ann@x.com", u.Email)
		assert.Equal(t, later, u.UpdatedAt)
	})
}
