// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/holomush/credkeep/internal/auth"
	"github.com/holomush/credkeep/internal/web"
)

// mockCredentials is a testify mock of web.Credentials.
type mockCredentials struct {
	mock.Mock
}

func (m *mockCredentials) Register(ctx context.Context, in auth.RegisterInput) (*auth.AuthResult, error) {
	args := m.Called(ctx, in)
	res, _ := args.Get(0).(*auth.AuthResult)
	return res, args.Error(1)
}

func (m *mockCredentials) Login(ctx context.Context, email, password string) (*auth.AuthResult, error) {
	args := m.Called(ctx, email, password)
	res, _ := args.Get(0).(*auth.AuthResult)
	return res, args.Error(1)
}

func (m *mockCredentials) Logout(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockCredentials) GetProfile(ctx context.Context, userID ulid.ULID) (auth.Profile, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(auth.Profile), args.Error(1)
}

func (m *mockCredentials) CheckSession(ctx context.Context, token string) bool {
	return m.Called(ctx, token).Bool(0)
}

func (m *mockCredentials) Authenticate(ctx context.Context, token string) (ulid.ULID, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(ulid.ULID), args.Error(1)
}

func (m *mockCredentials) UpdateProfile(ctx context.Context, userID ulid.ULID, update auth.ProfileUpdate) (auth.Profile, error) {
	args := m.Called(ctx, userID, update)
	return args.Get(0).(auth.Profile), args.Error(1)
}

func (m *mockCredentials) ChangePassword(ctx context.Context, userID ulid.ULID, oldPassword, newPassword string) error {
	return m.Called(ctx, userID, oldPassword, newPassword).Error(0)
}

func (m *mockCredentials) ForgotPassword(ctx context.Context, email string) error {
	return m.Called(ctx, email).Error(0)
}

func (m *mockCredentials) ResetPassword(ctx context.Context, secret, newPassword string) error {
	return m.Called(ctx, secret, newPassword).Error(0)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind auth.Kind
		want int
	}{
		{auth.KindValidation, http.StatusBadRequest},
		{auth.KindConflict, http.StatusBadRequest},
		{auth.KindNotFound, http.StatusNotFound},
		{auth.KindAuthentication, http.StatusUnauthorized},
		{auth.KindDelivery, http.StatusInternalServerError},
		{auth.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, web.StatusFor(tt.kind))
		})
	}
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantCode    string
		wantMessage string
	}{
		{
			name:        "public message and code",
			err:         oops.Code("AUTH_INVALID_CREDENTIALS").Public("invalid email or password").Wrap(auth.ErrAuthentication),
			wantStatus:  http.StatusUnauthorized,
			wantCode:    "AUTH_INVALID_CREDENTIALS",
			wantMessage: "invalid email or password",
		},
		{
			name:        "kind default message",
			err:         oops.Code("AUTH_USER_NOT_FOUND").Wrap(auth.ErrNotFound),
			wantStatus:  http.StatusNotFound,
			wantCode:    "AUTH_USER_NOT_FOUND",
			wantMessage: "not found",
		},
		{
			name:        "internal details stay private",
			err:         oops.Code("DB_DOWN").Public("connection to 10.0.0.5 refused").Errorf("pool exhausted"),
			wantStatus:  http.StatusInternalServerError,
			wantMessage: "internal error",
		},
		{
			name:        "plain error",
			err:         errors.New("boom"),
			wantStatus:  http.StatusInternalServerError,
			wantMessage: "internal error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockCredentials{}
			svc.On("Login", mock.Anything, "ann@x.com", "secret1").Return(nil, tt.err).Once()

			srv, err := web.NewServer("127.0.0.1:0", svc, web.WithLogger(discard))
			require.NoError(t, err)
			a := &api{handler: srv.Handler()}

			rec := a.do(t, call{method: http.MethodPost, path: "/api/users/login", body: map[string]string{
				"email": "ann@x.com", "password": "secret1",
			}})
			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decode[errBody](t, rec)
			assert.Equal(t, tt.wantCode, body.Code)
			assert.Equal(t, tt.wantMessage, body.Message)
			svc.AssertExpectations(t)
		})
	}
}

func TestSessionMiddlewarePassesUserID(t *testing.T) {
	svc := &mockCredentials{}
	userID := ulid.Make()
	svc.On("Authenticate", mock.Anything, "tok").Return(userID, nil).Once()
	svc.On("ChangePassword", mock.Anything, userID, "old123", "new123").Return(nil).Once()

	srv, err := web.NewServer("127.0.0.1:0", svc, web.WithLogger(discard))
	require.NoError(t, err)
	a := &api{handler: srv.Handler()}

	rec := a.do(t, call{method: http.MethodPatch, path: "/api/users/changepassword", bearer: "tok",
		body: map[string]string{"oldPassword": "old123", "password": "new123"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

func TestNewServer_RejectsBadInput(t *testing.T) {
	_, err := web.NewServer(":0", nil)
	require.Error(t, err)

	_, err = web.NewServer(":0", &mockCredentials{}, web.WithAllowedOrigins("https://[app"))
	require.Error(t, err)
}
