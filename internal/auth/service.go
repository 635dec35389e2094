// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/credkeep/pkg/errutil"
)

// OperationObserver receives the outcome of every service operation.
// outcome is "ok" or the Kind name of the returned error.
type OperationObserver interface {
	ObserveOperation(operation, outcome string, elapsed time.Duration)
}

// Dependencies are the collaborators a Service cannot run without.
type Dependencies struct {
	Users    UserRepository
	Resets   *ResetManager
	Hasher   PasswordHasher
	Sessions *SessionIssuer
	Notifier Notifier
	Mail     ResetMailConfig
}

// Service implements the credential lifecycle: registration, login, profile
// maintenance, password change and the forgot/reset password flow. It is the
// only component that talks to the user store, the reset token store and the
// notifier.
type Service struct {
	users    UserRepository
	resets   *ResetManager
	hasher   PasswordHasher
	sessions *SessionIssuer
	notifier Notifier
	mail     ResetMailConfig

	logger   *slog.Logger
	observer OperationObserver
	tracer   trace.Tracer
	now      func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver registers an OperationObserver, typically Prometheus metrics.
func WithObserver(o OperationObserver) ServiceOption {
	return func(s *Service) { s.observer = o }
}

// WithClock overrides the time source for user timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a Service, validating that every dependency is present.
func NewService(deps Dependencies, opts ...ServiceOption) (*Service, error) {
	switch {
	case deps.Users == nil:
		return nil, oops.Errorf("user repository is required")
	case deps.Resets == nil:
		return nil, oops.Errorf("reset manager is required")
	case deps.Hasher == nil:
		return nil, oops.Errorf("password hasher is required")
	case deps.Sessions == nil:
		return nil, oops.Errorf("session issuer is required")
	case deps.Notifier == nil:
		return nil, oops.Errorf("notifier is required")
	}

	s := &Service{
		users:    deps.Users,
		resets:   deps.Resets,
		hasher:   deps.Hasher,
		sessions: deps.Sessions,
		notifier: deps.Notifier,
		mail:     deps.Mail,
		logger:   slog.Default(),
		tracer:   otel.Tracer("credkeep/auth"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AuthResult is returned by a successful registration or login.
type AuthResult struct {
	Profile   Profile
	Token     string
	ExpiresAt time.Time
}

// RegisterInput carries the registration fields.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// begin opens a span for op and returns a completion func that records the
// outcome. Use as: ctx, done := s.begin(ctx, "op"); defer done(&err).
func (s *Service) begin(ctx context.Context, op string) (context.Context, func(*error)) {
	ctx, span := s.tracer.Start(ctx, "auth."+op)
	start := time.Now()
	return ctx, func(errp *error) {
		outcome := "ok"
		if err := *errp; err != nil {
			outcome = KindOf(err).String()
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
		if s.observer != nil {
			s.observer.ObserveOperation(op, outcome, time.Since(start))
		}
	}
}

// Register creates an account and opens a session for it.
func (s *Service) Register(ctx context.Context, in RegisterInput) (_ *AuthResult, err error) {
	ctx, done := s.begin(ctx, "register")
	defer done(&err)

	name := strings.TrimSpace(in.Name)
	email := NormalizeEmail(in.Email)
	if name == "" || email == "" || in.Password == "" {
		return nil, oops.Code("AUTH_MISSING_FIELDS").
			Public("please fill in all required fields").
			Wrapf(ErrValidation, "name, email and password are required")
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, errEmailTaken()
	} else if !errors.Is(err, ErrNotFound) {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "GetByEmail").
			Wrap(errutil.Seal(err))
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "Hash").
			Wrap(errutil.Seal(err))
	}

	user, err := NewUser(name, email, hash, s.now())
	if err != nil {
		return nil, err
	}

	// The store enforces uniqueness; a concurrent registration loses here.
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, errEmailTaken()
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "Create").
			Wrap(errutil.Seal(err))
	}

	result, err := s.openSession(user)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID.String())
	return result, nil
}

// Login verifies credentials and opens a session.
//
// An unknown email is reported as not found rather than folded into the
// invalid-credentials error; clients rely on it to prompt for sign-up.
func (s *Service) Login(ctx context.Context, email, password string) (_ *AuthResult, err error) {
	ctx, done := s.begin(ctx, "login")
	defer done(&err)

	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, oops.Code("AUTH_MISSING_FIELDS").
			Public("please provide email and password").
			Wrapf(ErrValidation, "email and password are required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("AUTH_USER_NOT_FOUND").
				Public("user not found, please sign up").
				Wrap(errutil.Seal(err))
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "GetByEmail").
			Wrap(errutil.Seal(err))
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		s.logger.InfoContext(ctx, "login failed", "user_id", user.ID.String(), "reason", "invalid_credentials")
		return nil, oops.Code("AUTH_INVALID_CREDENTIALS").
			Public("invalid email or password").
			Wrapf(ErrAuthentication, "password mismatch")
	}

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		s.upgradeHash(ctx, user, password)
	}

	return s.openSession(user)
}

// upgradeHash rehashes a legacy digest after a successful login. Failure is
// logged and does not affect the login.
func (s *Service) upgradeHash(ctx context.Context, user *User, password string) {
	hash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.users.UpdatePassword(ctx, user.ID, hash)
	}
	if err != nil {
		errutil.LogErrorContext(ctx, s.logger, slog.LevelWarn, "password hash upgrade failed", err)
		return
	}
	user.PasswordHash = hash
	s.logger.InfoContext(ctx, "password hash upgraded", "user_id", user.ID.String())
}

// Logout ends a session. Sessions are stateless, so there is nothing to
// revoke server-side: the transport discards the client-held token.
func (s *Service) Logout(ctx context.Context) (err error) {
	_, done := s.begin(ctx, "logout")
	defer done(&err)
	return nil
}

// GetProfile returns the public profile of userID.
func (s *Service) GetProfile(ctx context.Context, userID ulid.ULID) (_ Profile, err error) {
	ctx, done := s.begin(ctx, "get_profile")
	defer done(&err)

	user, err := s.getUser(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	return user.Profile(), nil
}

// CheckSession reports whether token is a valid session token. It never
// fails: missing or malformed tokens are simply invalid.
func (s *Service) CheckSession(ctx context.Context, token string) bool {
	_, err := s.Authenticate(ctx, token)
	return err == nil
}

// Authenticate verifies token and returns the user it is bound to.
func (s *Service) Authenticate(ctx context.Context, token string) (_ ulid.ULID, err error) {
	_, done := s.begin(ctx, "authenticate")
	defer done(&err)
	return s.sessions.Verify(token)
}

// UpdateProfile merges update into the profile of userID. Email cannot be
// changed here.
func (s *Service) UpdateProfile(ctx context.Context, userID ulid.ULID, update ProfileUpdate) (_ Profile, err error) {
	ctx, done := s.begin(ctx, "update_profile")
	defer done(&err)

	if err := update.Validate(); err != nil {
		return Profile{}, err
	}

	user, err := s.getUser(ctx, userID)
	if err != nil {
		return Profile{}, err
	}

	update.Apply(user, s.now())
	if err := s.users.Update(ctx, user); err != nil {
		return Profile{}, oops.Code("AUTH_UPDATE_PROFILE_FAILED").
			With("operation", "Update").
			With("user_id", userID.String()).
			Wrap(errutil.Seal(err))
	}
	return user.Profile(), nil
}

// ChangePassword replaces the password of userID after checking the old one.
func (s *Service) ChangePassword(ctx context.Context, userID ulid.ULID, oldPassword, newPassword string) (err error) {
	ctx, done := s.begin(ctx, "change_password")
	defer done(&err)

	user, err := s.getUser(ctx, userID)
	if err != nil {
		return err
	}

	if oldPassword == "" || newPassword == "" {
		return oops.Code("AUTH_MISSING_FIELDS").
			Public("please provide old and new password").
			Wrapf(ErrValidation, "old and new password are required")
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	if !s.hasher.Verify(oldPassword, user.PasswordHash) {
		return oops.Code("AUTH_OLD_PASSWORD_INCORRECT").
			Public("old password is incorrect").
			Wrapf(ErrAuthentication, "old password mismatch")
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "Hash").
			Wrap(errutil.Seal(err))
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "UpdatePassword").
			With("user_id", userID.String()).
			Wrap(errutil.Seal(err))
	}

	s.logger.InfoContext(ctx, "password changed", "user_id", user.ID.String())
	return nil
}

// ForgotPassword issues a reset secret for the account with email and mails
// the reset link. When delivery fails the token stays valid, so the caller
// may retry sending without a new token being required.
func (s *Service) ForgotPassword(ctx context.Context, email string) (err error) {
	ctx, done := s.begin(ctx, "forgot_password")
	defer done(&err)

	email = NormalizeEmail(email)
	if email == "" {
		return oops.Code("AUTH_MISSING_FIELDS").
			Public("email is required").
			Wrapf(ErrValidation, "email is required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("AUTH_USER_NOT_FOUND").
				Public("user does not exist").
				Wrap(errutil.Seal(err))
		}
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "GetByEmail").
			Wrap(errutil.Seal(err))
	}

	secret, err := s.resets.RequestReset(ctx, user.ID)
	if err != nil {
		return err
	}

	msg, err := s.mail.BuildResetMessage(user, secret, s.resets.TTL())
	if err != nil {
		return err
	}

	if err := s.notifier.Send(ctx, msg); err != nil {
		wrapped := oops.Code("MAIL_NOT_SENT").
			With("user_id", user.ID.String()).
			Public("email not sent, please try again").
			Wrapf(ErrDelivery, "send reset email: %v", err)
		errutil.LogErrorContext(ctx, s.logger, slog.LevelWarn, "reset email delivery failed", wrapped)
		return wrapped
	}

	s.logger.InfoContext(ctx, "password reset requested", "user_id", user.ID.String())
	return nil
}

// ResetPassword consumes secret and sets newPassword for its user. The new
// password is validated and hashed before the secret is consumed, so a
// rejected password never burns a valid token.
func (s *Service) ResetPassword(ctx context.Context, secret, newPassword string) (err error) {
	ctx, done := s.begin(ctx, "reset_password")
	defer done(&err)

	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "Hash").
			Wrap(errutil.Seal(err))
	}

	token, err := s.resets.take(ctx, secret)
	if err != nil {
		return err
	}

	if err := s.users.UpdatePassword(ctx, token.UserID, hash); err != nil {
		// Put the token back so the user can retry with the same link.
		if restoreErr := s.resets.reinstate(ctx, token); restoreErr != nil {
			errutil.LogErrorContext(ctx, s.logger, slog.LevelWarn, "reset token reinstate failed", restoreErr)
		}
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "UpdatePassword").
			With("user_id", token.UserID.String()).
			Wrap(errutil.Seal(err))
	}

	s.logger.InfoContext(ctx, "password reset completed", "user_id", token.UserID.String())
	return nil
}

func (s *Service) getUser(ctx context.Context, userID ulid.ULID) (*User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("AUTH_USER_NOT_FOUND").
				With("user_id", userID.String()).
				Public("user does not exist").
				Wrap(errutil.Seal(err))
		}
		return nil, oops.Code("AUTH_USER_LOOKUP_FAILED").
			With("operation", "GetByID").
			With("user_id", userID.String()).
			Wrap(errutil.Seal(err))
	}
	return user, nil
}

func (s *Service) openSession(user *User) (*AuthResult, error) {
	token, expiresAt, err := s.sessions.Issue(user.ID)
	if err != nil {
		return nil, oops.Code("AUTH_SESSION_ISSUE_FAILED").
			With("user_id", user.ID.String()).
			Wrap(errutil.Seal(err))
	}
	return &AuthResult{
		Profile:   user.Profile(),
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

func errEmailTaken() error {
	return oops.Code("AUTH_EMAIL_TAKEN").
		Public("a user with this email already exists").
		Wrapf(ErrConflict, "email already registered")
}
