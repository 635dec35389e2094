// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package web serves the credential API over HTTP under /api/users.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/credkeep/internal/auth"
)

// Compile-time interface check.
var _ Credentials = (*auth.Service)(nil)

// Credentials is the service the handlers call.
type Credentials interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.AuthResult, error)
	Login(ctx context.Context, email, password string) (*auth.AuthResult, error)
	Logout(ctx context.Context) error
	GetProfile(ctx context.Context, userID ulid.ULID) (auth.Profile, error)
	CheckSession(ctx context.Context, token string) bool
	Authenticate(ctx context.Context, token string) (ulid.ULID, error)
	UpdateProfile(ctx context.Context, userID ulid.ULID, update auth.ProfileUpdate) (auth.Profile, error)
	ChangePassword(ctx context.Context, userID ulid.ULID, oldPassword, newPassword string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, secret, newPassword string) error
}

// RequestObserver receives one call per served request.
type RequestObserver interface {
	ObserveRequest(route, method string, status int, elapsed time.Duration)
}

// DefaultCookieName is the cookie carrying the session token.
const DefaultCookieName = "token"

// Server is the HTTP front end of the credential service.
type Server struct {
	addr       string
	svc        Credentials
	logger     *slog.Logger
	metrics    RequestObserver
	origins    []string
	cookieName string
	schemas    *schemaSet
	handler    http.Handler

	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records per-route request metrics.
func WithMetrics(m RequestObserver) Option {
	return func(s *Server) { s.metrics = m }
}

// WithAllowedOrigins sets the CORS origin patterns.
func WithAllowedOrigins(patterns ...string) Option {
	return func(s *Server) { s.origins = append(s.origins, patterns...) }
}

// WithCookieName overrides DefaultCookieName.
func WithCookieName(name string) Option {
	return func(s *Server) {
		if name != "" {
			s.cookieName = name
		}
	}
}

// NewServer builds the router for svc. addr is used by Start.
func NewServer(addr string, svc Credentials, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, oops.Errorf("credential service is required")
	}
	s := &Server{
		addr:       addr,
		svc:        svc,
		logger:     slog.Default(),
		cookieName: DefaultCookieName,
	}
	for _, opt := range opts {
		opt(s)
	}

	schemas, err := compileSchemas(requestTypes...)
	if err != nil {
		return nil, err
	}
	s.schemas = schemas

	origins, err := newOriginMatcher(s.origins)
	if err != nil {
		return nil, err
	}
	s.handler = s.routes(origins)
	return s, nil
}

func (s *Server) routes(origins *originMatcher) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)
	r.Use(corsMiddleware(origins))
	r.Use(secureHeaders)

	r.Route("/api/users", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Get("/logout", s.handleLogout)
		r.Get("/loggedin", s.handleLoggedIn)
		r.Post("/forgotpassword", s.handleForgotPassword)
		r.Put("/resetpassword/{resetToken}", s.handleResetPassword)

		r.Group(func(pr chi.Router) {
			pr.Use(s.requireSession)
			pr.Get("/getuser", s.handleGetUser)
			pr.Patch("/updateuser", s.handleUpdateUser)
			pr.Patch("/changepassword", s.handleChangePassword)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Message: "route not found", Code: "ROUTE_NOT_FOUND"})
	})
	return r
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving the API.
// The returned channel receives a serve error, if any, and is closed when
// the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Code("WEB_RUNNING").Errorf("web server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("WEB_LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("web server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("web server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_web_server").Wrap(err)
		}
	}
	s.logger.Info("web server stopped")
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
