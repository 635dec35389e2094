// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/oops"

	"github.com/holomush/credkeep/internal/auth"
)

// authResponse is a profile plus the session token.
type authResponse struct {
	auth.Profile
	Token string `json:"token"`
}

type forgotPasswordResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// setSessionCookie writes the session cookie. An expiry at or before the
// epoch deletes it.
func (s *Server) setSessionCookie(w http.ResponseWriter, value string, expires time.Time) {
	c := &http.Cookie{
		Name:     s.cookieName,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	}
	if value == "" {
		c.Expires = time.Unix(0, 0)
		c.MaxAge = -1
	}
	http.SetCookie(w, c)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := s.schemas.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Register(r.Context(), auth.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.setSessionCookie(w, res.Token, res.ExpiresAt)
	writeJSON(w, http.StatusCreated, authResponse{Profile: res.Profile, Token: res.Token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := s.schemas.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.setSessionCookie(w, res.Token, res.ExpiresAt)
	writeJSON(w, http.StatusOK, authResponse{Profile: res.Profile, Token: res.Token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Logout(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.setSessionCookie(w, "", time.Time{})
	writeMessage(w, http.StatusOK, "logged out")
}

func (s *Server) handleLoggedIn(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.CheckSession(r.Context(), s.sessionToken(r)))
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFrom(r.Context())
	if !ok {
		s.writeError(w, r, oops.Errorf("session middleware did not run"))
		return
	}
	profile, err := s.svc.GetProfile(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFrom(r.Context())
	if !ok {
		s.writeError(w, r, oops.Errorf("session middleware did not run"))
		return
	}
	var req updateProfileRequest
	if err := s.schemas.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	profile, err := s.svc.UpdateProfile(r.Context(), userID, auth.ProfileUpdate{
		Name:  req.Name,
		Phone: req.Phone,
		Bio:   req.Bio,
		Photo: req.Photo,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFrom(r.Context())
	if !ok {
		s.writeError(w, r, oops.Errorf("session middleware did not run"))
		return
	}
	var req changePasswordRequest
	if err := s.schemas.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.ChangePassword(r.Context(), userID, req.OldPassword, req.Password); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "password changed")
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := s.schemas.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.ForgotPassword(r.Context(), req.Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, forgotPasswordResponse{
		Success: true,
		Message: "a password reset link has been sent",
	})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := s.schemas.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	secret := chi.URLParam(r, "resetToken")
	if err := s.svc.ResetPassword(r.Context(), secret, req.Password); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "password reset, please log in")
}
