// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/samber/oops"

	"github.com/holomush/credkeep/internal/auth"
	"github.com/holomush/credkeep/pkg/errutil"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// messageBody is the JSON shape of responses that only confirm an action.
type messageBody struct {
	Message string `json:"message"`
}

// StatusFor maps an error kind to an HTTP status. A duplicate email answers
// 400 like any other rejected registration.
func StatusFor(kind auth.Kind) int {
	switch kind {
	case auth.KindValidation, auth.KindConflict:
		return http.StatusBadRequest
	case auth.KindNotFound:
		return http.StatusNotFound
	case auth.KindAuthentication:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

var defaultMessages = map[auth.Kind]string{
	auth.KindValidation:     "invalid request",
	auth.KindConflict:       "already exists",
	auth.KindNotFound:       "not found",
	auth.KindAuthentication: "not authorized",
	auth.KindDelivery:       "email not sent, please try again",
	auth.KindInternal:       "internal error",
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, messageBody{Message: message})
}

// writeError renders err. Only the public message of an oops error reaches
// the client; internal errors are logged and answered generically.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := auth.KindOf(err)
	status := StatusFor(kind)

	body := errorBody{Message: defaultMessages[kind], Code: errutil.Code(err)}
	if kind != auth.KindInternal {
		if oopsErr, ok := oops.AsOops(err); ok {
			if public := oopsErr.Public(); public != "" {
				body.Message = public
			}
		}
	}

	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	errutil.LogErrorContext(r.Context(), s.logger, level, "request failed",
		oops.With("method", r.Method).With("path", r.URL.Path).With("status", status).Wrap(err))

	if kind == auth.KindInternal {
		body.Code = ""
	}
	writeJSON(w, status, body)
}
