// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

const corsMaxAge = 10 * time.Minute

var (
	corsMethods = strings.Join([]string{
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions,
	}, ", ")
	corsHeaders = "Content-Type, Authorization"
)

// originMatcher holds compiled origin patterns.
//
// Patterns use gobwas/glob with no separators, so '*' spans dots:
//   - "https://app.example.com" matches exactly
//   - "https://*.example.com" matches any subdomain
//   - "http://localhost:*" matches any local port
type originMatcher struct {
	patterns []glob.Glob
}

func newOriginMatcher(patterns []string) (*originMatcher, error) {
	m := &originMatcher{patterns: make([]glob.Glob, 0, len(patterns))}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, oops.Code("CORS_INVALID_PATTERN").With("pattern", p).Wrap(err)
		}
		m.patterns = append(m.patterns, g)
	}
	return m, nil
}

// Allows reports whether origin matches any pattern.
func (m *originMatcher) Allows(origin string) bool {
	if origin == "" {
		return false
	}
	for _, g := range m.patterns {
		if g.Match(origin) {
			return true
		}
	}
	return false
}

// corsMiddleware answers preflights and sets credentialed CORS headers for
// allowed origins. Requests from other origins pass through without CORS
// headers and preflights from them get 403.
func corsMiddleware(m *originMatcher) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Add("Vary", "Origin")

			allowed := m.Allows(origin)
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			if !preflight {
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Methods", corsMethods)
			w.Header().Set("Access-Control-Allow-Headers", corsHeaders)
			w.Header().Set("Access-Control-Max-Age", strconv.Itoa(int(corsMaxAge.Seconds())))
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
