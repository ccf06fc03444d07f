// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"fmt"
	"net/http"

	"github.com/ManuGH/classd/internal/auth"
	"github.com/ManuGH/classd/internal/log"
)

// anonymous is used when authentication is disabled.
var anonymous = &auth.Principal{Subject: "anonymous", Scopes: []string{auth.ScopeRead, auth.ScopeWrite}}

// authenticate resolves the bearer token into a principal. It never
// authorizes; handlers call authorize with the concrete action.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := anonymous
		if s.verifier != nil {
			token := auth.ExtractToken(r)
			if token == "" {
				writeError(w, r, fmt.Errorf("%w: missing bearer token", auth.ErrUnauthenticated))
				return
			}
			var err error
			if p, err = s.verifier.Verify(token); err != nil {
				logger := log.WithComponentFromContext(r.Context(), "auth")
				logger.Debug().Err(err).Msg("token rejected")
				writeError(w, r, err)
				return
			}
		}
		ctx := auth.ContextWithPrincipal(r.Context(), p)
		ctx = log.ContextWithSubject(ctx, p.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authorize calls the decision point and writes the refusal when it says no.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, action auth.Action, classroomID string) bool {
	p, _ := auth.PrincipalFromContext(r.Context())
	if err := s.authorizer.Authorize(r.Context(), p, action, classroomID); err != nil {
		writeError(w, r, err)
		return false
	}
	return true
}
