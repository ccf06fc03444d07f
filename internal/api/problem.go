// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/classd/internal/api/middleware"
	"github.com/ManuGH/classd/internal/auth"
	"github.com/ManuGH/classd/internal/domain/classroom/manager"
	"github.com/ManuGH/classd/internal/log"
)

// problem is an RFC 7807 body. Code is a stable machine-readable short code.
type problem struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Code      string `json:"code"`
	Detail    string `json:"detail,omitempty"`
	Instance  string `json:"instance,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// errorMapping orders the sentinels from most to least specific;
// ErrOperationPending is also an ErrInvalidState.
var errorMapping = []struct {
	err    error
	status int
	typ    string
	code   string
}{
	{manager.ErrInvalidScheduling, http.StatusUnprocessableEntity, "classroom/invalid_scheduling", "INVALID_SCHEDULING"},
	{manager.ErrInvalidKind, http.StatusUnprocessableEntity, "classroom/invalid_kind", "INVALID_KIND"},
	{manager.ErrInvalidInput, http.StatusUnprocessableEntity, "classroom/invalid_input", "INVALID_INPUT"},
	{manager.ErrNotFound, http.StatusNotFound, "classroom/not_found", "NOT_FOUND"},
	{manager.ErrScopeTaken, http.StatusConflict, "classroom/scope_taken", "SCOPE_TAKEN"},
	{manager.ErrOperationPending, http.StatusConflict, "classroom/operation_pending", "OPERATION_PENDING"},
	{manager.ErrInvalidState, http.StatusConflict, "classroom/invalid_state", "INVALID_STATE"},
	{manager.ErrPersistenceConflict, http.StatusServiceUnavailable, "classroom/persistence_conflict", "PERSISTENCE_CONFLICT"},
	{auth.ErrUnauthenticated, http.StatusUnauthorized, "auth/unauthenticated", "UNAUTHENTICATED"},
	{auth.ErrForbidden, http.StatusForbidden, "auth/forbidden", "FORBIDDEN"},
	{context.DeadlineExceeded, http.StatusServiceUnavailable, "system/timeout", "TIMEOUT"},
	{context.Canceled, http.StatusServiceUnavailable, "system/canceled", "CANCELED"},
}

// writeError maps err onto a problem response. Unknown errors become a 500
// without detail; the error itself is only logged.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMapping {
		if !errors.Is(err, m.err) {
			continue
		}
		switch m.status {
		case http.StatusUnauthorized:
			w.Header().Set("WWW-Authenticate", `Bearer realm="classd"`)
		case http.StatusServiceUnavailable:
			w.Header().Set("Retry-After", "1")
		}
		writeProblem(w, r, m.status, m.typ, m.code, err.Error())
		return
	}

	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Error().Err(err).Str(log.FieldPath, r.URL.Path).Msg("unhandled error")
	writeProblem(w, r, http.StatusInternalServerError, "system/internal", "INTERNAL", "")
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, problemType, code, detail string) {
	writeJSONType(w, status, "application/problem+json", problem{
		Type:      problemType,
		Title:     http.StatusText(status),
		Status:    status,
		Code:      code,
		Detail:    detail,
		Instance:  r.URL.EscapedPath(),
		RequestID: requestID(w, r),
	})
}

func requestID(w http.ResponseWriter, r *http.Request) string {
	if id := log.RequestIDFromContext(r.Context()); id != "" {
		return id
	}
	return w.Header().Get(middleware.HeaderRequestID)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	writeJSONType(w, status, "application/json", v)
}

func writeJSONType(w http.ResponseWriter, status int, contentType string, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.L().Error().Err(err).Int(log.FieldStatus, status).Msg("failed to encode response")
	}
}
