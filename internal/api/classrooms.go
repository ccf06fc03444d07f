// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/classd/internal/auth"
	"github.com/ManuGH/classd/internal/domain/classroom/manager"
	"github.com/ManuGH/classd/internal/domain/classroom/model"
	"github.com/ManuGH/classd/internal/domain/classroom/store"
	"github.com/ManuGH/classd/internal/log"
	"github.com/go-chi/chi/v5"
)

const maxListLimit = 1000

var errBadRequest = errors.New("malformed request")

type createRequest struct {
	Kind     string          `json:"kind"`
	Window   model.Window    `json:"window"`
	Audience string          `json:"audience,omitempty"`
	Scope    string          `json:"scope,omitempty"`
	Tags     json.RawMessage `json:"tags,omitempty"`
	Reserve  int             `json:"reserve,omitempty"`
}

type updateRequest struct {
	Window model.Window `json:"window"`
}

type operationView struct {
	OperationID  string    `json:"operationId"`
	Category     string    `json:"category"`
	Attempts     int       `json:"attempts"`
	DispatchedAt time.Time `json:"dispatchedAt"`
	Deadline     time.Time `json:"deadline"`
}

type classroomView struct {
	ID             string          `json:"id"`
	Kind           string          `json:"kind"`
	State          string          `json:"state"`
	Audience       string          `json:"audience,omitempty"`
	Scope          string          `json:"scope,omitempty"`
	Tags           json.RawMessage `json:"tags,omitempty"`
	Reserve        int             `json:"reserve"`
	Window         model.Window    `json:"window"`
	BackendRoomRef string          `json:"backendRoomRef,omitempty"`
	FailureReason  string          `json:"failureReason,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	ClosedAt       *time.Time      `json:"closedAt,omitempty"`
	Version        int64           `json:"version"`
	Pending        []operationView `json:"pending,omitempty"`
}

type listResponse struct {
	Items []classroomView `json:"items"`
}

func toView(c *model.Classroom, pending []*model.Correlation) classroomView {
	v := classroomView{
		ID:             c.ID,
		Kind:           string(c.Kind),
		State:          string(c.State),
		Audience:       c.Audience,
		Scope:          c.Scope,
		Tags:           c.Tags,
		Reserve:        c.Reserve,
		Window:         c.Window,
		BackendRoomRef: c.BackendRoomRef,
		FailureReason:  c.FailureReason,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
		ClosedAt:       c.ClosedAt,
		Version:        c.Version,
	}
	for _, p := range pending {
		v.Pending = append(v.Pending, operationView{
			OperationID:  p.OperationID,
			Category:     string(p.Category),
			Attempts:     p.Attempts,
			DispatchedAt: p.DispatchedAt,
			Deadline:     p.Deadline,
		})
	}
	return v
}

// decodeBody reads a single JSON object, rejecting unknown fields and
// trailing data.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: %w", errBadRequest, err)
		}
		return fmt.Errorf("%w: trailing data after JSON body", errBadRequest)
	}
	return nil
}

func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeProblem(w, r, http.StatusRequestEntityTooLarge, "request/too_large", "BODY_TOO_LARGE", "")
		return
	}
	writeProblem(w, r, http.StatusBadRequest, "request/malformed", "BAD_REQUEST", err.Error())
}

// view loads the classroom with its pending operations.
func (s *Server) view(r *http.Request, id string) (classroomView, error) {
	rec, err := s.classrooms.Get(r.Context(), id)
	if err != nil {
		return classroomView{}, err
	}
	pending, err := s.classrooms.Pending(r.Context(), id)
	if err != nil {
		return classroomView{}, err
	}
	return toView(rec, pending), nil
}

func (s *Server) respondWithClassroom(w http.ResponseWriter, r *http.Request, status int, id string) {
	v, err := s.view(r, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, v)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, auth.ActionCreate, "") {
		return
	}
	var req createRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}

	opts := []manager.CreateOption{manager.WithReserve(req.Reserve)}
	if req.Audience != "" || req.Scope != "" {
		opts = append(opts, manager.WithScope(req.Audience, req.Scope))
	}
	if len(req.Tags) > 0 {
		opts = append(opts, manager.WithTags(req.Tags))
	}
	id, err := s.classrooms.RequestCreate(r.Context(), model.Kind(req.Kind), req.Window, opts...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/classrooms/"+url.PathEscape(id))
	s.respondWithClassroom(w, r, http.StatusCreated, id)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.authorize(w, r, auth.ActionRead, id) {
		return
	}
	s.respondWithClassroom(w, r, http.StatusOK, id)
}

func (s *Server) handleGetByScope(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, auth.ActionRead, "") {
		return
	}
	rec, err := s.classrooms.GetByScope(r.Context(), chi.URLParam(r, "audience"), chi.URLParam(r, "scope"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.respondWithClassroom(w, r, http.StatusOK, rec.ID)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, auth.ActionRead, "") {
		return
	}
	filter, err := s.parseFilter(r.URL.Query())
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	recs, err := s.classrooms.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := listResponse{Items: make([]classroomView, 0, len(recs))}
	for _, rec := range recs {
		resp.Items = append(resp.Items, toView(rec, nil))
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseFilter accepts repeated or comma separated state values, a kind and
// a limit.
func (s *Server) parseFilter(q url.Values) (store.ClassroomFilter, error) {
	f := store.ClassroomFilter{Limit: s.cfg.DefaultListLimit}
	for _, raw := range q["state"] {
		for _, part := range strings.Split(raw, ",") {
			st, err := model.ParseState(strings.ToUpper(strings.TrimSpace(part)))
			if err != nil {
				return f, fmt.Errorf("%w: %v", errBadRequest, err)
			}
			f.States = append(f.States, st)
		}
	}
	if raw := q.Get("kind"); raw != "" {
		k, err := model.ParseKind(raw)
		if err != nil {
			return f, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		f.Kind = k
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			return f, fmt.Errorf("%w: limit must be within 1..%d", errBadRequest, maxListLimit)
		}
		f.Limit = n
	}
	return f, nil
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.authorize(w, r, auth.ActionUpdate, id) {
		return
	}
	var req updateRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	if err := s.classrooms.RequestUpdate(r.Context(), id, req.Window); err != nil {
		writeError(w, r, err)
		return
	}
	s.respondWithClassroom(w, r, http.StatusOK, id)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.authorize(w, r, auth.ActionClose, id) {
		return
	}
	if err := s.classrooms.RequestClose(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().Str(log.FieldClassroomID, id).Msg("close requested")
	s.respondWithClassroom(w, r, http.StatusAccepted, id)
}
