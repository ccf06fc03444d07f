// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ManuGH/classd/internal/domain/classroom/model"
)

// MemoryStore keeps everything in process memory. Records are cloned on the
// way in and out.
type MemoryStore struct {
	mu           sync.Mutex
	classrooms   map[string]*model.Classroom
	correlations map[string]*model.Correlation
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		classrooms:   make(map[string]*model.Classroom),
		correlations: make(map[string]*model.Correlation),
	}
}

func (s *MemoryStore) CreateClassroom(ctx context.Context, rec *model.Classroom) error {
	if err := validateNew(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.classrooms[rec.ID]; exists {
		return fmt.Errorf("%w: classroom %s exists", ErrConflict, rec.ID)
	}
	if liveScope(rec) {
		for _, other := range s.classrooms {
			if liveScope(other) && other.Audience == rec.Audience && other.Scope == rec.Scope {
				return ErrScopeTaken
			}
		}
	}
	cp := rec.Clone()
	cp.Version = 1
	s.classrooms[rec.ID] = cp
	rec.Version = 1
	return nil
}

func (s *MemoryStore) GetClassroom(ctx context.Context, id string) (*model.Classroom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.classrooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) GetClassroomByScope(ctx context.Context, audience, scope string) (*model.Classroom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *model.Classroom
	for _, rec := range s.classrooms {
		if rec.Audience != audience || rec.Scope != scope {
			continue
		}
		if best == nil || rec.CreatedAt.After(best.CreatedAt) {
			best = rec
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best.Clone(), nil
}

func (s *MemoryStore) GetClassroomByBackendRoom(ctx context.Context, ref string) (*model.Classroom, error) {
	if ref == "" {
		return nil, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.classrooms {
		if rec.BackendRoomRef == ref {
			return rec.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) QueryClassrooms(ctx context.Context, filter ClassroomFilter) ([]*model.Classroom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Classroom
	for _, rec := range s.classrooms {
		if matchClassroom(rec, filter) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) GetCorrelation(ctx context.Context, operationID string) (*model.Correlation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.correlations[operationID]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (s *MemoryStore) QueryCorrelations(ctx context.Context, filter CorrelationFilter) ([]*model.Correlation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Correlation
	for _, c := range s.correlations {
		if matchCorrelation(c, filter) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Deadline.Equal(out[j].Deadline) {
			return out[i].OperationID < out[j].OperationID
		}
		return out[i].Deadline.Before(out[j].Deadline)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateClassroom(ctx context.Context, id string, fn UpdateFunc) (*model.Classroom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.classrooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	var pending []*model.Correlation
	for _, c := range s.correlations {
		if c.ClassroomID == id {
			pending = append(pending, c.Clone())
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].OperationID < pending[j].OperationID })

	rec := cur.Clone()
	ch, err := fn(rec, pending)
	if err != nil {
		return nil, err
	}
	rec.ID, rec.Kind = cur.ID, cur.Kind
	remaining, err := resolve(rec, pending, ch)
	if err != nil {
		return nil, err
	}

	for _, c := range pending {
		delete(s.correlations, c.OperationID)
	}
	for _, c := range remaining {
		s.correlations[c.OperationID] = c.Clone()
	}
	rec.Version = cur.Version + 1
	s.classrooms[id] = rec.Clone()
	return rec, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) Close() error { return nil }
