// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store persists classrooms and their pending backend operations.
// A classroom row and its correlation rows only ever change together, inside
// one UpdateClassroom transaction.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/classd/internal/domain/classroom/model"
)

var (
	// ErrNotFound is returned when a classroom or correlation does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means the row changed between read and write. Callers re-read and retry.
	ErrConflict = errors.New("persistence conflict")
	// ErrOperationPending means the classroom already has an entry for the category.
	ErrOperationPending = errors.New("operation already pending for category")
	// ErrScopeTaken means a live classroom already uses the audience+scope pair.
	ErrScopeTaken = errors.New("scope already taken")
	// ErrInvariant is returned when a change would break a store invariant.
	ErrInvariant = errors.New("store invariant violated")
)

// Change lists the correlation rows to write alongside a classroom update.
// Put upserts by operation id; Delete removes by operation id.
type Change struct {
	Put    []*model.Correlation
	Delete []string
}

// UpdateFunc mutates rec in place and returns the correlation change to commit
// with it. pending holds the classroom's current correlation entries. Returning
// an error aborts the transaction and the error is passed through unchanged.
type UpdateFunc func(rec *model.Classroom, pending []*model.Correlation) (*Change, error)

// ClassroomFilter narrows QueryClassrooms. Zero fields match everything.
type ClassroomFilter struct {
	States        []model.State
	Kind          model.Kind
	UpdatedBefore time.Time
	Limit         int
}

// CorrelationFilter narrows QueryCorrelations. Zero fields match everything.
type CorrelationFilter struct {
	ClassroomID    string
	DeadlineBefore time.Time
	Limit          int
}

// StateStore is the Classroom State Store and the Correlation Store.
type StateStore interface {
	// CreateClassroom inserts a new record with Version 1.
	CreateClassroom(ctx context.Context, rec *model.Classroom) error
	GetClassroom(ctx context.Context, id string) (*model.Classroom, error)
	// GetClassroomByScope returns the most recently created classroom for the pair.
	GetClassroomByScope(ctx context.Context, audience, scope string) (*model.Classroom, error)
	GetClassroomByBackendRoom(ctx context.Context, ref string) (*model.Classroom, error)
	QueryClassrooms(ctx context.Context, filter ClassroomFilter) ([]*model.Classroom, error)

	GetCorrelation(ctx context.Context, operationID string) (*model.Correlation, error)
	QueryCorrelations(ctx context.Context, filter CorrelationFilter) ([]*model.Correlation, error)

	// UpdateClassroom atomically applies fn to the classroom and its correlations.
	UpdateClassroom(ctx context.Context, id string, fn UpdateFunc) (*model.Classroom, error)

	Ping(ctx context.Context) error
	Close() error
}

// resolve validates ch against the current pending set and returns the
// entries that remain once it is applied.
func resolve(rec *model.Classroom, pending []*model.Correlation, ch *Change) ([]*model.Correlation, error) {
	byOp := make(map[string]*model.Correlation, len(pending))
	order := make([]string, 0, len(pending))
	for _, c := range pending {
		byOp[c.OperationID] = c
		order = append(order, c.OperationID)
	}
	if ch != nil {
		for _, op := range ch.Delete {
			delete(byOp, op)
		}
		for _, c := range ch.Put {
			if c == nil || c.OperationID == "" {
				return nil, fmt.Errorf("%w: correlation without operation id", ErrInvariant)
			}
			if c.ClassroomID != rec.ID {
				return nil, fmt.Errorf("%w: correlation %s belongs to %s, not %s", ErrInvariant, c.OperationID, c.ClassroomID, rec.ID)
			}
			if _, ok := byOp[c.OperationID]; !ok {
				order = append(order, c.OperationID)
			}
			byOp[c.OperationID] = c
		}
	}

	seen := make(map[model.Category]string, len(model.AllCategories))
	out := make([]*model.Correlation, 0, len(byOp))
	for _, op := range order {
		c, ok := byOp[op]
		if !ok {
			continue
		}
		delete(byOp, op)
		if prev, dup := seen[c.Category]; dup && prev != op {
			return nil, fmt.Errorf("%w: %s", ErrOperationPending, c.Category)
		}
		seen[c.Category] = op
		out = append(out, c)
	}
	if rec.State.IsTerminal() && len(out) > 0 {
		return nil, fmt.Errorf("%w: %s classroom keeps %d pending operations", ErrInvariant, rec.State, len(out))
	}
	return out, nil
}

func matchClassroom(rec *model.Classroom, f ClassroomFilter) bool {
	if len(f.States) > 0 {
		ok := false
		for _, s := range f.States {
			if rec.State == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Kind != "" && rec.Kind != f.Kind {
		return false
	}
	if !f.UpdatedBefore.IsZero() && !rec.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	return true
}

func matchCorrelation(c *model.Correlation, f CorrelationFilter) bool {
	if f.ClassroomID != "" && c.ClassroomID != f.ClassroomID {
		return false
	}
	if !f.DeadlineBefore.IsZero() && !c.Deadline.Before(f.DeadlineBefore) {
		return false
	}
	return true
}

func validateNew(rec *model.Classroom) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: classroom without id", ErrInvariant)
	}
	if rec.State != model.StateRequested {
		return fmt.Errorf("%w: new classroom in state %s", ErrInvariant, rec.State)
	}
	return nil
}

func liveScope(rec *model.Classroom) bool {
	return rec.Audience != "" && !rec.State.IsTerminal()
}
