// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/classd/internal/domain/classroom/model"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]func(t *testing.T) StateStore {
	t.Helper()
	return map[string]func(t *testing.T) StateStore{
		BackendMemory: func(t *testing.T) StateStore { return NewMemoryStore() },
		BackendSqlite: func(t *testing.T) StateStore {
			s, err := NewSqliteStore(filepath.Join(t.TempDir(), "classd.sqlite"))
			require.NoError(t, err)
			return s
		},
		BackendBadger: func(t *testing.T) StateStore {
			s, err := OpenBadgerStore("")
			require.NoError(t, err)
			return s
		},
	}
}

var t0 = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

func newRequested(id string) *model.Classroom {
	return &model.Classroom{
		ID:        id,
		Kind:      model.KindWebinar,
		State:     model.StateRequested,
		Window:    model.Window{Start: t0.Add(time.Hour), End: t0.Add(2 * time.Hour)},
		Tags:      json.RawMessage(`{"course":"algebra"}`),
		CreatedAt: t0,
		UpdatedAt: t0,
	}
}

func corr(op, cid string, cat model.Category, deadline time.Time) *model.Correlation {
	return &model.Correlation{
		OperationID:  op,
		ClassroomID:  cid,
		Category:     cat,
		Attempts:     1,
		DispatchedAt: t0,
		Deadline:     deadline,
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s StateStore)) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			fn(t, s)
		})
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s StateStore) {
		ctx := context.Background()
		rec := newRequested("c1")
		require.NoError(t, s.CreateClassroom(ctx, rec))
		assert.EqualValues(t, 1, rec.Version)

		got, err := s.GetClassroom(ctx, "c1")
		require.NoError(t, err)
		if diff := cmp.Diff(rec, got); diff != "" {
			t.Fatalf("record mismatch (-want +got):\n%s", diff)
		}

		_, err = s.GetClassroom(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		err = s.CreateClassroom(ctx, newRequested("c1"))
		assert.ErrorIs(t, err, ErrConflict)
	})
}

func TestStore_TransitionWritesRowAndEntryTogether(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s StateStore) {
		ctx := context.Background()
		require.NoError(t, s.CreateClassroom(ctx, newRequested("c1")))

		rec, err := s.UpdateClassroom(ctx, "c1", func(rec *model.Classroom, pending []*model.Correlation) (*Change, error) {
			require.Empty(t, pending)
			rec.State = model.StateProvisioning
			return &Change{Put: []*model.Correlation{corr("op1", "c1", model.CategoryProvision, t0.Add(time.Minute))}}, nil
		})
		require.NoError(t, err)
		assert.EqualValues(t, 2, rec.Version)

		c, err := s.GetCorrelation(ctx, "op1")
		require.NoError(t, err)
		assert.Equal(t, model.CategoryProvision, c.Category)
		assert.Equal(t, t0.Add(time.Minute), c.Deadline)

		// An aborted update leaves both untouched.
		boom := errors.New("boom")
		_, err = s.UpdateClassroom(ctx, "c1", func(rec *model.Classroom, pending []*model.Correlation) (*Change, error) {
			require.Len(t, pending, 1)
			rec.State = model.StateErrored
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)
		got, err := s.GetClassroom(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, model.StateProvisioning, got.State)

		// Success resolves the entry in the same write.
		_, err = s.UpdateClassroom(ctx, "c1", func(rec *model.Classroom, pending []*model.Correlation) (*Change, error) {
			rec.State = model.StateActive
			rec.BackendRoomRef = "room-9"
			return &Change{Delete: []string{"op1"}}, nil
		})
		require.NoError(t, err)
		_, err = s.GetCorrelation(ctx, "op1")
		assert.ErrorIs(t, err, ErrNotFound)

		byRoom, err := s.GetClassroomByBackendRoom(ctx, "room-9")
		require.NoError(t, err)
		assert.Equal(t, "c1", byRoom.ID)
		assert.EqualValues(t, 3, byRoom.Version)
	})
}

func TestStore_OneEntryPerCategory(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s StateStore) {
		ctx := context.Background()
		require.NoError(t, s.CreateClassroom(ctx, newRequested("c1")))
		_, err := s.UpdateClassroom(ctx, "c1", func(rec *model.Classroom, _ []*model.Correlation) (*Change, error) {
			rec.State = model.StateActive
			return &Change{Put: []*model.Correlation{corr("u1", "c1", model.CategoryUpdate, t0)}}, nil
		})
		require.NoError(t, err)

		_, err = s.UpdateClassroom(ctx, "c1", func(rec *model.Classroom, _ []*model.Correlation) (*Change, error) {
			return &Change{Put: []*model.Correlation{corr("u2", "c1", model.CategoryUpdate, t0)}}, nil
		})
		assert.ErrorIs(t, err, ErrOperationPending)

		// Re-putting the same operation is an upsert, not a second entry.
		_, err = s.UpdateClassroom(ctx, "c1", func(rec *model.Classroom, pending []*model.Correlation) (*Change, error) {
			c := pending[0]
			c.Attempts = 2
			c.Deadline = t0.Add(time.Hour)
			return &Change{Put: []*model.Correlation{c}}, nil
		})
		require.NoError(t, err)
		list, err := s.QueryCorrelations(ctx, CorrelationFilter{ClassroomID: "c1"})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, 2, list[0].Attempts)
	})
}

func TestStore_TerminalStateCannotKeepEntries(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s StateStore) {
		ctx := context.Background()
		require.NoError(t, s.CreateClassroom(ctx, newRequested("c1")))
		_, err := s.UpdateClassroom(ctx, "c1", func(rec *model.Classroom, _ []*model.Correlation) (*Change, error) {
			rec.State = model.StateProvisioning
			return &Change{Put: []*model.Correlation{corr("p1", "c1", model.CategoryProvision, t0)}}, nil
		})
		require.NoError(t, err)

		_, err = s.UpdateClassroom(ctx, "c1", func(rec *model.Classroom, _ []*model.Correlation) (*Change, error) {
			rec.State = model.StateErrored
			return nil, nil
		})
		assert.ErrorIs(t, err, ErrInvariant)
	})
}

func TestStore_QueryCorrelationsByDeadline(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s StateStore) {
		ctx := context.Background()
		for i, id := range []string{"a", "b", "c"} {
			require.NoError(t, s.CreateClassroom(ctx, newRequested(id)))
			deadline := t0.Add(time.Duration(i) * time.Minute)
			_, err := s.UpdateClassroom(ctx, id, func(rec *model.Classroom, _ []*model.Correlation) (*Change, error) {
				rec.State = model.StateProvisioning
				return &Change{Put: []*model.Correlation{corr("op-"+id, id, model.CategoryProvision, deadline)}}, nil
			})
			require.NoError(t, err)
		}

		due, err := s.QueryCorrelations(ctx, CorrelationFilter{DeadlineBefore: t0.Add(90 * time.Second)})
		require.NoError(t, err)
		require.Len(t, due, 2)
		assert.Equal(t, "op-a", due[0].OperationID)
		assert.Equal(t, "op-b", due[1].OperationID)
	})
}

func TestStore_ScopeUniqueWhileLive(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s StateStore) {
		ctx := context.Background()
		a := newRequested("a")
		a.Audience, a.Scope = "school.example", "math-1"
		require.NoError(t, s.CreateClassroom(ctx, a))

		b := newRequested("b")
		b.Audience, b.Scope = "school.example", "math-1"
		b.CreatedAt = t0.Add(time.Hour)
		assert.ErrorIs(t, s.CreateClassroom(ctx, b), ErrScopeTaken)

		_, err := s.UpdateClassroom(ctx, "a", func(rec *model.Classroom, _ []*model.Correlation) (*Change, error) {
			rec.State = model.StateErrored
			rec.FailureReason = "test"
			return nil, nil
		})
		require.NoError(t, err)
		require.NoError(t, s.CreateClassroom(ctx, b))

		got, err := s.GetClassroomByScope(ctx, "school.example", "math-1")
		require.NoError(t, err)
		assert.Equal(t, "b", got.ID)
	})
}

func TestStore_QueryClassrooms(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s StateStore) {
		ctx := context.Background()
		for i, id := range []string{"a", "b", "c"} {
			rec := newRequested(id)
			rec.CreatedAt = t0.Add(time.Duration(i) * time.Second)
			if id == "c" {
				rec.Kind = model.KindP2P
			}
			require.NoError(t, s.CreateClassroom(ctx, rec))
		}
		_, err := s.UpdateClassroom(ctx, "b", func(rec *model.Classroom, _ []*model.Correlation) (*Change, error) {
			rec.State = model.StateProvisioning
			rec.UpdatedAt = t0.Add(time.Hour)
			return &Change{Put: []*model.Correlation{corr("pb", "b", model.CategoryProvision, t0)}}, nil
		})
		require.NoError(t, err)

		list, err := s.QueryClassrooms(ctx, ClassroomFilter{States: []model.State{model.StateRequested}})
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "a", list[0].ID)

		list, err = s.QueryClassrooms(ctx, ClassroomFilter{Kind: model.KindP2P})
		require.NoError(t, err)
		require.Len(t, list, 1)

		list, err = s.QueryClassrooms(ctx, ClassroomFilter{UpdatedBefore: t0.Add(time.Minute), Limit: 1})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "a", list[0].ID)
	})
}

func TestOpenStateStore(t *testing.T) {
	s, err := OpenStateStore(BackendMemory, "")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = OpenStateStore("etcd", "")
	require.Error(t, err)

	_, err = OpenStateStore(BackendSqlite, "")
	require.Error(t, err)
}
