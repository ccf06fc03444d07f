// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/classd/internal/domain/classroom/lifecycle"
	"github.com/ManuGH/classd/internal/domain/classroom/model"
	"github.com/ManuGH/classd/internal/persistence/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Pending operations survive a restart and every persisted state reads back
// as a reachable lifecycle state.
func TestSqliteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classd.sqlite")
	ctx := context.Background()

	s, err := NewSqliteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.CreateClassroom(ctx, newRequested("c1")))
	_, err = s.UpdateClassroom(ctx, "c1", func(rec *model.Classroom, _ []*model.Correlation) (*Change, error) {
		rec.State = model.StateProvisioning
		return &Change{Put: []*model.Correlation{corr("op1", "c1", model.CategoryProvision, t0.Add(time.Minute))}}, nil
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewSqliteStore(path)
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.GetClassroom(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, model.StateProvisioning, rec.State)
	assert.True(t, lifecycle.Reachable(rec.State))

	c, err := s.GetCorrelation(ctx, "op1")
	require.NoError(t, err)
	assert.Equal(t, "c1", c.ClassroomID)

	v, err := sqlite.SchemaVersion(ctx, s.DB)
	require.NoError(t, err)
	migrations, err := Migrations()
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].Version, v)
}

func TestSqliteStore_ForeignKeyRejectsOrphanEntry(t *testing.T) {
	s, err := NewSqliteStore(filepath.Join(t.TempDir(), "fk.sqlite"))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.DB.Exec(`INSERT INTO correlations (operation_id, classroom_id, category, attempts, dispatched_at_ms, deadline_ms)
		VALUES ('op', 'nope', 'provision', 1, 0, 0)`)
	require.Error(t, err)
}

func TestSqliteStore_UnknownStateIsRejectedOnRead(t *testing.T) {
	s, err := NewSqliteStore(filepath.Join(t.TempDir(), "bad.sqlite"))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.CreateClassroom(ctx, newRequested("c1")))
	_, err = s.DB.Exec(`UPDATE classrooms SET state = 'DRAINING' WHERE id = 'c1'`)
	require.NoError(t, err)

	_, err = s.GetClassroom(ctx, "c1")
	require.Error(t, err)
}
