// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuGH/classd/internal/domain/classroom/model"
	"github.com/ManuGH/classd/internal/persistence/sqlite"
	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrations returns the embedded schema steps.
func Migrations() ([]sqlite.Migration, error) {
	return sqlite.LoadMigrations(migrationFS, "migrations")
}

// SqliteStore implements StateStore using SQLite.
type SqliteStore struct {
	DB *sql.DB
}

// NewSqliteStore opens (and migrates) the classroom database at dbPath.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}

	s := &SqliteStore{DB: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("classroom store: migration failed: %w", err)
	}
	return s, nil
}

func (s *SqliteStore) migrate(ctx context.Context) error {
	migrations, err := Migrations()
	if err != nil {
		return err
	}
	_, err = sqlite.Migrate(ctx, s.DB, migrations)
	return err
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}

func (s *SqliteStore) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

const classroomColumns = `id, kind, state, audience, scope, tags, reserve, window_start_ms, window_end_ms,
	backend_room_ref, failure_reason, created_at_ms, updated_at_ms, closed_at_ms, version`

const correlationColumns = `operation_id, classroom_id, category, attempts, dispatched_at_ms, deadline_ms`

// --- Classrooms ---

func (s *SqliteStore) CreateClassroom(ctx context.Context, rec *model.Classroom) error {
	if err := validateNew(rec); err != nil {
		return err
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO classrooms (`+classroomColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		rec.ID, string(rec.Kind), string(rec.State), rec.Audience, rec.Scope, nullTags(rec.Tags), rec.Reserve,
		s2ms(rec.Window.Start), s2ms(rec.Window.End), rec.BackendRoomRef, rec.FailureReason,
		s2ms(rec.CreatedAt), s2ms(rec.UpdatedAt), nullTime(rec.ClosedAt))
	if err != nil {
		switch constraintOf(err) {
		case constraintUnique:
			if strings.Contains(err.Error(), "audience") {
				return ErrScopeTaken
			}
			return fmt.Errorf("%w: classroom %s exists", ErrConflict, rec.ID)
		case constraintPrimaryKey:
			return fmt.Errorf("%w: classroom %s exists", ErrConflict, rec.ID)
		}
		return err
	}
	rec.Version = 1
	return nil
}

func (s *SqliteStore) GetClassroom(ctx context.Context, id string) (*model.Classroom, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+classroomColumns+` FROM classrooms WHERE id = ?`, id)
	return scanClassroom(row)
}

func (s *SqliteStore) GetClassroomByScope(ctx context.Context, audience, scope string) (*model.Classroom, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+classroomColumns+` FROM classrooms
		WHERE audience = ? AND scope = ? ORDER BY created_at_ms DESC, id DESC LIMIT 1`, audience, scope)
	return scanClassroom(row)
}

func (s *SqliteStore) GetClassroomByBackendRoom(ctx context.Context, ref string) (*model.Classroom, error) {
	if ref == "" {
		return nil, ErrNotFound
	}
	row := s.DB.QueryRowContext(ctx, `SELECT `+classroomColumns+` FROM classrooms
		WHERE backend_room_ref = ? ORDER BY created_at_ms DESC LIMIT 1`, ref)
	return scanClassroom(row)
}

func (s *SqliteStore) QueryClassrooms(ctx context.Context, filter ClassroomFilter) ([]*model.Classroom, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.States) > 0 {
		marks := make([]string, len(filter.States))
		for i, st := range filter.States {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "state IN ("+strings.Join(marks, ",")+")")
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if !filter.UpdatedBefore.IsZero() {
		where = append(where, "updated_at_ms < ?")
		args = append(args, s2ms(filter.UpdatedBefore))
	}
	q := `SELECT ` + classroomColumns + ` FROM classrooms`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at_ms, id"
	if filter.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Classroom
	for rows.Next() {
		rec, err := scanClassroom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- Correlations ---

func (s *SqliteStore) GetCorrelation(ctx context.Context, operationID string) (*model.Correlation, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+correlationColumns+` FROM correlations WHERE operation_id = ?`, operationID)
	return scanCorrelation(row)
}

func (s *SqliteStore) QueryCorrelations(ctx context.Context, filter CorrelationFilter) ([]*model.Correlation, error) {
	var (
		where []string
		args  []any
	)
	if filter.ClassroomID != "" {
		where = append(where, "classroom_id = ?")
		args = append(args, filter.ClassroomID)
	}
	if !filter.DeadlineBefore.IsZero() {
		where = append(where, "deadline_ms < ?")
		args = append(args, s2ms(filter.DeadlineBefore))
	}
	q := `SELECT ` + correlationColumns + ` FROM correlations`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY deadline_ms, operation_id"
	if filter.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	return s.queryCorrelations(ctx, s.DB, q, args...)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SqliteStore) queryCorrelations(ctx context.Context, q querier, query string, args ...any) ([]*model.Correlation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Correlation
	for rows.Next() {
		c, err := scanCorrelation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Transactions ---

func (s *SqliteStore) UpdateClassroom(ctx context.Context, id string, fn UpdateFunc) (*model.Classroom, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+classroomColumns+` FROM classrooms WHERE id = ?`, id)
	cur, err := scanClassroom(row)
	if err != nil {
		return nil, err
	}
	pending, err := s.queryCorrelations(ctx, tx, `SELECT `+correlationColumns+` FROM correlations
		WHERE classroom_id = ? ORDER BY operation_id`, id)
	if err != nil {
		return nil, err
	}

	rec := cur.Clone()
	ch, err := fn(rec, cloneAll(pending))
	if err != nil {
		return nil, err
	}
	rec.ID, rec.Kind = cur.ID, cur.Kind
	remaining, err := resolve(rec, pending, ch)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `UPDATE classrooms SET
		state = ?, window_start_ms = ?, window_end_ms = ?, backend_room_ref = ?, failure_reason = ?,
		tags = ?, reserve = ?, updated_at_ms = ?, closed_at_ms = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		string(rec.State), s2ms(rec.Window.Start), s2ms(rec.Window.End), rec.BackendRoomRef, rec.FailureReason,
		nullTags(rec.Tags), rec.Reserve, s2ms(rec.UpdatedAt), nullTime(rec.ClosedAt), id, cur.Version)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, ErrConflict
	}

	keep := make(map[string]*model.Correlation, len(remaining))
	for _, c := range remaining {
		keep[c.OperationID] = c
	}
	for _, c := range pending {
		if _, ok := keep[c.OperationID]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM correlations WHERE operation_id = ?`, c.OperationID); err != nil {
			return nil, mapWriteErr(err)
		}
	}
	if ch != nil {
		for _, c := range ch.Put {
			if _, err := tx.ExecContext(ctx, `INSERT INTO correlations (`+correlationColumns+`)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(operation_id) DO UPDATE SET
					attempts = excluded.attempts,
					dispatched_at_ms = excluded.dispatched_at_ms,
					deadline_ms = excluded.deadline_ms
				WHERE correlations.classroom_id = excluded.classroom_id`,
				c.OperationID, c.ClassroomID, string(c.Category), c.Attempts, s2ms(c.DispatchedAt), s2ms(c.Deadline)); err != nil {
				return nil, mapWriteErr(err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, mapWriteErr(err)
	}
	rec.Version = cur.Version + 1
	return rec, nil
}

// --- Helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanClassroom(sc scanner) (*model.Classroom, error) {
	var (
		rec                  model.Classroom
		kind, state          string
		tags                 sql.NullString
		startMs, endMs       int64
		createdMs, updatedMs int64
		closedMs             sql.NullInt64
	)
	err := sc.Scan(&rec.ID, &kind, &state, &rec.Audience, &rec.Scope, &tags, &rec.Reserve,
		&startMs, &endMs, &rec.BackendRoomRef, &rec.FailureReason, &createdMs, &updatedMs, &closedMs, &rec.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if rec.Kind, err = model.ParseKind(kind); err != nil {
		return nil, fmt.Errorf("classroom %s: %w", rec.ID, err)
	}
	if rec.State, err = model.ParseState(state); err != nil {
		return nil, fmt.Errorf("classroom %s: %w", rec.ID, err)
	}
	if tags.Valid && tags.String != "" {
		rec.Tags = []byte(tags.String)
	}
	rec.Window = model.Window{Start: ms2s(startMs), End: ms2s(endMs)}
	rec.CreatedAt = ms2s(createdMs)
	rec.UpdatedAt = ms2s(updatedMs)
	if closedMs.Valid {
		t := ms2s(closedMs.Int64)
		rec.ClosedAt = &t
	}
	return &rec, nil
}

func scanCorrelation(sc scanner) (*model.Correlation, error) {
	var (
		c                        model.Correlation
		category                 string
		dispatchedMs, deadlineMs int64
	)
	err := sc.Scan(&c.OperationID, &c.ClassroomID, &category, &c.Attempts, &dispatchedMs, &deadlineMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if c.Category, err = model.ParseCategory(category); err != nil {
		return nil, fmt.Errorf("correlation %s: %w", c.OperationID, err)
	}
	c.DispatchedAt = ms2s(dispatchedMs)
	c.Deadline = ms2s(deadlineMs)
	return &c, nil
}

func cloneAll(in []*model.Correlation) []*model.Correlation {
	out := make([]*model.Correlation, len(in))
	for i, c := range in {
		out[i] = c.Clone()
	}
	return out
}

type constraint int

const (
	constraintNone constraint = iota
	constraintUnique
	constraintPrimaryKey
	constraintForeignKey
	constraintBusy
)

// constraintOf classifies a driver error by its extended result code, falling
// back to the message when only the primary code is reported.
func constraintOf(err error) constraint {
	var se *sqlitedrv.Error
	if !errors.As(err, &se) {
		return constraintNone
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return constraintUnique
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return constraintPrimaryKey
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return constraintForeignKey
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return constraintBusy
	case sqlite3.SQLITE_CONSTRAINT:
		msg := se.Error()
		switch {
		case strings.Contains(msg, "FOREIGN KEY"):
			return constraintForeignKey
		case strings.Contains(msg, "UNIQUE"):
			return constraintUnique
		}
	}
	return constraintNone
}

func mapWriteErr(err error) error {
	switch constraintOf(err) {
	case constraintUnique:
		if strings.Contains(err.Error(), "correlations") {
			return fmt.Errorf("%w: %v", ErrOperationPending, err)
		}
		return fmt.Errorf("%w: %v", ErrScopeTaken, err)
	case constraintForeignKey:
		return fmt.Errorf("%w: %v", ErrInvariant, err)
	case constraintBusy:
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func nullTags(tags []byte) any {
	if len(tags) == 0 {
		return nil
	}
	return string(tags)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return s2ms(*t)
}

func s2ms(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func ms2s(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
