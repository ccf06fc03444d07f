// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ManuGH/classd/internal/domain/classroom/model"
	"github.com/dgraph-io/badger/v4"
)

// BadgerStore is an embedded key-value StateStore:
//   - classrooms:  "cls:<id>" (JSON)
//   - entries:     "corr:<operation id>" (JSON)
//   - indexes:     "clscorr:<id>:<operation id>", "room:<ref>", "scope:<audience>\x00<scope>"
//
// Badger transactions are serializable; a concurrent writer surfaces as ErrConflict.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens a store in path, or in memory when path is empty.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func (s *BadgerStore) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger: closed")
	}
	return ctx.Err()
}

type badgerClassroom struct {
	ID             string          `json:"id"`
	Kind           model.Kind      `json:"kind"`
	State          model.State     `json:"state"`
	Audience       string          `json:"audience,omitempty"`
	Scope          string          `json:"scope,omitempty"`
	Tags           json.RawMessage `json:"tags,omitempty"`
	Reserve        int             `json:"reserve,omitempty"`
	StartMs        int64           `json:"start_ms"`
	EndMs          int64           `json:"end_ms"`
	BackendRoomRef string          `json:"backend_room_ref,omitempty"`
	FailureReason  string          `json:"failure_reason,omitempty"`
	CreatedMs      int64           `json:"created_ms"`
	UpdatedMs      int64           `json:"updated_ms"`
	ClosedMs       int64           `json:"closed_ms,omitempty"`
	Version        int64           `json:"version"`
}

type badgerCorrelation struct {
	OperationID  string         `json:"operation_id"`
	ClassroomID  string         `json:"classroom_id"`
	Category     model.Category `json:"category"`
	Attempts     int            `json:"attempts"`
	DispatchedMs int64          `json:"dispatched_ms"`
	DeadlineMs   int64          `json:"deadline_ms"`
}

func toBadgerClassroom(r *model.Classroom) badgerClassroom {
	out := badgerClassroom{
		ID: r.ID, Kind: r.Kind, State: r.State, Audience: r.Audience, Scope: r.Scope,
		Tags: r.Tags, Reserve: r.Reserve, StartMs: s2ms(r.Window.Start), EndMs: s2ms(r.Window.End),
		BackendRoomRef: r.BackendRoomRef, FailureReason: r.FailureReason,
		CreatedMs: s2ms(r.CreatedAt), UpdatedMs: s2ms(r.UpdatedAt), Version: r.Version,
	}
	if r.ClosedAt != nil {
		out.ClosedMs = s2ms(*r.ClosedAt)
	}
	return out
}

func (b badgerClassroom) model() *model.Classroom {
	out := &model.Classroom{
		ID: b.ID, Kind: b.Kind, State: b.State, Audience: b.Audience, Scope: b.Scope,
		Tags: b.Tags, Reserve: b.Reserve, Window: model.Window{Start: ms2s(b.StartMs), End: ms2s(b.EndMs)},
		BackendRoomRef: b.BackendRoomRef, FailureReason: b.FailureReason,
		CreatedAt: ms2s(b.CreatedMs), UpdatedAt: ms2s(b.UpdatedMs), Version: b.Version,
	}
	if b.ClosedMs != 0 {
		t := ms2s(b.ClosedMs)
		out.ClosedAt = &t
	}
	return out
}

func toBadgerCorrelation(c *model.Correlation) badgerCorrelation {
	return badgerCorrelation{
		OperationID: c.OperationID, ClassroomID: c.ClassroomID, Category: c.Category,
		Attempts: c.Attempts, DispatchedMs: s2ms(c.DispatchedAt), DeadlineMs: s2ms(c.Deadline),
	}
}

func (b badgerCorrelation) model() *model.Correlation {
	return &model.Correlation{
		OperationID: b.OperationID, ClassroomID: b.ClassroomID, Category: b.Category,
		Attempts: b.Attempts, DispatchedAt: ms2s(b.DispatchedMs), Deadline: ms2s(b.DeadlineMs),
	}
}

func clsKey(id string) []byte { return []byte("cls:" + id) }
func corrKey(op string) []byte { return []byte("corr:" + op) }
func clsCorrPrefix(id string) []byte { return []byte("clscorr:" + id + ":") }
func clsCorrKey(id, op string) []byte { return []byte("clscorr:" + id + ":" + op) }
func roomKey(ref string) []byte { return []byte("room:" + ref) }
func scopeKey(aud, scope string) []byte { return []byte("scope:" + aud + "\x00" + scope) }

func getJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, buf)
}

func getString(txn *badger.Txn, key []byte) (string, error) {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	val, err := item.ValueCopy(nil)
	return string(val), err
}

func mapBadgerErr(err error) error {
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func (s *BadgerStore) CreateClassroom(ctx context.Context, rec *model.Classroom) error {
	if err := validateNew(rec); err != nil {
		return err
	}
	cp := rec.Clone()
	cp.Version = 1
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(clsKey(rec.ID)); err == nil {
			return fmt.Errorf("%w: classroom %s exists", ErrConflict, rec.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if liveScope(cp) {
			if _, err := txn.Get(scopeKey(cp.Audience, cp.Scope)); err == nil {
				return ErrScopeTaken
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Set(scopeKey(cp.Audience, cp.Scope), []byte(cp.ID)); err != nil {
				return err
			}
		}
		if cp.BackendRoomRef != "" {
			if err := txn.Set(roomKey(cp.BackendRoomRef), []byte(cp.ID)); err != nil {
				return err
			}
		}
		return setJSON(txn, clsKey(cp.ID), toBadgerClassroom(cp))
	})
	if err != nil {
		return mapBadgerErr(err)
	}
	rec.Version = 1
	return nil
}

func (s *BadgerStore) getClassroom(txn *badger.Txn, id string) (*model.Classroom, error) {
	var b badgerClassroom
	if err := getJSON(txn, clsKey(id), &b); err != nil {
		return nil, err
	}
	rec := b.model()
	if _, err := model.ParseState(string(rec.State)); err != nil {
		return nil, fmt.Errorf("classroom %s: %w", id, err)
	}
	return rec, nil
}

func (s *BadgerStore) GetClassroom(ctx context.Context, id string) (*model.Classroom, error) {
	var out *model.Classroom
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = s.getClassroom(txn, id)
		return err
	})
	return out, err
}

func (s *BadgerStore) GetClassroomByScope(ctx context.Context, audience, scope string) (*model.Classroom, error) {
	var out *model.Classroom
	err := s.db.View(func(txn *badger.Txn) error {
		// Live classrooms are indexed; ended ones need a scan.
		if id, err := getString(txn, scopeKey(audience, scope)); err == nil {
			out, err = s.getClassroom(txn, id)
			return err
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		return s.scanClassrooms(txn, func(rec *model.Classroom) {
			if rec.Audience == audience && rec.Scope == scope {
				if out == nil || rec.CreatedAt.After(out.CreatedAt) {
					out = rec
				}
			}
		})
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, ErrNotFound
	}
	return out, nil
}

func (s *BadgerStore) GetClassroomByBackendRoom(ctx context.Context, ref string) (*model.Classroom, error) {
	if ref == "" {
		return nil, ErrNotFound
	}
	var out *model.Classroom
	err := s.db.View(func(txn *badger.Txn) error {
		id, err := getString(txn, roomKey(ref))
		if err != nil {
			return err
		}
		out, err = s.getClassroom(txn, id)
		return err
	})
	return out, err
}

func (s *BadgerStore) scanClassrooms(txn *badger.Txn, fn func(*model.Classroom)) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	prefix := []byte("cls:")
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var b badgerClassroom
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &b)
		}); err != nil {
			return err
		}
		fn(b.model())
	}
	return nil
}

func (s *BadgerStore) QueryClassrooms(ctx context.Context, filter ClassroomFilter) ([]*model.Classroom, error) {
	var out []*model.Classroom
	err := s.db.View(func(txn *badger.Txn) error {
		return s.scanClassrooms(txn, func(rec *model.Classroom) {
			if matchClassroom(rec, filter) {
				out = append(out, rec)
			}
		})
	})
	if err != nil {
		return nil, err
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

func (s *BadgerStore) GetCorrelation(ctx context.Context, operationID string) (*model.Correlation, error) {
	var b badgerCorrelation
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, corrKey(operationID), &b)
	})
	if err != nil {
		return nil, err
	}
	return b.model(), nil
}

func (s *BadgerStore) QueryCorrelations(ctx context.Context, filter CorrelationFilter) ([]*model.Correlation, error) {
	var out []*model.Correlation
	err := s.db.View(func(txn *badger.Txn) error {
		if filter.ClassroomID != "" {
			pending, err := s.pendingFor(txn, filter.ClassroomID)
			if err != nil {
				return err
			}
			for _, c := range pending {
				if matchCorrelation(c, filter) {
					out = append(out, c)
				}
			}
			return nil
		}
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("corr:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var b badgerCorrelation
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &b)
			}); err != nil {
				return err
			}
			if c := b.model(); matchCorrelation(c, filter) {
				out = append(out, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
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

func (s *BadgerStore) pendingFor(txn *badger.Txn, id string) ([]*model.Correlation, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	prefix := clsCorrPrefix(id)
	var ops []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		ops = append(ops, strings.TrimPrefix(string(it.Item().Key()), string(prefix)))
	}
	out := make([]*model.Correlation, 0, len(ops))
	for _, op := range ops {
		var b badgerCorrelation
		if err := getJSON(txn, corrKey(op), &b); err != nil {
			return nil, fmt.Errorf("correlation index %s: %w", op, err)
		}
		out = append(out, b.model())
	}
	return out, nil
}

func (s *BadgerStore) UpdateClassroom(ctx context.Context, id string, fn UpdateFunc) (*model.Classroom, error) {
	var out *model.Classroom
	err := s.db.Update(func(txn *badger.Txn) error {
		cur, err := s.getClassroom(txn, id)
		if err != nil {
			return err
		}
		pending, err := s.pendingFor(txn, id)
		if err != nil {
			return err
		}

		rec := cur.Clone()
		ch, err := fn(rec, cloneAll(pending))
		if err != nil {
			return err
		}
		rec.ID, rec.Kind = cur.ID, cur.Kind
		remaining, err := resolve(rec, pending, ch)
		if err != nil {
			return err
		}

		for _, c := range pending {
			if err := txn.Delete(corrKey(c.OperationID)); err != nil {
				return err
			}
			if err := txn.Delete(clsCorrKey(id, c.OperationID)); err != nil {
				return err
			}
		}
		for _, c := range remaining {
			if err := setJSON(txn, corrKey(c.OperationID), toBadgerCorrelation(c)); err != nil {
				return err
			}
			if err := txn.Set(clsCorrKey(id, c.OperationID), nil); err != nil {
				return err
			}
		}

		if rec.BackendRoomRef != cur.BackendRoomRef {
			if cur.BackendRoomRef != "" {
				if err := txn.Delete(roomKey(cur.BackendRoomRef)); err != nil {
					return err
				}
			}
			if rec.BackendRoomRef != "" {
				if err := txn.Set(roomKey(rec.BackendRoomRef), []byte(id)); err != nil {
					return err
				}
			}
		}
		if liveScope(cur) && !liveScope(rec) {
			if err := txn.Delete(scopeKey(cur.Audience, cur.Scope)); err != nil {
				return err
			}
		}

		rec.Version = cur.Version + 1
		if err := setJSON(txn, clsKey(id), toBadgerClassroom(rec)); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, mapBadgerErr(err)
	}
	return out, nil
}

// RunGC reclaims value log space; the daemon calls it periodically.
func (s *BadgerStore) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return err
}
