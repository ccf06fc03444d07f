// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package manager

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/classd/internal/domain/classroom/model"
	"github.com/ManuGH/classd/internal/domain/classroom/ports"
	"github.com/ManuGH/classd/internal/domain/classroom/store"
)

func TestRequestCreate_Validation(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	good := h.window()

	tests := []struct {
		name   string
		kind   model.Kind
		window model.Window
		opts   []CreateOption
		want   error
	}{
		{"unknown kind", model.Kind("lecture"), good, nil, ErrInvalidKind},
		{"zero window", model.KindP2P, model.Window{}, nil, ErrInvalidScheduling},
		{"end before start", model.KindP2P, model.Window{Start: good.End, End: good.Start}, nil, ErrInvalidScheduling},
		{"empty window", model.KindP2P, model.Window{Start: good.Start, End: good.Start}, nil, ErrInvalidScheduling},
		{"scope without audience", model.KindMinigroup, good, []CreateOption{WithScope("", "math")}, ErrInvalidInput},
		{"scope with slash", model.KindMinigroup, good, []CreateOption{WithScope("school.example", "a/b")}, ErrInvalidInput},
		{"tags not an object", model.KindMinigroup, good, []CreateOption{WithTags(json.RawMessage(`[1,2]`))}, ErrInvalidInput},
		{"negative reserve", model.KindMinigroup, good, []CreateOption{WithReserve(-1)}, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.orch.RequestCreate(ctx, tt.kind, tt.window, tt.opts...)
			require.ErrorIs(t, err, tt.want)
		})
	}

	recs, err := h.orch.List(ctx, store.ClassroomFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs, "rejected requests must not persist anything")
	assert.Empty(t, h.gw.requests())
}

func TestWebinarProvisioningSuccess(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	id := h.create(WithScope("School.Example", "math-101"), WithTags(json.RawMessage(`{"grade":7}`)), WithReserve(5))
	rec := h.get(id)
	assert.Equal(t, model.StateRequested, rec.State)
	assert.Equal(t, "school.example", rec.Audience)
	assert.Empty(t, h.pending(id))
	assert.Empty(t, h.gw.requests(), "create must not wait for a backend")

	require.NoError(t, h.orch.ResumeProvisioning(ctx, id))
	assert.Equal(t, model.StateProvisioning, h.get(id).State)
	pending := h.pending(id)
	require.Len(t, pending, 1)
	assert.Equal(t, model.CategoryProvision, pending[0].Category)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, h.clock.Now().Add(30*time.Second), pending[0].Deadline)

	req := h.gw.last(t)
	assert.Equal(t, pending[0].OperationID, req.OperationID)
	assert.Equal(t, model.KindWebinar, req.Kind)
	assert.Equal(t, model.CategoryProvision, req.Category)
	assert.Equal(t, rec.Window.Start.Unix(), req.Payload.Start)
	assert.Equal(t, "math-101", req.Payload.Scope)
	assert.Equal(t, 5, req.Payload.Reserve)
	assert.JSONEq(t, `{"grade":7}`, string(req.Payload.Tags))

	require.NoError(t, h.orch.ApplyBackendReply(ctx, req.OperationID, ports.Reply{
		OperationID: req.OperationID, Outcome: ports.OutcomeSuccess, BackendRoomRef: "room-42",
	}))
	rec = h.get(id)
	assert.Equal(t, model.StateActive, rec.State)
	assert.Equal(t, "room-42", rec.BackendRoomRef)
	assert.Empty(t, h.pending(id))

	byScope, err := h.orch.GetByScope(ctx, "school.example", "math-101")
	require.NoError(t, err)
	assert.Equal(t, id, byScope.ID)
}

func TestRequestCreate_ScopeTaken(t *testing.T) {
	h := newHarness(t, Config{})
	h.create(WithScope("school.example", "math"))
	_, err := h.orch.RequestCreate(context.Background(), model.KindP2P, h.window(), WithScope("SCHOOL.example", "math"))
	require.ErrorIs(t, err, ErrScopeTaken)
}

func TestScopeReusableAfterErrored(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	id := h.create(WithScope("school.example", "math"))
	require.NoError(t, h.orch.ResumeProvisioning(ctx, id))
	op := h.gw.last(t).OperationID
	require.NoError(t, h.orch.ApplyBackendReply(ctx, op, ports.Reply{OperationID: op, Outcome: ports.OutcomeFailure}))
	require.Equal(t, model.StateErrored, h.get(id).State)

	h.clock.Advance(time.Minute)
	again, err := h.orch.RequestCreate(ctx, model.KindMinigroup, h.window(), WithScope("school.example", "math"))
	require.NoError(t, err)
	assert.NotEqual(t, id, again)
	byScope, err := h.orch.GetByScope(ctx, "school.example", "math")
	require.NoError(t, err)
	assert.Equal(t, again, byScope.ID)
}

func TestProvisionFailureReply(t *testing.T) {
	h := newHarness(t, Config{})
	id, op := h.provisioned()

	require.NoError(t, h.orch.ApplyBackendReply(context.Background(), op, ports.Reply{
		OperationID: op, Outcome: ports.OutcomeFailure, FailureReason: "quota exceeded",
	}))
	rec := h.get(id)
	assert.Equal(t, model.StateErrored, rec.State)
	assert.Equal(t, "quota exceeded", rec.FailureReason)
	assert.Empty(t, h.pending(id))
}

func TestProvisionSuccessWithoutRoomRef(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	id, op := h.provisioned()

	require.NoError(t, h.orch.ApplyBackendReply(ctx, op, ports.Reply{OperationID: op, Outcome: ports.OutcomeSuccess}))
	rec := h.get(id)
	assert.Equal(t, model.StateErrored, rec.State)
	assert.Equal(t, ReasonMissingRoomRef, rec.FailureReason)
	assert.Empty(t, rec.BackendRoomRef)
	assert.Empty(t, h.pending(id))

	// Update and close replies never carry a reference and still succeed.
	id, ref := h.active()
	require.NoError(t, h.orch.RequestClose(ctx, id))
	h.succeed(h.gw.last(t).OperationID)
	rec = h.get(id)
	assert.Equal(t, model.StateClosed, rec.State)
	assert.Equal(t, ref, rec.BackendRoomRef)
}

func TestDuplicateReplyIsIdempotent(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	id, op := h.provisioned()
	reply := ports.Reply{OperationID: op, Outcome: ports.OutcomeSuccess, BackendRoomRef: "room-1"}

	require.NoError(t, h.orch.ApplyBackendReply(ctx, op, reply))
	once := h.get(id)
	require.NoError(t, h.orch.ApplyBackendReply(ctx, op, reply))
	twice := h.get(id)

	assert.Equal(t, once, twice)
	assert.Equal(t, model.StateActive, twice.State)
}

func TestUnknownReplyIsNoop(t *testing.T) {
	h := newHarness(t, Config{})
	require.NoError(t, h.orch.ApplyBackendReply(context.Background(), "never-issued", ports.Reply{Outcome: ports.OutcomeSuccess}))
	require.ErrorIs(t, h.orch.ApplyBackendReply(context.Background(), "x", ports.Reply{Outcome: "maybe"}), ErrBackendFailure)
}

func TestReplyAfterTimeoutLeavesErrored(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	id, op := h.provisioned()

	require.NoError(t, h.orch.ExpireOperation(ctx, op, ""))
	rec := h.get(id)
	require.Equal(t, model.StateErrored, rec.State)
	assert.Equal(t, "timeout_exhausted", rec.FailureReason)

	require.NoError(t, h.orch.ApplyBackendReply(ctx, op, ports.Reply{OperationID: op, Outcome: ports.OutcomeSuccess, BackendRoomRef: "late"}))
	after := h.get(id)
	assert.Equal(t, rec, after)
	assert.Empty(t, after.BackendRoomRef)
}

func TestCloseWhileProvisioning(t *testing.T) {
	h := newHarness(t, Config{})
	id, _ := h.provisioned()

	err := h.orch.RequestClose(context.Background(), id)
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, model.StateProvisioning, h.get(id).State)
	assert.Len(t, h.pending(id), 1)

	require.ErrorIs(t, h.orch.RequestClose(context.Background(), "missing"), ErrNotFound)
}

func TestCloseFlow(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	id, ref := h.active()

	require.NoError(t, h.orch.RequestClose(ctx, id))
	assert.Equal(t, model.StateClosing, h.get(id).State)
	req := h.gw.last(t)
	assert.Equal(t, model.CategoryClose, req.Category)
	assert.Equal(t, ref, req.Payload.BackendRoomRef)

	require.ErrorIs(t, h.orch.RequestClose(ctx, id), ErrInvalidState)

	h.clock.Advance(time.Minute)
	h.succeed(req.OperationID)
	rec := h.get(id)
	assert.Equal(t, model.StateClosed, rec.State)
	require.NotNil(t, rec.ClosedAt)
	assert.Equal(t, h.clock.Now(), *rec.ClosedAt)
	assert.Empty(t, h.pending(id))
}

func TestRoomClosedEvent(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	id, ref := h.active()
	sent := len(h.gw.requests())

	require.NoError(t, h.orch.ApplyBackendEvent(ctx, ref, ports.EventRoomClosed))
	rec := h.get(id)
	assert.Equal(t, model.StateClosed, rec.State)
	assert.Empty(t, h.pending(id))
	assert.Len(t, h.gw.requests(), sent, "a backend event never dispatches")

	// Repeated and unmatched events are dropped.
	require.NoError(t, h.orch.ApplyBackendEvent(ctx, ref, ports.EventRoomClosed))
	require.NoError(t, h.orch.ApplyBackendEvent(ctx, "unknown-room", ports.EventRoomClosed))
	require.NoError(t, h.orch.ApplyBackendEvent(ctx, "", ports.EventRoomClosed))
	assert.Equal(t, rec, h.get(id))
}

func TestRoomClosedEventWhileClosing(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	id, ref := h.active()
	require.NoError(t, h.orch.RequestClose(ctx, id))
	closeOp := h.gw.last(t).OperationID

	require.NoError(t, h.orch.ApplyBackendEvent(ctx, ref, ports.EventRoomClosed))
	assert.Equal(t, model.StateClosed, h.get(id).State)
	assert.Empty(t, h.pending(id))

	// The close reply arrives afterwards and changes nothing.
	h.succeed(closeOp)
	assert.Equal(t, model.StateClosed, h.get(id).State)
}

func TestNonLifecycleEventIgnored(t *testing.T) {
	h := newHarness(t, Config{})
	id, ref := h.active()
	before := h.get(id)
	require.NoError(t, h.orch.ApplyBackendEvent(context.Background(), ref, ports.EventRoomUploaded))
	assert.Equal(t, before, h.get(id))
}

func TestInitialDispatchFailureErrorsClassroom(t *testing.T) {
	h := newHarness(t, Config{})
	id := h.create()
	h.gw.setFailing(errTransport)

	require.NoError(t, h.orch.ResumeProvisioning(context.Background(), id))
	rec := h.get(id)
	assert.Equal(t, model.StateErrored, rec.State)
	assert.Contains(t, rec.FailureReason, "dispatch_failed")
	assert.Contains(t, rec.FailureReason, errTransport.Error())
	assert.Empty(t, h.pending(id))
}

func TestDispatchInterruptedLeavesEntry(t *testing.T) {
	h := newHarness(t, Config{})
	id := h.create()
	h.gw.setFailing(context.Canceled)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// The commit happens before the send, so a canceled context only loses the send.
	err := h.orch.ResumeProvisioning(ctx, id)
	if err != nil {
		require.ErrorIs(t, err, context.Canceled)
		return
	}
	assert.Equal(t, model.StateProvisioning, h.get(id).State)
	assert.Len(t, h.pending(id), 1)
}

func TestUpdateWithoutDispatch(t *testing.T) {
	h := newHarness(t, Config{DispatchScheduleUpdates: false})
	ctx := context.Background()
	id, _ := h.active()
	sent := len(h.gw.requests())

	w := model.Window{Start: h.clock.Now().Add(2 * time.Hour), End: h.clock.Now().Add(4 * time.Hour)}
	require.NoError(t, h.orch.RequestUpdate(ctx, id, w))
	require.NoError(t, h.orch.RequestUpdate(ctx, id, w), "updates do not conflict when nothing is dispatched")

	rec := h.get(id)
	assert.Equal(t, model.StateActive, rec.State)
	assert.True(t, w.Start.Equal(rec.Window.Start))
	assert.True(t, w.End.Equal(rec.Window.End))
	assert.Empty(t, h.pending(id))
	assert.Len(t, h.gw.requests(), sent)
}

func TestUpdateWithDispatch(t *testing.T) {
	h := newHarness(t, Config{DispatchScheduleUpdates: true})
	ctx := context.Background()
	id, ref := h.active()

	w := model.Window{Start: h.clock.Now().Add(2 * time.Hour), End: h.clock.Now().Add(3 * time.Hour)}
	require.NoError(t, h.orch.RequestUpdate(ctx, id, w))
	req := h.gw.last(t)
	assert.Equal(t, model.CategoryUpdate, req.Category)
	assert.Equal(t, w.Start.Unix(), req.Payload.Start)
	assert.Equal(t, ref, req.Payload.BackendRoomRef)
	require.Len(t, h.pending(id), 1)

	err := h.orch.RequestUpdate(ctx, id, w)
	require.ErrorIs(t, err, ErrOperationPending)
	require.ErrorIs(t, err, ErrInvalidState)

	h.succeed(req.OperationID)
	assert.Equal(t, model.StateActive, h.get(id).State)
	assert.Empty(t, h.pending(id))

	require.NoError(t, h.orch.RequestUpdate(ctx, id, w))
}

func TestUpdateFailureReplyErrors(t *testing.T) {
	h := newHarness(t, Config{DispatchScheduleUpdates: true})
	ctx := context.Background()
	id, _ := h.active()

	require.NoError(t, h.orch.RequestUpdate(ctx, id, h.window()))
	op := h.gw.last(t).OperationID
	require.NoError(t, h.orch.ApplyBackendReply(ctx, op, ports.Reply{OperationID: op, Outcome: ports.OutcomeFailure}))
	rec := h.get(id)
	assert.Equal(t, model.StateErrored, rec.State)
	assert.Equal(t, "backend_failure", rec.FailureReason)
}

func TestUpdateRejections(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	id, _ := h.provisioned()

	require.ErrorIs(t, h.orch.RequestUpdate(ctx, id, h.window()), ErrInvalidState)
	require.ErrorIs(t, h.orch.RequestUpdate(ctx, id, model.Window{}), ErrInvalidScheduling)
	require.ErrorIs(t, h.orch.RequestUpdate(ctx, "missing", h.window()), ErrNotFound)
}

func TestCloseSupersedesPendingUpdate(t *testing.T) {
	h := newHarness(t, Config{DispatchScheduleUpdates: true})
	ctx := context.Background()
	id, _ := h.active()

	require.NoError(t, h.orch.RequestUpdate(ctx, id, h.window()))
	updateOp := h.gw.last(t).OperationID
	require.NoError(t, h.orch.RequestClose(ctx, id))
	closeOp := h.gw.last(t).OperationID
	assert.Len(t, h.pending(id), 2)

	// The update reply only clears its own entry.
	require.NoError(t, h.orch.ApplyBackendReply(ctx, updateOp, ports.Reply{OperationID: updateOp, Outcome: ports.OutcomeFailure}))
	assert.Equal(t, model.StateClosing, h.get(id).State)
	require.Len(t, h.pending(id), 1)

	h.succeed(closeOp)
	assert.Equal(t, model.StateClosed, h.get(id).State)
	assert.Empty(t, h.pending(id))
}

func TestRetryOperation(t *testing.T) {
	h := newHarness(t, Config{ReplyTimeout: 10 * time.Second})
	ctx := context.Background()
	id, op := h.provisioned()

	require.NoError(t, h.orch.RetryOperation(ctx, op))
	assert.Len(t, h.gw.requests(), 1, "not yet due")

	h.clock.Advance(11 * time.Second)
	require.NoError(t, h.orch.RetryOperation(ctx, op))
	reqs := h.gw.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, op, reqs[1].OperationID, "retries reuse the operation id")

	pending := h.pending(id)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Attempts)
	assert.Equal(t, h.clock.Now().Add(10*time.Second), pending[0].Deadline)
	assert.Equal(t, model.StateProvisioning, h.get(id).State)

	// The original attempt's reply still matches.
	h.succeed(op)
	assert.Equal(t, model.StateActive, h.get(id).State)
	require.NoError(t, h.orch.RetryOperation(ctx, op))
}

func TestRetryDispatchFailureConsumesAttempt(t *testing.T) {
	h := newHarness(t, Config{ReplyTimeout: time.Second})
	ctx := context.Background()
	id, op := h.provisioned()

	h.gw.setFailing(errTransport)
	h.clock.Advance(2 * time.Second)
	err := h.orch.RetryOperation(ctx, op)
	require.ErrorIs(t, err, ErrBackendFailure)
	require.ErrorIs(t, err, errTransport)

	pending := h.pending(id)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Attempts)
	assert.Equal(t, model.StateProvisioning, h.get(id).State)
}

func TestConflictRetries(t *testing.T) {
	t.Run("recovers", func(t *testing.T) {
		cs := &conflictStore{StateStore: store.NewMemoryStore()}
		h := newHarnessWithStore(t, cs, Config{ConflictRetries: 2})
		id := h.create()
		cs.n.Store(2)
		require.NoError(t, h.orch.ResumeProvisioning(context.Background(), id))
		assert.Equal(t, model.StateProvisioning, h.get(id).State)
	})
	t.Run("exhausted", func(t *testing.T) {
		cs := &conflictStore{StateStore: store.NewMemoryStore()}
		h := newHarnessWithStore(t, cs, Config{ConflictRetries: 2})
		id, _ := h.active()
		cs.n.Store(3)
		err := h.orch.RequestClose(context.Background(), id)
		require.ErrorIs(t, err, ErrPersistenceConflict)
		assert.Equal(t, model.StateActive, h.get(id).State)
	})
}

func TestLifecycleOnSqlite(t *testing.T) {
	st, err := store.NewSqliteStore(filepath.Join(t.TempDir(), "classd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	h := newHarnessWithStore(t, st, Config{DispatchScheduleUpdates: true})
	ctx := context.Background()
	id, ref := h.active()

	require.NoError(t, h.orch.RequestUpdate(ctx, id, h.window()))
	require.NoError(t, h.orch.RequestClose(ctx, id))
	assert.Len(t, h.pending(id), 2)

	require.NoError(t, h.orch.ApplyBackendEvent(ctx, ref, ports.EventRoomClosed))
	rec := h.get(id)
	assert.Equal(t, model.StateClosed, rec.State)
	assert.NotNil(t, rec.ClosedAt)
	assert.Empty(t, h.pending(id))
}

func TestWindowPrecisionOnSqlite(t *testing.T) {
	st, err := store.NewSqliteStore(filepath.Join(t.TempDir(), "classd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	h := newHarnessWithStore(t, st, Config{})
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	_, err = h.orch.RequestCreate(ctx, model.KindWebinar, model.Window{Start: start, End: start.Add(500 * time.Microsecond)})
	require.ErrorIs(t, err, ErrInvalidScheduling, "sub-millisecond windows collapse once stored")

	w := model.Window{Start: start.Add(300 * time.Microsecond), End: start.Add(1500 * time.Microsecond)}
	id, err := h.orch.RequestCreate(ctx, model.KindWebinar, w)
	require.NoError(t, err)
	got := h.get(id).Window
	assert.True(t, got.Valid(), "stored window %v", got)
	assert.True(t, got.Start.Equal(start))
	assert.True(t, got.End.Equal(start.Add(time.Millisecond)))

	id, _ = h.active()
	err = h.orch.RequestUpdate(ctx, id, model.Window{Start: start, End: start.Add(999 * time.Microsecond)})
	require.ErrorIs(t, err, ErrInvalidScheduling)
	assert.True(t, h.get(id).Window.Valid())
}

func TestMapErr(t *testing.T) {
	assert.Nil(t, mapErr(nil))
	assert.ErrorIs(t, mapErr(store.ErrNotFound), ErrNotFound)
	assert.ErrorIs(t, mapErr(store.ErrScopeTaken), ErrScopeTaken)
	assert.ErrorIs(t, mapErr(store.ErrOperationPending), ErrInvalidState)
	other := errors.New("disk full")
	assert.Equal(t, other, mapErr(other))
}
