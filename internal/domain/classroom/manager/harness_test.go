// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/classd/internal/domain/classroom/model"
	"github.com/ManuGH/classd/internal/domain/classroom/ports"
	"github.com/ManuGH/classd/internal/domain/classroom/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeGateway records requests and fails while failing is set.
type fakeGateway struct {
	mu      sync.Mutex
	sent    []ports.Request
	failing error
}

func (g *fakeGateway) Send(ctx context.Context, req ports.Request) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failing != nil {
		return g.failing
	}
	g.sent = append(g.sent, req)
	return nil
}

func (g *fakeGateway) setFailing(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failing = err
}

func (g *fakeGateway) requests() []ports.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]ports.Request(nil), g.sent...)
}

func (g *fakeGateway) last(t *testing.T) ports.Request {
	t.Helper()
	reqs := g.requests()
	require.NotEmpty(t, reqs, "no backend request sent")
	return reqs[len(reqs)-1]
}

// conflictStore fails the next n updates with store.ErrConflict.
type conflictStore struct {
	store.StateStore
	n atomic.Int32
}

func (s *conflictStore) UpdateClassroom(ctx context.Context, id string, fn store.UpdateFunc) (*model.Classroom, error) {
	if s.n.Add(-1) >= 0 {
		return nil, store.ErrConflict
	}
	return s.StateStore.UpdateClassroom(ctx, id, fn)
}

type harness struct {
	t     *testing.T
	orch  *Orchestrator
	store store.StateStore
	gw    *fakeGateway
	clock *fakeClock
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	return newHarnessWithStore(t, store.NewMemoryStore(), cfg)
}

func newHarnessWithStore(t *testing.T, st store.StateStore, cfg Config) *harness {
	t.Helper()
	if cfg.ReplyTimeout == 0 {
		cfg.ReplyTimeout = 30 * time.Second
	}
	if cfg.ConflictRetries == 0 {
		cfg.ConflictRetries = 3
	}
	var seq atomic.Int64
	h := &harness{t: t, store: st, gw: &fakeGateway{}, clock: newFakeClock()}
	h.orch = New(st, h.gw, cfg,
		WithClock(h.clock.Now),
		WithIDGenerator(func() string { return fmt.Sprintf("id-%03d", seq.Add(1)) }),
	)
	return h
}

func (h *harness) window() model.Window {
	start := h.clock.Now().Add(time.Hour)
	return model.Window{Start: start, End: start.Add(time.Hour)}
}

func (h *harness) create(opts ...CreateOption) string {
	h.t.Helper()
	id, err := h.orch.RequestCreate(context.Background(), model.KindWebinar, h.window(), opts...)
	require.NoError(h.t, err)
	return id
}

// provisioned returns a classroom in PROVISIONING and its operation id.
func (h *harness) provisioned() (string, string) {
	h.t.Helper()
	id := h.create()
	require.NoError(h.t, h.orch.ResumeProvisioning(context.Background(), id))
	req := h.gw.last(h.t)
	require.Equal(h.t, id, req.ClassroomID)
	return id, req.OperationID
}

// active returns an ACTIVE classroom and its backend room reference.
func (h *harness) active() (string, string) {
	h.t.Helper()
	id, op := h.provisioned()
	ref := "room-" + id
	require.NoError(h.t, h.orch.ApplyBackendReply(context.Background(), op, ports.Reply{
		OperationID: op, Outcome: ports.OutcomeSuccess, BackendRoomRef: ref,
	}))
	require.Equal(h.t, model.StateActive, h.get(id).State)
	return id, ref
}

func (h *harness) get(id string) *model.Classroom {
	h.t.Helper()
	rec, err := h.orch.Get(context.Background(), id)
	require.NoError(h.t, err)
	return rec
}

func (h *harness) pending(id string) []*model.Correlation {
	h.t.Helper()
	p, err := h.orch.Pending(context.Background(), id)
	require.NoError(h.t, err)
	return p
}

func (h *harness) succeed(op string) {
	h.t.Helper()
	require.NoError(h.t, h.orch.ApplyBackendReply(context.Background(), op, ports.Reply{
		OperationID: op, Outcome: ports.OutcomeSuccess, BackendRoomRef: "room-" + op,
	}))
}

var errTransport = errors.New("transport down")
