// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package manager owns the classroom lifecycle. Every state change goes
// through the Orchestrator, which commits the classroom row and its pending
// backend operations in one store transaction before talking to a backend.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/classd/internal/domain/classroom/lifecycle"
	"github.com/ManuGH/classd/internal/domain/classroom/model"
	"github.com/ManuGH/classd/internal/domain/classroom/ports"
	"github.com/ManuGH/classd/internal/domain/classroom/store"
	"github.com/ManuGH/classd/internal/log"
	"github.com/ManuGH/classd/internal/telemetry"
)

// Config tunes the orchestrator.
type Config struct {
	// ReplyTimeout is how long a dispatched operation may wait for its reply
	// before the reconciler retries or expires it.
	ReplyTimeout time.Duration
	// DispatchScheduleUpdates sends window changes of ACTIVE classrooms to the
	// backend. When false an update only persists the new window.
	DispatchScheduleUpdates bool
	// ConflictRetries bounds re-reads after a version conflict.
	ConflictRetries int
	InboxSize       int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ReplyTimeout:    30 * time.Second,
		ConflictRetries: 3,
		InboxSize:       256,
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = d.ReplyTimeout
	}
	if c.ConflictRetries < 0 {
		c.ConflictRetries = 0
	}
	if c.InboxSize <= 0 {
		c.InboxSize = d.InboxSize
	}
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator replaces the UUIDv7 generator for classroom and operation ids.
func WithIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) { o.newID = gen }
}

// Orchestrator drives classrooms through their lifecycle.
type Orchestrator struct {
	store   store.StateStore
	gateway ports.Gateway
	cfg     Config

	now   func() time.Time
	newID func() string

	inbox  chan inboxItem
	logger zerolog.Logger
	tracer trace.Tracer
}

// New builds an orchestrator. Run must be started for asynchronous
// provisioning and inbound backend messages to be processed.
func New(st store.StateStore, gw ports.Gateway, cfg Config, opts ...Option) *Orchestrator {
	cfg.setDefaults()
	o := &Orchestrator{
		store:   st,
		gateway: gw,
		cfg:     cfg,
		now:     time.Now,
		newID:   newUUID,
		inbox:   make(chan inboxItem, cfg.InboxSize),
		logger:  log.WithComponent("orchestrator"),
		tracer:  telemetry.Tracer("classd.manager"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func newUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// CreateOption sets optional classroom attributes.
type CreateOption func(*createOptions)

type createOptions struct {
	audience string
	scope    string
	tags     json.RawMessage
	reserve  int
}

// WithScope places the classroom in a client namespace. A live classroom's
// audience and scope pair is unique.
func WithScope(audience, scope string) CreateOption {
	return func(c *createOptions) { c.audience, c.scope = audience, scope }
}

// WithTags attaches an opaque JSON object passed through to the backend.
func WithTags(tags json.RawMessage) CreateOption {
	return func(c *createOptions) { c.tags = tags }
}

// WithReserve sets the number of reserved seats.
func WithReserve(n int) CreateOption {
	return func(c *createOptions) { c.reserve = n }
}

// RequestCreate validates and persists a REQUESTED classroom, then queues
// provisioning. It does not wait for any backend.
func (o *Orchestrator) RequestCreate(ctx context.Context, kind model.Kind, window model.Window, opts ...CreateOption) (string, error) {
	ctx, span := o.tracer.Start(ctx, "classd.manager.create", trace.WithAttributes(attribute.String(telemetry.ClassroomKindKey, string(kind))))
	defer span.End()

	if !kind.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	window = storedWindow(window)
	if !window.Valid() {
		return "", fmt.Errorf("%w: end must be after a non-zero start", ErrInvalidScheduling)
	}
	var co createOptions
	for _, opt := range opts {
		opt(&co)
	}
	var audience, scope string
	if co.audience != "" || co.scope != "" {
		if co.audience == "" || co.scope == "" {
			return "", fmt.Errorf("%w: audience and scope must be set together", ErrInvalidInput)
		}
		var err error
		if audience, err = model.NormalizeAudience(co.audience); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if scope, err = model.NormalizeScope(co.scope); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	if err := model.ValidateTags(co.tags); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if co.reserve < 0 {
		return "", fmt.Errorf("%w: negative reserve", ErrInvalidInput)
	}

	now := o.now().UTC()
	rec := &model.Classroom{
		ID:        o.newID(),
		Kind:      kind,
		Audience:  audience,
		Scope:     scope,
		Tags:      co.tags,
		Reserve:   co.reserve,
		Window:    window,
		CreatedAt: now,
	}
	if _, err := lifecycle.Dispatch(rec, lifecycle.Event{Kind: lifecycle.EvCreateRequested}, now); err != nil {
		return "", err
	}
	if err := o.store.CreateClassroom(ctx, rec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		return "", mapErr(err)
	}
	recordTransition(lifecycle.StateNone, rec.State)
	span.SetAttributes(attribute.String(telemetry.ClassroomIDKey, rec.ID))
	o.logger.Info().
		Str(log.FieldClassroomID, rec.ID).
		Str("kind", string(kind)).
		Msg("classroom requested")

	o.enqueueProvision(rec.ID)
	return rec.ID, nil
}

// RequestUpdate changes the window of an ACTIVE classroom.
func (o *Orchestrator) RequestUpdate(ctx context.Context, id string, window model.Window) error {
	ctx, span := o.startSpan(ctx, "classd.manager.update", id)
	defer span.End()

	window = storedWindow(window)
	if !window.Valid() {
		return fmt.Errorf("%w: end must be after a non-zero start", ErrInvalidScheduling)
	}
	now := o.now().UTC()
	var corr *model.Correlation
	rec, err := o.update(ctx, id, func(rec *model.Classroom, pending []*model.Correlation) (*store.Change, error) {
		corr = nil
		if err := o.transition(rec, lifecycle.EvUpdateRequested, "", now); err != nil {
			return nil, err
		}
		rec.Window = window
		if !o.cfg.DispatchScheduleUpdates {
			return nil, nil
		}
		if p := pendingFor(pending, model.CategoryUpdate); p != nil {
			return nil, fmt.Errorf("%w: update %s", ErrOperationPending, p.OperationID)
		}
		corr = o.newCorrelation(rec.ID, model.CategoryUpdate, now)
		return &store.Change{Put: []*model.Correlation{corr}}, nil
	})
	if err != nil {
		return o.fail(span, err)
	}
	if corr == nil {
		return nil
	}
	return o.dispatch(ctx, rec, corr)
}

// RequestClose starts closing an ACTIVE classroom. A classroom still
// provisioning cannot be cancelled.
func (o *Orchestrator) RequestClose(ctx context.Context, id string) error {
	ctx, span := o.startSpan(ctx, "classd.manager.close", id)
	defer span.End()

	now := o.now().UTC()
	var corr *model.Correlation
	rec, err := o.update(ctx, id, func(rec *model.Classroom, pending []*model.Correlation) (*store.Change, error) {
		if err := o.transition(rec, lifecycle.EvCloseRequested, "", now); err != nil {
			return nil, err
		}
		if p := pendingFor(pending, model.CategoryClose); p != nil {
			return nil, fmt.Errorf("%w: close %s", ErrOperationPending, p.OperationID)
		}
		corr = o.newCorrelation(rec.ID, model.CategoryClose, now)
		return &store.Change{Put: []*model.Correlation{corr}}, nil
	})
	if err != nil {
		return o.fail(span, err)
	}
	return o.dispatch(ctx, rec, corr)
}

// ApplyBackendReply resolves the pending operation. Unknown, duplicate and
// late replies are no-ops.
func (o *Orchestrator) ApplyBackendReply(ctx context.Context, operationID string, reply ports.Reply) error {
	ctx, span := o.tracer.Start(ctx, "classd.manager.reply", trace.WithAttributes(attribute.String(telemetry.OperationIDKey, operationID)))
	defer span.End()

	var s settlement
	switch reply.Outcome {
	case ports.OutcomeSuccess:
		s = settlement{kind: settleSuccess, roomRef: reply.BackendRoomRef}
	case ports.OutcomeFailure:
		reason := reply.FailureReason
		if reason == "" {
			reason = "backend_failure"
		}
		s = settlement{kind: settleFailure, reason: reason}
	default:
		return fmt.Errorf("%w: reply %s has outcome %q", ErrBackendFailure, operationID, reply.Outcome)
	}

	rec, err := o.settle(ctx, operationID, s)
	if errors.Is(err, errStale) {
		repliesTotal.WithLabelValues(string(reply.Outcome), "stale").Inc()
		o.logger.Debug().Str(log.FieldOperationID, operationID).Msg("stale backend reply ignored")
		return nil
	}
	if err != nil {
		repliesTotal.WithLabelValues(string(reply.Outcome), "error").Inc()
		return o.fail(span, err)
	}
	repliesTotal.WithLabelValues(string(reply.Outcome), "applied").Inc()
	span.SetAttributes(telemetry.ClassroomAttributes(rec.ID, string(rec.Kind), string(rec.State))...)
	return nil
}

// ApplyBackendEvent handles a spontaneous backend event. Events that match no
// classroom are logged and dropped.
func (o *Orchestrator) ApplyBackendEvent(ctx context.Context, backendRoomRef string, kind ports.EventKind) error {
	ctx, span := o.tracer.Start(ctx, "classd.manager.event", trace.WithAttributes(attribute.String(telemetry.BackendRoomKey, backendRoomRef)))
	defer span.End()

	logger := o.logger.With().Str(log.FieldBackendRoom, backendRoomRef).Str(log.FieldEvent, string(kind)).Logger()
	if backendRoomRef == "" {
		eventsTotal.WithLabelValues(string(kind), "unmatched").Inc()
		logger.Warn().Msg("backend event without room reference dropped")
		return nil
	}
	cur, err := o.store.GetClassroomByBackendRoom(ctx, backendRoomRef)
	if errors.Is(err, store.ErrNotFound) {
		eventsTotal.WithLabelValues(string(kind), "unmatched").Inc()
		logger.Info().Msg("unmatched backend event dropped")
		return nil
	}
	if err != nil {
		return o.fail(span, err)
	}
	if kind != ports.EventRoomClosed {
		eventsTotal.WithLabelValues(string(kind), "ignored").Inc()
		logger.Debug().Str(log.FieldClassroomID, cur.ID).Msg("backend event has no lifecycle effect")
		return nil
	}

	now := o.now().UTC()
	_, err = o.update(ctx, cur.ID, func(rec *model.Classroom, pending []*model.Correlation) (*store.Change, error) {
		if rec.BackendRoomRef != backendRoomRef {
			return nil, errStale
		}
		if err := o.transition(rec, lifecycle.EvRoomClosed, "", now); err != nil {
			return nil, errStale
		}
		return &store.Change{Delete: operationIDs(pending)}, nil
	})
	if errors.Is(err, errStale) {
		eventsTotal.WithLabelValues(string(kind), "stale").Inc()
		logger.Debug().Str(log.FieldClassroomID, cur.ID).Msg("room closed event ignored in current state")
		return nil
	}
	if err != nil {
		eventsTotal.WithLabelValues(string(kind), "error").Inc()
		return o.fail(span, err)
	}
	eventsTotal.WithLabelValues(string(kind), "applied").Inc()
	logger.Info().Str(log.FieldClassroomID, cur.ID).Msg("classroom closed by backend")
	return nil
}

// Get returns a classroom by id.
func (o *Orchestrator) Get(ctx context.Context, id string) (*model.Classroom, error) {
	rec, err := o.store.GetClassroom(ctx, id)
	if err != nil {
		return nil, mapErr(err)
	}
	return rec, nil
}

// GetByScope returns the most recent classroom for an audience and scope.
func (o *Orchestrator) GetByScope(ctx context.Context, audience, scope string) (*model.Classroom, error) {
	a, err := model.NormalizeAudience(audience)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	s, err := model.NormalizeScope(scope)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	rec, err := o.store.GetClassroomByScope(ctx, a, s)
	if err != nil {
		return nil, mapErr(err)
	}
	return rec, nil
}

// List returns classrooms matching filter.
func (o *Orchestrator) List(ctx context.Context, filter store.ClassroomFilter) ([]*model.Classroom, error) {
	return o.store.QueryClassrooms(ctx, filter)
}

// Pending returns the classroom's in-flight backend operations.
func (o *Orchestrator) Pending(ctx context.Context, id string) ([]*model.Correlation, error) {
	return o.store.QueryCorrelations(ctx, store.CorrelationFilter{ClassroomID: id})
}

// RetryOperation re-dispatches an expired operation under the same operation
// id and extends its deadline. A dispatch failure keeps the consumed attempt.
func (o *Orchestrator) RetryOperation(ctx context.Context, operationID string) error {
	ctx, span := o.tracer.Start(ctx, "classd.manager.retry", trace.WithAttributes(attribute.String(telemetry.OperationIDKey, operationID)))
	defer span.End()

	cur, err := o.store.GetCorrelation(ctx, operationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return o.fail(span, err)
	}

	now := o.now().UTC()
	var entry *model.Correlation
	rec, err := o.update(ctx, cur.ClassroomID, func(rec *model.Classroom, pending []*model.Correlation) (*store.Change, error) {
		entry = nil
		e := findOperation(pending, operationID)
		if e == nil || !e.Expired(now) {
			return nil, errStale
		}
		if !owns(rec.State, e.Category) {
			return &store.Change{Delete: []string{operationID}}, nil
		}
		if err := o.transition(rec, lifecycle.EvRetryDispatched, "", now); err != nil {
			return nil, err
		}
		e.Attempts++
		e.DispatchedAt = now
		e.Deadline = now.Add(o.cfg.ReplyTimeout)
		entry = e
		return &store.Change{Put: []*model.Correlation{e}}, nil
	})
	if errors.Is(err, errStale) {
		return nil
	}
	if err != nil {
		return o.fail(span, err)
	}
	if entry == nil {
		o.logger.Debug().Str(log.FieldOperationID, operationID).Msg("superseded operation dropped")
		return nil
	}

	span.SetAttributes(telemetry.OperationAttributes(entry.OperationID, string(entry.Category), entry.Attempts)...)
	o.logger.Info().
		Str(log.FieldClassroomID, rec.ID).
		Str(log.FieldOperationID, operationID).
		Str(log.FieldCategory, string(entry.Category)).
		Int(log.FieldAttempt, entry.Attempts).
		Msg("retrying backend operation")
	if err := o.gateway.Send(ctx, buildRequest(rec, entry)); err != nil {
		dispatchFailuresTotal.WithLabelValues(string(entry.Category), "retry").Inc()
		return o.fail(span, fmt.Errorf("%w: retry %s: %w", ErrBackendFailure, operationID, err))
	}
	return nil
}

// ExpireOperation applies the timeout-failure transition for an operation
// whose retry budget is spent.
func (o *Orchestrator) ExpireOperation(ctx context.Context, operationID, reason string) error {
	ctx, span := o.tracer.Start(ctx, "classd.manager.expire", trace.WithAttributes(attribute.String(telemetry.OperationIDKey, operationID)))
	defer span.End()

	if reason == "" {
		reason = "timeout_exhausted"
	}
	rec, err := o.settle(ctx, operationID, settlement{kind: settleTimeout, reason: reason})
	if errors.Is(err, errStale) {
		return nil
	}
	if err != nil {
		return o.fail(span, err)
	}
	o.logger.Warn().
		Str(log.FieldClassroomID, rec.ID).
		Str(log.FieldOperationID, operationID).
		Str(log.FieldNewState, string(rec.State)).
		Str(log.FieldReason, reason).
		Msg("backend operation expired")
	return nil
}

// ResumeProvisioning dispatches provisioning for a REQUESTED classroom that
// has no pending operation. It is a no-op in any other case.
func (o *Orchestrator) ResumeProvisioning(ctx context.Context, id string) error {
	ctx, span := o.startSpan(ctx, "classd.manager.provision", id)
	defer span.End()

	err := o.provision(ctx, id)
	if errors.Is(err, errStale) {
		return nil
	}
	if err != nil {
		return o.fail(span, err)
	}
	return nil
}

func (o *Orchestrator) provision(ctx context.Context, id string) error {
	now := o.now().UTC()
	var corr *model.Correlation
	rec, err := o.update(ctx, id, func(rec *model.Classroom, pending []*model.Correlation) (*store.Change, error) {
		if rec.State != model.StateRequested || len(pending) > 0 {
			return nil, errStale
		}
		if err := o.transition(rec, lifecycle.EvProvisionDispatched, "", now); err != nil {
			return nil, err
		}
		corr = o.newCorrelation(rec.ID, model.CategoryProvision, now)
		return &store.Change{Put: []*model.Correlation{corr}}, nil
	})
	if err != nil {
		return err
	}
	return o.dispatch(ctx, rec, corr)
}

// dispatch sends the first attempt of a committed operation. A delivery
// failure resolves the operation like a failure reply. When ctx is done the
// entry is left for the reconciler.
func (o *Orchestrator) dispatch(ctx context.Context, rec *model.Classroom, corr *model.Correlation) error {
	err := o.gateway.Send(ctx, buildRequest(rec, corr))
	if err == nil {
		return nil
	}
	dispatchFailuresTotal.WithLabelValues(string(corr.Category), "initial").Inc()
	logger := o.logger.With().
		Str(log.FieldClassroomID, rec.ID).
		Str(log.FieldOperationID, corr.OperationID).
		Str(log.FieldCategory, string(corr.Category)).
		Logger()
	if ctx.Err() != nil {
		logger.Warn().Err(err).Msg("dispatch interrupted; reconciler will retry")
		return nil
	}
	logger.Error().Err(err).Msg("backend dispatch failed")
	_, serr := o.settle(ctx, corr.OperationID, settlement{kind: settleFailure, reason: "dispatch_failed: " + err.Error()})
	if serr != nil && !errors.Is(serr, errStale) {
		return serr
	}
	return nil
}

type settleKind int

const (
	settleSuccess settleKind = iota
	settleFailure
	settleTimeout
)

type settlement struct {
	kind    settleKind
	roomRef string
	reason  string
}

var settleEvents = map[model.Category][3]lifecycle.EventKind{
	model.CategoryProvision: {lifecycle.EvProvisionSucceeded, lifecycle.EvProvisionFailed, lifecycle.EvTimeoutExhausted},
	model.CategoryUpdate:    {lifecycle.EvUpdateSucceeded, lifecycle.EvUpdateFailed, lifecycle.EvTimeoutExhausted},
	model.CategoryClose:     {lifecycle.EvCloseSucceeded, lifecycle.EvCloseFailed, lifecycle.EvTimeoutExhausted},
}

// settle removes the pending entry for operationID and applies the matching
// transition. errStale means the entry was already gone.
func (o *Orchestrator) settle(ctx context.Context, operationID string, s settlement) (*model.Classroom, error) {
	cur, err := o.store.GetCorrelation(ctx, operationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errStale
	}
	if err != nil {
		return nil, err
	}

	now := o.now().UTC()
	return o.update(ctx, cur.ClassroomID, func(rec *model.Classroom, pending []*model.Correlation) (*store.Change, error) {
		e := findOperation(pending, operationID)
		if e == nil {
			return nil, errStale
		}
		ch := &store.Change{Delete: []string{operationID}}
		if !owns(rec.State, e.Category) {
			return ch, nil
		}
		out := s
		if out.kind == settleSuccess && e.Category == model.CategoryProvision && out.roomRef == "" {
			// An ACTIVE room must be addressable by events and close requests.
			out = settlement{kind: settleFailure, reason: ReasonMissingRoomRef}
		}
		ev := settleEvents[e.Category][out.kind]
		if err := o.transition(rec, ev, out.reason, now); err != nil {
			return nil, err
		}
		if out.kind == settleSuccess && e.Category == model.CategoryProvision {
			rec.BackendRoomRef = out.roomRef
		}
		if rec.State.IsTerminal() {
			ch.Delete = operationIDs(pending)
		}
		return ch, nil
	})
}

// update runs fn in a store transaction, re-reading on version conflicts.
// Transitions are counted once the write commits.
func (o *Orchestrator) update(ctx context.Context, id string, fn store.UpdateFunc) (*model.Classroom, error) {
	var from model.State
	wrapped := func(rec *model.Classroom, pending []*model.Correlation) (*store.Change, error) {
		from = rec.State
		return fn(rec, pending)
	}
	var lastErr error
	for attempt := 0; attempt <= o.cfg.ConflictRetries; attempt++ {
		rec, err := o.store.UpdateClassroom(ctx, id, wrapped)
		if err == nil {
			if rec.State != from {
				recordTransition(from, rec.State)
				o.logger.Info().
					Str(log.FieldClassroomID, rec.ID).
					Str(log.FieldOldState, string(from)).
					Str(log.FieldNewState, string(rec.State)).
					Str(log.FieldReason, rec.FailureReason).
					Msg("classroom transition")
			}
			return rec, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, mapErr(err)
		}
		conflictsTotal.Inc()
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w: classroom %s: %v", ErrPersistenceConflict, id, lastErr)
}

// storedWindow brings w to the precision every store keeps (UTC,
// milliseconds) so validation sees the bounds that will be read back.
func storedWindow(w model.Window) model.Window {
	trunc := func(t time.Time) time.Time {
		if t.IsZero() {
			return t
		}
		return t.UTC().Truncate(time.Millisecond)
	}
	return model.Window{Start: trunc(w.Start), End: trunc(w.End)}
}

func (o *Orchestrator) transition(rec *model.Classroom, ev lifecycle.EventKind, reason string, now time.Time) error {
	_, err := lifecycle.Dispatch(rec, lifecycle.Event{Kind: ev, Reason: reason}, now)
	return err
}

func (o *Orchestrator) newCorrelation(classroomID string, cat model.Category, now time.Time) *model.Correlation {
	return &model.Correlation{
		OperationID:  o.newID(),
		ClassroomID:  classroomID,
		Category:     cat,
		Attempts:     1,
		DispatchedAt: now,
		Deadline:     now.Add(o.cfg.ReplyTimeout),
	}
}

func (o *Orchestrator) startSpan(ctx context.Context, name, id string) (context.Context, trace.Span) {
	ctx = log.ContextWithClassroomID(ctx, id)
	return o.tracer.Start(ctx, name, trace.WithAttributes(attribute.String(telemetry.ClassroomIDKey, id)))
}

func (o *Orchestrator) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// owns reports whether an entry of category c drives state s. Entries that no
// longer drive the state were superseded and are dropped on resolution.
func owns(s model.State, c model.Category) bool {
	switch c {
	case model.CategoryProvision:
		return s == model.StateProvisioning
	case model.CategoryUpdate:
		return s == model.StateActive
	case model.CategoryClose:
		return s == model.StateClosing
	}
	return false
}

func buildRequest(rec *model.Classroom, corr *model.Correlation) ports.Request {
	req := ports.Request{
		OperationID: corr.OperationID,
		ClassroomID: rec.ID,
		Kind:        rec.Kind,
		Category:    corr.Category,
	}
	switch corr.Category {
	case model.CategoryProvision:
		req.Payload = ports.Payload{
			Start:    rec.Window.Start.Unix(),
			End:      rec.Window.End.Unix(),
			Audience: rec.Audience,
			Scope:    rec.Scope,
			Reserve:  rec.Reserve,
			Tags:     rec.Tags,
		}
	case model.CategoryUpdate:
		req.Payload = ports.Payload{
			Start:          rec.Window.Start.Unix(),
			End:            rec.Window.End.Unix(),
			BackendRoomRef: rec.BackendRoomRef,
		}
	case model.CategoryClose:
		req.Payload = ports.Payload{BackendRoomRef: rec.BackendRoomRef}
	}
	return req
}

func findOperation(pending []*model.Correlation, operationID string) *model.Correlation {
	for _, c := range pending {
		if c.OperationID == operationID {
			return c
		}
	}
	return nil
}

func pendingFor(pending []*model.Correlation, cat model.Category) *model.Correlation {
	for _, c := range pending {
		if c.Category == cat {
			return c
		}
	}
	return nil
}

func operationIDs(pending []*model.Correlation) []string {
	out := make([]string, 0, len(pending))
	for _, c := range pending {
		out = append(out, c.OperationID)
	}
	return out
}
