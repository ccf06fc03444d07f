// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package manager

import (
	"context"
	"fmt"

	"github.com/ManuGH/classd/internal/domain/classroom/ports"
	"github.com/ManuGH/classd/internal/log"
)

// inboxItem is either an inbound backend message or a provisioning kick.
type inboxItem struct {
	msg       ports.Inbound
	provision string
}

// Deliver queues an inbound backend message for Run. It blocks while the
// inbox is full. Its signature matches ports.InboundHandler.
func (o *Orchestrator) Deliver(ctx context.Context, msg ports.Inbound) error {
	select {
	case o.inbox <- inboxItem{msg: msg}:
		inboxDepth.Set(float64(len(o.inbox)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueueProvision never blocks a client request. A dropped kick is picked
// up by the reconciler once the classroom counts as stale.
func (o *Orchestrator) enqueueProvision(id string) {
	select {
	case o.inbox <- inboxItem{provision: id}:
		inboxDepth.Set(float64(len(o.inbox)))
	default:
		o.logger.Warn().Str(log.FieldClassroomID, id).Msg("inbox full, provisioning deferred to reconciler")
	}
}

// Run recovers orphaned classrooms, then drains the inbox until ctx is done.
// All inbound messages are applied by this single goroutine.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.recoverRequested(ctx); err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}
	o.logger.Info().Int("inbox_size", cap(o.inbox)).Msg("orchestrator started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case item := <-o.inbox:
			inboxDepth.Set(float64(len(o.inbox)))
			o.handle(ctx, item)
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, item inboxItem) {
	var err error
	switch {
	case item.provision != "":
		err = o.ResumeProvisioning(ctx, item.provision)
	case item.msg.Reply != nil:
		r := item.msg.Reply
		err = o.ApplyBackendReply(ctx, r.OperationID, *r)
	case item.msg.Event != nil:
		e := item.msg.Event
		err = o.ApplyBackendEvent(ctx, e.BackendRoomRef, e.Kind)
	default:
		o.logger.Warn().Msg("empty inbox message dropped")
		return
	}
	if err != nil && ctx.Err() == nil {
		o.logger.Error().Err(err).Msg("inbox message failed")
	}
}
