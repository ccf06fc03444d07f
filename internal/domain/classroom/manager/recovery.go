// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package manager

import (
	"context"
	"time"

	"github.com/ManuGH/classd/internal/domain/classroom/model"
	"github.com/ManuGH/classd/internal/domain/classroom/store"
	"github.com/ManuGH/classd/internal/log"
)

// recoverRequested provisions REQUESTED classrooms left behind by a crash
// between commit and enqueue. Operations already dispatched are retried by the
// reconciler once their deadline passes.
func (o *Orchestrator) recoverRequested(ctx context.Context) error {
	logger := log.WithComponent("orchestrator.recovery")
	start := time.Now()

	orphans, err := o.requestedWithoutOperation(ctx, time.Time{}, 0)
	if err != nil {
		return err
	}
	recovered := 0
	for _, id := range orphans {
		if err := o.ResumeProvisioning(ctx, id); err != nil {
			logger.Warn().Err(err).Str(log.FieldClassroomID, id).Msg("failed to resume provisioning")
			continue
		}
		recovered++
	}
	logger.Info().
		Int("recovered_count", recovered).
		Dur("duration", time.Since(start)).
		Msg("recovery complete")
	return nil
}

// requestedWithoutOperation lists REQUESTED classrooms last updated before
// cutoff (zero means any time) that have no pending entry.
func (o *Orchestrator) requestedWithoutOperation(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	recs, err := o.store.QueryClassrooms(ctx, store.ClassroomFilter{
		States:        []model.State{model.StateRequested},
		UpdatedBefore: cutoff,
		Limit:         limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		pending, err := o.store.QueryCorrelations(ctx, store.CorrelationFilter{ClassroomID: rec.ID, Limit: 1})
		if err != nil {
			return nil, err
		}
		if len(pending) == 0 {
			out = append(out, rec.ID)
		}
	}
	return out, nil
}
