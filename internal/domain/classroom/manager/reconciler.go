// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package manager

import (
	"context"
	"time"

	"github.com/ManuGH/classd/internal/domain/classroom/store"
	"github.com/ManuGH/classd/internal/log"
)

// ReconcilerConfig defines the timeout policy.
type ReconcilerConfig struct {
	Interval time.Duration
	// RetryBudget is the total number of sends an operation may use.
	RetryBudget int
	// StaleRequestedAfter is how long a REQUESTED classroom may sit without a
	// dispatched operation before it is resumed.
	StaleRequestedAfter time.Duration
	BatchSize           int
}

// DefaultReconcilerConfig returns production defaults.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Interval:            5 * time.Second,
		RetryBudget:         3,
		StaleRequestedAfter: time.Minute,
		BatchSize:           100,
	}
}

// SweepResult counts the actions of one sweep.
type SweepResult struct {
	Retried int
	Expired int
	Resumed int
	Failed  int
}

// Reconciler retries or expires operations whose reply is overdue. It only
// reads the store; every write goes through the Orchestrator.
type Reconciler struct {
	Orch *Orchestrator
	Conf ReconcilerConfig
}

// Run sweeps on a ticker until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	if r.Conf.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.Conf.Interval)
	defer ticker.Stop()

	log.L().Info().Dur("interval", r.Conf.Interval).Msg("reconciler started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SweepOnce(ctx)
		}
	}
}

// SweepOnce performs exactly one pass.
func (r *Reconciler) SweepOnce(ctx context.Context) SweepResult {
	var res SweepResult
	logger := log.WithComponent("reconciler")
	now := r.Orch.now().UTC()

	overdue, err := r.Orch.store.QueryCorrelations(ctx, store.CorrelationFilter{
		DeadlineBefore: now.Add(time.Nanosecond),
		Limit:          r.Conf.BatchSize,
	})
	if err != nil {
		logger.Error().Err(err).Msg("reconcile scan failed")
		reconcileActionsTotal.WithLabelValues("error").Inc()
		return res
	}

	for _, c := range overdue {
		if ctx.Err() != nil {
			return res
		}
		l := logger.With().
			Str(log.FieldOperationID, c.OperationID).
			Str(log.FieldClassroomID, c.ClassroomID).
			Str(log.FieldCategory, string(c.Category)).
			Int(log.FieldAttempt, c.Attempts).
			Logger()
		if c.Attempts < r.Conf.RetryBudget {
			if err := r.Orch.RetryOperation(ctx, c.OperationID); err != nil {
				res.Failed++
				reconcileActionsTotal.WithLabelValues("retry_failed").Inc()
				l.Warn().Err(err).Msg("retry dispatch failed")
				continue
			}
			res.Retried++
			reconcileActionsTotal.WithLabelValues("retry").Inc()
			continue
		}
		if err := r.Orch.ExpireOperation(ctx, c.OperationID, "timeout_exhausted"); err != nil {
			res.Failed++
			reconcileActionsTotal.WithLabelValues("error").Inc()
			l.Error().Err(err).Msg("expire failed")
			continue
		}
		res.Expired++
		reconcileActionsTotal.WithLabelValues("expire").Inc()
	}

	if r.Conf.StaleRequestedAfter > 0 {
		stale, err := r.Orch.requestedWithoutOperation(ctx, now.Add(-r.Conf.StaleRequestedAfter), r.Conf.BatchSize)
		if err != nil {
			logger.Error().Err(err).Msg("stale classroom scan failed")
			reconcileActionsTotal.WithLabelValues("error").Inc()
			return res
		}
		for _, id := range stale {
			if err := r.Orch.ResumeProvisioning(ctx, id); err != nil {
				res.Failed++
				reconcileActionsTotal.WithLabelValues("error").Inc()
				logger.Warn().Err(err).Str(log.FieldClassroomID, id).Msg("resume provisioning failed")
				continue
			}
			res.Resumed++
			reconcileActionsTotal.WithLabelValues("resume").Inc()
		}
	}

	if res != (SweepResult{}) {
		logger.Info().
			Int("retried", res.Retried).
			Int("expired", res.Expired).
			Int("resumed", res.Resumed).
			Int("failed", res.Failed).
			Msg("reconcile sweep complete")
	}
	return res
}
