// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package manager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ManuGH/classd/internal/domain/classroom/model"
)

var (
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classd_classroom_transitions_total",
			Help: "Committed classroom state transitions.",
		},
		[]string{"from", "to"},
	)

	repliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classd_backend_replies_total",
			Help: "Backend replies by outcome and whether they changed state.",
		},
		[]string{"outcome", "result"},
	)

	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classd_backend_events_total",
			Help: "Spontaneous backend events by kind and result.",
		},
		[]string{"kind", "result"},
	)

	dispatchFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classd_dispatch_failures_total",
			Help: "Backend requests the gateway could not deliver.",
		},
		[]string{"category", "phase"},
	)

	reconcileActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classd_reconcile_actions_total",
			Help: "Actions taken by the reconciliation worker.",
		},
		[]string{"action"},
	)

	conflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "classd_persistence_conflicts_total",
			Help: "Classroom writes retried after a version conflict.",
		},
	)

	inboxDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "classd_inbox_depth",
			Help: "Messages waiting in the orchestrator inbox.",
		},
	)
)

func recordTransition(from, to model.State) {
	f := string(from)
	if f == "" {
		f = "NONE"
	}
	transitionsTotal.WithLabelValues(f, string(to)).Inc()
}
