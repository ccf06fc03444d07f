// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gatewayDispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classd_gateway_dispatch_total",
		Help: "Outbound backend requests by target, method and result",
	}, []string{"target", "method", "result"})

	gatewayDispatchAttempts = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "classd_gateway_dispatch_attempts",
		Help:    "Transport attempts needed per outbound request",
		Buckets: []float64{1, 2, 3, 5, 8},
	}, []string{"target"})

	gatewayInboundTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classd_gateway_inbound_total",
		Help: "Inbound backend frames by target and classification",
	}, []string{"target", "class"})
)

// RecordDispatch counts one outbound request outcome.
func RecordDispatch(target, method, result string, attempts int) {
	gatewayDispatchTotal.WithLabelValues(target, method, result).Inc()
	gatewayDispatchAttempts.WithLabelValues(target).Observe(float64(attempts))
}

// RecordInbound counts one inbound frame; class is reply, event or dropped.
func RecordInbound(target, class string) {
	if target == "" {
		target = "unknown"
	}
	gatewayInboundTotal.WithLabelValues(target, class).Inc()
}
