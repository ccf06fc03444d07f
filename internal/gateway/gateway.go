// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package gateway is the single point of contact with the backend services.
// Outbound requests are encoded per target and published with bounded
// retries; inbound frames are decoded and classified as replies or events
// and handed to exactly one consumer.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/classd/internal/domain/classroom/ports"
	"github.com/ManuGH/classd/internal/gateway/transport"
	"github.com/ManuGH/classd/internal/log"
	"github.com/ManuGH/classd/internal/metrics"
	"github.com/ManuGH/classd/internal/resilience"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	// ErrDispatchFailed is returned by Send once every transport attempt failed.
	ErrDispatchFailed = errors.New("dispatch failed")
	// ErrUnclassified marks an inbound frame that is neither a reply nor an event.
	ErrUnclassified = errors.New("unclassifiable inbound message")
	// ErrHandlerRegistered is returned when a second inbound consumer registers.
	ErrHandlerRegistered = errors.New("inbound handler already registered")
)

// DefaultInboundTopic carries replies and events from every backend.
const DefaultInboundTopic = "classd.inbound"

// Config tunes delivery.
type Config struct {
	Retry            RetryConfig
	BreakerThreshold int
	BreakerReset     time.Duration
	// RateLimit is requests per second per target; zero disables pacing.
	RateLimit float64
	RateBurst int
	// InboundTopic is subscribed by Run.
	InboundTopic string
	// Source is stamped on outbound frames.
	Source string
}

func (c *Config) setDefaults() {
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = DefaultRetryConfig()
	}
	if c.InboundTopic == "" {
		c.InboundTopic = DefaultInboundTopic
	}
	if c.Source == "" {
		c.Source = "classd"
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
}

// Gateway implements ports.Gateway over a transport.
type Gateway struct {
	transport transport.Transport
	registry  *Registry
	cfg       Config
	breakers  map[Target]*resilience.CircuitBreaker
	limiters  map[Target]*rate.Limiter
	logger    zerolog.Logger

	mu      sync.Mutex
	handler ports.InboundHandler

	// sleep is swapped in tests to skip real backoff.
	sleep func(ctx context.Context, d time.Duration) error
}

// New wires a gateway. Breakers and limiters are per target.
func New(t transport.Transport, reg *Registry, cfg Config) *Gateway {
	cfg.setDefaults()
	g := &Gateway{
		transport: t,
		registry:  reg,
		cfg:       cfg,
		breakers:  make(map[Target]*resilience.CircuitBreaker),
		limiters:  make(map[Target]*rate.Limiter),
		logger:    log.WithComponent("gateway"),
		sleep:     sleepContext,
	}
	notCanceled := func(err error) bool {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	for _, target := range reg.Targets() {
		g.breakers[target] = resilience.NewCircuitBreaker(string(target), cfg.BreakerThreshold, cfg.BreakerReset,
			resilience.WithFailurePredicate(notCanceled))
		limit := rate.Inf
		if cfg.RateLimit > 0 {
			limit = rate.Limit(cfg.RateLimit)
		}
		g.limiters[target] = rate.NewLimiter(limit, cfg.RateBurst)
	}
	return g
}

var _ ports.Gateway = (*Gateway)(nil)

// Send encodes req for its target and publishes it. Transport failures are
// retried with exponential backoff; when every attempt fails the returned
// error wraps ErrDispatchFailed.
func (g *Gateway) Send(ctx context.Context, req ports.Request) error {
	adapter, err := g.registry.Route(req.Category)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	method, err := adapter.Method(req.Category)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	body, err := adapter.Codec.Marshal(req)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrDispatchFailed, method, err)
	}
	frame := transport.Frame{
		Source:      g.cfg.Source,
		Method:      method,
		OperationID: req.OperationID,
		ContentType: adapter.Codec.ContentType(),
		Body:        body,
	}

	target := adapter.Target
	breaker := g.breakers[target]
	limiter := g.limiters[target]
	logger := g.logger.With().
		Str(log.FieldTarget, string(target)).
		Str(log.FieldOperationID, req.OperationID).
		Str(log.FieldClassroomID, req.ClassroomID).
		Str("method", method).
		Logger()

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < g.cfg.Retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := g.sleep(ctx, g.cfg.Retry.delay(attempt-1)); err != nil {
				lastErr = err
				break
			}
		}
		if err := limiter.Wait(ctx); err != nil {
			lastErr = err
			break
		}
		attempts++
		lastErr = breaker.Execute(func() error {
			return g.transport.Publish(ctx, target.Topic(), frame)
		})
		if lastErr == nil {
			metrics.RecordDispatch(string(target), method, "ok", attempts)
			logger.Debug().Int(log.FieldAttempt, attempts).Msg("backend request dispatched")
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		logger.Warn().Err(lastErr).Int(log.FieldAttempt, attempts).Msg("backend dispatch attempt failed")
	}

	metrics.RecordDispatch(string(target), method, "failed", attempts)
	return fmt.Errorf("%w: %s to %s after %d attempts: %v", ErrDispatchFailed, method, target, attempts, lastErr)
}

// OnMessage registers the single consumer of inbound messages.
func (g *Gateway) OnMessage(h ports.InboundHandler) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.handler != nil {
		return ErrHandlerRegistered
	}
	g.handler = h
	return nil
}

// Run consumes the inbound topic until ctx is done.
func (g *Gateway) Run(ctx context.Context) error {
	g.mu.Lock()
	handler := g.handler
	g.mu.Unlock()
	if handler == nil {
		return errors.New("gateway: no inbound handler registered")
	}

	sub, err := g.transport.Subscribe(ctx, g.cfg.InboundTopic)
	if err != nil {
		return fmt.Errorf("gateway: subscribe %s: %w", g.cfg.InboundTopic, err)
	}
	defer func() { _ = sub.Close() }()

	g.logger.Info().Str("topic", g.cfg.InboundTopic).Msg("gateway consuming inbound messages")
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-sub.C():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("gateway: inbound subscription closed")
			}
			g.handleFrame(ctx, handler, f)
		}
	}
}

func (g *Gateway) handleFrame(ctx context.Context, handler ports.InboundHandler, f transport.Frame) {
	msg, err := g.Decode(f)
	if err != nil {
		metrics.RecordInbound(f.Source, "dropped")
		g.logger.Warn().Err(err).
			Str("source", f.Source).
			Str(log.FieldOperationID, f.OperationID).
			Msg("inbound message dropped")
		return
	}
	class := "reply"
	if msg.Event != nil {
		class = "event"
	}
	metrics.RecordInbound(f.Source, class)
	if err := handler(ctx, msg); err != nil && ctx.Err() == nil {
		g.logger.Error().Err(err).Str("class", class).Msg("inbound handler failed")
	}
}

// inboundWire is the union of the reply and event shapes.
type inboundWire struct {
	OperationID    string          `json:"operationId" cbor:"operationId"`
	Outcome        ports.Outcome   `json:"outcome" cbor:"outcome"`
	BackendRoomRef string          `json:"backendRoomRef" cbor:"backendRoomRef"`
	FailureReason  string          `json:"failureReason" cbor:"failureReason"`
	EventKind      ports.EventKind `json:"eventKind" cbor:"eventKind"`
}

// Decode decodes an inbound frame with the sender's codec and classifies it:
// anything carrying an operation id is a reply, anything carrying only a
// backend room reference and an event kind is an event.
func (g *Gateway) Decode(f transport.Frame) (ports.Inbound, error) {
	var codec Codec
	if t, err := ParseTarget(f.Source); err == nil {
		if a, ok := g.registry.Adapter(t); ok {
			codec = a.Codec
		}
	}
	if codec == nil {
		c, err := codecByContentType(f.ContentType)
		if err != nil {
			return ports.Inbound{}, err
		}
		codec = c
	}

	var w inboundWire
	if len(f.Body) > 0 {
		if err := codec.Unmarshal(f.Body, &w); err != nil {
			return ports.Inbound{}, fmt.Errorf("decode %s frame: %w", codec.Name(), err)
		}
	}
	if w.OperationID == "" {
		w.OperationID = f.OperationID
	}

	switch {
	case w.OperationID != "":
		if w.Outcome != ports.OutcomeSuccess && w.Outcome != ports.OutcomeFailure {
			return ports.Inbound{}, fmt.Errorf("%w: reply %s has outcome %q", ErrUnclassified, w.OperationID, w.Outcome)
		}
		return ports.Inbound{Reply: &ports.Reply{
			OperationID:    w.OperationID,
			Outcome:        w.Outcome,
			BackendRoomRef: w.BackendRoomRef,
			FailureReason:  w.FailureReason,
		}}, nil
	case w.BackendRoomRef != "" && w.EventKind != "":
		return ports.Inbound{Event: &ports.Event{BackendRoomRef: w.BackendRoomRef, Kind: w.EventKind}}, nil
	default:
		return ports.Inbound{}, ErrUnclassified
	}
}

// Ping reports transport health.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.transport.Ping(ctx)
}

// BreakerStates reports the breaker state per target.
func (g *Gateway) BreakerStates() map[Target]resilience.State {
	out := make(map[Target]resilience.State, len(g.breakers))
	for t, b := range g.breakers {
		out[t] = b.State()
	}
	return out
}
