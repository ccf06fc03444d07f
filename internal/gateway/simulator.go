// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package gateway

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ManuGH/classd/internal/domain/classroom/model"
	"github.com/ManuGH/classd/internal/domain/classroom/ports"
	"github.com/ManuGH/classd/internal/gateway/transport"
	"github.com/ManuGH/classd/internal/log"
	"golang.org/x/sync/errgroup"
)

// Simulator answers every request on the target topics with a reply on the
// inbound topic. It stands in for the backends in local runs and tests.
type Simulator struct {
	Transport    transport.Transport
	Registry     *Registry
	InboundTopic string
	// Respond builds the reply for a request; nil means always succeed.
	Respond func(method string, req ports.Request) ports.Reply

	rooms atomic.Int64
}

// Run serves every registered target until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	topic := s.InboundTopic
	if topic == "" {
		topic = DefaultInboundTopic
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, target := range s.Registry.Targets() {
		adapter, _ := s.Registry.Adapter(target)
		sub, err := s.Transport.Subscribe(ctx, target.Topic())
		if err != nil {
			return fmt.Errorf("simulator: subscribe %s: %w", target, err)
		}
		g.Go(func() error {
			defer func() { _ = sub.Close() }()
			return s.serve(ctx, adapter, sub, topic)
		})
	}
	return g.Wait()
}

func (s *Simulator) serve(ctx context.Context, a *Adapter, sub transport.Subscription, inbound string) error {
	logger := log.WithComponent("simulator").With().Str(log.FieldTarget, string(a.Target)).Logger()
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-sub.C():
			if !ok {
				return nil
			}
			var req ports.Request
			if err := a.Codec.Unmarshal(f.Body, &req); err != nil {
				logger.Warn().Err(err).Msg("simulator could not decode request")
				continue
			}
			reply := s.reply(f.Method, req)
			body, err := a.Codec.Marshal(reply)
			if err != nil {
				return err
			}
			if err := s.Transport.Publish(ctx, inbound, transport.Frame{
				Source:      string(a.Target),
				OperationID: reply.OperationID,
				ContentType: a.Codec.ContentType(),
				Body:        body,
			}); err != nil && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("simulator reply failed")
			}
		}
	}
}

func (s *Simulator) reply(method string, req ports.Request) ports.Reply {
	if s.Respond != nil {
		return s.Respond(method, req)
	}
	r := ports.Reply{OperationID: req.OperationID, Outcome: ports.OutcomeSuccess}
	if method == defaultMethods[model.CategoryProvision] {
		r.BackendRoomRef = fmt.Sprintf("sim-room-%d", s.rooms.Add(1))
	}
	return r
}
