// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package transport moves encoded backend frames between classd and the
// backend services.
package transport

import "context"

// Frame is one encoded message. Outbound frames are published on the
// target's topic; inbound frames carry the sending target in Source.
type Frame struct {
	Source      string
	Method      string
	OperationID string
	ContentType string
	Body        []byte
}

// Transport publishes and subscribes frames by topic.
type Transport interface {
	Publish(ctx context.Context, topic string, f Frame) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

// Subscription delivers frames until closed.
type Subscription interface {
	C() <-chan Frame
	Close() error
}
