// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ManuGH/classd/internal/log"
	"github.com/ManuGH/classd/internal/metrics"
)

// MemoryBus is an in-process transport used in tests and single-binary
// deployments where the backends are simulated. It is not durable.
type MemoryBus struct {
	mu       sync.RWMutex
	subs     map[string][]*memSub
	closed   bool
	quit     chan struct{}
	quitOnce sync.Once
	// Fail, when set, is consulted before each publish. Tests use it to
	// simulate an unreachable backend.
	Fail func(topic string) error
}

const (
	dropLogEvery   = 100
	subscriberSize = 64
)

var dropCount atomic.Uint64

var ErrClosed = errors.New("transport closed")

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*memSub), quit: make(chan struct{})}
}

func publishDropReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "context_done"
	}
}

// Publish blocks while a subscriber's buffer is full. The read lock is held
// for the whole fan-out so subscriber channels cannot be closed mid-send.
func (b *MemoryBus) Publish(ctx context.Context, topic string, f Frame) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	if b.Fail != nil {
		if err := b.Fail(topic); err != nil {
			return err
		}
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for _, s := range b.subs[topic] {
		select {
		case s.ch <- f:
		case <-s.done:
		case <-b.quit:
			return ErrClosed
		case <-ctx.Done():
			reason := publishDropReason(ctx.Err())
			metrics.IncBusDropReason(topic, reason)
			count := dropCount.Add(1)
			if count%dropLogEvery == 1 {
				log.L().Warn().
					Str("topic", topic).
					Str("reason", reason).
					Uint64("dropped", count).
					Msg("memory bus failed to publish due to context cancellation")
			}
			return fmt.Errorf("publish topic %q: %w", topic, ctx.Err())
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	s := &memSub{b: b, topic: topic, ch: make(chan Frame, subscriberSize), done: make(chan struct{})}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	b.subs[topic] = append(b.subs[topic], s)
	return s, nil
}

// Subscribers reports the number of live subscriptions on topic.
func (b *MemoryBus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

func (b *MemoryBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close detaches and closes every subscription.
func (b *MemoryBus) Close() error {
	b.quitOnce.Do(func() { close(b.quit) })

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for topic, lst := range b.subs {
		for _, s := range lst {
			s.stop()
			close(s.ch)
		}
		delete(b.subs, topic)
	}
	return nil
}

type memSub struct {
	b        *MemoryBus
	topic    string
	ch       chan Frame
	done     chan struct{}
	doneOnce sync.Once
	once     sync.Once
}

func (s *memSub) C() <-chan Frame {
	return s.ch
}

func (s *memSub) stop() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *memSub) Close() error {
	s.once.Do(func() {
		// Release publishers blocked on this subscriber before taking the lock.
		s.stop()

		s.b.mu.Lock()
		defer s.b.mu.Unlock()

		lst, ok := s.b.subs[s.topic]
		if !ok {
			// Already closed by MemoryBus.Close.
			return
		}
		out := lst[:0]
		found := false
		for _, c := range lst {
			if c != s {
				out = append(out, c)
			} else {
				found = true
			}
		}
		if len(out) == 0 {
			delete(s.b.subs, s.topic)
		} else {
			s.b.subs[s.topic] = out
		}
		if found {
			close(s.ch)
		}
	})
	return nil
}

var _ Transport = (*MemoryBus)(nil)
