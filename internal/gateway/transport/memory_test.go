// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ManuGH/classd/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getCounterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, counter.Write(metric))
	return metric.GetCounter().GetValue()
}

func TestMemoryBus_DeliversToSubscribers(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	sub, err := b.Subscribe(context.Background(), "backend.conference")
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "backend.conference", Frame{OperationID: "op-1", Body: []byte("x")}))
	select {
	case f := <-sub.C():
		assert.Equal(t, "op-1", f.OperationID)
	case <-time.After(time.Second):
		t.Fatal("frame not delivered")
	}

	// Other topics see nothing.
	require.NoError(t, b.Publish(context.Background(), "backend.tq", Frame{}))
	assert.Len(t, sub.C(), 0)
}

func TestMemoryBus_PublishContextTimeoutIncrementsDropMetrics(t *testing.T) {
	b := NewMemoryBus()
	sub, err := b.Subscribe(context.Background(), "topic")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	for i := 0; i < cap(sub.C()); i++ {
		require.NoError(t, b.Publish(context.Background(), "topic", Frame{}))
	}
	initial := getCounterValue(t, metrics.BusDroppedTotal.WithLabelValues("topic", "timeout"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = b.Publish(ctx, "topic", Frame{})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Greater(t, getCounterValue(t, metrics.BusDroppedTotal.WithLabelValues("topic", "timeout")), initial)
}

func TestMemoryBus_FailHook(t *testing.T) {
	b := NewMemoryBus()
	boom := errors.New("unreachable")
	b.Fail = func(topic string) error { return boom }
	assert.ErrorIs(t, b.Publish(context.Background(), "t", Frame{}), boom)
}

func TestMemoryBus_CloseClosesSubscriptions(t *testing.T) {
	b := NewMemoryBus()
	sub, err := b.Subscribe(context.Background(), "t")
	require.NoError(t, err)
	require.NoError(t, b.Close())

	_, open := <-sub.C()
	assert.False(t, open)
	require.NoError(t, sub.Close())
	assert.ErrorIs(t, b.Publish(context.Background(), "t", Frame{}), ErrClosed)
	assert.ErrorIs(t, b.Ping(context.Background()), ErrClosed)
}

func TestMemoryBus_PublishRejectsNilContext(t *testing.T) {
	b := NewMemoryBus()
	//nolint:staticcheck // nil context on purpose
	err := b.Publish(nil, "topic", Frame{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "context is nil")
}

func TestMemoryBus_ClosedSubscriberReleasesPublisher(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	sub, err := b.Subscribe(context.Background(), "t")
	require.NoError(t, err)
	for i := 0; i < cap(sub.C()); i++ {
		require.NoError(t, b.Publish(context.Background(), "t", Frame{}))
	}
	assert.Equal(t, 1, b.Subscribers("t"))

	done := make(chan error, 1)
	go func() { done <- b.Publish(context.Background(), "t", Frame{}) }()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, sub.Close())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publisher still blocked")
	}
	assert.Zero(t, b.Subscribers("t"))
}
