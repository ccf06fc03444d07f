// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/classd/internal/domain/classroom/model"
	"github.com/ManuGH/classd/internal/domain/classroom/ports"
	"github.com/ManuGH/classd/internal/gateway/transport"
	"github.com/ManuGH/classd/internal/resilience"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func newTestGateway(t *testing.T, bus *transport.MemoryBus, routes map[model.Category]Target) *Gateway {
	t.Helper()
	cbor, err := CodecByName(CodecCBOR)
	require.NoError(t, err)
	reg, err := NewRegistry(routes,
		NewAdapter(TargetConference, jsonCodec{}),
		NewAdapter(TargetEvent, jsonCodec{}),
		NewAdapter(TargetTQ, cbor),
	)
	require.NoError(t, err)
	g := New(bus, reg, Config{BreakerThreshold: 100, BreakerReset: time.Minute})
	g.sleep = noSleep
	return g
}

func sampleRequest(cat model.Category) ports.Request {
	return ports.Request{
		OperationID: "op-1",
		ClassroomID: "cls-1",
		Kind:        model.KindWebinar,
		Category:    cat,
		Payload:     ports.Payload{Start: 100, End: 200, Scope: "math"},
	}
}

func TestSend_PublishesEncodedRequestOnTargetTopic(t *testing.T) {
	bus := transport.NewMemoryBus()
	defer bus.Close()
	sub, err := bus.Subscribe(context.Background(), TargetConference.Topic())
	require.NoError(t, err)

	g := newTestGateway(t, bus, nil)
	require.NoError(t, g.Send(context.Background(), sampleRequest(model.CategoryProvision)))

	f := <-sub.C()
	assert.Equal(t, "room.create", f.Method)
	assert.Equal(t, "op-1", f.OperationID)
	assert.Equal(t, "application/json", f.ContentType)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(f.Body, &wire))
	assert.Equal(t, "op-1", wire["operationId"])
	assert.Equal(t, "webinar", wire["classroomKind"])
	assert.Contains(t, wire, "payload")
}

func TestSend_RoutesCategoryToCBORTarget(t *testing.T) {
	bus := transport.NewMemoryBus()
	defer bus.Close()
	sub, err := bus.Subscribe(context.Background(), TargetTQ.Topic())
	require.NoError(t, err)

	g := newTestGateway(t, bus, map[model.Category]Target{model.CategoryClose: TargetTQ})
	require.NoError(t, g.Send(context.Background(), sampleRequest(model.CategoryClose)))

	f := <-sub.C()
	assert.Equal(t, "room.close", f.Method)
	assert.Equal(t, "application/cbor", f.ContentType)
	var req ports.Request
	require.NoError(t, cbor.Unmarshal(f.Body, &req))
	assert.Equal(t, "cls-1", req.ClassroomID)
	assert.Equal(t, "math", req.Payload.Scope)
}

func TestSend_ExhaustsRetriesThenFails(t *testing.T) {
	bus := transport.NewMemoryBus()
	defer bus.Close()
	var calls atomic.Int32
	bus.Fail = func(string) error {
		calls.Add(1)
		return errors.New("connection refused")
	}

	g := newTestGateway(t, bus, nil)
	err := g.Send(context.Background(), sampleRequest(model.CategoryProvision))
	require.ErrorIs(t, err, ErrDispatchFailed)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.EqualValues(t, 3, calls.Load())
}

func TestSend_RecoversOnRetry(t *testing.T) {
	bus := transport.NewMemoryBus()
	defer bus.Close()
	var calls atomic.Int32
	bus.Fail = func(string) error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	}

	g := newTestGateway(t, bus, nil)
	require.NoError(t, g.Send(context.Background(), sampleRequest(model.CategoryUpdate)))
	assert.EqualValues(t, 2, calls.Load())
}

func TestSend_OpenBreakerFailsFast(t *testing.T) {
	bus := transport.NewMemoryBus()
	defer bus.Close()
	var calls atomic.Int32
	bus.Fail = func(string) error {
		calls.Add(1)
		return errors.New("down")
	}

	reg, err := NewRegistry(nil, NewAdapter(TargetConference, jsonCodec{}))
	require.NoError(t, err)
	g := New(bus, reg, Config{BreakerThreshold: 2, BreakerReset: time.Hour})
	g.sleep = noSleep

	err = g.Send(context.Background(), sampleRequest(model.CategoryProvision))
	require.ErrorIs(t, err, ErrDispatchFailed)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, resilience.StateOpen, g.BreakerStates()[TargetConference])
	assert.Contains(t, err.Error(), resilience.ErrCircuitOpen.Error())
}

func TestSend_CanceledContext(t *testing.T) {
	bus := transport.NewMemoryBus()
	defer bus.Close()
	bus.Fail = func(string) error { return errors.New("down") }
	g := newTestGateway(t, bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.Send(ctx, sampleRequest(model.CategoryProvision))
	require.ErrorIs(t, err, ErrDispatchFailed)
}

func TestNewRegistry_RejectsRouteWithoutAdapter(t *testing.T) {
	_, err := NewRegistry(map[model.Category]Target{model.CategoryClose: TargetTQ}, NewAdapter(TargetConference, jsonCodec{}))
	require.Error(t, err)
}

func TestDecode_Classifies(t *testing.T) {
	g := newTestGateway(t, transport.NewMemoryBus(), nil)
	cborCodec, err := CodecByName(CodecCBOR)
	require.NoError(t, err)
	cborBody, err := cborCodec.Marshal(ports.Event{BackendRoomRef: "room-1", Kind: ports.EventRoomClosed})
	require.NoError(t, err)

	tests := []struct {
		name      string
		frame     transport.Frame
		wantReply bool
		wantEvent bool
		wantErr   error
	}{
		{
			name:      "reply with body id",
			frame:     transport.Frame{Source: "conference", Body: []byte(`{"operationId":"op-1","outcome":"success","backendRoomRef":"r1"}`)},
			wantReply: true,
		},
		{
			name:      "reply with frame id",
			frame:     transport.Frame{Source: "conference", OperationID: "op-2", Body: []byte(`{"outcome":"failure","failureReason":"quota"}`)},
			wantReply: true,
		},
		{
			name:      "event over cbor target",
			frame:     transport.Frame{Source: "tq", Body: cborBody},
			wantEvent: true,
		},
		{
			name:    "reply without outcome",
			frame:   transport.Frame{Source: "conference", Body: []byte(`{"operationId":"op-3"}`)},
			wantErr: ErrUnclassified,
		},
		{
			name:    "neither",
			frame:   transport.Frame{Source: "event", Body: []byte(`{"eventKind":"room.closed"}`)},
			wantErr: ErrUnclassified,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := g.Decode(tt.frame)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantReply, msg.Reply != nil)
			assert.Equal(t, tt.wantEvent, msg.Event != nil)
		})
	}

	_, err = g.Decode(transport.Frame{Source: "unknown", ContentType: "text/plain", Body: []byte("x")})
	require.Error(t, err)
}

func TestRun_DeliversToSingleConsumer(t *testing.T) {
	bus := transport.NewMemoryBus()
	defer bus.Close()
	g := newTestGateway(t, bus, nil)

	got := make(chan ports.Inbound, 4)
	require.NoError(t, g.OnMessage(func(ctx context.Context, msg ports.Inbound) error {
		select {
		case got <- msg:
		default:
		}
		return nil
	}))
	require.ErrorIs(t, g.OnMessage(func(context.Context, ports.Inbound) error { return nil }), ErrHandlerRegistered)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	// Wait for the subscription before publishing.
	require.Eventually(t, func() bool {
		_ = bus.Publish(ctx, DefaultInboundTopic, transport.Frame{Source: "conference", Body: []byte(`{"backendRoomRef":"r9","eventKind":"room.closed"}`)})
		return len(got) > 0
	}, time.Second, 10*time.Millisecond)

	msg := <-got
	require.NotNil(t, msg.Event)
	assert.Equal(t, "r9", msg.Event.BackendRoomRef)

	cancel()
	require.NoError(t, <-done)
}

func TestRetryDelayBounded(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, BackoffFactor: 2}
	assert.Equal(t, 100*time.Millisecond, cfg.delay(0))
	assert.Equal(t, 200*time.Millisecond, cfg.delay(1))
	assert.Equal(t, 300*time.Millisecond, cfg.delay(5))

	cfg.Jitter = 0.25
	for i := 0; i < 50; i++ {
		d := cfg.delay(0)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
}
