// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestContextValues(t *testing.T) {
	tests := []struct {
		name string
		set  func(context.Context, string) context.Context
		get  func(context.Context) string
	}{
		{"request id", ContextWithRequestID, RequestIDFromContext},
		{"classroom id", ContextWithClassroomID, ClassroomIDFromContext},
		{"subject", ContextWithSubject, SubjectFromContext},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			//nolint:staticcheck // nil context is accepted on purpose
			ctx := tt.set(nil, "v-1")
			assert.Equal(t, "v-1", tt.get(ctx))
			assert.Empty(t, tt.get(context.Background()))
			//nolint:staticcheck
			assert.Empty(t, tt.get(nil))
		})
	}
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithClassroomID(ctx, "cls-1")

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx = trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	Configure(Config{Output: &buf, Level: "debug", Service: "test"})
	t.Cleanup(func() { Configure(Config{}) })

	l := WithComponentFromContext(ctx, "orchestrator")
	l.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-1", entry[FieldRequestID])
	assert.Equal(t, "cls-1", entry[FieldClassroomID])
	assert.Equal(t, "orchestrator", entry[FieldComponent])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry[FieldTraceID])
	assert.Equal(t, "test", entry["service"])
}

func TestWithContextNoFieldsReturnsSameLogger(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Output: &buf})
	t.Cleanup(func() { Configure(Config{}) })

	l := WithContext(context.Background(), Base())
	l.Info().Msg("plain")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	_, has := entry[FieldRequestID]
	assert.False(t, has)
}

func TestSetLevel(t *testing.T) {
	require.NoError(t, SetLevel("warn"))
	t.Cleanup(func() { _ = SetLevel("info") })
	require.Error(t, SetLevel("loud"))
}
