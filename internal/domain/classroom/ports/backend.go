// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package ports declares the boundary between the classroom core and the
// backend services it drives.
package ports

import (
	"context"
	"encoding/json"

	"github.com/ManuGH/classd/internal/domain/classroom/model"
)

// Gateway sends backend requests. Send returns once the request is accepted
// for delivery; the outcome arrives later as a Reply.
type Gateway interface {
	Send(ctx context.Context, req Request) error
}

// Request is one outbound backend operation.
type Request struct {
	OperationID string         `json:"operationId" cbor:"operationId"`
	ClassroomID string         `json:"classroomId" cbor:"classroomId"`
	Kind        model.Kind     `json:"classroomKind" cbor:"classroomKind"`
	Category    model.Category `json:"-" cbor:"-"`
	Payload     Payload        `json:"payload" cbor:"payload"`
}

// Payload carries the classroom attributes the backend needs for an operation.
type Payload struct {
	Start          int64           `json:"start,omitempty" cbor:"start,omitempty"`
	End            int64           `json:"end,omitempty" cbor:"end,omitempty"`
	Audience       string          `json:"audience,omitempty" cbor:"audience,omitempty"`
	Scope          string          `json:"scope,omitempty" cbor:"scope,omitempty"`
	Reserve        int             `json:"reserve,omitempty" cbor:"reserve,omitempty"`
	Tags           json.RawMessage `json:"tags,omitempty" cbor:"tags,omitempty"`
	BackendRoomRef string          `json:"backendRoomRef,omitempty" cbor:"backendRoomRef,omitempty"`
}

// Outcome is the result a backend reports for an operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Reply answers a previously sent Request.
type Reply struct {
	OperationID    string  `json:"operationId" cbor:"operationId"`
	Outcome        Outcome `json:"outcome" cbor:"outcome"`
	BackendRoomRef string  `json:"backendRoomRef,omitempty" cbor:"backendRoomRef,omitempty"`
	FailureReason  string  `json:"failureReason,omitempty" cbor:"failureReason,omitempty"`
}

// EventKind names a spontaneous backend event.
type EventKind string

const (
	EventRoomClosed   EventKind = "room.closed"
	EventRoomAdjusted EventKind = "room.adjusted"
	EventRoomUploaded EventKind = "room.uploaded"
	EventTaskComplete EventKind = "task.complete"
)

// Event is a backend notification not tied to a request.
type Event struct {
	BackendRoomRef string    `json:"backendRoomRef" cbor:"backendRoomRef"`
	Kind           EventKind `json:"eventKind" cbor:"eventKind"`
}

// Inbound is a classified inbound message: exactly one field is set.
type Inbound struct {
	Reply *Reply
	Event *Event
}

// InboundHandler consumes classified inbound messages.
type InboundHandler func(ctx context.Context, msg Inbound) error
