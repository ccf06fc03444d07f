// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldClassroomID   = "classroom_id"
	FieldOperationID   = "operation_id"
	FieldRequestID     = "request_id"
	FieldSubject       = "subject"
	FieldBackendRoom   = "backend_room_ref"
	FieldTraceID       = "trace_id"
	FieldSpanID        = "span_id"
	FieldCorrelationID = "correlation_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldCategory  = "category"
	FieldTarget    = "target"
	FieldAttempt   = "attempt"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldReason   = "reason"

	// HTTP fields
	FieldMethod = "method"
	FieldPath   = "path"
	FieldStatus = "status"
)
