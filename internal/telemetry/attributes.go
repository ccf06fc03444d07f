// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by spans across classd.
const (
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"

	ClassroomIDKey    = "classroom.id"
	ClassroomKindKey  = "classroom.kind"
	ClassroomStateKey = "classroom.state"

	OperationIDKey       = "operation.id"
	OperationCategoryKey = "operation.category"
	OperationAttemptKey  = "operation.attempt"

	BackendTargetKey = "backend.target"
	BackendRoomKey   = "backend.room_ref"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// ClassroomAttributes skips empty values.
func ClassroomAttributes(id, kind, state string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if id != "" {
		attrs = append(attrs, attribute.String(ClassroomIDKey, id))
	}
	if kind != "" {
		attrs = append(attrs, attribute.String(ClassroomKindKey, kind))
	}
	if state != "" {
		attrs = append(attrs, attribute.String(ClassroomStateKey, state))
	}
	return attrs
}

// OperationAttributes describes a correlated backend operation.
func OperationAttributes(operationID, category string, attempt int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(OperationIDKey, operationID),
		attribute.String(OperationCategoryKey, category),
		attribute.Int(OperationAttemptKey, attempt),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
