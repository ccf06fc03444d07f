// SPDX-License-Identifier: MIT

package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestClassroomAttributesSkipsEmpty(t *testing.T) {
	attrs := ClassroomAttributes("cls-1", "", "ACTIVE")
	assert.Equal(t, []attribute.KeyValue{
		attribute.String(ClassroomIDKey, "cls-1"),
		attribute.String(ClassroomStateKey, "ACTIVE"),
	}, attrs)
	assert.Empty(t, ClassroomAttributes("", "", ""))
}

func TestOperationAttributes(t *testing.T) {
	attrs := OperationAttributes("op-1", "provision", 2)
	assert.Len(t, attrs, 3)
	assert.Equal(t, int64(2), attrs[2].Value.AsInt64())
}

func TestHTTPAndErrorAttributes(t *testing.T) {
	h := HTTPAttributes("GET", "/api/v1/classrooms/{id}", 404)
	assert.Equal(t, "/api/v1/classrooms/{id}", h[1].Value.AsString())
	e := ErrorAttributes("not_found")
	assert.True(t, e[0].Value.AsBool())
}
