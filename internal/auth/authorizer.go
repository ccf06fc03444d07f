// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package auth

import (
	"context"
	"fmt"
)

// Action names a classroom operation.
type Action string

const (
	ActionCreate Action = "classroom.create"
	ActionRead   Action = "classroom.read"
	ActionUpdate Action = "classroom.update"
	ActionClose  Action = "classroom.close"
)

// Authorizer decides whether p may run action on a classroom. classroomID is
// empty for create and list.
type Authorizer interface {
	Authorize(ctx context.Context, p *Principal, action Action, classroomID string) error
}

// AllowAll admits every authenticated principal.
type AllowAll struct{}

func (AllowAll) Authorize(ctx context.Context, p *Principal, action Action, classroomID string) error {
	if p == nil {
		return ErrUnauthenticated
	}
	return nil
}

// Scope names checked by ScopeAuthorizer.
const (
	ScopeRead  = "classrooms:read"
	ScopeWrite = "classrooms:write"
)

// ScopeAuthorizer requires classrooms:read for reads and classrooms:write for
// everything else.
type ScopeAuthorizer struct{}

func (ScopeAuthorizer) Authorize(ctx context.Context, p *Principal, action Action, classroomID string) error {
	if p == nil {
		return ErrUnauthenticated
	}
	need := ScopeWrite
	if action == ActionRead {
		need = ScopeRead
	}
	if p.HasScope(need) || (need == ScopeRead && p.HasScope(ScopeWrite)) {
		return nil
	}
	return fmt.Errorf("%w: %s requires scope %s", ErrForbidden, action, need)
}
