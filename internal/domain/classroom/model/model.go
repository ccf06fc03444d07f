// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package model holds the classroom domain records shared by the lifecycle,
// the stores and the orchestrator.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind is the classroom flavour. It is fixed at creation.
type Kind string

const (
	KindWebinar   Kind = "webinar"
	KindP2P       Kind = "p2p"
	KindMinigroup Kind = "minigroup"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindWebinar, KindP2P, KindMinigroup:
		return true
	}
	return false
}

// ParseKind converts a wire value into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown classroom kind %q", s)
	}
	return k, nil
}

// State is the lifecycle state of a classroom.
type State string

const (
	StateRequested    State = "REQUESTED"
	StateProvisioning State = "PROVISIONING"
	StateActive       State = "ACTIVE"
	StateClosing      State = "CLOSING"
	StateClosed       State = "CLOSED"
	StateErrored      State = "ERRORED"
)

// AllStates lists every state in lifecycle order.
var AllStates = []State{StateRequested, StateProvisioning, StateActive, StateClosing, StateClosed, StateErrored}

// IsTerminal reports whether no further transition can leave s.
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateErrored
}

// ParseState converts a persisted value into a State.
func ParseState(s string) (State, error) {
	for _, st := range AllStates {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown classroom state %q", s)
}

// Category groups backend operations. A classroom has at most one pending
// operation per category.
type Category string

const (
	CategoryProvision Category = "provision"
	CategoryUpdate    Category = "update"
	CategoryClose     Category = "close"
)

// AllCategories lists every operation category.
var AllCategories = []Category{CategoryProvision, CategoryUpdate, CategoryClose}

// ParseCategory converts a persisted value into a Category.
func ParseCategory(s string) (Category, error) {
	for _, c := range AllCategories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown operation category %q", s)
}

// Window is the scheduled time span of a classroom.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Valid reports whether the window has both bounds and End is after Start.
func (w Window) Valid() bool {
	return !w.Start.IsZero() && !w.End.IsZero() && w.End.After(w.Start)
}

// Classroom is the authoritative record of one classroom.
type Classroom struct {
	ID             string
	Kind           Kind
	State          State
	Audience       string
	Scope          string
	Tags           json.RawMessage
	Reserve        int
	Window         Window
	BackendRoomRef string
	FailureReason  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ClosedAt       *time.Time
	Version        int64
}

// Clone returns a deep copy so stores never hand out shared memory.
func (c *Classroom) Clone() *Classroom {
	if c == nil {
		return nil
	}
	out := *c
	if c.Tags != nil {
		out.Tags = append(json.RawMessage(nil), c.Tags...)
	}
	if c.ClosedAt != nil {
		t := *c.ClosedAt
		out.ClosedAt = &t
	}
	return &out
}

// Correlation links one in-flight backend operation to its classroom.
type Correlation struct {
	OperationID  string
	ClassroomID  string
	Category     Category
	Attempts     int
	DispatchedAt time.Time
	Deadline     time.Time
}

// Clone returns a copy of the entry.
func (c *Correlation) Clone() *Correlation {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}

// Expired reports whether the reply deadline has passed at now.
func (c *Correlation) Expired(now time.Time) bool {
	return !c.Deadline.After(now)
}
