// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

import (
	"time"

	"github.com/ManuGH/classd/internal/domain/classroom/model"
)

// Dispatch resolves the transition for ev and applies it to rec. A forbidden
// pair leaves rec untouched and returns an *IllegalTransitionError.
func Dispatch(rec *model.Classroom, ev Event, now time.Time) (Transition, error) {
	decision, ok := DecisionFor(rec.State, ev.Kind)
	if !ok || !decision.Allowed {
		return Transition{}, &IllegalTransitionError{From: rec.State, Event: ev.Kind, Reason: decision.Reason}
	}
	tr, ok := TransitionFor(rec.State, ev.Kind)
	if !ok {
		return Transition{}, &IllegalTransitionError{From: rec.State, Event: ev.Kind}
	}
	ApplyTransition(rec, tr, ev.Reason, now)
	return tr, nil
}

// ApplyTransition mutates the record according to the transition.
func ApplyTransition(rec *model.Classroom, tr Transition, reason string, now time.Time) {
	rec.State = tr.To
	rec.UpdatedAt = now
	switch tr.To {
	case model.StateErrored:
		if reason == "" {
			reason = string(tr.Event)
		}
		rec.FailureReason = reason
	case model.StateClosed:
		t := now
		rec.ClosedAt = &t
	}
}
