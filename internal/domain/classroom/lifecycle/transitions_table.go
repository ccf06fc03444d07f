// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

import "github.com/ManuGH/classd/internal/domain/classroom/model"

// StateNone is the pseudo-state of a classroom that does not exist yet.
const StateNone model.State = ""

// Transition is a single allowed edge in the lifecycle state machine.
type Transition struct {
	From  model.State
	To    model.State
	Event EventKind
}

// Decision records whether a transition is allowed and why it is forbidden.
type Decision struct {
	Allowed bool
	Reason  string
}

var transitionsTable = []Transition{
	// Create path
	{From: StateNone, To: model.StateRequested, Event: EvCreateRequested},
	{From: model.StateRequested, To: model.StateProvisioning, Event: EvProvisionDispatched},
	{From: model.StateProvisioning, To: model.StateActive, Event: EvProvisionSucceeded},
	{From: model.StateProvisioning, To: model.StateErrored, Event: EvProvisionFailed},

	// Schedule updates keep the classroom live.
	{From: model.StateActive, To: model.StateActive, Event: EvUpdateRequested},
	{From: model.StateActive, To: model.StateActive, Event: EvUpdateSucceeded},
	{From: model.StateActive, To: model.StateErrored, Event: EvUpdateFailed},

	// Close path
	{From: model.StateActive, To: model.StateClosing, Event: EvCloseRequested},
	{From: model.StateClosing, To: model.StateClosed, Event: EvCloseSucceeded},
	{From: model.StateClosing, To: model.StateErrored, Event: EvCloseFailed},

	// Spontaneous room closure reported by the conferencing backend
	{From: model.StateActive, To: model.StateClosed, Event: EvRoomClosed},
	{From: model.StateClosing, To: model.StateClosed, Event: EvRoomClosed},

	// Reconciliation: re-dispatch and give up
	{From: model.StateProvisioning, To: model.StateProvisioning, Event: EvRetryDispatched},
	{From: model.StateActive, To: model.StateActive, Event: EvRetryDispatched},
	{From: model.StateClosing, To: model.StateClosing, Event: EvRetryDispatched},
	{From: model.StateProvisioning, To: model.StateErrored, Event: EvTimeoutExhausted},
	{From: model.StateActive, To: model.StateErrored, Event: EvTimeoutExhausted},
	{From: model.StateClosing, To: model.StateErrored, Event: EvTimeoutExhausted},
}

// TransitionFor returns the allowed transition for a given state+event.
func TransitionFor(from model.State, ev EventKind) (Transition, bool) {
	for _, tr := range transitionsTable {
		if tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return Transition{}, false
}

// Transitions returns a copy of the transition table.
func Transitions() []Transition {
	return append([]Transition(nil), transitionsTable...)
}

// Reachable reports whether s can be reached from REQUESTED. Every persisted
// record must be in a reachable state.
func Reachable(s model.State) bool {
	seen := map[model.State]bool{model.StateRequested: true}
	queue := []model.State{model.StateRequested}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, tr := range transitionsTable {
			if tr.From == cur && !seen[tr.To] {
				seen[tr.To] = true
				queue = append(queue, tr.To)
			}
		}
	}
	return seen[s]
}
