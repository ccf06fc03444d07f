// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

import "github.com/ManuGH/classd/internal/domain/classroom/model"

const (
	ForbiddenTerminalAbsorbing = "terminal_absorbing"
	ForbiddenOutOfOrder        = "out_of_order"
	ForbiddenAlreadyExists     = "already_exists"
	ForbiddenRequiresActive    = "requires_active"
	ForbiddenNotCancellable    = "provisioning_not_cancellable"
	ForbiddenNoPendingOp       = "no_pending_operation"
	ForbiddenNotCreated        = "not_created"
)

func allowed() Decision        { return Decision{Allowed: true} }
func forbid(r string) Decision { return Decision{Allowed: false, Reason: r} }

func terminal() map[EventKind]Decision {
	out := make(map[EventKind]Decision, len(AllEvents))
	for _, ev := range AllEvents {
		out[ev] = forbid(ForbiddenTerminalAbsorbing)
	}
	return out
}

// decisionTable defines an explicit decision for every State x Event combination.
var decisionTable = map[model.State]map[EventKind]Decision{
	StateNone: {
		EvCreateRequested:     allowed(),
		EvProvisionDispatched: forbid(ForbiddenNotCreated),
		EvProvisionSucceeded:  forbid(ForbiddenNotCreated),
		EvProvisionFailed:     forbid(ForbiddenNotCreated),
		EvUpdateRequested:     forbid(ForbiddenNotCreated),
		EvUpdateSucceeded:     forbid(ForbiddenNotCreated),
		EvUpdateFailed:        forbid(ForbiddenNotCreated),
		EvCloseRequested:      forbid(ForbiddenNotCreated),
		EvCloseSucceeded:      forbid(ForbiddenNotCreated),
		EvCloseFailed:         forbid(ForbiddenNotCreated),
		EvRoomClosed:          forbid(ForbiddenNotCreated),
		EvRetryDispatched:     forbid(ForbiddenNotCreated),
		EvTimeoutExhausted:    forbid(ForbiddenNotCreated),
	},
	model.StateRequested: {
		EvCreateRequested:     forbid(ForbiddenAlreadyExists),
		EvProvisionDispatched: allowed(),
		EvProvisionSucceeded:  forbid(ForbiddenOutOfOrder),
		EvProvisionFailed:     forbid(ForbiddenOutOfOrder),
		EvUpdateRequested:     forbid(ForbiddenRequiresActive),
		EvUpdateSucceeded:     forbid(ForbiddenRequiresActive),
		EvUpdateFailed:        forbid(ForbiddenRequiresActive),
		EvCloseRequested:      forbid(ForbiddenRequiresActive),
		EvCloseSucceeded:      forbid(ForbiddenOutOfOrder),
		EvCloseFailed:         forbid(ForbiddenOutOfOrder),
		EvRoomClosed:          forbid(ForbiddenRequiresActive),
		EvRetryDispatched:     forbid(ForbiddenNoPendingOp),
		EvTimeoutExhausted:    forbid(ForbiddenNoPendingOp),
	},
	model.StateProvisioning: {
		EvCreateRequested:     forbid(ForbiddenAlreadyExists),
		EvProvisionDispatched: forbid(ForbiddenOutOfOrder),
		EvProvisionSucceeded:  allowed(),
		EvProvisionFailed:     allowed(),
		EvUpdateRequested:     forbid(ForbiddenRequiresActive),
		EvUpdateSucceeded:     forbid(ForbiddenRequiresActive),
		EvUpdateFailed:        forbid(ForbiddenRequiresActive),
		EvCloseRequested:      forbid(ForbiddenNotCancellable),
		EvCloseSucceeded:      forbid(ForbiddenOutOfOrder),
		EvCloseFailed:         forbid(ForbiddenOutOfOrder),
		EvRoomClosed:          forbid(ForbiddenRequiresActive),
		EvRetryDispatched:     allowed(),
		EvTimeoutExhausted:    allowed(),
	},
	model.StateActive: {
		EvCreateRequested:     forbid(ForbiddenAlreadyExists),
		EvProvisionDispatched: forbid(ForbiddenOutOfOrder),
		EvProvisionSucceeded:  forbid(ForbiddenOutOfOrder),
		EvProvisionFailed:     forbid(ForbiddenOutOfOrder),
		EvUpdateRequested:     allowed(),
		EvUpdateSucceeded:     allowed(),
		EvUpdateFailed:        allowed(),
		EvCloseRequested:      allowed(),
		EvCloseSucceeded:      forbid(ForbiddenOutOfOrder),
		EvCloseFailed:         forbid(ForbiddenOutOfOrder),
		EvRoomClosed:          allowed(),
		EvRetryDispatched:     allowed(),
		EvTimeoutExhausted:    allowed(),
	},
	model.StateClosing: {
		EvCreateRequested:     forbid(ForbiddenAlreadyExists),
		EvProvisionDispatched: forbid(ForbiddenOutOfOrder),
		EvProvisionSucceeded:  forbid(ForbiddenOutOfOrder),
		EvProvisionFailed:     forbid(ForbiddenOutOfOrder),
		EvUpdateRequested:     forbid(ForbiddenRequiresActive),
		EvUpdateSucceeded:     forbid(ForbiddenRequiresActive),
		EvUpdateFailed:        forbid(ForbiddenRequiresActive),
		EvCloseRequested:      forbid(ForbiddenRequiresActive),
		EvCloseSucceeded:      allowed(),
		EvCloseFailed:         allowed(),
		EvRoomClosed:          allowed(),
		EvRetryDispatched:     allowed(),
		EvTimeoutExhausted:    allowed(),
	},
	model.StateClosed:  terminal(),
	model.StateErrored: terminal(),
}

// DecisionFor returns the explicit decision for a state+event pair.
func DecisionFor(from model.State, ev EventKind) (Decision, bool) {
	row, ok := decisionTable[from]
	if !ok {
		return Decision{}, false
	}
	d, ok := row[ev]
	return d, ok
}

// ForbiddenTransitionReason documents why a transition is disallowed.
func ForbiddenTransitionReason(from model.State, ev EventKind) string {
	decision, ok := DecisionFor(from, ev)
	if !ok || decision.Allowed {
		return ""
	}
	return decision.Reason
}
