// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

// EventKind is a domain event in the classroom lifecycle.
type EventKind string

const (
	EvCreateRequested     EventKind = "create_requested"
	EvProvisionDispatched EventKind = "provision_dispatched"
	EvProvisionSucceeded  EventKind = "provision_succeeded"
	EvProvisionFailed     EventKind = "provision_failed"
	EvUpdateRequested     EventKind = "update_requested"
	EvUpdateSucceeded     EventKind = "update_succeeded"
	EvUpdateFailed        EventKind = "update_failed"
	EvCloseRequested      EventKind = "close_requested"
	EvCloseSucceeded      EventKind = "close_succeeded"
	EvCloseFailed         EventKind = "close_failed"
	EvRoomClosed          EventKind = "room_closed"
	EvRetryDispatched     EventKind = "retry_dispatched"
	EvTimeoutExhausted    EventKind = "timeout_exhausted"
)

// AllEvents lists every event kind.
var AllEvents = []EventKind{
	EvCreateRequested,
	EvProvisionDispatched,
	EvProvisionSucceeded,
	EvProvisionFailed,
	EvUpdateRequested,
	EvUpdateSucceeded,
	EvUpdateFailed,
	EvCloseRequested,
	EvCloseSucceeded,
	EvCloseFailed,
	EvRoomClosed,
	EvRetryDispatched,
	EvTimeoutExhausted,
}

// Event carries optional domain metadata for a transition.
type Event struct {
	Kind EventKind
	// Reason is recorded as the failure reason when the transition enters ERRORED.
	Reason string
}
