// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

import (
	"errors"
	"fmt"

	"github.com/ManuGH/classd/internal/domain/classroom/model"
)

// ErrIllegalTransition is returned for every forbidden state+event pair.
var ErrIllegalTransition = errors.New("illegal transition")

// IllegalTransitionError describes a rejected transition.
type IllegalTransitionError struct {
	From   model.State
	Event  EventKind
	Reason string
}

func (e *IllegalTransitionError) Error() string {
	from := string(e.From)
	if from == "" {
		from = "NONE"
	}
	if e.Reason == "" {
		return fmt.Sprintf("illegal transition: %s + %s", from, e.Event)
	}
	return fmt.Sprintf("illegal transition: %s + %s (%s)", from, e.Event, e.Reason)
}

func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}
