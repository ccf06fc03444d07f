// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package manager

import (
	"errors"
	"fmt"

	"github.com/ManuGH/classd/internal/domain/classroom/lifecycle"
	"github.com/ManuGH/classd/internal/domain/classroom/store"
)

var (
	ErrInvalidScheduling = errors.New("invalid scheduling window")
	ErrInvalidKind       = errors.New("invalid classroom kind")
	ErrInvalidInput      = errors.New("invalid classroom attributes")
	ErrNotFound          = errors.New("classroom not found")
	ErrInvalidState      = errors.New("invalid classroom state")
	// ErrOperationPending is also an ErrInvalidState.
	ErrOperationPending    = fmt.Errorf("%w: operation already pending", ErrInvalidState)
	ErrScopeTaken          = errors.New("audience scope already taken")
	ErrPersistenceConflict = errors.New("persistence conflict")
	ErrBackendFailure      = errors.New("backend failure")
)

// ReasonMissingRoomRef is the failure reason recorded when a provisioning
// success reply carries no backend room reference.
const ReasonMissingRoomRef = "missing_backend_room_ref"

// errStale marks an outcome that a concurrent transition already made moot.
var errStale = errors.New("stale outcome")

// mapErr translates store and lifecycle errors into the package sentinels.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errStale),
		errors.Is(err, ErrPersistenceConflict),
		errors.Is(err, ErrInvalidState):
		return err
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, store.ErrOperationPending):
		return fmt.Errorf("%w: %v", ErrOperationPending, err)
	case errors.Is(err, store.ErrScopeTaken):
		return fmt.Errorf("%w: %v", ErrScopeTaken, err)
	case errors.Is(err, lifecycle.ErrIllegalTransition):
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	return err
}
