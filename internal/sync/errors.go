package sync

import (
	"errors"
	"fmt"
)

var (
	// ErrReplicaSyncFailed means the replica write failed and the primary
	// write was undone. The caller may retry.
	ErrReplicaSyncFailed = errors.New("replica sync failed")

	// ErrCompensationFailed means a partial write could not be undone and
	// the two stores disagree until an operator reconciles them.
	ErrCompensationFailed = errors.New("compensation failed")

	// ErrPrimaryStore means the primary store rejected the write. Nothing
	// was written.
	ErrPrimaryStore = errors.New("primary store error")

	// ErrUnsupported is returned for an unknown kind or operation.
	ErrUnsupported = errors.New("unsupported write")
)

// ReplicaSyncError reports a compensated replica failure.
type ReplicaSyncError struct {
	Kind     Kind
	Op       Op
	EntityID string
	Err      error
}

func (e *ReplicaSyncError) Error() string {
	return fmt.Sprintf("%s %s %s: replica sync failed: %v", e.Op, e.Kind, e.EntityID, e.Err)
}

func (e *ReplicaSyncError) Unwrap() error { return e.Err }

func (e *ReplicaSyncError) Is(target error) bool { return target == ErrReplicaSyncFailed }

// CompensationError reports a failed undo. Before and After hold the
// entity state on either side of the write for manual reconciliation.
type CompensationError struct {
	Kind     Kind
	Op       Op
	EntityID string
	Before   any
	After    any
	// Cause is the failure that triggered compensation.
	Cause error
	Err   error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("%s %s %s: compensation failed: %v (after: %v)", e.Op, e.Kind, e.EntityID, e.Err, e.Cause)
}

func (e *CompensationError) Unwrap() error { return e.Err }

func (e *CompensationError) Is(target error) bool { return target == ErrCompensationFailed }

func primaryError(err error) error {
	return fmt.Errorf("%w: %w", ErrPrimaryStore, err)
}
