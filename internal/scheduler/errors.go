package scheduler

import (
	"errors"
	"fmt"
)

// The seven error kinds from spec §7, checked with errors.Is the way the
// teacher's jobmanager package checks ErrDuplicateJob/ErrNotInFlight.
var (
	ErrMalformed        = errors.New("scheduler: malformed request")
	ErrNotFound         = errors.New("scheduler: job not found")
	ErrWrongState       = errors.New("scheduler: job not in the required state")
	ErrWrongWorker      = errors.New("scheduler: job not held by this worker")
	ErrCapacityConflict = errors.New("scheduler: resource capacity conflict")
	ErrRetriesExhausted = errors.New("scheduler: retries exhausted")
	ErrThrottled        = errors.New("scheduler: throttled by recurring interval")
)

// ErrNotReplaced is returned by Put when an existing job is running and
// unexpired and the caller passed Replace=false; it wraps the qless-core
// sentinel integer 56 so Go callers can still test for it with errors.Is
// while internal/dispatch returns a response carrying that integer.
type ErrNotReplaced struct {
	JobID string
}

const notReplacedSentinel = 56

func (e *ErrNotReplaced) Error() string {
	return fmt.Sprintf("scheduler: job %s is running and unexpired, not replaced (%d)", e.JobID, notReplacedSentinel)
}

// Sentinel reports the qless-core integer this error corresponds to.
func (e *ErrNotReplaced) Sentinel() int { return notReplacedSentinel }

func (e *ErrNotReplaced) Is(target error) bool {
	_, ok := target.(*ErrNotReplaced)
	return ok
}
