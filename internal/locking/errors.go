package locking

import (
	"errors"
	"fmt"
	"time"

	apperrors "github.com/gainy-app/gainy-compute-sub000/internal/errors"
)

// LockAcquisitionTimeoutError is returned when a lock could not be taken
// before the timeout elapsed.
type LockAcquisitionTimeoutError struct {
	Key     ResourceKey
	Timeout time.Duration
}

func (e *LockAcquisitionTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s acquiring lock %s", e.Timeout, e.Key)
}

// Unwrap lets callers match the error against apperrors.ErrLockTimeout.
func (e *LockAcquisitionTimeoutError) Unwrap() error { return apperrors.ErrLockTimeout }

// ConcurrentVersionUpdateError is returned by the optimistic template when the
// version anchor changed between preparation and commit.
type ConcurrentVersionUpdateError struct {
	Key      ResourceKey
	Expected int
	Actual   int
}

func (e *ConcurrentVersionUpdateError) Error() string {
	return fmt.Sprintf("concurrent update of %s: expected version %d, found %d", e.Key, e.Expected, e.Actual)
}

// Unwrap lets callers match the error against apperrors.ErrConcurrentUpdate.
func (e *ConcurrentVersionUpdateError) Unwrap() error { return apperrors.ErrConcurrentUpdate }

// IsLockTimeout reports whether err is or wraps a LockAcquisitionTimeoutError.
func IsLockTimeout(err error) bool {
	var target *LockAcquisitionTimeoutError
	return errors.As(err, &target)
}

// IsConcurrentUpdate reports whether err is or wraps a ConcurrentVersionUpdateError.
func IsConcurrentUpdate(err error) bool {
	var target *ConcurrentVersionUpdateError
	return errors.As(err, &target)
}
