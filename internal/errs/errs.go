// Package errs classifies engine errors so retry logic can tell a broken
// local transaction apart from a flaky remote call.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrSyncInProgress is returned when a sync cycle is requested while
	// another one is still draining the queue.
	ErrSyncInProgress = errors.New("sync cycle already in progress")

	// ErrUnsupportedTaskType is returned for a queued task whose type has no
	// registered handler. Never retried.
	ErrUnsupportedTaskType = errors.New("unsupported task type")
)

// storageError marks a local persistence failure. Retrying one of these
// cannot succeed, so the retry executor aborts immediately.
type storageError struct {
	err error
}

func (e *storageError) Error() string { return "storage: " + e.err.Error() }
func (e *storageError) Unwrap() error { return e.err }

// Storage wraps a local persistence error.
func Storage(err error) error {
	if err == nil {
		return nil
	}
	return &storageError{err: err}
}

// IsStorage reports whether err is (or wraps) a local persistence error.
func IsStorage(err error) bool {
	var se *storageError
	return errors.As(err, &se)
}

// RemoteStatusError carries an unrecognized remote status code up to the
// retry executor as a transient failure.
type RemoteStatusError struct {
	Code int
}

func (e *RemoteStatusError) Error() string {
	return fmt.Sprintf("remote returned status %d", e.Code)
}
