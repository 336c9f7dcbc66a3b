package sync

import (
	"net/http"

	"caseline-sync/internal/store"
)

// Action is what the resolver decided for one remote response.
type Action int

const (
	// ActionCommit applies server-confirmed fields, clears the edit flag and
	// completes the task.
	ActionCommit Action = iota
	// ActionConflict parks the task as force_sync pending explicit
	// resubmission and flags the record.
	ActionConflict
	// ActionPermission stops retrying but keeps the local edit; the record
	// is flagged as permission-blocked.
	ActionPermission
	// ActionDuplicate treats the response as a successful no-op and purges
	// redundant local artifacts.
	ActionDuplicate
	// ActionRetry hands the attempt back to the retry executor.
	ActionRetry
)

// Resolution is the resolver's verdict: what to do and the terminal task
// status, when there is one.
type Resolution struct {
	Action Action
	Status store.TaskStatus
}

// Resolve is the shared decision table mapping a remote status code to a
// resolution. It is a pure function invoked once per remote response per
// attempt; force marks an attempt that intentionally bypasses conflict
// detection, so a 409 on it is treated as transient rather than re-parked.
func Resolve(statusCode int, force bool) Resolution {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return Resolution{Action: ActionCommit, Status: store.TaskStatusCompleted}
	case statusCode == http.StatusConflict:
		if force {
			return Resolution{Action: ActionRetry}
		}
		return Resolution{Action: ActionConflict, Status: store.TaskStatusForceSync}
	case statusCode == http.StatusForbidden:
		return Resolution{Action: ActionPermission, Status: store.TaskStatusCompleted}
	case statusCode == http.StatusNotAcceptable:
		return Resolution{Action: ActionDuplicate, Status: store.TaskStatusCompleted}
	default:
		return Resolution{Action: ActionRetry}
	}
}
