package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// TaskType tags a queued task with the domain record family it reconciles.
type TaskType string

const (
	TaskTypeCase           TaskType = "case"
	TaskTypeLicense        TaskType = "license"
	TaskTypeSettings       TaskType = "settings"
	TaskTypeAdminNotes     TaskType = "admin_notes"
	TaskTypeContacts       TaskType = "contacts"
	TaskTypeAttachment     TaskType = "attachment"
	TaskTypeAttachedDoc    TaskType = "attached_doc"
	TaskTypeForm           TaskType = "form"
	TaskTypeEditedForm     TaskType = "edited_form"
	TaskTypeFormFile       TaskType = "form_file"
	TaskTypeAdminNotesFile TaskType = "admin_notes_file"
)

// TaskTypes lists every known task type in drain order preference.
var TaskTypes = []TaskType{
	TaskTypeCase,
	TaskTypeLicense,
	TaskTypeSettings,
	TaskTypeAdminNotes,
	TaskTypeContacts,
	TaskTypeAttachment,
	TaskTypeAttachedDoc,
	TaskTypeForm,
	TaskTypeEditedForm,
	TaskTypeFormFile,
	TaskTypeAdminNotesFile,
}

// TaskStatus is the lifecycle state of a queued task. Transitions only move
// forward: pending -> processing -> completed | failed | force_sync.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusForceSync  TaskStatus = "force_sync"
)

// SyncTask is one attempted remote reconciliation of one local mutation.
// CreatedAt defines global FIFO order across all types.
type SyncTask struct {
	ID         int64           `db:"id"`
	Type       TaskType        `db:"type"`
	Data       json.RawMessage `db:"data"`
	Status     TaskStatus      `db:"status"`
	RetryCount int             `db:"retry_count"`
	CreatedAt  int64           `db:"created_at"`
	UpdatedAt  int64           `db:"updated_at"`
}

// Created returns the creation time as a time.Time.
func (t *SyncTask) Created() time.Time {
	return time.UnixMilli(t.CreatedAt)
}

// Terminal reports whether the task needs no further processing in a normal
// batch drain.
func (t *SyncTask) Terminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusForceSync
}

// SyncHistory records one sync cycle for the history endpoint.
type SyncHistory struct {
	ID             string         `db:"id"`
	StartedAt      time.Time      `db:"started_at"`
	CompletedAt    sql.NullTime   `db:"completed_at"`
	TasksProcessed int            `db:"tasks_processed"`
	TasksCompleted int            `db:"tasks_completed"`
	TasksFailed    int            `db:"tasks_failed"`
	Conflicts      int            `db:"conflicts"`
	Status         string         `db:"status"`
	ErrorMessage   sql.NullString `db:"error_message"`
}
