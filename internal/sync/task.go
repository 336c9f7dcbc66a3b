// Package sync implements the reconciliation engine: a persistent typed work
// queue that uploads locally-mutated records, resolves write conflicts
// against the remote authority, retries transient failures with backoff and
// guarantees at most one in-flight reconciliation per logical record.
package sync

import (
	"encoding/json"
	"fmt"
	"time"

	"caseline-sync/internal/domain"
	"caseline-sync/internal/store"
)

// TaskPayload is what a queued task carries at rest: the ids needed to
// address the record, never the record content. Handlers re-read the record
// per attempt so conflict metadata is always fresh.
type TaskPayload struct {
	RecordID string `json:"record_id"`
	CaseID   string `json:"case_id,omitempty"`
	SubID    string `json:"sub_id,omitempty"`
	IsNew    bool   `json:"is_new,omitempty"`
}

func decodePayload(task *store.SyncTask) (*TaskPayload, error) {
	var p TaskPayload
	if err := json.Unmarshal(task.Data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode payload of task %d: %w", task.ID, err)
	}
	if p.RecordID == "" {
		return nil, fmt.Errorf("task %d has no record id", task.ID)
	}
	return &p, nil
}

// SyncModel is the per-request conflict metadata, built fresh for every
// attempt from the owning record.
type SyncModel struct {
	IsOfflineSync     bool       `json:"isOfflineSync"`
	IsForceSync       bool       `json:"isForceSync"`
	APIChangeDateUTC  *time.Time `json:"apiChangeDateUtc,omitempty"`
	CorrelationID     string     `json:"correlationId"`
	SyncContentItemID string     `json:"syncContentItemId,omitempty"`
	SyncDocumentID    string     `json:"syncDocumentId,omitempty"`
}

func buildSyncModel(rec *domain.Record) *SyncModel {
	m := &SyncModel{
		IsOfflineSync:     rec.IsOfflineEdit,
		IsForceSync:       rec.IsForceSync,
		CorrelationID:     rec.CorrelationID,
		SyncContentItemID: rec.ContentItemID,
		SyncDocumentID:    rec.DocumentID,
	}
	if !rec.APIChangeDateUTC.IsZero() {
		t := rec.APIChangeDateUTC
		m.APIChangeDateUTC = &t
	}
	return m
}

// syncEnvelope is the wire shape for a record sync request.
type syncEnvelope struct {
	Record    json.RawMessage `json:"record,omitempty"`
	Model     *SyncModel      `json:"syncModel"`
	Files     []string        `json:"files,omitempty"`
	Documents *DocTree        `json:"documents,omitempty"`
}

// serverFields is what the remote authority echoes back on success.
type serverFields struct {
	ContentItemID    string    `json:"contentItemId"`
	DocumentID       string    `json:"documentId"`
	APIChangeDateUTC time.Time `json:"apiChangeDateUtc"`
}

func decodeServerFields(body []byte) *domain.ServerFields {
	var f serverFields
	if len(body) > 0 {
		// A body we cannot parse still counts as a confirmed sync; the
		// change date then falls back to now.
		_ = json.Unmarshal(body, &f)
	}
	fields := &domain.ServerFields{
		ContentItemID: f.ContentItemID,
		DocumentID:    f.DocumentID,
	}
	if !f.APIChangeDateUTC.IsZero() {
		fields.APIChangeDateUTC = f.APIChangeDateUTC
	} else {
		fields.APIChangeDateUTC = time.Now().UTC()
	}
	return fields
}

// binaryType reports whether a task type carries binary artifacts and is
// therefore subject to the two-phase gate.
func binaryType(t store.TaskType) bool {
	switch t {
	case store.TaskTypeAttachment, store.TaskTypeAttachedDoc, store.TaskTypeFormFile, store.TaskTypeAdminNotesFile:
		return true
	}
	return false
}
