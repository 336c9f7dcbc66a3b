// Package domain holds the record mirror the sync engine reconciles: the
// dirty flags, addressing ids and per-record artifacts (files, document
// entries, history). Domain content itself is opaque to the engine.
package domain

import (
	"encoding/json"
	"time"

	"caseline-sync/internal/store"
)

// Record is the sync-facing view of one local domain row. Body is the
// mutated record as the UI layer last wrote it; the engine never inspects it
// beyond shipping it to the remote authority.
type Record struct {
	ID            string          `db:"id"`
	Type          store.TaskType  `db:"type"`
	CaseID        string          `db:"case_id"`
	Body          json.RawMessage `db:"body"`
	CorrelationID string          `db:"correlation_id"`
	ContentItemID string          `db:"content_item_id"`
	DocumentID    string          `db:"document_id"`

	// Last server-side modification time the client believes is current.
	// Zero when the record has never been synced.
	APIChangeDateUTC time.Time `db:"api_change_date_utc"`

	IsEdited           bool `db:"is_edited"`
	IsSync             bool `db:"is_sync"`
	IsForceSync        bool `db:"is_force_sync"`
	IsForceSyncSuccess bool `db:"is_force_sync_success"`
	IsSubScreenEdited  bool `db:"is_sub_screen_edited"`
	IsPermission       bool `db:"is_permission"`
	IsOfflineEdit      bool `db:"is_offline_edit"`

	// Contact addressing for the per-record reservation key.
	SubID string `db:"sub_id"`
	IsNew bool   `db:"is_new"`

	UpdatedAt time.Time `db:"updated_at"`
}

// ServerFields carries the server-confirmed values applied to the local
// mirror after a successful sync.
type ServerFields struct {
	ContentItemID    string
	DocumentID       string
	APIChangeDateUTC time.Time
}

// SyncFile is a pending binary artifact for a record. Phase one of
// attachment handling uploads Data and records RemoteURL + ReadyToSync; the
// owning record only enters a domain sync task once every file is ready.
type SyncFile struct {
	ID          string    `db:"id"`
	RecordID    string    `db:"record_id"`
	Name        string    `db:"name"`
	Data        []byte    `db:"data"`
	RemoteURL   string    `db:"remote_url"`
	ReadyToSync bool      `db:"ready_to_sync"`
	CreatedAt   time.Time `db:"created_at"`
}

// DocEntry is one flat row of the attached-document hierarchy. ParentID
// references a folder entry and may be empty, dangling or self-referential.
type DocEntry struct {
	ID       string `db:"id"`
	RecordID string `db:"record_id"`
	ParentID string `db:"parent_id"`
	IsFolder bool   `db:"is_folder"`
	Name     string `db:"name"`
	FileURL  string `db:"file_url"`
}

// HistoryEntry is a local audit line appended after a confirmed sync.
type HistoryEntry struct {
	ID         string         `db:"id"`
	RecordID   string         `db:"record_id"`
	RecordType store.TaskType `db:"record_type"`
	Action     string         `db:"action"`
	CreatedAt  time.Time      `db:"created_at"`
}
