package domain

import (
	"context"

	"caseline-sync/internal/store"
)

// Repository is the contract the sync engine holds against the domain
// tables. The engine reads and writes exactly the fields exposed here and
// must not otherwise touch domain content.
type Repository interface {
	// Records and dirty flags
	FetchDirtyRecords(ctx context.Context, t store.TaskType) ([]*Record, error)
	GetRecord(ctx context.Context, id string) (*Record, error)
	EnsureCorrelationID(ctx context.Context, rec *Record) (string, error)
	ApplyServerConfirmation(ctx context.Context, rec *Record, fields *ServerFields) error
	ConfirmForceSync(ctx context.Context, rec *Record, fields *ServerFields) error
	MarkConflict(ctx context.Context, rec *Record) error
	MarkPermissionBlocked(ctx context.Context, rec *Record) error
	MarkForceSyncSuccess(ctx context.Context, rec *Record) error
	DeleteRedundantArtifacts(ctx context.Context, recordID string) error

	// History
	AppendHistory(ctx context.Context, entry *HistoryEntry) error

	// Binary artifacts (two-phase attachment handling)
	ListFiles(ctx context.Context, recordID string) ([]*SyncFile, error)
	MarkFileUploaded(ctx context.Context, fileID, url string) error

	// Attached-document hierarchy
	ListDocEntries(ctx context.Context, recordID string) ([]*DocEntry, error)

	Close() error
}
