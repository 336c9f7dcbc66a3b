package store

import (
	"context"
	"time"
)

type Store interface {
	// Queue
	Enqueue(ctx context.Context, t TaskType, payload any) (int64, error)
	GetTask(ctx context.Context, id int64) (*SyncTask, error)
	ListByStatus(ctx context.Context, t TaskType, status TaskStatus) ([]*SyncTask, error)
	ListAllPending(ctx context.Context) ([]*SyncTask, error)
	UpdateStatus(ctx context.Context, id int64, status TaskStatus, retryCount int) error
	CountPending(ctx context.Context) (int, error)
	DeleteCompleted(ctx context.Context, olderThan time.Time) (int64, error)

	// History
	CreateSyncHistory(ctx context.Context, history *SyncHistory) error
	UpdateSyncHistory(ctx context.Context, history *SyncHistory) error
	ListSyncHistory(ctx context.Context, limit, offset int) ([]*SyncHistory, error)

	// General
	Close() error
}
