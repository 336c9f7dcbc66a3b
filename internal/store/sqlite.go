package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"caseline-sync/internal/database"
)

const queueSchema = `
CREATE TABLE IF NOT EXISTS sync_queue (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	type        TEXT NOT NULL,
	data        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	retry_count INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sync_queue_type_status ON sync_queue(type, status);
CREATE INDEX IF NOT EXISTS idx_sync_queue_created ON sync_queue(created_at);

CREATE TABLE IF NOT EXISTS sync_history (
	id              TEXT PRIMARY KEY,
	started_at      TIMESTAMP NOT NULL,
	completed_at    TIMESTAMP,
	tasks_processed INTEGER NOT NULL DEFAULT 0,
	tasks_completed INTEGER NOT NULL DEFAULT 0,
	tasks_failed    INTEGER NOT NULL DEFAULT 0,
	conflicts       INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	error_message   TEXT
);
`

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *database.Database) (*SQLiteStore, error) {
	if _, err := db.DB.Exec(queueSchema); err != nil {
		return nil, fmt.Errorf("failed to migrate sync queue schema: %w", err)
	}
	return &SQLiteStore{db: db.DB}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Enqueue(ctx context.Context, t TaskType, payload any) (int64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal task payload: %w", err)
	}

	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_queue (type, data, status, retry_count, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, ?)`,
		string(t), string(data), string(TaskStatusPending), now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue %s task: %w", t, err)
	}

	return res.LastInsertId()
}

func (s *SQLiteStore) GetTask(ctx context.Context, id int64) (*SyncTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, type, data, status, retry_count, created_at, updated_at
		 FROM sync_queue WHERE id = ?`, id)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (s *SQLiteStore) ListByStatus(ctx context.Context, t TaskType, status TaskStatus) ([]*SyncTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, data, status, retry_count, created_at, updated_at
		 FROM sync_queue WHERE type = ? AND status = ?
		 ORDER BY created_at ASC, id ASC`,
		string(t), string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTasks(rows)
}

func (s *SQLiteStore) ListAllPending(ctx context.Context) ([]*SyncTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, data, status, retry_count, created_at, updated_at
		 FROM sync_queue WHERE status = ?
		 ORDER BY created_at ASC, id ASC`,
		string(TaskStatusPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTasks(rows)
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id int64, status TaskStatus, retryCount int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ?, retry_count = ?, updated_at = ? WHERE id = ?`,
		string(status), retryCount, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to update task %d: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("task %d not found", id)
	}
	return nil
}

func (s *SQLiteStore) CountPending(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE status = ?`,
		string(TaskStatusPending)).Scan(&count)
	return count, err
}

func (s *SQLiteStore) DeleteCompleted(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE status = ? AND updated_at < ?`,
		string(TaskStatusCompleted), olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) CreateSyncHistory(ctx context.Context, history *SyncHistory) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_history (id, started_at, completed_at, tasks_processed, tasks_completed, tasks_failed, conflicts, status, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		history.ID,
		history.StartedAt,
		history.CompletedAt,
		history.TasksProcessed,
		history.TasksCompleted,
		history.TasksFailed,
		history.Conflicts,
		history.Status,
		history.ErrorMessage,
	)
	return err
}

func (s *SQLiteStore) UpdateSyncHistory(ctx context.Context, history *SyncHistory) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_history SET completed_at = ?, tasks_processed = ?, tasks_completed = ?, tasks_failed = ?, conflicts = ?, status = ?, error_message = ?
		 WHERE id = ?`,
		history.CompletedAt,
		history.TasksProcessed,
		history.TasksCompleted,
		history.TasksFailed,
		history.Conflicts,
		history.Status,
		history.ErrorMessage,
		history.ID,
	)
	return err
}

func (s *SQLiteStore) ListSyncHistory(ctx context.Context, limit, offset int) ([]*SyncHistory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, completed_at, tasks_processed, tasks_completed, tasks_failed, conflicts, status, error_message
		 FROM sync_history ORDER BY started_at DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SyncHistory
	for rows.Next() {
		var h SyncHistory
		if err := rows.Scan(
			&h.ID,
			&h.StartedAt,
			&h.CompletedAt,
			&h.TasksProcessed,
			&h.TasksCompleted,
			&h.TasksFailed,
			&h.Conflicts,
			&h.Status,
			&h.ErrorMessage,
		); err != nil {
			return nil, err
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*SyncTask, error) {
	var t SyncTask
	var typ, status, data string
	err := row.Scan(&t.ID, &typ, &data, &status, &t.RetryCount, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Type = TaskType(typ)
	t.Status = TaskStatus(status)
	t.Data = json.RawMessage(data)
	return &t, nil
}

func collectTasks(rows *sql.Rows) ([]*SyncTask, error) {
	var tasks []*SyncTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}
