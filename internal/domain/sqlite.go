package domain

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"caseline-sync/internal/database"
	"caseline-sync/internal/store"
)

const domainSchema = `
CREATE TABLE IF NOT EXISTS records (
	id                    TEXT PRIMARY KEY,
	type                  TEXT NOT NULL,
	case_id               TEXT NOT NULL DEFAULT '',
	body                  TEXT NOT NULL DEFAULT '{}',
	correlation_id        TEXT NOT NULL DEFAULT '',
	content_item_id       TEXT NOT NULL DEFAULT '',
	document_id           TEXT NOT NULL DEFAULT '',
	api_change_date_utc   TIMESTAMP,
	is_edited             INTEGER NOT NULL DEFAULT 0,
	is_sync               INTEGER NOT NULL DEFAULT 0,
	is_force_sync         INTEGER NOT NULL DEFAULT 0,
	is_force_sync_success INTEGER NOT NULL DEFAULT 0,
	is_sub_screen_edited  INTEGER NOT NULL DEFAULT 0,
	is_permission         INTEGER NOT NULL DEFAULT 0,
	is_offline_edit       INTEGER NOT NULL DEFAULT 0,
	sub_id                TEXT NOT NULL DEFAULT '',
	is_new                INTEGER NOT NULL DEFAULT 0,
	updated_at            TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_type_edited ON records(type, is_edited);

CREATE TABLE IF NOT EXISTS sync_files (
	id            TEXT PRIMARY KEY,
	record_id     TEXT NOT NULL,
	name          TEXT NOT NULL,
	data          BLOB,
	remote_url    TEXT NOT NULL DEFAULT '',
	ready_to_sync INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sync_files_record ON sync_files(record_id);

CREATE TABLE IF NOT EXISTS doc_entries (
	id        TEXT PRIMARY KEY,
	record_id TEXT NOT NULL,
	parent_id TEXT NOT NULL DEFAULT '',
	is_folder INTEGER NOT NULL DEFAULT 0,
	name      TEXT NOT NULL,
	file_url  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_doc_entries_record ON doc_entries(record_id);

CREATE TABLE IF NOT EXISTS record_history (
	id          TEXT PRIMARY KEY,
	record_id   TEXT NOT NULL,
	record_type TEXT NOT NULL,
	action      TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL
);
`

type SQLiteRepository struct {
	db  *sql.DB
	dbw *database.Database
}

func NewSQLiteRepository(db *database.Database) (*SQLiteRepository, error) {
	if _, err := db.DB.Exec(domainSchema); err != nil {
		return nil, fmt.Errorf("failed to migrate domain schema: %w", err)
	}
	return &SQLiteRepository{db: db.DB, dbw: db}, nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

const recordColumns = `id, type, case_id, body, correlation_id, content_item_id, document_id,
	api_change_date_utc, is_edited, is_sync, is_force_sync, is_force_sync_success,
	is_sub_screen_edited, is_permission, is_offline_edit, sub_id, is_new, updated_at`

// FetchDirtyRecords returns the records of one type that need a sync task:
// directly edited ones plus parents whose child rows changed
// (is_sub_screen_edited). Conflicted and permission-blocked records stay out.
func (r *SQLiteRepository) FetchDirtyRecords(ctx context.Context, t store.TaskType) ([]*Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records
		 WHERE type = ? AND (is_edited = 1 OR is_sub_screen_edited = 1)
		   AND is_force_sync = 0 AND is_permission = 0
		 ORDER BY updated_at ASC`,
		string(t))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *SQLiteRepository) GetRecord(ctx context.Context, id string) (*Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// EnsureCorrelationID returns the record's correlation id, generating and
// persisting one when the logical edit does not have one yet. The id stays
// stable across retried attempts so the server can deduplicate.
func (r *SQLiteRepository) EnsureCorrelationID(ctx context.Context, rec *Record) (string, error) {
	if rec.CorrelationID != "" {
		return rec.CorrelationID, nil
	}

	id := uuid.New().String()
	_, err := r.db.ExecContext(ctx,
		`UPDATE records SET correlation_id = ? WHERE id = ? AND correlation_id = ''`,
		id, rec.ID)
	if err != nil {
		return "", fmt.Errorf("failed to persist correlation id: %w", err)
	}
	rec.CorrelationID = id
	return id, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx so the flag updates can run
// standalone or inside a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func confirmRecord(ctx context.Context, ex execer, rec *Record, fields *ServerFields) error {
	_, err := ex.ExecContext(ctx,
		`UPDATE records SET
			content_item_id = CASE WHEN ? != '' THEN ? ELSE content_item_id END,
			document_id = CASE WHEN ? != '' THEN ? ELSE document_id END,
			api_change_date_utc = ?,
			is_edited = 0, is_sync = 1, is_offline_edit = 0, is_sub_screen_edited = 0,
			correlation_id = '',
			updated_at = ?
		 WHERE id = ?`,
		fields.ContentItemID, fields.ContentItemID,
		fields.DocumentID, fields.DocumentID,
		fields.APIChangeDateUTC,
		time.Now().UTC(),
		rec.ID)
	if err != nil {
		return fmt.Errorf("failed to apply server confirmation: %w", err)
	}
	return nil
}

func (rec *Record) applyConfirmedFields(fields *ServerFields) {
	rec.ContentItemID = pick(fields.ContentItemID, rec.ContentItemID)
	rec.DocumentID = pick(fields.DocumentID, rec.DocumentID)
	rec.APIChangeDateUTC = fields.APIChangeDateUTC
	rec.IsEdited = false
	rec.IsSync = true
	rec.IsOfflineEdit = false
	rec.IsSubScreenEdited = false
	rec.CorrelationID = ""
}

func (r *SQLiteRepository) ApplyServerConfirmation(ctx context.Context, rec *Record, fields *ServerFields) error {
	if err := confirmRecord(ctx, r.db, rec, fields); err != nil {
		return err
	}
	rec.applyConfirmedFields(fields)
	return nil
}

// ConfirmForceSync commits a forced overwrite as one unit: the server
// confirmation, the force-success flags and the artifact purge either all
// land or none do. A crash between them must not leave a record half
// overwritten.
func (r *SQLiteRepository) ConfirmForceSync(ctx context.Context, rec *Record, fields *ServerFields) error {
	err := r.dbw.ExecTx(ctx, func(tx *sql.Tx) error {
		if err := confirmRecord(ctx, tx, rec, fields); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE records SET is_force_sync = 0, is_force_sync_success = 1, updated_at = ? WHERE id = ?`,
			time.Now().UTC(), rec.ID); err != nil {
			return fmt.Errorf("failed to mark force sync success: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_files WHERE record_id = ?`, rec.ID); err != nil {
			return fmt.Errorf("failed to purge redundant artifacts: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	rec.applyConfirmedFields(fields)
	rec.IsForceSync = false
	rec.IsForceSyncSuccess = true
	return nil
}

func (r *SQLiteRepository) MarkConflict(ctx context.Context, rec *Record) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE records SET is_force_sync = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), rec.ID)
	if err != nil {
		return fmt.Errorf("failed to mark conflict: %w", err)
	}
	rec.IsForceSync = true
	return nil
}

func (r *SQLiteRepository) MarkPermissionBlocked(ctx context.Context, rec *Record) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE records SET is_permission = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), rec.ID)
	if err != nil {
		return fmt.Errorf("failed to mark permission blocked: %w", err)
	}
	rec.IsPermission = true
	return nil
}

func (r *SQLiteRepository) MarkForceSyncSuccess(ctx context.Context, rec *Record) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE records SET is_force_sync = 0, is_force_sync_success = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), rec.ID)
	if err != nil {
		return fmt.Errorf("failed to mark force sync success: %w", err)
	}
	rec.IsForceSync = false
	rec.IsForceSyncSuccess = true
	return nil
}

// DeleteRedundantArtifacts drops the pending file rows for a record once the
// server reports the submission as already applied or forcefully overwritten.
func (r *SQLiteRepository) DeleteRedundantArtifacts(ctx context.Context, recordID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sync_files WHERE record_id = ?`, recordID)
	return err
}

func (r *SQLiteRepository) AppendHistory(ctx context.Context, entry *HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO record_history (id, record_id, record_type, action, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.RecordID, string(entry.RecordType), entry.Action, entry.CreatedAt)
	return err
}

func (r *SQLiteRepository) ListFiles(ctx context.Context, recordID string) ([]*SyncFile, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, record_id, name, data, remote_url, ready_to_sync, created_at
		 FROM sync_files WHERE record_id = ? ORDER BY created_at ASC`,
		recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*SyncFile
	for rows.Next() {
		var f SyncFile
		if err := rows.Scan(&f.ID, &f.RecordID, &f.Name, &f.Data, &f.RemoteURL, &f.ReadyToSync, &f.CreatedAt); err != nil {
			return nil, err
		}
		files = append(files, &f)
	}
	return files, rows.Err()
}

// MarkFileUploaded records the blob URL and drops the raw bytes.
func (r *SQLiteRepository) MarkFileUploaded(ctx context.Context, fileID, url string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sync_files SET remote_url = ?, ready_to_sync = 1, data = NULL WHERE id = ?`,
		url, fileID)
	return err
}

func (r *SQLiteRepository) ListDocEntries(ctx context.Context, recordID string) ([]*DocEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, record_id, parent_id, is_folder, name, file_url
		 FROM doc_entries WHERE record_id = ? ORDER BY is_folder DESC, name ASC`,
		recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*DocEntry
	for rows.Next() {
		var e DocEntry
		if err := rows.Scan(&e.ID, &e.RecordID, &e.ParentID, &e.IsFolder, &e.Name, &e.FileURL); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// SaveRecord upserts a record row. Domain mutation code (outside the engine)
// is the normal writer; tests seed through it as well.
func (r *SQLiteRepository) SaveRecord(ctx context.Context, rec *Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	var apiChange any
	if !rec.APIChangeDateUTC.IsZero() {
		apiChange = rec.APIChangeDateUTC
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO records (`+recordColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			type = excluded.type, case_id = excluded.case_id, body = excluded.body,
			correlation_id = excluded.correlation_id,
			content_item_id = excluded.content_item_id, document_id = excluded.document_id,
			api_change_date_utc = excluded.api_change_date_utc,
			is_edited = excluded.is_edited, is_sync = excluded.is_sync,
			is_force_sync = excluded.is_force_sync,
			is_force_sync_success = excluded.is_force_sync_success,
			is_sub_screen_edited = excluded.is_sub_screen_edited,
			is_permission = excluded.is_permission,
			is_offline_edit = excluded.is_offline_edit,
			sub_id = excluded.sub_id, is_new = excluded.is_new,
			updated_at = excluded.updated_at`,
		rec.ID, string(rec.Type), rec.CaseID, string(rec.Body), rec.CorrelationID,
		rec.ContentItemID, rec.DocumentID, apiChange,
		rec.IsEdited, rec.IsSync, rec.IsForceSync, rec.IsForceSyncSuccess,
		rec.IsSubScreenEdited, rec.IsPermission, rec.IsOfflineEdit,
		rec.SubID, rec.IsNew, rec.UpdatedAt)
	return err
}

// AddFile inserts a pending binary artifact for a record.
func (r *SQLiteRepository) AddFile(ctx context.Context, f *SyncFile) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_files (id, record_id, name, data, remote_url, ready_to_sync, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.RecordID, f.Name, f.Data, f.RemoteURL, f.ReadyToSync, f.CreatedAt)
	return err
}

// AddDocEntry inserts one flat row of the attached-document hierarchy.
func (r *SQLiteRepository) AddDocEntry(ctx context.Context, e *DocEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO doc_entries (id, record_id, parent_id, is_folder, name, file_url)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.RecordID, e.ParentID, e.IsFolder, e.Name, e.FileURL)
	return err
}

func pick(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var typ, body string
	var apiChange sql.NullTime
	err := row.Scan(
		&rec.ID, &typ, &rec.CaseID, &body, &rec.CorrelationID,
		&rec.ContentItemID, &rec.DocumentID, &apiChange,
		&rec.IsEdited, &rec.IsSync, &rec.IsForceSync, &rec.IsForceSyncSuccess,
		&rec.IsSubScreenEdited, &rec.IsPermission, &rec.IsOfflineEdit,
		&rec.SubID, &rec.IsNew, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Type = store.TaskType(typ)
	rec.Body = []byte(body)
	if apiChange.Valid {
		rec.APIChangeDateUTC = apiChange.Time
	}
	return &rec, nil
}
