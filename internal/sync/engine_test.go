package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline-sync/internal/config"
	"caseline-sync/internal/database"
	"caseline-sync/internal/domain"
	"caseline-sync/internal/errs"
	"caseline-sync/internal/store"
	"caseline-sync/internal/transport"
)

// fakeSender records every request and answers via respond, defaulting to a
// 200 with server-confirmed fields.
type fakeSender struct {
	mu      sync.Mutex
	calls   []*transport.Request
	respond func(req *transport.Request) (*transport.Response, error)
}

func (f *fakeSender) Send(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		return respond(req)
	}
	return &transport.Response{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"contentItemId":"srv-1","apiChangeDateUtc":"2026-08-01T10:00:00Z"}`),
	}, nil
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSender) setRespond(fn func(req *transport.Request) (*transport.Response, error)) {
	f.mu.Lock()
	f.respond = fn
	f.mu.Unlock()
}

type fakeBlobs struct {
	mu      sync.Mutex
	uploads []string
	err     error
}

func (f *fakeBlobs) UploadBlob(ctx context.Context, up *transport.BlobUpload) (*transport.BlobResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.uploads = append(f.uploads, up.FileName)
	return &transport.BlobResult{URL: "https://blobs/" + up.FileName}, nil
}

type countingNotifier struct {
	mu    sync.Mutex
	fired map[store.TaskType]int
}

func newCountingNotifier() *countingNotifier {
	return &countingNotifier{fired: make(map[store.TaskType]int)}
}

func (n *countingNotifier) SyncFailed(t store.TaskType, err error) {
	n.mu.Lock()
	n.fired[t]++
	n.mu.Unlock()
}

type engineFixture struct {
	engine *Engine
	queue  store.Store
	repo   *domain.SQLiteRepository
	sender *fakeSender
	blobs  *fakeBlobs
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	db, err := database.NewDatabase(config.StorageConfig{
		FilePath: filepath.Join(t.TempDir(), "sync.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	queue, err := store.NewSQLiteStore(db)
	require.NoError(t, err)
	repo, err := domain.NewSQLiteRepository(db)
	require.NoError(t, err)

	sender := &fakeSender{}
	blobs := &fakeBlobs{}
	cfg := config.SyncConfig{
		ChunkSize:         10,
		ConcurrencyWindow: 5,
		MaxRetries:        3,
		BaseDelay:         "1ms",
		PurgeAfter:        "168h",
	}

	return &engineFixture{
		engine: NewEngine(cfg, queue, repo, sender, blobs),
		queue:  queue,
		repo:   repo,
		sender: sender,
		blobs:  blobs,
	}
}

func (f *engineFixture) seedDirty(t *testing.T, id string, typ store.TaskType, mutate ...func(*domain.Record)) *domain.Record {
	t.Helper()
	rec := &domain.Record{
		ID:       id,
		Type:     typ,
		CaseID:   "case-1",
		Body:     json.RawMessage(`{"title":"offline edit"}`),
		IsEdited: true,
		IsNew:    true,
	}
	for _, m := range mutate {
		m(rec)
	}
	require.NoError(t, f.repo.SaveRecord(context.Background(), rec))
	return rec
}

func (f *engineFixture) record(t *testing.T, id string) *domain.Record {
	t.Helper()
	rec, err := f.repo.GetRecord(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	return rec
}

func (f *engineFixture) task(t *testing.T, id int64) *store.SyncTask {
	t.Helper()
	task, err := f.queue.GetTask(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, task)
	return task
}

func (f *engineFixture) soleTaskOf(t *testing.T, typ store.TaskType, status store.TaskStatus) *store.SyncTask {
	t.Helper()
	tasks, err := f.queue.ListByStatus(context.Background(), typ, status)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	return tasks[0]
}

func TestRunSyncCycleCommitsDirtyRecord(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.seedDirty(t, "rec-1", store.TaskTypeCase)

	var progressed atomic.Int32
	history, err := f.engine.RunSyncCycle(ctx, func() { progressed.Add(1) })
	require.NoError(t, err)

	assert.Equal(t, "completed", history.Status)
	assert.Equal(t, 1, history.TasksProcessed)
	assert.Equal(t, 1, history.TasksCompleted)
	assert.Equal(t, 0, history.TasksFailed)
	assert.Equal(t, int32(1), progressed.Load())
	assert.Equal(t, 1, f.sender.callCount())

	rec := f.record(t, "rec-1")
	assert.False(t, rec.IsEdited)
	assert.True(t, rec.IsSync)
	assert.Equal(t, "srv-1", rec.ContentItemID)
	assert.Empty(t, rec.CorrelationID, "correlation id cleared on confirmation")

	task := f.soleTaskOf(t, store.TaskTypeCase, store.TaskStatusCompleted)
	assert.Equal(t, 0, task.RetryCount)
}

func TestRunSyncCycleCompletedRecordNotReprocessed(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.seedDirty(t, "rec-1", store.TaskTypeLicense)

	_, err := f.engine.RunSyncCycle(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, 1, f.sender.callCount())

	history, err := f.engine.RunSyncCycle(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, history.TasksProcessed)
	assert.Equal(t, 1, f.sender.callCount(), "confirmed record must not ship again")
}

func TestRunSyncCycleSendsCorrelationID(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.seedDirty(t, "rec-1", store.TaskTypeCase)

	_, err := f.engine.RunSyncCycle(ctx, nil)
	require.NoError(t, err)

	require.Equal(t, 1, f.sender.callCount())
	req := f.sender.calls[0]
	assert.NotEmpty(t, req.CorrelationID)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/api/cases", req.Path)
}

func TestRunSyncCycleConflictParksTask(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.seedDirty(t, "rec-1", store.TaskTypeCase)
	f.sender.setRespond(func(*transport.Request) (*transport.Response, error) {
		return &transport.Response{StatusCode: http.StatusConflict}, nil
	})

	history, err := f.engine.RunSyncCycle(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, history.Conflicts)
	assert.Equal(t, 1, f.sender.callCount(), "conflict is a verdict, not a transient failure")

	task := f.soleTaskOf(t, store.TaskTypeCase, store.TaskStatusForceSync)
	assert.Equal(t, 0, task.RetryCount)

	rec := f.record(t, "rec-1")
	assert.True(t, rec.IsForceSync)
	assert.True(t, rec.IsEdited, "local edit survives the conflict")

	// The parked record sits out subsequent automatic cycles.
	history, err = f.engine.RunSyncCycle(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, history.TasksProcessed)
	assert.Equal(t, 1, f.sender.callCount())
}

func TestForceSyncResubmitsConflictedTask(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.seedDirty(t, "rec-1", store.TaskTypeCase)
	require.NoError(t, f.repo.AddFile(ctx, &domain.SyncFile{
		RecordID:    "rec-1",
		Name:        "leftover.pdf",
		RemoteURL:   "https://blobs/leftover.pdf",
		ReadyToSync: true,
	}))

	f.sender.setRespond(func(*transport.Request) (*transport.Response, error) {
		return &transport.Response{StatusCode: http.StatusConflict}, nil
	})
	_, err := f.engine.RunSyncCycle(ctx, nil)
	require.NoError(t, err)
	task := f.soleTaskOf(t, store.TaskTypeCase, store.TaskStatusForceSync)

	f.sender.setRespond(nil)
	require.NoError(t, f.engine.ForceSync(ctx, task.ID))

	// The forced attempt carries the force flag on the wire.
	lastBody, err := json.Marshal(f.sender.calls[len(f.sender.calls)-1].Body)
	require.NoError(t, err)
	assert.Contains(t, string(lastBody), `"isForceSync":true`)

	assert.Equal(t, store.TaskStatusCompleted, f.task(t, task.ID).Status)

	rec := f.record(t, "rec-1")
	assert.False(t, rec.IsForceSync)
	assert.True(t, rec.IsForceSyncSuccess)
	assert.False(t, rec.IsEdited)

	files, err := f.repo.ListFiles(ctx, "rec-1")
	require.NoError(t, err)
	assert.Empty(t, files, "forced overwrite purges leftover artifacts")
}

func TestForceSyncFailureKeepsTaskParked(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.seedDirty(t, "rec-1", store.TaskTypeCase)

	f.sender.setRespond(func(*transport.Request) (*transport.Response, error) {
		return &transport.Response{StatusCode: http.StatusConflict}, nil
	})
	_, err := f.engine.RunSyncCycle(ctx, nil)
	require.NoError(t, err)
	task := f.soleTaskOf(t, store.TaskTypeCase, store.TaskStatusForceSync)

	// The user confirms the overwrite but the network is down.
	f.sender.setRespond(func(*transport.Request) (*transport.Response, error) {
		return nil, errors.New("connection refused")
	})
	err = f.engine.ForceSync(ctx, task.ID)
	require.Error(t, err)

	got := f.task(t, task.ID)
	assert.Equal(t, store.TaskStatusForceSync, got.Status, "a failed forced attempt stays reachable")
	assert.Equal(t, 1, got.RetryCount)

	// Connectivity returns; resubmission succeeds.
	f.sender.setRespond(nil)
	require.NoError(t, f.engine.ForceSync(ctx, task.ID))
	assert.Equal(t, store.TaskStatusCompleted, f.task(t, task.ID).Status)

	rec := f.record(t, "rec-1")
	assert.False(t, rec.IsForceSync)
	assert.True(t, rec.IsForceSyncSuccess)
	assert.False(t, rec.IsEdited)
}

func TestForceSyncRejectsNonParkedTask(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	id, err := f.queue.Enqueue(ctx, store.TaskTypeCase, &TaskPayload{RecordID: "rec-1"})
	require.NoError(t, err)

	err = f.engine.ForceSync(ctx, id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not force_sync")

	err = f.engine.ForceSync(ctx, 9999)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.Equal(t, 0, f.sender.callCount())
}

func TestRunSyncCyclePermissionBlocksRecord(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.seedDirty(t, "rec-1", store.TaskTypeSettings)
	f.sender.setRespond(func(*transport.Request) (*transport.Response, error) {
		return &transport.Response{StatusCode: http.StatusForbidden}, nil
	})

	_, err := f.engine.RunSyncCycle(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, f.sender.callCount())

	f.soleTaskOf(t, store.TaskTypeSettings, store.TaskStatusCompleted)
	rec := f.record(t, "rec-1")
	assert.True(t, rec.IsPermission)
	assert.True(t, rec.IsEdited, "local edit kept for a later permission grant")

	// Blocked records are not picked up again.
	history, err := f.engine.RunSyncCycle(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, history.TasksProcessed)
}

func TestRunSyncCycleDuplicatePurgesArtifacts(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.seedDirty(t, "rec-1", store.TaskTypeAdminNotes)
	require.NoError(t, f.repo.AddFile(ctx, &domain.SyncFile{
		RecordID:    "rec-1",
		Name:        "dup.pdf",
		RemoteURL:   "https://blobs/dup.pdf",
		ReadyToSync: true,
	}))
	f.sender.setRespond(func(*transport.Request) (*transport.Response, error) {
		return &transport.Response{StatusCode: http.StatusNotAcceptable}, nil
	})

	_, err := f.engine.RunSyncCycle(ctx, nil)
	require.NoError(t, err)

	f.soleTaskOf(t, store.TaskTypeAdminNotes, store.TaskStatusCompleted)
	files, err := f.repo.ListFiles(ctx, "rec-1")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestRunSyncCycleTransientFailureExhaustsRetries(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.seedDirty(t, "rec-1", store.TaskTypeCase)
	f.sender.setRespond(func(*transport.Request) (*transport.Response, error) {
		return nil, errors.New("connection refused")
	})

	history, err := f.engine.RunSyncCycle(ctx, nil)
	require.NoError(t, err, "a failed task does not fail the cycle")
	assert.Equal(t, 1, history.TasksFailed)
	assert.Equal(t, 3, f.sender.callCount(), "three attempts per cycle")

	task := f.soleTaskOf(t, store.TaskTypeCase, store.TaskStatusFailed)
	assert.Equal(t, 1, task.RetryCount)
}

func TestRunSyncCycleRetryCountAccumulatesAcrossCycles(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.seedDirty(t, "rec-1", store.TaskTypeCase)
	f.sender.setRespond(func(*transport.Request) (*transport.Response, error) {
		return nil, errors.New("connection refused")
	})

	_, err := f.engine.RunSyncCycle(ctx, nil)
	require.NoError(t, err)
	_, err = f.engine.RunSyncCycle(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, 6, f.sender.callCount())
	task := f.soleTaskOf(t, store.TaskTypeCase, store.TaskStatusFailed)
	assert.Equal(t, 2, task.RetryCount, "the reactivated task keeps its history")

	// No second task was created for the same record.
	all, err := f.queue.ListByStatus(ctx, store.TaskTypeCase, store.TaskStatusFailed)
	require.NoError(t, err)
	pending, err := f.queue.ListByStatus(ctx, store.TaskTypeCase, store.TaskStatusPending)
	require.NoError(t, err)
	assert.Equal(t, 1, len(all)+len(pending))
}

func TestRunSyncCycleStorageErrorAbortsWithoutRetry(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	// Task addressing a record that does not exist locally: a storage-level
	// problem no amount of retrying can fix.
	_, err := f.queue.Enqueue(ctx, store.TaskTypeCase, &TaskPayload{RecordID: "ghost"})
	require.NoError(t, err)

	history, err := f.engine.RunSyncCycle(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, history.TasksFailed)
	assert.Equal(t, 0, f.sender.callCount(), "nothing to send, nothing retried")

	task := f.soleTaskOf(t, store.TaskTypeCase, store.TaskStatusFailed)
	assert.Equal(t, 1, task.RetryCount)
}

func TestRunSyncCycleRetriesUnrecognizedStatus(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.seedDirty(t, "rec-1", store.TaskTypeCase)
	var n atomic.Int32
	f.sender.setRespond(func(*transport.Request) (*transport.Response, error) {
		if n.Add(1) < 3 {
			return &transport.Response{StatusCode: http.StatusBadGateway}, nil
		}
		return &transport.Response{
			StatusCode: http.StatusOK,
			Body:       []byte(`{"contentItemId":"srv-9"}`),
		}, nil
	})

	history, err := f.engine.RunSyncCycle(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, history.TasksCompleted)
	assert.Equal(t, 3, f.sender.callCount(), "502s consumed attempts before the 200 landed")
	assert.Equal(t, "srv-9", f.record(t, "rec-1").ContentItemID)
}

func TestContactReservationCompletesRedundantTask(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	rec := f.seedDirty(t, "contact-1", store.TaskTypeContacts, func(r *domain.Record) {
		r.SubID = "sub-1"
		r.IsNew = false
	})

	// Simulate another in-flight reconciliation of the same logical record.
	key := reservationKey(rec.ID, rec.SubID, rec.IsNew)
	require.True(t, f.engine.locks.Acquire(key))

	var progressed atomic.Int32
	history, err := f.engine.RunSyncCycle(ctx, func() { progressed.Add(1) })
	require.NoError(t, err)

	assert.Equal(t, 1, history.TasksCompleted)
	assert.Equal(t, int32(1), progressed.Load())
	assert.Equal(t, 0, f.sender.callCount(), "the covered mutation must not ship twice")
	f.soleTaskOf(t, store.TaskTypeContacts, store.TaskStatusCompleted)

	// Once the holder releases, the still-dirty record syncs normally.
	f.engine.locks.Release(key)
	_, err = f.engine.RunSyncCycle(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, f.sender.callCount())
	assert.False(t, f.record(t, rec.ID).IsEdited)
}

func TestContactReservationSingleRemoteCallUnderConcurrency(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.seedDirty(t, "contact-1", store.TaskTypeContacts, func(r *domain.Record) {
		r.SubID = "sub-1"
		r.IsEdited = false // queued directly below, not via the dirty scan
	})

	payload := &TaskPayload{RecordID: "contact-1", CaseID: "case-1", SubID: "sub-1", IsNew: true}
	_, err := f.queue.Enqueue(ctx, store.TaskTypeContacts, payload)
	require.NoError(t, err)
	_, err = f.queue.Enqueue(ctx, store.TaskTypeContacts, payload)
	require.NoError(t, err)

	f.sender.setRespond(func(*transport.Request) (*transport.Response, error) {
		time.Sleep(100 * time.Millisecond) // hold the reservation while the twin task runs
		return &transport.Response{StatusCode: http.StatusOK}, nil
	})

	history, err := f.engine.RunSyncCycle(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, history.TasksCompleted)
	assert.Equal(t, 1, f.sender.callCount(), "duplicate tasks collapse to one remote call")
}

func TestContactRequestNestsUnderCase(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.seedDirty(t, "contact-1", store.TaskTypeContacts, func(r *domain.Record) {
		r.CaseID = "case-42"
	})

	_, err := f.engine.RunSyncCycle(ctx, nil)
	require.NoError(t, err)

	require.Equal(t, 1, f.sender.callCount())
	req := f.sender.calls[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/api/cases/case-42/contacts", req.Path)
}

func TestAttachmentWaitsForBlobUpload(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.seedDirty(t, "att-1", store.TaskTypeAttachment)
	require.NoError(t, f.repo.AddFile(ctx, &domain.SyncFile{
		RecordID: "att-1",
		Name:     "evidence.jpg",
		Data:     []byte{0xFF, 0xD8, 0xFF},
	}))

	_, err := f.engine.RunSyncCycle(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"evidence.jpg"}, f.blobs.uploads)
	require.Equal(t, 1, f.sender.callCount())

	body, err := json.Marshal(f.sender.calls[0].Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "https://blobs/evidence.jpg")
	assert.NotContains(t, string(body), "0xFF", "payloads reference URLs, never bytes")

	files, err := f.repo.ListFiles(ctx, "att-1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.True(t, files[0].ReadyToSync)
	assert.Equal(t, "https://blobs/evidence.jpg", files[0].RemoteURL)
	assert.Nil(t, files[0].Data, "raw bytes dropped after upload")
}

func TestAttachmentDeferredWhileFileNotUploadable(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.seedDirty(t, "att-1", store.TaskTypeAttachment)
	require.NoError(t, f.repo.AddFile(ctx, &domain.SyncFile{
		RecordID: "att-1",
		Name:     "pending.jpg", // no bytes yet
	}))

	history, err := f.engine.RunSyncCycle(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, history.TasksProcessed, "record stays out until its files are ready")
	assert.Equal(t, 0, f.sender.callCount())

	count, err := f.engine.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestAttachmentDeferredOnFailedBlobUpload(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.blobs.err = errors.New("blob store unreachable")
	f.seedDirty(t, "att-1", store.TaskTypeAttachment)
	require.NoError(t, f.repo.AddFile(ctx, &domain.SyncFile{
		RecordID: "att-1",
		Name:     "evidence.jpg",
		Data:     []byte{0x01},
	}))

	history, err := f.engine.RunSyncCycle(ctx, nil)
	require.NoError(t, err, "a failed upload defers the record, it does not fail the cycle")
	assert.Equal(t, 0, history.TasksProcessed)
	assert.Equal(t, 0, f.sender.callCount())

	// Upload recovers, the record resumes.
	f.blobs.err = nil
	history, err = f.engine.RunSyncCycle(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, history.TasksCompleted)
}

func TestDocTreeRequestShipsHierarchy(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.seedDirty(t, "docs-1", store.TaskTypeAttachedDoc)
	require.NoError(t, f.repo.AddDocEntry(ctx, &domain.DocEntry{
		ID: "folder-1", RecordID: "docs-1", IsFolder: true, Name: "Evidence",
	}))
	require.NoError(t, f.repo.AddDocEntry(ctx, &domain.DocEntry{
		ID: "doc-1", RecordID: "docs-1", ParentID: "folder-1",
		Name: "photo.jpg", FileURL: "https://blobs/photo.jpg",
	}))

	_, err := f.engine.RunSyncCycle(ctx, nil)
	require.NoError(t, err)

	require.Equal(t, 1, f.sender.callCount())
	req := f.sender.calls[0]
	assert.Equal(t, "/api/cases/case-1/documents", req.Path)

	body, err := json.Marshal(req.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `"Evidence"`))
	assert.True(t, strings.Contains(string(body), `"photo.jpg"`))
}

func TestEditedFormUpdatesRemoteDocument(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.seedDirty(t, "form-1", store.TaskTypeEditedForm, func(r *domain.Record) {
		r.DocumentID = "doc-77"
	})

	_, err := f.engine.RunSyncCycle(ctx, nil)
	require.NoError(t, err)

	require.Equal(t, 1, f.sender.callCount())
	req := f.sender.calls[0]
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/api/forms/doc-77", req.Path)
}

func TestNotificationThrottledPerTypePerCycle(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.seedDirty(t, "rec-1", store.TaskTypeCase)
	f.seedDirty(t, "rec-2", store.TaskTypeCase)
	f.seedDirty(t, "lic-1", store.TaskTypeLicense)
	f.sender.setRespond(func(*transport.Request) (*transport.Response, error) {
		return nil, errors.New("connection refused")
	})

	n := newCountingNotifier()
	f.engine.SetNotifier(n)

	_, err := f.engine.RunSyncCycle(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, n.fired[store.TaskTypeCase], "two failing case tasks, one signal")
	assert.Equal(t, 1, n.fired[store.TaskTypeLicense])

	// A new cycle may signal again.
	_, err = f.engine.RunSyncCycle(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n.fired[store.TaskTypeCase])
}

func TestRunSyncCycleRejectsConcurrentCycle(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.seedDirty(t, "rec-1", store.TaskTypeCase)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.sender.setRespond(func(*transport.Request) (*transport.Response, error) {
		close(entered)
		<-release
		return &transport.Response{StatusCode: http.StatusOK}, nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.RunSyncCycle(ctx, nil)
		done <- err
	}()

	<-entered
	assert.Equal(t, "running", f.engine.Status())
	_, err := f.engine.RunSyncCycle(ctx, nil)
	assert.ErrorIs(t, err, errs.ErrSyncInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, "idle", f.engine.Status())
}

func TestEnqueueAndPendingCount(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	rec := f.seedDirty(t, "rec-1", store.TaskTypeCase)

	id, err := f.engine.Enqueue(ctx, store.TaskTypeCase, rec)
	require.NoError(t, err)
	assert.Positive(t, id)

	count, err := f.engine.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	task := f.task(t, id)
	payload, err := decodePayload(task)
	require.NoError(t, err)
	assert.Equal(t, "rec-1", payload.RecordID)
	assert.Equal(t, "case-1", payload.CaseID)
}

func TestRunSyncCycleSyncsSubScreenEditedRecord(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.seedDirty(t, "rec-1", store.TaskTypeCase, func(r *domain.Record) {
		r.IsEdited = false
		r.IsSubScreenEdited = true // child-table change, parent body untouched
	})

	history, err := f.engine.RunSyncCycle(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, history.TasksCompleted)
	assert.Equal(t, 1, f.sender.callCount())

	rec := f.record(t, "rec-1")
	assert.False(t, rec.IsSubScreenEdited, "cleared once the server confirms")
	assert.True(t, rec.IsSync)
}

func TestRunSyncCycleFailsCorruptQueuedTask(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.seedDirty(t, "rec-1", store.TaskTypeCase)

	// A queue row with no record id can never be matched back to a record.
	corruptID, err := f.queue.Enqueue(ctx, store.TaskTypeCase, map[string]string{})
	require.NoError(t, err)

	history, err := f.engine.RunSyncCycle(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, store.TaskStatusFailed, f.task(t, corruptID).Status)
	assert.Equal(t, 1, f.task(t, corruptID).RetryCount)

	// The corrupt row did not shadow the real record.
	assert.Equal(t, 1, history.TasksCompleted)
	assert.False(t, f.record(t, "rec-1").IsEdited)
}

func TestRunSyncCycleUnsupportedTaskTypeFails(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.queue.Enqueue(ctx, store.TaskType("hologram"), &TaskPayload{RecordID: "rec-1"})
	require.NoError(t, err)

	history, err := f.engine.RunSyncCycle(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, history.TasksFailed)
	assert.Equal(t, 0, f.sender.callCount())
}

func TestRunSyncCycleRecordsHistory(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.seedDirty(t, "rec-1", store.TaskTypeCase)

	history, err := f.engine.RunSyncCycle(ctx, nil)
	require.NoError(t, err)

	rows, err := f.queue.ListSyncHistory(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, history.ID, rows[0].ID)
	assert.Equal(t, "completed", rows[0].Status)
	assert.True(t, rows[0].CompletedAt.Valid)
	assert.Equal(t, 1, rows[0].TasksCompleted)
}
