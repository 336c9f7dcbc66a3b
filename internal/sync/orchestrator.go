package sync

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"caseline-sync/internal/config"
	"caseline-sync/internal/domain"
	"caseline-sync/internal/errs"
	"caseline-sync/internal/logger"
	"caseline-sync/internal/store"
	"caseline-sync/internal/transport"
)

// Engine drains the sync queue: it enqueues freshly-dirtied records, sorts
// pending tasks globally by creation time and drives them through the batch
// processor, retry executor and conflict resolver.
type Engine struct {
	cfg      config.SyncConfig
	queue    store.Store
	repo     domain.Repository
	handlers map[store.TaskType]Handler
	files    *filePhase
	locks    *reservationTable
	retry    *RetryExecutor
	notifier *throttledNotifier

	mu      sync.Mutex
	running bool
}

func NewEngine(cfg config.SyncConfig, queue store.Store, repo domain.Repository, sender transport.Sender, blobs transport.BlobUploader) *Engine {
	files := &filePhase{repo: repo, blobs: blobs}
	return &Engine{
		cfg:      cfg,
		queue:    queue,
		repo:     repo,
		handlers: defaultHandlers(repo, sender, files),
		files:    files,
		locks:    newReservationTable(),
		retry:    NewRetryExecutor(cfg.MaxRetries, cfg.GetBaseDelay()),
		notifier: newThrottledNotifier(logNotifier{}),
	}
}

// SetNotifier routes per-type failure notifications to a caller-supplied
// sink (a toast presenter, typically) instead of the log.
func (e *Engine) SetNotifier(n Notifier) {
	if n != nil {
		e.notifier = newThrottledNotifier(n)
	}
}

// Status reports "running" while a cycle is draining, "idle" otherwise.
func (e *Engine) Status() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return "running"
	}
	return "idle"
}

// Enqueue appends one task for a record. Normal operation goes through
// RunSyncCycle, which enqueues every dirty record itself; this is the direct
// entry point for callers that already hold the record.
func (e *Engine) Enqueue(ctx context.Context, t store.TaskType, rec *domain.Record) (int64, error) {
	return e.queue.Enqueue(ctx, t, &TaskPayload{
		RecordID: rec.ID,
		CaseID:   rec.CaseID,
		SubID:    rec.SubID,
		IsNew:    rec.IsNew,
	})
}

// PendingCount returns the number of tasks awaiting reconciliation.
func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	return e.queue.CountPending(ctx)
}

// cycleCounters aggregates per-task outcomes; tasks run concurrently.
type cycleCounters struct {
	mu        sync.Mutex
	completed int
	failed    int
	conflicts int
}

func (c *cycleCounters) addCompleted() { c.mu.Lock(); c.completed++; c.mu.Unlock() }
func (c *cycleCounters) addFailed()    { c.mu.Lock(); c.failed++; c.mu.Unlock() }
func (c *cycleCounters) addConflict()  { c.mu.Lock(); c.conflicts++; c.mu.Unlock() }

// RunSyncCycle performs one full reconciliation pass. onProgress fires on
// every terminal completed outcome so UI counters reflect confirmed state
// only; it may be nil. A second cycle requested while one is draining gets
// errs.ErrSyncInProgress.
func (e *Engine) RunSyncCycle(ctx context.Context, onProgress func()) (*store.SyncHistory, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, errs.ErrSyncInProgress
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	e.notifier.reset()

	history := &store.SyncHistory{
		ID:        uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Status:    "running",
	}
	if err := e.queue.CreateSyncHistory(ctx, history); err != nil {
		return nil, errs.Storage(fmt.Errorf("failed to record cycle start: %w", err))
	}

	logger.Log.Info("Starting sync cycle", zap.String("cycle_id", history.ID))

	err := e.runCycle(ctx, history, onProgress)

	history.CompletedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	if err != nil {
		history.Status = "failed"
		history.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
	} else {
		history.Status = "completed"
	}
	if uErr := e.queue.UpdateSyncHistory(ctx, history); uErr != nil {
		logger.Log.Error("Failed to finalize cycle history", zap.Error(uErr))
	}

	logger.Log.Info("Sync cycle finished",
		zap.String("cycle_id", history.ID),
		zap.String("status", history.Status),
		zap.Int("processed", history.TasksProcessed),
		zap.Int("completed", history.TasksCompleted),
		zap.Int("failed", history.TasksFailed),
		zap.Int("conflicts", history.Conflicts),
	)

	return history, err
}

func (e *Engine) runCycle(ctx context.Context, history *store.SyncHistory, onProgress func()) error {
	if err := e.enqueueDirty(ctx); err != nil {
		return err
	}

	tasks, err := e.queue.ListAllPending(ctx)
	if err != nil {
		return errs.Storage(err)
	}
	history.TasksProcessed = len(tasks)

	counters := &cycleCounters{}
	processBatch(ctx, tasks, e.cfg.ChunkSize, e.cfg.ConcurrencyWindow, func(ctx context.Context, task *store.SyncTask) {
		e.runTask(ctx, task, onProgress, counters)
	})

	history.TasksCompleted = counters.completed
	history.TasksFailed = counters.failed
	history.Conflicts = counters.conflicts

	if _, err := e.queue.DeleteCompleted(ctx, time.Now().Add(-e.cfg.GetPurgeAfter())); err != nil {
		logger.Log.Warn("Completed-task purge failed", zap.Error(err))
	}

	return ctx.Err()
}

// enqueueDirty wraps every dirty record as a task. Binary-bearing records
// pass through the two-phase gate first; a record with files still in phase
// one stays out of this cycle. A record that already has an active task is
// not enqueued twice: a failed task is explicitly reactivated instead,
// keeping its accumulated retry count.
func (e *Engine) enqueueDirty(ctx context.Context) error {
	for _, t := range store.TaskTypes {
		dirty, err := e.repo.FetchDirtyRecords(ctx, t)
		if err != nil {
			return errs.Storage(err)
		}
		if len(dirty) == 0 {
			continue
		}

		active, err := e.activeTasksByRecord(ctx, t)
		if err != nil {
			return err
		}

		for _, rec := range dirty {
			if binaryType(t) {
				ready, err := e.files.ensureFilesReady(ctx, rec.ID)
				if err != nil {
					return err
				}
				if !ready {
					continue
				}
			}

			if existing, ok := active[rec.ID]; ok {
				if existing.Status == store.TaskStatusFailed {
					if err := e.queue.UpdateStatus(ctx, existing.ID, store.TaskStatusPending, existing.RetryCount); err != nil {
						return errs.Storage(err)
					}
				}
				continue
			}

			if _, err := e.Enqueue(ctx, t, rec); err != nil {
				return errs.Storage(err)
			}
		}
	}
	return nil
}

// activeTasksByRecord maps record id to its live task for one type.
func (e *Engine) activeTasksByRecord(ctx context.Context, t store.TaskType) (map[string]*store.SyncTask, error) {
	active := make(map[string]*store.SyncTask)
	for _, status := range []store.TaskStatus{store.TaskStatusPending, store.TaskStatusProcessing, store.TaskStatusFailed} {
		tasks, err := e.queue.ListByStatus(ctx, t, status)
		if err != nil {
			return nil, errs.Storage(err)
		}
		for _, task := range tasks {
			payload, err := decodePayload(task)
			if err != nil {
				// A task whose payload cannot be decoded can never run; fail
				// it so it leaves the active pool instead of shadowing the
				// record it might have addressed.
				logger.Log.Error("Failing task with corrupt payload",
					zap.Int64("task_id", task.ID),
					zap.Error(err),
				)
				if status != store.TaskStatusFailed {
					if uErr := e.queue.UpdateStatus(ctx, task.ID, store.TaskStatusFailed, task.RetryCount+1); uErr != nil {
						logger.Log.Error("Failed to mark corrupt task failed", zap.Int64("task_id", task.ID), zap.Error(uErr))
					}
				}
				continue
			}
			active[payload.RecordID] = task
		}
	}
	return active, nil
}

// runTask processes one queued task inside a concurrency window. Contact
// tasks reserve their composite record key first; losing the reservation
// means another in-flight task already covers the mutation, so the task
// completes without a remote call.
func (e *Engine) runTask(ctx context.Context, task *store.SyncTask, onProgress func(), counters *cycleCounters) {
	if task.Terminal() {
		return
	}

	if task.Type == store.TaskTypeContacts {
		payload, err := decodePayload(task)
		if err != nil {
			e.failTask(ctx, task, err, counters)
			return
		}

		key := reservationKey(payload.RecordID, payload.SubID, payload.IsNew)
		if !e.locks.Acquire(key) {
			logger.Log.Debug("Record already being synced, marking task redundant",
				zap.Int64("task_id", task.ID),
				zap.String("key", key),
			)
			if err := e.queue.UpdateStatus(ctx, task.ID, store.TaskStatusCompleted, task.RetryCount); err != nil {
				logger.Log.Error("Failed to complete redundant task", zap.Int64("task_id", task.ID), zap.Error(err))
				return
			}
			counters.addCompleted()
			if onProgress != nil {
				onProgress()
			}
			return
		}
		defer e.locks.Release(key)
	}

	e.execute(ctx, task, onProgress, counters)
}

// execute drives one task through processing, the retry executor and the
// resolver.
func (e *Engine) execute(ctx context.Context, task *store.SyncTask, onProgress func(), counters *cycleCounters) {
	handler, ok := e.handlers[task.Type]
	if !ok {
		e.failTask(ctx, task, fmt.Errorf("%w: %s", errs.ErrUnsupportedTaskType, task.Type), counters)
		return
	}

	if err := e.queue.UpdateStatus(ctx, task.ID, store.TaskStatusProcessing, task.RetryCount); err != nil {
		logger.Log.Error("Failed to mark task processing", zap.Int64("task_id", task.ID), zap.Error(err))
		counters.addFailed()
		return
	}

	var result *HandleResult
	var resolution Resolution

	err := e.retry.Do(ctx, func(ctx context.Context) error {
		r, err := handler.Handle(ctx, task)
		if err != nil {
			return err
		}

		res := Resolve(r.Response.StatusCode, r.Record.IsForceSync)
		if res.Action == ActionRetry {
			return &errs.RemoteStatusError{Code: r.Response.StatusCode}
		}

		result = r
		resolution = res
		return nil
	})
	if err != nil {
		e.failTask(ctx, task, err, counters)
		return
	}

	e.applyResolution(ctx, task, result, resolution, onProgress, counters)
}

// failTask marks a task failed, incrementing its retry count by exactly one
// per cycle so repeated cycles accumulate a retry history. A forced attempt
// that fails goes back to force_sync instead: once a record is parked, the
// explicit resubmission endpoint must stay able to reach it.
func (e *Engine) failTask(ctx context.Context, task *store.SyncTask, cause error, counters *cycleCounters) {
	status := store.TaskStatusFailed
	if task.Status == store.TaskStatusForceSync {
		status = store.TaskStatusForceSync
	}

	logger.Log.Warn("Task failed",
		zap.Int64("task_id", task.ID),
		zap.String("type", string(task.Type)),
		zap.String("status", string(status)),
		zap.Int("retry_count", task.RetryCount+1),
		zap.Error(cause),
	)

	if err := e.queue.UpdateStatus(ctx, task.ID, status, task.RetryCount+1); err != nil {
		logger.Log.Error("Failed to mark task failed", zap.Int64("task_id", task.ID), zap.Error(err))
	}

	counters.addFailed()
	e.notifier.SyncFailed(task.Type, cause)
}

// applyResolution carries out the resolver's verdict on the task and the
// record's dirty flags.
func (e *Engine) applyResolution(ctx context.Context, task *store.SyncTask, result *HandleResult, res Resolution, onProgress func(), counters *cycleCounters) {
	rec := result.Record

	switch res.Action {
	case ActionCommit:
		forced := rec.IsForceSync
		fields := decodeServerFields(result.Response.Body)

		if forced {
			// The forced overwrite is authoritative; confirmation, success
			// flags and leftover-artifact purge commit as one transaction.
			if err := e.repo.ConfirmForceSync(ctx, rec, fields); err != nil {
				e.failTask(ctx, task, errs.Storage(err), counters)
				return
			}
		} else if err := e.repo.ApplyServerConfirmation(ctx, rec, fields); err != nil {
			e.failTask(ctx, task, errs.Storage(err), counters)
			return
		}

		action := "synced"
		if forced {
			action = "force_synced"
		}
		if err := e.repo.AppendHistory(ctx, &domain.HistoryEntry{
			RecordID:   rec.ID,
			RecordType: task.Type,
			Action:     action,
		}); err != nil {
			logger.Log.Warn("Failed to append record history", zap.String("record_id", rec.ID), zap.Error(err))
		}

	case ActionConflict:
		if err := e.repo.MarkConflict(ctx, rec); err != nil {
			e.failTask(ctx, task, errs.Storage(err), counters)
			return
		}
		counters.addConflict()
		logger.Log.Info("Conflict detected, task parked for force sync",
			zap.Int64("task_id", task.ID),
			zap.String("record_id", rec.ID),
		)

	case ActionPermission:
		if err := e.repo.MarkPermissionBlocked(ctx, rec); err != nil {
			e.failTask(ctx, task, errs.Storage(err), counters)
			return
		}

	case ActionDuplicate:
		if err := e.repo.DeleteRedundantArtifacts(ctx, rec.ID); err != nil {
			logger.Log.Warn("Duplicate cleanup failed", zap.String("record_id", rec.ID), zap.Error(err))
		}
	}

	if err := e.queue.UpdateStatus(ctx, task.ID, res.Status, task.RetryCount); err != nil {
		logger.Log.Error("Failed to finalize task", zap.Int64("task_id", task.ID), zap.Error(err))
		counters.addFailed()
		return
	}

	if res.Status == store.TaskStatusCompleted {
		counters.addCompleted()
		if onProgress != nil {
			onProgress()
		}
	}
}

// ForceSync explicitly resubmits a conflicted task through the same handler
// with conflict detection bypassed. force_sync tasks are never auto-retried;
// this call is the only way back in.
func (e *Engine) ForceSync(ctx context.Context, taskID int64) error {
	task, err := e.queue.GetTask(ctx, taskID)
	if err != nil {
		return errs.Storage(err)
	}
	if task == nil {
		return fmt.Errorf("task %d not found", taskID)
	}
	if task.Status != store.TaskStatusForceSync {
		return fmt.Errorf("task %d is %s, not force_sync", taskID, task.Status)
	}

	logger.Log.Info("Force syncing task", zap.Int64("task_id", task.ID), zap.String("type", string(task.Type)))

	counters := &cycleCounters{}
	e.execute(ctx, task, nil, counters)

	if counters.failed > 0 {
		return fmt.Errorf("force sync of task %d failed", taskID)
	}
	return nil
}
