package sync

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"caseline-sync/internal/logger"
	"caseline-sync/internal/store"
)

const (
	defaultChunkSize         = 10
	defaultConcurrencyWindow = 5
)

// processBatch partitions tasks into sequential chunks of chunkSize and,
// within each chunk, runs windows of up to window tasks concurrently,
// waiting for a whole window before starting the next. Tasks already in a
// terminal state are skipped without consuming a concurrency slot. Failures
// stay isolated per task: a panicking run is recovered and never aborts
// siblings.
func processBatch(ctx context.Context, tasks []*store.SyncTask, chunkSize, window int, run func(ctx context.Context, task *store.SyncTask)) {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if window <= 0 {
		window = defaultConcurrencyWindow
	}

	for start := 0; start < len(tasks); start += chunkSize {
		if ctx.Err() != nil {
			return
		}

		end := min(start+chunkSize, len(tasks))
		chunk := tasks[start:end]

		active := make([]*store.SyncTask, 0, len(chunk))
		for _, task := range chunk {
			if task.Terminal() {
				continue
			}
			active = append(active, task)
		}

		logger.Log.Debug("Processing chunk",
			zap.Int("offset", start),
			zap.Int("size", len(chunk)),
			zap.Int("active", len(active)),
		)

		for w := 0; w < len(active); w += window {
			wEnd := min(w+window, len(active))

			var wg sync.WaitGroup
			for _, task := range active[w:wEnd] {
				wg.Add(1)
				go func(t *store.SyncTask) {
					defer wg.Done()
					defer func() {
						if r := recover(); r != nil {
							logger.Log.Error("Task handler panicked",
								zap.Int64("task_id", t.ID),
								zap.Any("panic", r),
							)
						}
					}()
					run(ctx, t)
				}(task)
			}
			wg.Wait()
		}
	}
}
