package sync

import (
	"sync"

	"go.uber.org/zap"

	"caseline-sync/internal/logger"
	"caseline-sync/internal/store"
)

// Notifier receives one user-facing failure signal per task type per cycle.
type Notifier interface {
	SyncFailed(t store.TaskType, err error)
}

// logNotifier is the default sink when no UI callback is wired in.
type logNotifier struct{}

func (logNotifier) SyncFailed(t store.TaskType, err error) {
	logger.Log.Warn("Sync failed for task type",
		zap.String("type", string(t)),
		zap.Error(err),
	)
}

// throttledNotifier deduplicates failure signals per task type so a batch of
// failing tasks produces a single notification instead of a storm. Reset at
// the start of each cycle.
type throttledNotifier struct {
	mu   sync.Mutex
	seen map[store.TaskType]bool
	next Notifier
}

func newThrottledNotifier(next Notifier) *throttledNotifier {
	return &throttledNotifier{
		seen: make(map[store.TaskType]bool),
		next: next,
	}
}

func (n *throttledNotifier) SyncFailed(t store.TaskType, err error) {
	n.mu.Lock()
	already := n.seen[t]
	n.seen[t] = true
	n.mu.Unlock()

	if already {
		return
	}
	n.next.SyncFailed(t, err)
}

func (n *throttledNotifier) reset() {
	n.mu.Lock()
	n.seen = make(map[store.TaskType]bool)
	n.mu.Unlock()
}
