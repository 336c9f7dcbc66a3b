package sync

import (
	"fmt"
	"sync"
)

// reservationTable guarantees at most one active remote mutation per logical
// record. Keys are composite record identity; acquisition is bound to the
// task's lifetime with release deferred on every exit path.
type reservationTable struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newReservationTable() *reservationTable {
	return &reservationTable{held: make(map[string]struct{})}
}

// Acquire reserves key. It returns false when another task already holds it,
// in which case the caller treats its own task as redundant.
func (r *reservationTable) Acquire(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.held[key]; ok {
		return false
	}
	r.held[key] = struct{}{}
	return true
}

func (r *reservationTable) Release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.held, key)
}

func reservationKey(recordID, subID string, isNew bool) string {
	return fmt.Sprintf("%s|%s|%t", recordID, subID, isNew)
}
