package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// lockTable serializes operations per document id. Acquisition waits a
// bounded time and then fails retryably instead of blocking indefinitely.
type lockTable struct {
	mu    sync.Mutex
	locks map[int64]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[int64]chan struct{})}
}

// acquire takes the lock for docID, waiting at most wait. The returned
// release function must be called exactly once. Returns ErrLockTimeout when
// the wait elapses and the context error when ctx is cancelled first.
func (t *lockTable) acquire(ctx context.Context, docID int64, wait time.Duration) (release func(), err error) {
	t.mu.Lock()
	sem, ok := t.locks[docID]
	if !ok {
		sem = make(chan struct{}, 1)
		t.locks[docID] = sem
	}
	t.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-timer.C:
		return nil, fmt.Errorf("document %d: %w", docID, ErrLockTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
