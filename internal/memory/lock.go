package memory

import (
	"context"
	"sync"
	"time"

	"github.com/guess-leaderboard/internal/domain"
)

// rowLocks hands out one exclusive lock per player id. Acquisition waits at
// most timeout and then fails with domain.ErrConcurrentRequest.
type rowLocks struct {
	mu      sync.Mutex
	locks   map[int64]chan struct{}
	timeout time.Duration
}

func newRowLocks(timeout time.Duration) *rowLocks {
	return &rowLocks{
		locks:   make(map[int64]chan struct{}),
		timeout: timeout,
	}
}

func (l *rowLocks) slot(playerID int64) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.locks[playerID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[playerID] = ch
	}
	return ch
}

// acquire blocks until the player's lock is held and returns its release func.
func (l *rowLocks) acquire(ctx context.Context, playerID int64) (func(), error) {
	ch := l.slot(playerID)

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-timer.C:
		return nil, domain.ErrConcurrentRequest
	case <-ctx.Done():
		return nil, domain.ErrConcurrentRequest
	}
}
