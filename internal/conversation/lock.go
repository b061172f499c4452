package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pavelanni/interviewer/internal/model"
)

// sessionLocks is a set of per-session exclusive locks that never block.
type sessionLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{held: make(map[string]struct{})}
}

func (l *sessionLocks) tryLock(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[id]; ok {
		return false
	}
	l.held[id] = struct{}{}
	return true
}

func (l *sessionLocks) unlock(id string) {
	l.mu.Lock()
	delete(l.held, id)
	l.mu.Unlock()
}

// acquire takes the session lock, retrying once after delay. The returned
// func releases it.
func (l *sessionLocks) acquire(ctx context.Context, id string, delay time.Duration) (func(), error) {
	for attempt := 0; attempt < 2; attempt++ {
		if l.tryLock(id) {
			return func() { l.unlock(id) }, nil
		}
		if attempt == 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
	}
	return nil, fmt.Errorf("%w: session %s is busy", model.ErrConcurrencyConflict, id)
}
