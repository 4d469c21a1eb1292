package trading

import (
	"sync"

	apperrors "brokerdash/internal/errors"
)

// UserLocks allows at most one sync-type operation per user at a time.
// A second attempt fails immediately instead of queueing.
type UserLocks struct {
	mu   sync.Mutex
	busy map[string]string
}

// NewUserLocks creates an empty lock set.
func NewUserLocks() *UserLocks {
	return &UserLocks{busy: make(map[string]string)}
}

// TryLock marks userID busy with op and returns the release func. It returns
// errors.ErrSyncInProgress if the user already has an operation running.
func (l *UserLocks) TryLock(userID, op string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if running, ok := l.busy[userID]; ok {
		return nil, apperrors.Wrapf(apperrors.ErrSyncInProgress, "%s already running", running)
	}
	l.busy[userID] = op

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.busy, userID)
			l.mu.Unlock()
		})
	}, nil
}

// Running returns the operation holding userID's lock, if any.
func (l *UserLocks) Running(userID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	op, ok := l.busy[userID]
	return op, ok
}
