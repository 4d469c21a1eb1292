package trading

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "brokerdash/internal/errors"
)

func TestUserLocksFailFast(t *testing.T) {
	locks := NewUserLocks()

	unlock, err := locks.TryLock("u1", "sync")
	require.NoError(t, err)

	_, err = locks.TryLock("u1", "price refresh")
	assert.ErrorIs(t, err, apperrors.ErrSyncInProgress)
	assert.Contains(t, err.Error(), "sync already running")

	other, err := locks.TryLock("u2", "sync")
	require.NoError(t, err)
	other()

	op, running := locks.Running("u1")
	assert.True(t, running)
	assert.Equal(t, "sync", op)

	unlock()
	unlock()
	_, running = locks.Running("u1")
	assert.False(t, running)
}

func TestUserLocksSingleWinner(t *testing.T) {
	locks := NewUserLocks()

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		start   = make(chan struct{})
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := locks.TryLock("u1", "sync"); err == nil {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}
