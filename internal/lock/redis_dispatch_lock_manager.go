package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"fieldsync/internal/constants"
)

// RedisDispatchLockManager leases locks through redislock with a TTL and a
// refresh goroutine, for deployments that already run Redis next to the
// shared queue database.
type RedisDispatchLockManager struct {
	locker *redislock.Client

	mu   sync.Mutex
	held map[int]*heldRedisLock
}

type heldRedisLock struct {
	lock *redislock.Lock
	stop chan struct{}
}

func NewRedisDispatchLockManager(client *redis.Client) *RedisDispatchLockManager {
	return &RedisDispatchLockManager{
		locker: redislock.New(client),
		held:   make(map[int]*heldRedisLock),
	}
}

func (l *RedisDispatchLockManager) Acquire(lockID int) error {
	return l.obtain(lockID, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 50),
	})
}

func (l *RedisDispatchLockManager) TryAcquire(lockID int) (bool, error) {
	err := l.obtain(lockID, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *RedisDispatchLockManager) Release(lockID int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	held, ok := l.held[lockID]
	if !ok {
		return nil
	}
	close(held.stop)
	delete(l.held, lockID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := held.lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func (l *RedisDispatchLockManager) obtain(lockID int, opts *redislock.Options) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[lockID]; ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lock, err := l.locker.Obtain(ctx, l.key(lockID), constants.LeaderLeaseTTL, opts)
	if err != nil {
		return err
	}

	held := &heldRedisLock{lock: lock, stop: make(chan struct{})}
	l.held[lockID] = held
	go l.refresh(lockID, held)
	return nil
}

func (l *RedisDispatchLockManager) refresh(lockID int, held *heldRedisLock) {
	ticker := time.NewTicker(constants.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-held.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			err := held.lock.Refresh(ctx, constants.LeaderLeaseTTL, nil)
			cancel()
			if err != nil {
				// Lease expired under us; another client may now lead.
				l.mu.Lock()
				if current, ok := l.held[lockID]; ok && current == held {
					delete(l.held, lockID)
				}
				l.mu.Unlock()
				return
			}
		}
	}
}

func (l *RedisDispatchLockManager) key(lockID int) string {
	return fmt.Sprintf("fieldsync:lock:%d", lockID)
}
