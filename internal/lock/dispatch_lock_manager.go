package lock

// DispatchLockManager elects a single active dispatcher among clients sharing
// one queue store. TryAcquire is the non-blocking form used before a replay
// pass; a held lock is kept alive by a heartbeat so leadership hands off when
// the holder dies.
type DispatchLockManager interface {
	Acquire(lockID int) error
	TryAcquire(lockID int) (bool, error)
	Release(lockID int) error
}
