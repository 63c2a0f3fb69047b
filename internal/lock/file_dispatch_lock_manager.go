package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"fieldsync/internal/constants"
)

// lockRecord is the on-disk lease: owner id plus last heartbeat. A lapsed
// heartbeat (older than the lease TTL) means the owner is gone and the lock
// may be taken over.
type lockRecord struct {
	Owner     string    `json:"owner"`
	Heartbeat time.Time `json:"heartbeat"`
}

// FileDispatchLockManager elects a leader among client processes sharing one
// queue directory. The lock is a JSON lease file renewed by a heartbeat
// goroutine while held.
type FileDispatchLockManager struct {
	dir   string
	owner string
	ttl   time.Duration

	mu   sync.Mutex
	held map[int]chan struct{}
}

func NewFileDispatchLockManager(dir, owner string) *FileDispatchLockManager {
	return &FileDispatchLockManager{
		dir:   dir,
		owner: owner,
		ttl:   constants.LeaderLeaseTTL,
		held:  make(map[int]chan struct{}),
	}
}

func (l *FileDispatchLockManager) Acquire(lockID int) error {
	deadline := time.Now().Add(5 * time.Second)
	for {
		ok, err := l.TryAcquire(lockID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("failed to acquire lock %d: held by another client", lockID)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (l *FileDispatchLockManager) TryAcquire(lockID int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[lockID]; ok {
		return true, nil
	}

	current, err := l.readLease(lockID)
	if err != nil {
		return false, err
	}
	if current != nil && current.Owner != l.owner && time.Since(current.Heartbeat) < l.ttl {
		return false, nil
	}

	if err := l.writeLease(lockID); err != nil {
		return false, err
	}

	// Two processes can race the rename; whoever landed last owns the file.
	// Re-read after a short settle so the loser backs off.
	time.Sleep(25 * time.Millisecond)
	current, err = l.readLease(lockID)
	if err != nil {
		return false, err
	}
	if current == nil || current.Owner != l.owner {
		return false, nil
	}

	stop := make(chan struct{})
	l.held[lockID] = stop
	go l.heartbeat(lockID, stop)
	return true, nil
}

func (l *FileDispatchLockManager) Release(lockID int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	stop, ok := l.held[lockID]
	if !ok {
		return nil
	}
	close(stop)
	delete(l.held, lockID)

	current, err := l.readLease(lockID)
	if err != nil {
		return err
	}
	if current != nil && current.Owner == l.owner {
		if err := os.Remove(l.leasePath(lockID)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to release lock %d: %w", lockID, err)
		}
	}
	return nil
}

func (l *FileDispatchLockManager) heartbeat(lockID int, stop chan struct{}) {
	ticker := time.NewTicker(constants.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			if _, ok := l.held[lockID]; !ok {
				l.mu.Unlock()
				return
			}
			current, err := l.readLease(lockID)
			if err == nil && current != nil && current.Owner == l.owner {
				_ = l.writeLease(lockID)
			} else {
				// Leadership was taken over; stop renewing.
				delete(l.held, lockID)
				l.mu.Unlock()
				return
			}
			l.mu.Unlock()
		}
	}
}

func (l *FileDispatchLockManager) leasePath(lockID int) string {
	return filepath.Join(l.dir, fmt.Sprintf("lock-%d.json", lockID))
}

func (l *FileDispatchLockManager) readLease(lockID int) (*lockRecord, error) {
	raw, err := os.ReadFile(l.leasePath(lockID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read lock %d: %w", lockID, err)
	}

	var rec lockRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		// Treat an unreadable lease as absent; a half-written file must not
		// wedge dispatching forever.
		return nil, nil
	}
	return &rec, nil
}

func (l *FileDispatchLockManager) writeLease(lockID int) error {
	rec := lockRecord{Owner: l.owner, Heartbeat: time.Now().UTC()}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	tmp := l.leasePath(lockID) + "." + l.owner + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write lock %d: %w", lockID, err)
	}
	if err := os.Rename(tmp, l.leasePath(lockID)); err != nil {
		return fmt.Errorf("commit lock %d: %w", lockID, err)
	}
	return nil
}
