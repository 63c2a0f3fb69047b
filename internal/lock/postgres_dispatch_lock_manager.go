package lock

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// PostgresDispatchLockManager rides on session-scoped advisory locks, so the
// heartbeat comes for free: the lock dies with the connection. Each held lock
// pins a dedicated connection for its lifetime; going through the pool would
// let Release run on a different session than Acquire and silently not unlock.
type PostgresDispatchLockManager struct {
	db *sql.DB

	mu   sync.Mutex
	held map[int]*sql.Conn
}

func NewPostgresDispatchLockManager(db *sql.DB) *PostgresDispatchLockManager {
	return &PostgresDispatchLockManager{
		db:   db,
		held: make(map[int]*sql.Conn),
	}
}

func (l *PostgresDispatchLockManager) Acquire(lockID int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[lockID]; ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", lockID); err != nil {
		conn.Close()
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	l.held[lockID] = conn
	return nil
}

func (l *PostgresDispatchLockManager) TryAcquire(lockID int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[lockID]; ok {
		return true, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to try lock: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("failed to try lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}

	l.held[lockID] = conn
	return true, nil
}

func (l *PostgresDispatchLockManager) Release(lockID int) error {
	l.mu.Lock()
	conn, ok := l.held[lockID]
	delete(l.held, lockID)
	l.mu.Unlock()
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", lockID)
	conn.Close()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
