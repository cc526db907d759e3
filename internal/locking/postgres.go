package locking

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sync"

	"gorm.io/gorm"
)

// PostgresLocker implements Locker with session-level advisory locks.
// Each held key pins its own pooled connection because pg advisory locks
// belong to the session that took them.
type PostgresLocker struct {
	db *sql.DB

	mu sync.Mutex
	// held maps each key to its pinned connection; nil while being acquired.
	held map[ResourceKey]*sql.Conn
}

// NewPostgresLocker creates a locker backed by the connection pool of db.
func NewPostgresLocker(db *gorm.DB) (*PostgresLocker, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying DB: %w", err)
	}
	return &PostgresLocker{db: sqlDB, held: make(map[ResourceKey]*sql.Conn)}, nil
}

func advisoryArgs(key ResourceKey) (int32, int32, error) {
	if key.ID < math.MinInt32 || key.ID > math.MaxInt32 {
		return 0, 0, fmt.Errorf("resource id %d does not fit an advisory lock key", key.ID)
	}
	return int32(key.Kind), int32(key.ID), nil
}

// TryLock runs pg_try_advisory_lock on a dedicated connection. A key already
// held or being acquired by this process is reported as busy rather than
// re-entered. The mutex only guards the reservation, never the round trip.
func (l *PostgresLocker) TryLock(ctx context.Context, key ResourceKey) (bool, error) {
	kind, id, err := advisoryArgs(key)
	if err != nil {
		return false, err
	}

	l.mu.Lock()
	if _, ok := l.held[key]; ok {
		l.mu.Unlock()
		return false, nil
	}
	l.held[key] = nil
	l.mu.Unlock()

	conn, acquired, err := l.tryAdvisoryLock(ctx, kind, id)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil || !acquired {
		delete(l.held, key)
		return false, err
	}
	l.held[key] = conn
	return true, nil
}

func (l *PostgresLocker) tryAdvisoryLock(ctx context.Context, kind, id int32) (*sql.Conn, bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("getting connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1, $2)", kind, id).Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, false, fmt.Errorf("pg_try_advisory_lock: %w", err)
	}
	if !acquired {
		_ = conn.Close()
		return nil, false, nil
	}
	return conn, true, nil
}

// Unlock releases the advisory lock and returns its connection to the pool.
func (l *PostgresLocker) Unlock(ctx context.Context, key ResourceKey) error {
	kind, id, err := advisoryArgs(key)
	if err != nil {
		return err
	}

	l.mu.Lock()
	conn := l.held[key]
	if conn != nil {
		delete(l.held, key)
	}
	l.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("lock %s is not held", key)
	}
	defer func() { _ = conn.Close() }()

	var released bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1, $2)", kind, id).Scan(&released); err != nil {
		return fmt.Errorf("pg_advisory_unlock: %w", err)
	}
	if !released {
		return fmt.Errorf("lock %s was not held by its session", key)
	}
	return nil
}
