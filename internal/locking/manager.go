package locking

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gainy-app/gainy-compute-sub000/internal/logger"
	"github.com/gainy-app/gainy-compute-sub000/internal/retry"
)

// DefaultLockTimeout bounds how long a template waits for its lock.
const DefaultLockTimeout = 10 * time.Second

// DefaultPessimisticTries is the attempt budget of WithPessimisticLock when
// the caller passes zero.
const DefaultPessimisticTries = 3

// Manager runs the transaction templates against one database and locker.
type Manager struct {
	db      *gorm.DB
	locker  Locker
	timeout time.Duration
	policy  func(maxTries int) retry.Policy
	log     *zap.SugaredLogger
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout sets the lock acquisition timeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithRetryPolicy overrides the backoff used between template attempts.
func WithRetryPolicy(fn func(maxTries int) retry.Policy) Option {
	return func(m *Manager) { m.policy = fn }
}

// NewManager creates a Manager.
func NewManager(db *gorm.DB, locker Locker, opts ...Option) *Manager {
	m := &Manager{
		db:      db,
		locker:  locker,
		timeout: DefaultLockTimeout,
		policy:  retry.DefaultPolicy,
		log:     logger.Get(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DB returns the database handle used outside of transactions.
func (m *Manager) DB() *gorm.DB { return m.db }

// Locker returns the underlying locker.
func (m *Manager) Locker() Locker { return m.locker }

// Timeout returns the lock acquisition timeout.
func (m *Manager) Timeout() time.Duration { return m.timeout }

// PessimisticTx describes a lock-reload-mutate-commit unit of work.
type PessimisticTx[T Versioned] struct {
	// Load reads the current version anchor. It is called once outside the
	// lock to learn the key and again inside the transaction.
	Load func(ctx context.Context, db *gorm.DB) (T, error)
	// Persist writes the anchor after its version has been bumped.
	Persist func(ctx context.Context, tx *gorm.DB, v T) error
	// Mutate performs the guarded state change.
	Mutate func(ctx context.Context, tx *gorm.DB, v T) error
}

// WithPessimisticLock serializes all writers of one resource key. Lock
// timeouts are retried up to maxTries times.
func WithPessimisticLock[T Versioned](ctx context.Context, m *Manager, op PessimisticTx[T], maxTries int) (T, error) {
	if maxTries <= 0 {
		maxTries = DefaultPessimisticTries
	}

	var result T
	err := retry.Do(ctx, m.policy(maxTries), IsLockTimeout, func(ctx context.Context) error {
		v0, err := op.Load(ctx, m.db.WithContext(ctx))
		if err != nil {
			return err
		}
		key := v0.ResourceKey()

		return WithLock(ctx, m.locker, key, m.timeout, func(ctx context.Context) error {
			return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				v1, err := op.Load(ctx, tx)
				if err != nil {
					return err
				}
				v1.BumpVersion()
				if err := op.Persist(ctx, tx, v1); err != nil {
					return err
				}
				if op.Mutate != nil {
					if err := op.Mutate(ctx, tx, v1); err != nil {
						return err
					}
				}
				result = v1
				return nil
			})
		})
	})
	if err != nil && IsLockTimeout(err) {
		m.log.Warnw("pessimistic transaction gave up waiting for lock",
			"error", err,
			"max_tries", maxTries,
		)
	}
	return result, err
}

// OptimisticTx describes a prepare-outside, validate-and-commit-inside unit of work.
type OptimisticTx[T Versioned, P any] struct {
	// Load reads the version anchor.
	Load func(ctx context.Context, db *gorm.DB) (T, error)
	// Prepare computes the entities to commit. It runs without the lock and
	// may be expensive.
	Prepare func(ctx context.Context, db *gorm.DB, v T) (P, error)
	// Persist writes the anchor after its version has been bumped.
	Persist func(ctx context.Context, tx *gorm.DB, v T) error
	// Commit writes the prepared entities.
	Commit func(ctx context.Context, tx *gorm.DB, v T, prepared P) error
}

// WithOptimisticLock prepares entities outside of the lock and holds the lock
// only to check that the anchor version is unchanged and commit. Lock timeouts
// and version conflicts are retried up to maxTries times.
func WithOptimisticLock[T Versioned, P any](ctx context.Context, m *Manager, op OptimisticTx[T, P], maxTries int) (P, error) {
	if maxTries <= 0 {
		maxTries = DefaultPessimisticTries
	}

	var committed P
	err := retry.Do(ctx, m.policy(maxTries), isOptimisticRetryable, func(ctx context.Context) error {
		db := m.db.WithContext(ctx)
		v0, err := op.Load(ctx, db)
		if err != nil {
			return err
		}
		prepared, err := op.Prepare(ctx, db, v0)
		if err != nil {
			return err
		}
		key := v0.ResourceKey()

		return WithLock(ctx, m.locker, key, m.timeout, func(ctx context.Context) error {
			return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				v1, err := op.Load(ctx, tx)
				if err != nil {
					return err
				}
				if v1.GetVersion() != v0.GetVersion() {
					return &ConcurrentVersionUpdateError{Key: key, Expected: v0.GetVersion(), Actual: v1.GetVersion()}
				}
				v1.BumpVersion()
				if err := op.Persist(ctx, tx, v1); err != nil {
					return err
				}
				if err := op.Commit(ctx, tx, v1, prepared); err != nil {
					return err
				}
				committed = prepared
				return nil
			})
		})
	})
	if err != nil && isOptimisticRetryable(err) {
		m.log.Warnw("optimistic transaction exhausted retries",
			"error", err,
			"max_tries", maxTries,
		)
	}
	return committed, err
}

func isOptimisticRetryable(err error) bool {
	return IsLockTimeout(err) || IsConcurrentUpdate(err)
}
