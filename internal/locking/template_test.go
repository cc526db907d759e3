package locking_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gainy-app/gainy-compute-sub000/internal/locking"
	"github.com/gainy-app/gainy-compute-sub000/internal/retry"
	"github.com/gainy-app/gainy-compute-sub000/internal/testutil"
)

// counter is a minimal version anchor.
type counter struct {
	ID      int64 `gorm:"primaryKey;autoIncrement:false"`
	Version int   `gorm:"not null;default:0"`
	Value   int   `gorm:"not null;default:0"`
}

func (c *counter) ResourceKey() locking.ResourceKey {
	return locking.ResourceKey{Kind: locking.KindPortfolio, ID: c.ID}
}
func (c *counter) GetVersion() int { return c.Version }
func (c *counter) BumpVersion()    { c.Version++ }

// increment is one committed step recorded inside the critical section.
type increment struct {
	ID      int64 `gorm:"primaryKey;autoIncrement"`
	Version int   `gorm:"not null;uniqueIndex"`
}

func loadCounter(id int64) func(context.Context, *gorm.DB) (*counter, error) {
	return func(_ context.Context, db *gorm.DB) (*counter, error) {
		var c counter
		err := db.First(&c, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &counter{ID: id}, nil
		}
		return &c, err
	}
}

func persistCounter(_ context.Context, tx *gorm.DB, c *counter) error {
	return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(c).Error
}

func fastPolicy(maxTries int) retry.Policy {
	return retry.Policy{MaxTries: maxTries, Base: 2, Factor: time.Millisecond, Jitter: retry.HalfJitter}
}

func setup(t *testing.T) (*gorm.DB, *locking.Manager) {
	t.Helper()
	db := testutil.SetupTestDB(t, &counter{}, &increment{})
	t.Cleanup(func() { testutil.TeardownTestDB(t, db) })
	m := locking.NewManager(db, locking.NewMemoryLocker(),
		locking.WithTimeout(5*time.Second),
		locking.WithRetryPolicy(fastPolicy),
	)
	return db, m
}

func TestWithPessimisticLock(t *testing.T) {
	t.Run("concurrent_increments_are_not_lost", func(t *testing.T) {
		db, m := setup(t)
		const workers, perWorker = 4, 5

		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					_, err := locking.WithPessimisticLock(context.Background(), m, locking.PessimisticTx[*counter]{
						Load:    loadCounter(1),
						Persist: persistCounter,
						Mutate: func(_ context.Context, tx *gorm.DB, c *counter) error {
							return tx.Create(&increment{Version: c.Version}).Error
						},
					}, 3)
					assert.NoError(t, err)
				}
			}()
		}
		wg.Wait()

		var c counter
		require.NoError(t, db.First(&c, 1).Error)
		assert.Equal(t, workers*perWorker, c.Version)

		var versions []int
		require.NoError(t, db.Model(&increment{}).Order("version").Pluck("version", &versions).Error)
		require.Len(t, versions, workers*perWorker)
		for i, v := range versions {
			assert.Equal(t, i+1, v, "increments must be unique and sequential")
		}
	})

	t.Run("mutation_error_rolls_back_version", func(t *testing.T) {
		db, m := setup(t)
		require.NoError(t, db.Create(&counter{ID: 2, Version: 4}).Error)
		boom := errors.New("boom")

		_, err := locking.WithPessimisticLock(context.Background(), m, locking.PessimisticTx[*counter]{
			Load:    loadCounter(2),
			Persist: persistCounter,
			Mutate: func(context.Context, *gorm.DB, *counter) error {
				return boom
			},
		}, 3)
		assert.ErrorIs(t, err, boom)

		var c counter
		require.NoError(t, db.First(&c, 2).Error)
		assert.Equal(t, 4, c.Version)
	})

	t.Run("gives_up_after_lock_timeouts", func(t *testing.T) {
		db := testutil.SetupTestDB(t, &counter{}, &increment{})
		defer testutil.TeardownTestDB(t, db)
		locker := locking.NewMemoryLocker()
		m := locking.NewManager(db, locker,
			locking.WithTimeout(20*time.Millisecond),
			locking.WithRetryPolicy(fastPolicy),
		)
		key := locking.ResourceKey{Kind: locking.KindPortfolio, ID: 3}
		_, _ = locker.TryLock(context.Background(), key)

		loads := 0
		_, err := locking.WithPessimisticLock(context.Background(), m, locking.PessimisticTx[*counter]{
			Load: func(ctx context.Context, db *gorm.DB) (*counter, error) {
				loads++
				return loadCounter(3)(ctx, db)
			},
			Persist: persistCounter,
		}, 3)

		assert.True(t, locking.IsLockTimeout(err))
		assert.Equal(t, 3, loads, "each attempt loads the anchor once outside the lock")
	})
}

func TestWithOptimisticLock(t *testing.T) {
	commitValue := func(_ context.Context, tx *gorm.DB, c *counter, value int) error {
		return tx.Model(&counter{}).Where("id = ?", c.ID).Update("value", value).Error
	}

	t.Run("creation_path", func(t *testing.T) {
		db, m := setup(t)

		got, err := locking.WithOptimisticLock(context.Background(), m, locking.OptimisticTx[*counter, int]{
			Load: loadCounter(10),
			Prepare: func(context.Context, *gorm.DB, *counter) (int, error) {
				return 7, nil
			},
			Persist: persistCounter,
			Commit:  commitValue,
		}, 3)
		require.NoError(t, err)
		assert.Equal(t, 7, got)

		var c counter
		require.NoError(t, db.First(&c, 10).Error)
		assert.Equal(t, 1, c.Version)
		assert.Equal(t, 7, c.Value)
	})

	t.Run("conflict_is_detected", func(t *testing.T) {
		db, m := setup(t)
		require.NoError(t, db.Create(&counter{ID: 11, Version: 1}).Error)

		commits := 0
		_, err := locking.WithOptimisticLock(context.Background(), m, locking.OptimisticTx[*counter, int]{
			Load: loadCounter(11),
			Prepare: func(_ context.Context, db *gorm.DB, c *counter) (int, error) {
				// Another writer commits while this one is preparing.
				return c.Value + 1, db.Model(&counter{}).Where("id = ?", c.ID).
					Update("version", gorm.Expr("version + 1")).Error
			},
			Persist: persistCounter,
			Commit: func(ctx context.Context, tx *gorm.DB, c *counter, v int) error {
				commits++
				return commitValue(ctx, tx, c, v)
			},
		}, 2)

		var conflict *locking.ConcurrentVersionUpdateError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, int64(11), conflict.Key.ID)
		assert.Equal(t, 0, commits)
	})

	t.Run("retries_until_version_matches", func(t *testing.T) {
		db, m := setup(t)
		require.NoError(t, db.Create(&counter{ID: 12, Version: 1}).Error)

		attempts := 0
		_, err := locking.WithOptimisticLock(context.Background(), m, locking.OptimisticTx[*counter, int]{
			Load: loadCounter(12),
			Prepare: func(_ context.Context, db *gorm.DB, c *counter) (int, error) {
				attempts++
				if attempts == 1 {
					return 0, db.Model(&counter{}).Where("id = ?", c.ID).
						Update("version", gorm.Expr("version + 1")).Error
				}
				return c.Value + 1, nil
			},
			Persist: persistCounter,
			Commit:  commitValue,
		}, 7)
		require.NoError(t, err)
		assert.Equal(t, 2, attempts)

		var c counter
		require.NoError(t, db.First(&c, 12).Error)
		assert.Equal(t, 3, c.Version)
		assert.Equal(t, 1, c.Value)
	})

	t.Run("concurrent_writers_do_not_lose_updates", func(t *testing.T) {
		db, m := setup(t)
		require.NoError(t, db.Create(&counter{ID: 13, Version: 1}).Error)
		const writers = 6

		var wg sync.WaitGroup
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := locking.WithOptimisticLock(context.Background(), m, locking.OptimisticTx[*counter, int]{
					Load: loadCounter(13),
					Prepare: func(_ context.Context, _ *gorm.DB, c *counter) (int, error) {
						return c.Value + 1, nil
					},
					Persist: persistCounter,
					Commit:  commitValue,
				}, 50)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		var c counter
		require.NoError(t, db.First(&c, 13).Error)
		assert.Equal(t, writers, c.Value)
		assert.Equal(t, writers+1, c.Version)
	})
}
