package locking

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/gainy-app/gainy-compute-sub000/internal/config"
)

// NewLocker builds the backend selected by cfg.LockBackend.
func NewLocker(cfg *config.Config, db *gorm.DB) (Locker, error) {
	switch cfg.LockBackend {
	case config.LockBackendPostgres:
		l, err := NewPostgresLocker(db)
		if err != nil {
			return nil, err
		}
		return l, nil
	case config.LockBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedisLocker(client, cfg.RedisLockKeyPrefix, cfg.RedisLockTTL), nil
	case config.LockBackendMemory:
		return NewMemoryLocker(), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.LockBackend)
	}
}

// NewManagerFromConfig wires a Manager with the configured locker and timeout.
func NewManagerFromConfig(cfg *config.Config, db *gorm.DB) (*Manager, error) {
	locker, err := NewLocker(cfg, db)
	if err != nil {
		return nil, err
	}
	return NewManager(db, locker, WithTimeout(cfg.LockTimeout)), nil
}
