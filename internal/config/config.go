// Package config loads the process configuration once at startup. The
// resulting *Config is passed explicitly to every component that needs it.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Lock backends.
const (
	LockBackendPostgres = "postgres"
	LockBackendRedis    = "redis"
	LockBackendMemory   = "memory"
)

// Config holds application configuration
type Config struct {
	Env      string
	LogLevel string

	// Server
	Port          string
	WebhookAPIKey string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Locking
	LockBackend        string
	LockTimeout        time.Duration
	PessimisticTries   int
	OptimisticTries    int
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RedisLockKeyPrefix string
	RedisLockTTL       time.Duration

	// Broker API
	BrokerAPIURL         string
	BrokerAPIKey         string
	BrokerAPISecret      string
	BrokerRequestTimeout time.Duration

	// Reconciliation
	StatusFallbackMaxAge time.Duration
	ExecutionStaleAfter  time.Duration

	// Scheduling
	CronEnabled          bool
	CronRebalance        string
	CronReconcile        string
	CronCorporateActions string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if not already loaded
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", ""),

		Port:          getEnv("PORT", "8080"),
		WebhookAPIKey: getEnv("WEBHOOK_API_KEY", ""),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "gainy"),
		DBPassword: getEnv("DB_PASSWORD", "gainy"),
		DBName:     getEnv("DB_NAME", "gainy"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		LockBackend:        strings.ToLower(getEnv("LOCK_BACKEND", LockBackendPostgres)),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisLockKeyPrefix: getEnv("REDIS_LOCK_KEY_PREFIX", "gainy:"),

		BrokerAPIURL:    getEnv("BROKER_API_URL", ""),
		BrokerAPIKey:    getEnv("BROKER_API_KEY", ""),
		BrokerAPISecret: getEnv("BROKER_API_SECRET", ""),

		CronRebalance:        getEnv("CRON_REBALANCE", "0 */15 * * * *"),
		CronReconcile:        getEnv("CRON_RECONCILE", "0 */5 * * * *"),
		CronCorporateActions: getEnv("CRON_CORPORATE_ACTIONS", "0 0 * * * *"),
	}

	var err error
	if cfg.LockTimeout, err = parseDuration("LOCK_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.RedisLockTTL, err = parseDuration("REDIS_LOCK_TTL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.BrokerRequestTimeout, err = parseDuration("BROKER_REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.StatusFallbackMaxAge, err = parseDuration("STATUS_FALLBACK_MAX_AGE", time.Hour); err != nil {
		return nil, err
	}
	if cfg.ExecutionStaleAfter, err = parseDuration("EXECUTION_STALE_AFTER", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.PessimisticTries, err = parseInt("PESSIMISTIC_MAX_TRIES", 3); err != nil {
		return nil, err
	}
	if cfg.OptimisticTries, err = parseInt("OPTIMISTIC_MAX_TRIES", 7); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = parseInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.CronEnabled, err = parseBool(os.Getenv("CRON_ENABLED"), false); err != nil {
		return nil, fmt.Errorf("invalid CRON_ENABLED value: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.LockBackend {
	case LockBackendPostgres, LockBackendRedis, LockBackendMemory:
	default:
		return fmt.Errorf("invalid LOCK_BACKEND %q: must be postgres, redis, or memory", c.LockBackend)
	}
	if c.PessimisticTries < 1 || c.OptimisticTries < 1 {
		return fmt.Errorf("retry budgets must be positive")
	}
	return nil
}

// DSN returns the PostgreSQL connection string used by gorm.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// MigrationURL returns the PostgreSQL URL used by golang-migrate.
func (c *Config) MigrationURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", key, d)
	}
	return d, nil
}

func parseInt(key string, defaultValue int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return n, nil
}

func parseBool(s string, defaultVal bool) (bool, error) {
	if s == "" {
		return defaultVal, nil
	}
	switch strings.ToLower(s) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("must be true, false, 1, or 0, got %q", s)
	}
}
