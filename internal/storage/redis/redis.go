package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goodtune/dutytrack/internal/config"
	"github.com/goodtune/dutytrack/internal/storage"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "dutytrack"

// Store implements the storage.Store interface using Redis
type Store struct {
	client        *redis.Client
	snapshotStore *snapshotStore
	reportStore   *reportStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Determine address
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Redis often starts alongside us under systemd, give it a few attempts.
	ping := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return client.Ping(ctx).Err()
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(max(cfg.ConnectRetries, 0)))
	if err := backoff.Retry(ping, policy); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}

	store := &Store{
		client:        client,
		snapshotStore: &snapshotStore{client: client, prefix: prefix},
		reportStore:   &reportStore{client: client, prefix: prefix},
	}

	return store, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Snapshots returns the SnapshotStore implementation
func (s *Store) Snapshots() storage.SnapshotStore {
	return s.snapshotStore
}

// Reports returns the ReportStore implementation
func (s *Store) Reports() storage.ReportStore {
	return s.reportStore
}
