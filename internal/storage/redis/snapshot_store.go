package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/dutytrack/internal/storage"
	"github.com/redis/go-redis/v9"
)

type snapshotStore struct {
	client *redis.Client
	prefix string
}

func (s *snapshotStore) keys() []string {
	return []string{
		s.prefix + ":snapshot:sessions",
		s.prefix + ":snapshot:daily",
		s.prefix + ":snapshot:lifetime",
		s.prefix + ":snapshot:meta",
	}
}

// Save replaces the stored snapshot in one script call
func (s *snapshotStore) Save(ctx context.Context, snapshot storage.Snapshot) error {
	snapshot.Normalize()
	script := redis.NewScript(replaceSnapshotScript)

	args := []interface{}{
		len(snapshot.ActiveSessions),
		len(snapshot.DailyTotals),
		len(snapshot.AllTimeTotals),
		time.Now().UTC().Format(time.RFC3339Nano),
	}
	args = append(args, flattenSeconds(snapshot.ActiveSessions)...)
	args = append(args, flattenSeconds(snapshot.DailyTotals)...)
	args = append(args, flattenSeconds(snapshot.AllTimeTotals)...)

	if err := script.Run(ctx, s.client, s.keys(), args...).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load reads the three snapshot hashes
func (s *snapshotStore) Load(ctx context.Context) (*storage.Snapshot, error) {
	keys := s.keys()

	pipe := s.client.Pipeline()
	sessionsCmd := pipe.HGetAll(ctx, keys[0])
	dailyCmd := pipe.HGetAll(ctx, keys[1])
	lifetimeCmd := pipe.HGetAll(ctx, keys[2])
	metaCmd := pipe.Exists(ctx, keys[3])
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	if metaCmd.Val() == 0 {
		return nil, storage.ErrNotFound
	}

	sessions, err := parseSeconds("active_sessions", sessionsCmd.Val())
	if err != nil {
		return nil, err
	}
	daily, err := parseSeconds("daily_totals", dailyCmd.Val())
	if err != nil {
		return nil, err
	}
	lifetime, err := parseSeconds("all_time_totals", lifetimeCmd.Val())
	if err != nil {
		return nil, err
	}

	return &storage.Snapshot{
		ActiveSessions: sessions,
		DailyTotals:    daily,
		AllTimeTotals:  lifetime,
	}, nil
}
