package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/dutytrack/internal/storage"
	"github.com/redis/go-redis/v9"
)

type reportStore struct {
	client *redis.Client
	prefix string
}

func (s *reportStore) reportKey(period string) string {
	return fmt.Sprintf("%s:report:%s", s.prefix, period)
}

func (s *reportStore) indexKey() string {
	return s.prefix + ":reports"
}

// Append stores a report and adds it to the period index
func (s *reportStore) Append(ctx context.Context, report storage.PeriodReport) error {
	score, err := periodScore(report.Period)
	if err != nil {
		return err
	}

	script := redis.NewScript(appendReportScript)
	keys := []string{s.reportKey(report.Period), s.indexKey()}
	args := []interface{}{report.Period, report.ClosedAt.Format(time.RFC3339Nano), score}
	args = append(args, flattenSeconds(report.Totals)...)

	return script.Run(ctx, s.client, keys, args...).Err()
}

// Get retrieves a single report
func (s *reportStore) Get(ctx context.Context, period string) (*storage.PeriodReport, error) {
	data, err := s.client.HGetAll(ctx, s.reportKey(period)).Result()
	if err != nil {
		return nil, err
	}
	return parsePeriodReport(data)
}

// List returns all archived reports, oldest first
func (s *reportStore) List(ctx context.Context) ([]storage.PeriodReport, error) {
	periods, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	if len(periods) == 0 {
		return []storage.PeriodReport{}, nil
	}

	// Use pipeline for batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(periods))
	for i, period := range periods {
		cmds[i] = pipe.HGetAll(ctx, s.reportKey(period))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	reports := make([]storage.PeriodReport, 0, len(periods))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		report, err := parsePeriodReport(data)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *report)
	}

	return reports, nil
}

// DeleteBefore removes reports for periods strictly before cutoffPeriod
func (s *reportStore) DeleteBefore(ctx context.Context, cutoffPeriod string) (int, error) {
	cutoff, err := periodScore(cutoffPeriod)
	if err != nil {
		return 0, err
	}

	stale, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	keys := make([]string, len(stale))
	members := make([]interface{}, len(stale))
	for i, period := range stale {
		keys[i] = s.reportKey(period)
		members[i] = period
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.ZRem(ctx, s.indexKey(), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}

	return len(stale), nil
}
