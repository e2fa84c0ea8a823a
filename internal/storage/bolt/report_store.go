package bolt

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/dutytrack/internal/storage"
	"go.etcd.io/bbolt"
)

type reportStore struct {
	db *bbolt.DB
}

func (s *reportStore) Append(ctx context.Context, report storage.PeriodReport) error {
	if _, err := time.Parse(storage.PeriodLayout, report.Period); err != nil {
		return fmt.Errorf("invalid report period %q: %w", report.Period, err)
	}
	return putBucketValue(ctx, s.db, bucketReports, report.Period, report)
}

func (s *reportStore) Get(ctx context.Context, period string) (*storage.PeriodReport, error) {
	return getBucketValue[storage.PeriodReport](ctx, s.db, bucketReports, period)
}

func (s *reportStore) List(ctx context.Context) ([]storage.PeriodReport, error) {
	// Keys are ISO dates, so bucket order is already chronological.
	return listBucket[storage.PeriodReport](ctx, s.db, bucketReports)
}

func (s *reportStore) DeleteBefore(ctx context.Context, cutoffPeriod string) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketReports))
		if b == nil {
			return nil
		}
		// Collect first; deleting under a cursor skips the following key.
		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && string(k) < cutoffPeriod; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}
