package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goodtune/dutytrack/internal/storage"
	"github.com/natefinch/atomic"
)

const reportsDir = "reports"

// Store implements the storage.Store interface on plain JSON files. The
// snapshot lives at the configured path; period reports are written next to
// it under reports/<period>.json.
type Store struct {
	path string
	dir  string
	now  func() time.Time
}

// Open prepares a file-backed store rooted at path.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := storage.EnsureDir(filepath.Join(dir, reportsDir)); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &Store{path: path, dir: dir, now: time.Now}, nil
}

// Close is a no-op; every write is flushed before it returns.
func (s *Store) Close() error { return nil }

// Snapshots returns the snapshot store.
func (s *Store) Snapshots() storage.SnapshotStore { return &snapshotStore{store: s} }

// Reports returns the report archive.
func (s *Store) Reports() storage.ReportStore { return &reportStore{store: s} }

type snapshotStore struct {
	store *Store
}

func (s *snapshotStore) Save(ctx context.Context, snapshot storage.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot.Normalize()
	return writeJSON(s.store.path, snapshot)
}

func (s *snapshotStore) Load(ctx context.Context) (*storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.store.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot storage.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		// Keep the unreadable file so the next save can not destroy it.
		aside := fmt.Sprintf("%s.corrupt-%d", s.store.path, s.store.now().Unix())
		if renameErr := os.Rename(s.store.path, aside); renameErr != nil {
			return nil, fmt.Errorf("%w: %v (could not move aside: %v)", storage.ErrMalformed, err, renameErr)
		}
		return nil, fmt.Errorf("%w: %v (moved to %s)", storage.ErrMalformed, err, aside)
	}
	snapshot.Normalize()
	return &snapshot, nil
}

type reportStore struct {
	store *Store
}

func (s *reportStore) reportPath(period string) string {
	return filepath.Join(s.store.dir, reportsDir, period+".json")
}

func (s *reportStore) Append(ctx context.Context, report storage.PeriodReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := time.Parse(storage.PeriodLayout, report.Period); err != nil {
		return fmt.Errorf("invalid report period %q: %w", report.Period, err)
	}
	return writeJSON(s.reportPath(report.Period), report)
}

func (s *reportStore) Get(ctx context.Context, period string) (*storage.PeriodReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.reportPath(period))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	var report storage.PeriodReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("%w: report %s: %v", storage.ErrMalformed, period, err)
	}
	return &report, nil
}

func (s *reportStore) List(ctx context.Context) ([]storage.PeriodReport, error) {
	periods, err := s.periods()
	if err != nil {
		return nil, err
	}
	reports := make([]storage.PeriodReport, 0, len(periods))
	for _, period := range periods {
		report, err := s.Get(ctx, period)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *report)
	}
	storage.SortReports(reports)
	return reports, nil
}

func (s *reportStore) DeleteBefore(ctx context.Context, cutoffPeriod string) (int, error) {
	periods, err := s.periods()
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, period := range periods {
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}
		if period >= cutoffPeriod {
			continue
		}
		if err := os.Remove(s.reportPath(period)); err != nil {
			return deleted, fmt.Errorf("remove report %s: %w", period, err)
		}
		deleted++
	}
	return deleted, nil
}

func (s *reportStore) periods() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.store.dir, reportsDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	periods := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		period := strings.TrimSuffix(name, ".json")
		if _, err := time.Parse(storage.PeriodLayout, period); err != nil {
			continue
		}
		periods = append(periods, period)
	}
	return periods, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
