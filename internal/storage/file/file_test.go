package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goodtune/dutytrack/internal/storage"
)

func TestSnapshotStoreLoadMissing(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Snapshots().Load(context.Background())
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSnapshotStoreSaveLoad(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	snapshot := storage.Snapshot{
		ActiveSessions: map[string]int64{"503046664555069440": 1700000000},
		DailyTotals:    map[string]int64{"503046664555069440": 120},
		AllTimeTotals:  map[string]int64{"503046664555069440": 7320, "289570358560948225": 60},
	}
	if err := store.Snapshots().Save(ctx, snapshot); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	loaded, err := store.Snapshots().Load(ctx)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if got := loaded.ActiveSessions["503046664555069440"]; got != 1700000000 {
		t.Fatalf("expected join instant 1700000000, got %d", got)
	}
	if got := loaded.AllTimeTotals["289570358560948225"]; got != 60 {
		t.Fatalf("expected lifetime 60, got %d", got)
	}
	if len(loaded.DailyTotals) != 1 {
		t.Fatalf("expected 1 daily total, got %d", len(loaded.DailyTotals))
	}
}

func TestSnapshotStoreReadsLegacyLayout(t *testing.T) {
	store := openTestStore(t)

	legacy := `{
    "active_sessions": {"42": 1700000000},
    "daily_totals": {"42": 180},
    "all_time_totals": {"42": 900}
}`
	if err := os.WriteFile(store.path, []byte(legacy), 0600); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}

	loaded, err := store.Snapshots().Load(context.Background())
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if loaded.DailyTotals["42"] != 180 || loaded.AllTimeTotals["42"] != 900 {
		t.Fatalf("unexpected totals: %+v", loaded)
	}
}

func TestSnapshotStoreMissingKeysNormalized(t *testing.T) {
	store := openTestStore(t)
	if err := os.WriteFile(store.path, []byte(`{"daily_totals": {"1": 5}}`), 0600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	loaded, err := store.Snapshots().Load(context.Background())
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if loaded.ActiveSessions == nil || loaded.AllTimeTotals == nil {
		t.Fatal("expected nil mappings to be replaced with empty ones")
	}
}

func TestSnapshotStoreMalformedMovedAside(t *testing.T) {
	store := openTestStore(t)
	store.now = func() time.Time { return time.Unix(1700000000, 0) }

	if err := os.WriteFile(store.path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	_, err := store.Snapshots().Load(context.Background())
	if !errors.Is(err, storage.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}

	if _, err := os.Stat(store.path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected corrupt snapshot to be moved, stat err = %v", err)
	}
	aside := store.path + ".corrupt-1700000000"
	data, err := os.ReadFile(aside)
	if err != nil {
		t.Fatalf("read moved snapshot: %v", err)
	}
	if string(data) != "{not json" {
		t.Fatalf("moved snapshot content changed: %q", data)
	}
}

func TestReportStoreLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	reports := store.Reports()

	for _, period := range []string{"2024-01-03", "2024-01-01", "2024-01-02"} {
		err := reports.Append(ctx, storage.PeriodReport{
			Period:   period,
			ClosedAt: time.Now(),
			Totals:   map[string]int64{"a": 3600},
		})
		if err != nil {
			t.Fatalf("append report %s: %v", period, err)
		}
	}

	listed, err := reports.List(ctx)
	if err != nil {
		t.Fatalf("list reports: %v", err)
	}
	if len(listed) != 3 || listed[0].Period != "2024-01-01" || listed[2].Period != "2024-01-03" {
		t.Fatalf("unexpected report order: %+v", listed)
	}

	got, err := reports.Get(ctx, "2024-01-02")
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	if got.Totals["a"] != 3600 {
		t.Fatalf("expected 3600 seconds, got %d", got.Totals["a"])
	}

	deleted, err := reports.DeleteBefore(ctx, "2024-01-03")
	if err != nil {
		t.Fatalf("delete before: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted reports, got %d", deleted)
	}
	if _, err := reports.Get(ctx, "2024-01-01"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestReportStoreRejectsBadPeriod(t *testing.T) {
	store := openTestStore(t)

	err := store.Reports().Append(context.Background(), storage.PeriodReport{Period: "../escape"})
	if err == nil || !strings.Contains(err.Error(), "invalid report period") {
		t.Fatalf("expected invalid period error, got %v", err)
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "voice_data.json")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
