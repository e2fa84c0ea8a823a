package presence

import (
	"context"
	"errors"
	"sync"

	"github.com/goodtune/dutytrack/internal/storage"
)

var errUnreachable = errors.New("channel unreachable")

type fakeSource struct {
	mu      sync.Mutex
	members []MemberID
	err     error
	calls   int
}

func (f *fakeSource) PresentMembers(context.Context) ([]MemberID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]MemberID(nil), f.members...), nil
}

func (f *fakeSource) queried() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSource) set(err error, members ...MemberID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	f.members = members
}

type fakeReporter struct {
	mu      sync.Mutex
	reports []storage.PeriodReport
	err     error
}

func (f *fakeReporter) Report(_ context.Context, report storage.PeriodReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, report)
	return f.err
}

func (f *fakeReporter) got() []storage.PeriodReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]storage.PeriodReport(nil), f.reports...)
}

type fakeNotifier struct {
	mu        sync.Mutex
	reminders []Reminder
}

func (f *fakeNotifier) Notify(_ context.Context, reminder Reminder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reminders = append(f.reminders, reminder)
	return nil
}

func (f *fakeNotifier) got() []Reminder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Reminder(nil), f.reminders...)
}

// memStore is an in-memory storage.Store.
type memStore struct {
	mu       sync.Mutex
	snapshot *storage.Snapshot
	loadErr  error
	saveErr  error
	saves    int
	reports  map[string]storage.PeriodReport

	// When hold is set, every Save announces itself on entered and then
	// waits for hold to be closed.
	hold    chan struct{}
	entered chan struct{}
}

func newMemStore() *memStore {
	return &memStore{reports: make(map[string]storage.PeriodReport)}
}

func (m *memStore) Close() error                      { return nil }
func (m *memStore) Snapshots() storage.SnapshotStore { return (*memSnapshots)(m) }
func (m *memStore) Reports() storage.ReportStore     { return (*memReports)(m) }

func (m *memStore) saved() (storage.Snapshot, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshot == nil {
		return storage.Snapshot{}, m.saves
	}
	return *m.snapshot, m.saves
}

type memSnapshots memStore

func (m *memSnapshots) Save(_ context.Context, snapshot storage.Snapshot) error {
	if m.hold != nil {
		m.entered <- struct{}{}
		<-m.hold
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.snapshot = &snapshot
	return nil
}

func (m *memSnapshots) Load(context.Context) (*storage.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.snapshot == nil {
		return nil, storage.ErrNotFound
	}
	snapshot := *m.snapshot
	return &snapshot, nil
}

type memReports memStore

func (m *memReports) Append(_ context.Context, report storage.PeriodReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[report.Period] = report
	return nil
}

func (m *memReports) Get(_ context.Context, period string) (*storage.PeriodReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	report, ok := m.reports[period]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &report, nil
}

func (m *memReports) List(context.Context) ([]storage.PeriodReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.PeriodReport, 0, len(m.reports))
	for _, report := range m.reports {
		out = append(out, report)
	}
	storage.SortReports(out)
	return out, nil
}

func (m *memReports) DeleteBefore(_ context.Context, cutoff string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for period := range m.reports {
		if period < cutoff {
			delete(m.reports, period)
			deleted++
		}
	}
	return deleted, nil
}
