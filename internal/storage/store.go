package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// ErrMalformed is returned when a stored record exists but cannot be decoded.
// Backends wrap it together with the underlying parse error.
var ErrMalformed = errors.New("storage: malformed record")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Snapshots() SnapshotStore
	Reports() ReportStore
}

// SnapshotStore holds the last committed accrual snapshot. Writes are
// whole-snapshot overwrites.
type SnapshotStore interface {
	Save(ctx context.Context, snapshot Snapshot) error
	// Load returns ErrNotFound if nothing was saved yet and an error wrapping
	// ErrMalformed if the stored snapshot cannot be decoded.
	Load(ctx context.Context) (*Snapshot, error)
}

// ReportStore archives the period totals produced at each rollover.
type ReportStore interface {
	Append(ctx context.Context, report PeriodReport) error
	Get(ctx context.Context, period string) (*PeriodReport, error)
	List(ctx context.Context) ([]PeriodReport, error)
	DeleteBefore(ctx context.Context, cutoffPeriod string) (int, error)
}
