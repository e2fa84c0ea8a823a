package storage

import (
	"fmt"
	"time"
)

// PeriodLayout is the date layout used to key period reports.
const PeriodLayout = "2006-01-02"

// Snapshot is the persisted accrual state. The JSON field names are the
// on-disk layout and must not change.
type Snapshot struct {
	// ActiveSessions maps member id to the join instant in epoch seconds.
	ActiveSessions map[string]int64 `json:"active_sessions"`
	DailyTotals    map[string]int64 `json:"daily_totals"`
	AllTimeTotals  map[string]int64 `json:"all_time_totals"`
}

// NewSnapshot returns a snapshot with all mappings allocated.
func NewSnapshot() Snapshot {
	return Snapshot{
		ActiveSessions: make(map[string]int64),
		DailyTotals:    make(map[string]int64),
		AllTimeTotals:  make(map[string]int64),
	}
}

// Normalize replaces nil mappings with empty ones. Older files may omit keys.
func (s *Snapshot) Normalize() {
	if s.ActiveSessions == nil {
		s.ActiveSessions = make(map[string]int64)
	}
	if s.DailyTotals == nil {
		s.DailyTotals = make(map[string]int64)
	}
	if s.AllTimeTotals == nil {
		s.AllTimeTotals = make(map[string]int64)
	}
}

// Validate reports the first entry that can not be restored.
func (s *Snapshot) Validate() error {
	for name, m := range map[string]map[string]int64{
		"active_sessions": s.ActiveSessions,
		"daily_totals":    s.DailyTotals,
		"all_time_totals": s.AllTimeTotals,
	} {
		for id, v := range m {
			if id == "" {
				return fmt.Errorf("%w: %s has an empty member id", ErrMalformed, name)
			}
			if v < 0 {
				return fmt.Errorf("%w: %s[%s] is negative (%d)", ErrMalformed, name, id, v)
			}
		}
	}
	return nil
}

// PeriodReport is the immutable copy of period totals taken at a rollover.
type PeriodReport struct {
	Period   string           `json:"period"`
	ClosedAt time.Time        `json:"closed_at"`
	Totals   map[string]int64 `json:"totals"`
}
