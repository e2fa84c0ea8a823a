package presence

import (
	"context"
	"time"

	"github.com/goodtune/dutytrack/internal/storage"
)

// MemberID is the opaque, stable identifier of a channel member.
type MemberID string

// Standing is one row of the lifetime leaderboard.
type Standing struct {
	Rank    int
	Member  MemberID
	Seconds int64
}

// Reminder is a scheduled message that came due.
type Reminder struct {
	Name    string
	Message string
	At      time.Time // scheduled instant, not delivery time
}

// MembershipSource reports who is in the tracked channel right now.
// An error means the channel could not be queried, which is different from
// an empty channel.
type MembershipSource interface {
	PresentMembers(ctx context.Context) ([]MemberID, error)
}

// Reporter receives the totals of a closed period.
type Reporter interface {
	Report(ctx context.Context, report storage.PeriodReport) error
}

// Notifier delivers reminders.
type Notifier interface {
	Notify(ctx context.Context, reminder Reminder) error
}
