package redis

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/dutytrack/internal/storage"
)

const memberFieldPrefix = "m:"

// parseSeconds converts a Redis hash of member id -> seconds.
func parseSeconds(name string, data map[string]string) (map[string]int64, error) {
	out := make(map[string]int64, len(data))
	for id, raw := range data {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s[%s]: %v", storage.ErrMalformed, name, id, err)
		}
		out[id] = v
	}
	return out, nil
}

// flattenSeconds renders a mapping as sorted field/value pairs for script ARGV.
func flattenSeconds(m map[string]int64) []interface{} {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	args := make([]interface{}, 0, len(ids)*2)
	for _, id := range ids {
		args = append(args, id, m[id])
	}
	return args
}

// parsePeriodReport converts a Redis hash to PeriodReport
func parsePeriodReport(data map[string]string) (*storage.PeriodReport, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	closedAt, err := time.Parse(time.RFC3339Nano, data["closed_at"])
	if err != nil {
		return nil, fmt.Errorf("%w: closed_at: %v", storage.ErrMalformed, err)
	}

	report := &storage.PeriodReport{
		Period:   data["period"],
		ClosedAt: closedAt,
		Totals:   make(map[string]int64),
	}
	for field, raw := range data {
		id, ok := strings.CutPrefix(field, memberFieldPrefix)
		if !ok {
			continue
		}
		seconds, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: report %s member %s: %v", storage.ErrMalformed, report.Period, id, err)
		}
		report.Totals[id] = seconds
	}
	return report, nil
}

// periodScore maps a period to its index score (midnight UTC, unix seconds).
func periodScore(period string) (int64, error) {
	day, err := time.Parse(storage.PeriodLayout, period)
	if err != nil {
		return 0, fmt.Errorf("invalid report period %q: %w", period, err)
	}
	return day.Unix(), nil
}
