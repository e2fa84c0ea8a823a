package storage

import (
	"os"
	"sort"
)

// EnsureDir ensures a directory exists with default permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// SortReports orders reports by period, oldest first.
func SortReports(reports []PeriodReport) {
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].Period < reports[j].Period
	})
}
