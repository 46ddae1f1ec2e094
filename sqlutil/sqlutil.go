// Package sqlutil holds small helpers shared by the SQLite-backed stores.
package sqlutil

import "time"

// TimeToString formats a timestamp for storage. All stored timestamps are
// UTC RFC 3339 with nanoseconds, so lexicographic ordering of the stored
// strings matches time ordering.
func TimeToString(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// StringToTime parses a stored timestamp.
func StringToTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
