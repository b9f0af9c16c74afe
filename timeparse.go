// timeparse.go
package calendarassistant

import (
	"fmt"
	"strings"
	"time"
)

// The proposer emits datetimes in whatever ISO8601 flavor the model
// felt like: "Z" suffix, numeric offset, or no zone at all. Everything
// is normalized to a single canonical UTC instant before any ordering
// comparison, so "2024-01-01T10:00:00Z" and "2024-01-01T10:00:00+00:00"
// are the same instant and zone-naive values are taken as UTC.

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// NormalizeTimestamp parses any supported datetime representation into
// a canonical UTC instant. Failure is ErrMalformedTimestamp; callers
// must treat it as soft and skip the dependent check instead of
// aborting the whole validation.
func NormalizeTimestamp(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrMalformedTimestamp)
	}
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		return NormalizeTime(t), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedTimestamp, raw)
}

// NormalizeTime converts an already-structured instant to canonical UTC.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC()
}
