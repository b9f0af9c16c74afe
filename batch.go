// batch.go
package calendarassistant

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// The batch resolver expands a BatchFilter into the concrete set of
// affected events and computes the field-level updates, without touching
// storage. Matching is deterministic for a given snapshot, so retrying
// the same filter against an unchanged store yields the same set.

// batchPreviewCap bounds the title preview in batch summaries so the
// response size stays small no matter how many events matched.
const batchPreviewCap = 10

// BatchResolution is the outcome of expanding a batch action.
type BatchResolution struct {
	Matched []Event
	Titles  []string // preview, capped at batchPreviewCap

	// Parsed update, valid only for BATCH_UPDATE.
	Update      *BatchUpdateFields
	StartOffset time.Duration
	EndOffset   time.Duration
}

// ResolveBatch selects every snapshot event satisfying the AND of all
// non-zero filter criteria and, when update fields are supplied, parses
// the time offsets up front. A malformed offset rejects the whole batch
// before anything is applied; zero matches fail with ErrNoEventsMatched.
func ResolveBatch(filter *BatchFilter, update *BatchUpdateFields, snapshot []Event, rules map[int64]*RecurrenceRule) (*BatchResolution, error) {
	if filter.Empty() {
		return nil, fmt.Errorf("%w: batch filter is empty", ErrInvalidInput)
	}

	res := &BatchResolution{Update: update}

	// Parse offsets first: a bad offset must fail the batch before any
	// per-event work happens.
	if update != nil {
		var err error
		if update.StartTimeOffset != "" {
			if res.StartOffset, err = ParseTimeOffset(update.StartTimeOffset); err != nil {
				return nil, err
			}
		}
		if update.EndTimeOffset != "" {
			if res.EndOffset, err = ParseTimeOffset(update.EndTimeOffset); err != nil {
				return nil, err
			}
		}
	}

	var dateFrom, dateTo time.Time
	if filter.DateFrom != "" {
		t, err := NormalizeTimestamp(filter.DateFrom)
		if err != nil {
			// A bound that cannot be parsed would silently widen the
			// batch, which is the wrong direction for destructive
			// operations, so it is a hard failure here.
			return nil, fmt.Errorf("%w: bad date_from", ErrInvalidInput)
		}
		dateFrom = t
	}
	if filter.DateTo != "" {
		t, err := NormalizeTimestamp(filter.DateTo)
		if err != nil {
			return nil, fmt.Errorf("%w: bad date_to", ErrInvalidInput)
		}
		dateTo = t
	}

	idSet := make(map[string]bool, len(filter.EventIDs))
	for _, id := range filter.EventIDs {
		idSet[id] = true
	}
	pattern := strings.ToLower(filter.TitlePattern)

	for i := range snapshot {
		ev := &snapshot[i]
		if !dateFrom.IsZero() && NormalizeTime(ev.Start).Before(dateFrom) {
			continue
		}
		if !dateTo.IsZero() && NormalizeTime(ev.End).After(dateTo) {
			continue
		}
		if pattern != "" && !strings.Contains(strings.ToLower(ev.Title), pattern) {
			continue
		}
		if len(idSet) > 0 && !idSet[ev.ID] {
			continue
		}
		if filter.Recurrence != "" && !eventMatchesRecurrence(ev, filter.Recurrence, rules) {
			continue
		}
		if len(filter.Tags) > 0 && !hasAllTags(ev, filter.Tags) {
			continue
		}
		res.Matched = append(res.Matched, *ev)
		if len(res.Titles) < batchPreviewCap {
			res.Titles = append(res.Titles, ev.Title)
		}
	}

	if len(res.Matched) == 0 {
		return nil, ErrNoEventsMatched
	}
	return res, nil
}

// ApplyTo computes the updated copy of a matched event. The literal
// overwrites and offsets come from the resolution, so applying twice
// with the same resolution and clock is deterministic.
func (r *BatchResolution) ApplyTo(ev Event) Event {
	u := r.Update
	if u == nil {
		return ev
	}
	if u.Title != "" {
		ev.Title = u.Title
	}
	if u.Description != "" {
		ev.Description = u.Description
	}
	if u.Location != "" {
		ev.Location = u.Location
	}
	if r.StartOffset != 0 {
		ev.Start = ev.Start.Add(r.StartOffset)
	}
	if r.EndOffset != 0 {
		ev.End = ev.End.Add(r.EndOffset)
	}
	if u.Tags != nil {
		ev.Tags = u.Tags
	}
	return ev
}

// Summary renders the bounded human-readable description of the batch.
func (r *BatchResolution) Summary(verb string) string {
	preview := strings.Join(r.Titles, ", ")
	if len(r.Matched) > len(r.Titles) {
		preview += ", …"
	}
	return fmt.Sprintf("%s %d event(s): %s", verb, len(r.Matched), preview)
}

// ParseTimeOffset parses a signed offset string: optional sign, integer
// magnitude, unit letter h/d/m/s. An empty unit defaults to hours, so
// "5" means +5h. Anything else is ErrInvalidOffsetFormat.
func ParseTimeOffset(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidOffsetFormat)
	}

	sign := time.Duration(1)
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		sign = -1
		s = s[1:]
	}

	unit := time.Hour
	if len(s) > 0 {
		switch s[len(s)-1] {
		case 'h':
			unit, s = time.Hour, s[:len(s)-1]
		case 'd':
			unit, s = 24*time.Hour, s[:len(s)-1]
		case 'm':
			unit, s = time.Minute, s[:len(s)-1]
		case 's':
			unit, s = time.Second, s[:len(s)-1]
		}
	}

	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidOffsetFormat, raw)
	}
	return sign * time.Duration(n) * unit, nil
}

func hasAllTags(ev *Event, tags []string) bool {
	if ev.Tags == nil {
		return false
	}
	for _, tag := range tags {
		if _, ok := ev.Tags[tag]; !ok {
			return false
		}
	}
	return true
}
