// recurrence.go
package calendarassistant

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// Recurrence rules are stored in structured form with an optional raw
// RRULE string. Everything that compares or expands rules goes through
// rrule-go so that equivalent spellings ("FREQ=WEEKLY;INTERVAL=1" vs
// "FREQ=WEEKLY") land on the same canonical form.

const maxOccurrencesPerEvent = 366

// RRuleString renders the rule as a canonical RRULE string. The raw
// RRuleText wins when present; otherwise the structured fields are
// assembled.
func (r *RecurrenceRule) RRuleString() string {
	if r == nil {
		return ""
	}
	if r.RRuleText != "" {
		return canonicalizeRRule(r.RRuleText)
	}
	parts := []string{"FREQ=" + strings.ToUpper(r.Frequency)}
	if r.Interval > 1 {
		parts = append(parts, fmt.Sprintf("INTERVAL=%d", r.Interval))
	}
	if r.ByDay != "" {
		parts = append(parts, "BYDAY="+strings.ToUpper(r.ByDay))
	}
	if r.Count != nil {
		parts = append(parts, fmt.Sprintf("COUNT=%d", *r.Count))
	}
	if r.EndDate != nil {
		parts = append(parts, "UNTIL="+r.EndDate.UTC().Format("20060102T150405Z"))
	}
	return canonicalizeRRule(strings.Join(parts, ";"))
}

// rrulePartOrder fixes the rendering order of RRULE parameters so that
// any two equivalent spellings compare equal as strings.
var rrulePartOrder = map[string]int{
	"FREQ": 0, "INTERVAL": 1, "WKST": 2, "BYMONTH": 3, "BYMONTHDAY": 4,
	"BYYEARDAY": 5, "BYWEEKNO": 6, "BYDAY": 7, "BYHOUR": 8,
	"BYMINUTE": 9, "BYSECOND": 10, "BYSETPOS": 11, "COUNT": 12, "UNTIL": 13,
}

// canonicalizeRRule validates the rule through rrule-go, then renders
// the parameters in a fixed order with default-valued ones dropped, so
// "FREQ=WEEKLY;INTERVAL=1" and "FREQ=WEEKLY" land on the same string.
// Unvalidatable input is returned as-is so comparisons degrade to raw
// string equality.
func canonicalizeRRule(raw string) string {
	s := strings.TrimPrefix(strings.TrimSpace(raw), "RRULE:")
	if _, err := rrule.StrToRRule(s); err != nil {
		return s
	}
	parts := strings.Split(s, ";")
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		switch p {
		case "", "INTERVAL=1", "WKST=MO":
			// Defaults carry no meaning and only break equality.
			continue
		}
		kept = append(kept, p)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return rrulePartRank(kept[i]) < rrulePartRank(kept[j])
	})
	return strings.Join(kept, ";")
}

func rrulePartRank(part string) int {
	name, _, _ := strings.Cut(part, "=")
	if rank, ok := rrulePartOrder[name]; ok {
		return rank
	}
	return len(rrulePartOrder)
}

// eventMatchesRecurrence implements the batch-filter recurrence
// criterion: the event's rule and the reference must canonicalize to
// the same RRULE.
func eventMatchesRecurrence(ev *Event, ref string, rules map[int64]*RecurrenceRule) bool {
	if ev.RecurrenceRuleID == nil {
		return false
	}
	rule, ok := rules[*ev.RecurrenceRuleID]
	if !ok {
		return false
	}
	return rule.RRuleString() == canonicalizeRRule(ref)
}

// ExpandOccurrences materializes a recurring event's occurrences inside
// [from, to), preserving the base event's duration. Non-recurring
// events come back unchanged when they intersect the window. The result
// is capped to keep agenda views bounded.
func ExpandOccurrences(ev Event, rule *RecurrenceRule, from, to time.Time) ([]Event, error) {
	if rule == nil {
		if overlaps(NormalizeTime(ev.Start), NormalizeTime(ev.End), from, to) {
			return []Event{ev}, nil
		}
		return nil, nil
	}

	r, err := rrule.StrToRRule(rule.RRuleString())
	if err != nil {
		return nil, fmt.Errorf("bad recurrence rule %d: %w", rule.ID, err)
	}
	r.DTStart(NormalizeTime(ev.Start))

	var set rrule.Set
	set.RRule(r)

	starts := set.Between(from, to, true)
	if len(starts) > maxOccurrencesPerEvent {
		starts = starts[:maxOccurrencesPerEvent]
	}

	duration := ev.End.Sub(ev.Start)
	out := make([]Event, 0, len(starts))
	for _, occStart := range starts {
		occ := ev
		occ.Start = occStart
		occ.End = occStart.Add(duration)
		out = append(out, occ)
	}
	return out, nil
}
