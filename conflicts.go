// conflicts.go
package calendarassistant

import (
	"fmt"
	"strings"
	"time"
)

// Duplicate and conflict detection run over a read-only snapshot of the
// user's events supplied by the caller; the detector never touches
// storage itself. Both rules use half-open intervals with strict
// inequality on each end, so an event ending exactly when another
// starts does not collide.
//
// The two rules deliberately differ in severity: a duplicate (same
// title, overlapping time) blocks the action outright, while a plain
// time conflict only re-tags the action as CONFLICT and lets the caller
// decide.

// overlaps reports half-open interval overlap: startA < endB && endA > startB.
func overlaps(startA, endA, startB, endB time.Time) bool {
	return startA.Before(endB) && endA.After(startB)
}

// timeChecked reports whether the action kind is subject to duplicate
// and conflict scanning at all: CREATE always, UPDATE only when it
// carries new times. MOVE is handled by its applier, which runs the
// checks on the synthetic create step.
func timeChecked(a *ProposedAction) bool {
	switch a.Kind {
	case ActionCreate:
		return true
	case ActionUpdate:
		return a.Payload.StartTime != "" && a.Payload.EndTime != ""
	}
	return false
}

// candidateTitle resolves the title the candidate event will end up
// with: the payload's when given, otherwise the current title of the
// event being updated (looked up in the snapshot).
func candidateTitle(a *ProposedAction, snapshot []Event) string {
	if a.Payload.Title != "" {
		return a.Payload.Title
	}
	if a.Payload.EventID != "" {
		for i := range snapshot {
			if snapshot[i].ID == a.Payload.EventID {
				return snapshot[i].Title
			}
		}
	}
	return ""
}

// CheckDuplicate applies the duplicate rule: case-insensitive equal
// title and overlapping time range against any snapshot event other
// than the one being modified. A match is a hard ErrDuplicateDetected
// failure. Unparseable times on either side cause that one comparison
// to be skipped, not the whole scan.
func CheckDuplicate(a *ProposedAction, snapshot []Event) ValidationOutcome {
	if !timeChecked(a) {
		return ValidationOutcome{Valid: true}
	}
	start, errS := NormalizeTimestamp(a.Payload.StartTime)
	end, errE := NormalizeTimestamp(a.Payload.EndTime)
	if errS != nil || errE != nil {
		// Cannot verify; degrade to allow.
		return ValidationOutcome{Valid: true}
	}
	title := strings.ToLower(strings.TrimSpace(candidateTitle(a, snapshot)))
	if title == "" {
		return ValidationOutcome{Valid: true}
	}

	for i := range snapshot {
		ev := &snapshot[i]
		if a.Payload.EventID != "" && ev.ID == a.Payload.EventID {
			continue
		}
		if strings.ToLower(strings.TrimSpace(ev.Title)) != title {
			continue
		}
		if overlaps(start, end, NormalizeTime(ev.Start), NormalizeTime(ev.End)) {
			return ValidationOutcome{
				Valid: false,
				Err:   ErrDuplicateDetected,
				Message: fmt.Sprintf("Duplicate event detected: '%s' overlaps with an existing event",
					ev.Title),
			}
		}
	}
	return ValidationOutcome{Valid: true}
}

// DetectConflicts applies the conflict rule. On overlap with any other
// event the action is not rejected: its kind is rewritten to CONFLICT
// and the message summarizes every colliding event with its local time
// window. The event being updated or moved is excluded by id.
func DetectConflicts(a *ProposedAction, snapshot []Event) {
	if !timeChecked(a) {
		return
	}
	start, errS := NormalizeTimestamp(a.Payload.StartTime)
	end, errE := NormalizeTimestamp(a.Payload.EndTime)
	if errS != nil || errE != nil {
		return // cannot verify, allow
	}

	var colliding []string
	for i := range snapshot {
		ev := &snapshot[i]
		if a.Payload.EventID != "" && ev.ID == a.Payload.EventID {
			continue
		}
		evStart := NormalizeTime(ev.Start)
		evEnd := NormalizeTime(ev.End)
		if overlaps(start, end, evStart, evEnd) {
			loc := eventLocation(ev)
			colliding = append(colliding, fmt.Sprintf("'%s' (%s-%s)",
				ev.Title,
				evStart.In(loc).Format("15:04"),
				evEnd.In(loc).Format("15:04")))
		}
	}
	if len(colliding) == 0 {
		return
	}

	a.Kind = ActionConflict
	a.Payload.Message = fmt.Sprintf("You have a conflict: %s. Would you like to reschedule?",
		strings.Join(colliding, ", "))
}

// eventLocation resolves the event's timezone label, falling back to UTC.
func eventLocation(ev *Event) *time.Location {
	if ev.Timezone != "" {
		if loc, err := time.LoadLocation(ev.Timezone); err == nil {
			return loc
		}
	}
	return time.UTC
}
