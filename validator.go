// validator.go
package calendarassistant

import (
	"fmt"
	"strings"
)

// Schema validation is pure: it looks at the action alone, consults no
// external state, and names the exact field that is missing or invalid.
// Conflict and duplicate checks against existing events live in
// conflicts.go.

// ValidateActionSchema enforces the per-kind required fields of a
// proposed action. An invalid outcome carries the sentinel error and a
// message suitable for echoing back through an ASK reply.
func ValidateActionSchema(a *ProposedAction) ValidationOutcome {
	if a == nil {
		return invalidOutcome(ErrInvalidInput, "no action supplied")
	}
	if !knownActionKinds[a.Kind] {
		return invalidOutcome(ErrUnsupportedAction, fmt.Sprintf("invalid action: %s", a.Kind))
	}

	p := &a.Payload
	switch a.Kind {
	case ActionCreate:
		if strings.TrimSpace(p.Title) == "" {
			return invalidOutcome(ErrInvalidInput, "CREATE action requires title")
		}
		if p.StartTime == "" {
			return invalidOutcome(ErrInvalidInput, "CREATE action requires start_time")
		}
		if p.EndTime == "" {
			return invalidOutcome(ErrInvalidInput, "CREATE action requires end_time")
		}
		if out := validateTimeOrder(p.StartTime, p.EndTime); !out.Valid {
			return out
		}

	case ActionUpdate:
		if p.EventID == "" {
			return invalidOutcome(ErrInvalidInput, "UPDATE action requires event_id")
		}
		if p.StartTime != "" && p.EndTime != "" {
			if out := validateTimeOrder(p.StartTime, p.EndTime); !out.Valid {
				return out
			}
		}

	case ActionDelete:
		if p.EventID == "" {
			return invalidOutcome(ErrInvalidInput, "DELETE action requires event_id")
		}

	case ActionMove:
		if p.EventID == "" {
			return invalidOutcome(ErrInvalidInput, "MOVE action requires event_id")
		}
		if p.StartTime == "" || p.EndTime == "" {
			return invalidOutcome(ErrInvalidInput, "MOVE action requires start_time and end_time")
		}
		if out := validateTimeOrder(p.StartTime, p.EndTime); !out.Valid {
			return out
		}

	case ActionDuplicate:
		if p.EventID == "" {
			return invalidOutcome(ErrInvalidInput, "DUPLICATE action requires event_id")
		}
		if p.StartTime != "" && p.EndTime != "" {
			if out := validateTimeOrder(p.StartTime, p.EndTime); !out.Valid {
				return out
			}
		}

	case ActionBatchUpdate:
		if p.Filters.Empty() {
			return invalidOutcome(ErrInvalidInput, "BATCH_UPDATE action requires filters")
		}
		if p.UpdateFields.Empty() {
			return invalidOutcome(ErrInvalidInput, "BATCH_UPDATE action requires update_fields")
		}

	case ActionBatchDelete:
		if p.Filters.Empty() {
			return invalidOutcome(ErrInvalidInput, "BATCH_DELETE action requires filters")
		}

	case ActionSuggest:
		if strings.TrimSpace(p.Message) == "" {
			return invalidOutcome(ErrInvalidInput, "SUGGEST action requires message")
		}

	case ActionAsk:
		if strings.TrimSpace(p.Message) == "" {
			return invalidOutcome(ErrInvalidInput, "ASK action requires message")
		}
	}

	// Reminder offsets, when present, must be non-negative minutes.
	for _, offset := range p.Reminders {
		if offset < 0 {
			return invalidOutcome(ErrInvalidInput, "reminder offsets must be non-negative integers")
		}
	}

	return ValidationOutcome{Valid: true}
}

// validateTimeOrder checks end > start. A timestamp that does not parse
// is a hard schema failure here: the kinds that require both fields
// cannot proceed without usable times.
func validateTimeOrder(startRaw, endRaw string) ValidationOutcome {
	start, err := NormalizeTimestamp(startRaw)
	if err != nil {
		return invalidOutcome(ErrInvalidInput, fmt.Sprintf("invalid datetime format: %q", startRaw))
	}
	end, err := NormalizeTimestamp(endRaw)
	if err != nil {
		return invalidOutcome(ErrInvalidInput, fmt.Sprintf("invalid datetime format: %q", endRaw))
	}
	if !end.After(start) {
		return invalidOutcome(ErrInvalidInput, "end_time must be after start_time")
	}
	return ValidationOutcome{Valid: true}
}

func invalidOutcome(err error, msg string) ValidationOutcome {
	return ValidationOutcome{Valid: false, Err: err, Message: msg}
}
