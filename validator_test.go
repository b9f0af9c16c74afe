package calendarassistant

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateActionSchema(t *testing.T) {
	tests := []struct {
		name    string
		action  *ProposedAction
		wantErr error
		wantMsg string
	}{
		{
			name: "valid create",
			action: &ProposedAction{Kind: ActionCreate, Payload: ActionPayload{
				Title: "Standup", StartTime: "2024-01-01T10:00:00Z", EndTime: "2024-01-01T10:30:00Z",
			}},
		},
		{
			name:    "create missing title",
			action:  &ProposedAction{Kind: ActionCreate, Payload: ActionPayload{StartTime: "2024-01-01T10:00:00Z", EndTime: "2024-01-01T11:00:00Z"}},
			wantErr: ErrInvalidInput,
			wantMsg: "requires title",
		},
		{
			name:    "create missing start",
			action:  &ProposedAction{Kind: ActionCreate, Payload: ActionPayload{Title: "X", EndTime: "2024-01-01T11:00:00Z"}},
			wantErr: ErrInvalidInput,
			wantMsg: "requires start_time",
		},
		{
			name:    "create missing end",
			action:  &ProposedAction{Kind: ActionCreate, Payload: ActionPayload{Title: "X", StartTime: "2024-01-01T10:00:00Z"}},
			wantErr: ErrInvalidInput,
			wantMsg: "requires end_time",
		},
		{
			name: "create end before start",
			action: &ProposedAction{Kind: ActionCreate, Payload: ActionPayload{
				Title: "X", StartTime: "2024-01-01T11:00:00Z", EndTime: "2024-01-01T10:00:00Z",
			}},
			wantErr: ErrInvalidInput,
			wantMsg: "end_time must be after start_time",
		},
		{
			name: "create end equals start",
			action: &ProposedAction{Kind: ActionCreate, Payload: ActionPayload{
				Title: "X", StartTime: "2024-01-01T10:00:00Z", EndTime: "2024-01-01T10:00:00Z",
			}},
			wantErr: ErrInvalidInput,
		},
		{
			name: "create unparseable time",
			action: &ProposedAction{Kind: ActionCreate, Payload: ActionPayload{
				Title: "X", StartTime: "tomorrow", EndTime: "2024-01-01T10:00:00Z",
			}},
			wantErr: ErrInvalidInput,
			wantMsg: "invalid datetime format",
		},
		{
			name:   "valid update without times",
			action: &ProposedAction{Kind: ActionUpdate, Payload: ActionPayload{EventID: "abc", Title: "New"}},
		},
		{
			name:    "update missing event_id",
			action:  &ProposedAction{Kind: ActionUpdate, Payload: ActionPayload{Title: "New"}},
			wantErr: ErrInvalidInput,
			wantMsg: "requires event_id",
		},
		{
			name: "update bad time order",
			action: &ProposedAction{Kind: ActionUpdate, Payload: ActionPayload{
				EventID: "abc", StartTime: "2024-01-01T11:00:00Z", EndTime: "2024-01-01T10:00:00Z",
			}},
			wantErr: ErrInvalidInput,
		},
		{
			name:   "update with only start time skips order check",
			action: &ProposedAction{Kind: ActionUpdate, Payload: ActionPayload{EventID: "abc", StartTime: "2024-01-01T11:00:00Z"}},
		},
		{
			name:    "delete missing event_id",
			action:  &ProposedAction{Kind: ActionDelete, Payload: ActionPayload{}},
			wantErr: ErrInvalidInput,
		},
		{
			name:   "valid delete",
			action: &ProposedAction{Kind: ActionDelete, Payload: ActionPayload{EventID: "abc"}},
		},
		{
			name:    "move requires both times",
			action:  &ProposedAction{Kind: ActionMove, Payload: ActionPayload{EventID: "abc", StartTime: "2024-01-01T10:00:00Z"}},
			wantErr: ErrInvalidInput,
			wantMsg: "requires start_time and end_time",
		},
		{
			name: "valid move",
			action: &ProposedAction{Kind: ActionMove, Payload: ActionPayload{
				EventID: "abc", StartTime: "2024-01-01T10:00:00Z", EndTime: "2024-01-01T11:00:00Z",
			}},
		},
		{
			name:    "duplicate requires event_id",
			action:  &ProposedAction{Kind: ActionDuplicate, Payload: ActionPayload{}},
			wantErr: ErrInvalidInput,
		},
		{
			name: "batch update requires filters",
			action: &ProposedAction{Kind: ActionBatchUpdate, Payload: ActionPayload{
				UpdateFields: &BatchUpdateFields{Title: "X"},
			}},
			wantErr: ErrInvalidInput,
			wantMsg: "requires filters",
		},
		{
			name: "batch update requires update_fields",
			action: &ProposedAction{Kind: ActionBatchUpdate, Payload: ActionPayload{
				Filters: &BatchFilter{TitlePattern: "meeting"},
			}},
			wantErr: ErrInvalidInput,
			wantMsg: "requires update_fields",
		},
		{
			name: "valid batch update",
			action: &ProposedAction{Kind: ActionBatchUpdate, Payload: ActionPayload{
				Filters:      &BatchFilter{TitlePattern: "meeting"},
				UpdateFields: &BatchUpdateFields{StartTimeOffset: "+1h"},
			}},
		},
		{
			name:    "batch delete requires filters",
			action:  &ProposedAction{Kind: ActionBatchDelete, Payload: ActionPayload{}},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "suggest requires message",
			action:  &ProposedAction{Kind: ActionSuggest, Payload: ActionPayload{}},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "ask requires message",
			action:  &ProposedAction{Kind: ActionAsk, Payload: ActionPayload{Message: "   "}},
			wantErr: ErrInvalidInput,
		},
		{
			name:   "noop needs nothing",
			action: &ProposedAction{Kind: ActionNoop},
		},
		{
			name:    "unknown action kind",
			action:  &ProposedAction{Kind: ActionKind("EXPLODE")},
			wantErr: ErrUnsupportedAction,
			wantMsg: "invalid action: EXPLODE",
		},
		{
			name: "negative reminder offset",
			action: &ProposedAction{Kind: ActionCreate, Payload: ActionPayload{
				Title: "X", StartTime: "2024-01-01T10:00:00Z", EndTime: "2024-01-01T11:00:00Z",
				Reminders: []int{15, -5},
			}},
			wantErr: ErrInvalidInput,
			wantMsg: "non-negative",
		},
		{
			name:    "nil action",
			action:  nil,
			wantErr: ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := ValidateActionSchema(tt.action)
			if tt.wantErr == nil {
				if !out.Valid {
					t.Fatalf("expected valid, got error %v (%s)", out.Err, out.Message)
				}
				return
			}
			if out.Valid {
				t.Fatalf("expected invalid, got valid")
			}
			if !errors.Is(out.Err, tt.wantErr) {
				t.Errorf("error = %v, want %v", out.Err, tt.wantErr)
			}
			if tt.wantMsg != "" && !strings.Contains(out.Message, tt.wantMsg) {
				t.Errorf("message = %q, want it to contain %q", out.Message, tt.wantMsg)
			}
		})
	}
}
