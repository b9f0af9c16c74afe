package calendarassistant

// models.go

import "time"

// ---------- action kinds ----------

// ActionKind is the tag of a ProposedAction. The set mirrors what the
// natural-language proposer is allowed to emit.
type ActionKind string

const (
	ActionCreate      ActionKind = "CREATE"
	ActionUpdate      ActionKind = "UPDATE"
	ActionDelete      ActionKind = "DELETE"
	ActionMove        ActionKind = "MOVE"
	ActionDuplicate   ActionKind = "DUPLICATE"
	ActionBatchUpdate ActionKind = "BATCH_UPDATE"
	ActionBatchDelete ActionKind = "BATCH_DELETE"
	ActionSuggest     ActionKind = "SUGGEST"
	ActionAsk         ActionKind = "ASK"
	ActionNoop        ActionKind = "NOOP"
	ActionConflict    ActionKind = "CONFLICT"
)

// knownActionKinds is the closed set accepted by the schema validator.
var knownActionKinds = map[ActionKind]bool{
	ActionCreate: true, ActionUpdate: true, ActionDelete: true,
	ActionMove: true, ActionDuplicate: true,
	ActionBatchUpdate: true, ActionBatchDelete: true,
	ActionSuggest: true, ActionAsk: true, ActionNoop: true, ActionConflict: true,
}

// Mutates reports whether applying the action writes to the event store.
func (k ActionKind) Mutates() bool {
	switch k {
	case ActionCreate, ActionUpdate, ActionDelete, ActionMove, ActionDuplicate,
		ActionBatchUpdate, ActionBatchDelete:
		return true
	}
	return false
}

// ---------- core models ----------

type User struct {
	ID             int64     `json:"id" db:"id"`
	TelegramUserID int64     `json:"telegram_user_id" db:"telegram_user_id"`
	Username       string    `json:"username,omitempty" db:"username"`
	FirstName      string    `json:"first_name,omitempty" db:"first_name"`
	LanguageCode   string    `json:"language_code,omitempty" db:"language_code"`
	Timezone       string    `json:"timezone" db:"timezone"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Event is a calendar event owned by a single user. Start and End are
// stored and compared in UTC; Timezone is the label the user created the
// event under, kept for display.
type Event struct {
	ID               string            `json:"id" db:"id"` // uuid
	UserID           int64             `json:"user_id" db:"user_id"`
	Title            string            `json:"title" db:"title"`
	Description      string            `json:"description,omitempty" db:"description"`
	Location         string            `json:"location,omitempty" db:"location"`
	Start            time.Time         `json:"start_time" db:"start_ts"`
	End              time.Time         `json:"end_time" db:"end_ts"`
	Timezone         string            `json:"timezone" db:"timezone"`
	Tags             map[string]string `json:"tags,omitempty" db:"tags"` // stored as JSON
	RecurrenceRuleID *int64            `json:"recurrence_rule_id,omitempty" db:"recurrence_rule_id"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at" db:"updated_at"`
}

// Reminder fires OffsetMinutes before the event start. SentAt is set by
// the dispatcher once delivered.
type Reminder struct {
	ID            int64      `json:"id" db:"id"`
	EventID       string     `json:"event_id" db:"event_id"`
	OffsetMinutes int        `json:"offset_minutes" db:"offset_minutes"`
	SentAt        *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// RecurrenceRule stores structured recurrence fields plus the raw RRULE
// string when the structured form cannot express the rule.
type RecurrenceRule struct {
	ID        int64      `json:"id" db:"id"`
	Frequency string     `json:"frequency" db:"frequency"` // daily, weekly, monthly, yearly, custom
	Interval  int        `json:"interval" db:"interval"`
	ByDay     string     `json:"by_day,omitempty" db:"by_day"` // "MO,WE,FR"
	EndDate   *time.Time `json:"end_date,omitempty" db:"end_date"`
	Count     *int       `json:"count,omitempty" db:"count"`
	RRuleText string     `json:"rrule,omitempty" db:"rrule"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

type Notification struct {
	ID        int64      `json:"id" db:"id"`
	UserID    int64      `json:"user_id" db:"user_id"`
	Type      string     `json:"type" db:"type"`       // "applied","reminder","conflict",...
	Payload   string     `json:"payload" db:"payload"` // serialized JSON
	ReadAt    *time.Time `json:"read_at,omitempty" db:"read_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// ----------------- proposed actions -----------------

// ActionPayload carries the per-kind fields of a ProposedAction. Times
// arrive as raw strings from the proposer and stay strings until the
// validator normalizes them; nothing past the validator may consume
// them unparsed.
type ActionPayload struct {
	EventID      string             `json:"event_id,omitempty"`
	Title        string             `json:"title,omitempty"`
	Description  string             `json:"description,omitempty"`
	Location     string             `json:"location,omitempty"`
	StartTime    string             `json:"start_time,omitempty"`
	EndTime      string             `json:"end_time,omitempty"`
	Recurrence   string             `json:"recurrence,omitempty"`
	Reminders    []int              `json:"reminders,omitempty"` // offset minutes
	Filters      *BatchFilter       `json:"filters,omitempty"`
	UpdateFields *BatchUpdateFields `json:"update_fields,omitempty"`
	Message      string             `json:"message,omitempty"`
}

// ProposedAction is the tagged variant emitted by the proposer for one
// user utterance. It is consumed exactly once and never persisted
// verbatim; only its effects reach storage.
type ProposedAction struct {
	Kind       ActionKind    `json:"action"`
	Payload    ActionPayload `json:"payload"`
	Confidence float64       `json:"confidence"` // [0,1]
	Summary    string        `json:"summary,omitempty"`
}

// BatchFilter selects events by the AND of all non-zero criteria.
type BatchFilter struct {
	DateFrom     string   `json:"date_from,omitempty"`
	DateTo       string   `json:"date_to,omitempty"`
	TitlePattern string   `json:"title_pattern,omitempty"`
	EventIDs     []string `json:"event_ids,omitempty"`
	Recurrence   string   `json:"recurrence,omitempty"` // RRULE reference
	Tags         []string `json:"tags,omitempty"`
}

// Empty reports whether no criterion was supplied at all.
func (f *BatchFilter) Empty() bool {
	return f == nil ||
		(f.DateFrom == "" && f.DateTo == "" && f.TitlePattern == "" &&
			len(f.EventIDs) == 0 && f.Recurrence == "" && len(f.Tags) == 0)
}

// BatchUpdateFields describes the mutation applied to every matched
// event. Offsets are signed duration strings ("+1h", "-30m", "+2d");
// reminder and tag lists replace the existing ones wholesale.
type BatchUpdateFields struct {
	Title           string            `json:"title,omitempty"`
	Description     string            `json:"description,omitempty"`
	Location        string            `json:"location,omitempty"`
	StartTimeOffset string            `json:"start_time_offset,omitempty"`
	EndTimeOffset   string            `json:"end_time_offset,omitempty"`
	Reminders       []int             `json:"reminders,omitempty"`
	Tags            map[string]string `json:"tags,omitempty"`
}

// Empty reports whether the update would change nothing.
func (u *BatchUpdateFields) Empty() bool {
	return u == nil ||
		(u.Title == "" && u.Description == "" && u.Location == "" &&
			u.StartTimeOffset == "" && u.EndTimeOffset == "" &&
			u.Reminders == nil && u.Tags == nil)
}

// ValidationOutcome is the result of validating a ProposedAction. On
// pass the action either proceeds unchanged or was escalated to
// CONFLICT (Valid stays true: conflicts warn, duplicates block).
type ValidationOutcome struct {
	Valid   bool   `json:"valid"`
	Err     error  `json:"-"`
	Message string `json:"message,omitempty"`
}

// ApplyResult is what the orchestrator hands back to transport layers.
type ApplyResult struct {
	Kind     ActionKind `json:"action"`
	Event    *Event     `json:"event,omitempty"`
	Message  string     `json:"message,omitempty"`
	Affected int        `json:"affected,omitempty"`
	Failed   int        `json:"failed,omitempty"`
	Titles   []string   `json:"titles,omitempty"` // bounded preview, never the full list
}

// ----------------- audit -----------------

// AuditLog stores one immutable record per successful mutation.
type AuditLog struct {
	ID           int64             `json:"id" db:"id"`
	UserID       int64             `json:"user_id" db:"user_id"`
	Action       string            `json:"action" db:"action"` // CREATE, UPDATE, DELETE, MOVE, ...
	ResourceType string            `json:"resource_type" db:"resource_type"`
	ResourceID   string            `json:"resource_id" db:"resource_id"`
	Metadata     map[string]string `json:"metadata,omitempty" db:"metadata"` // stored as JSON
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
}

// AuditFilter constrains how audit logs are fetched for observability endpoints.
type AuditFilter struct {
	UserID       int64
	Action       string
	ResourceType string
	Since        time.Time
	Limit        int
}
