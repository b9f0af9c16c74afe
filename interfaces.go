// interfaces.go
package calendarassistant

import (
	"context"
	"time"
)

// Repositories define data persistence contracts. They should be pure CRUD-ish.
// Business rules belong in the validation engine and services, not here.

type UserRepository interface {
	CreateUser(user *User) error
	GetUserByID(id int64) (*User, error)
	GetUserByTelegramID(telegramUserID int64) (*User, error)
	UpdateUser(user *User) error
}

// EventQuery narrows event listings. Zero values mean "no constraint";
// PageSize is capped by the storage layer.
type EventQuery struct {
	From     time.Time
	To       time.Time
	Search   string
	Page     int
	PageSize int
}

type EventRepository interface {
	CreateEvent(e *Event) error
	GetEventByID(userID int64, eventID string) (*Event, error)
	UpdateEvent(e *Event) error
	DeleteEvent(userID int64, eventID string) error
	ListEvents(userID int64, q EventQuery) ([]Event, int, error)

	// GetSnapshot returns the read-only point-in-time view handed to the
	// validation engine: every event of the user intersecting the window,
	// ordered by start.
	GetSnapshot(userID int64, from, to time.Time, limit int) ([]Event, error)
}

type ReminderRepository interface {
	ReplaceReminders(eventID string, offsetMinutes []int) error
	GetEventReminders(eventID string) ([]Reminder, error)

	// DueReminders returns unsent reminders for events starting within
	// the horizon, joined with their events.
	DueReminders(now time.Time, horizon time.Duration) ([]DueReminder, error)
	MarkReminderSent(reminderID int64, at time.Time) error
}

// DueReminder pairs a pending reminder with its event for dispatching.
// TelegramChatID is the owner's chat, joined in so the dispatcher does
// not look users up one by one.
type DueReminder struct {
	Reminder       Reminder
	Event          Event
	TelegramChatID int64
}

type RecurrenceRepository interface {
	CreateRecurrenceRule(r *RecurrenceRule) error
	GetRecurrenceRule(id int64) (*RecurrenceRule, error)

	// RulesByID bulk-loads rules for batch resolution and expansion.
	RulesByID(ids []int64) (map[int64]*RecurrenceRule, error)
}

type NotificationRepository interface {
	AddNotification(n *Notification) error
	GetUserNotifications(userID int64) ([]Notification, error)
	GetUnreadNotifications(userID int64) ([]Notification, error)
	MarkNotificationRead(notificationID int64) error
}

type AuditRepository interface {
	AppendAudit(entry *AuditLog) error
	ListAuditLogs(filter AuditFilter) ([]AuditLog, error)
}

// ----------------- external proposer -----------------

// ProposeRequest is the context handed to the natural-language proposer
// along with the utterance.
type ProposeRequest struct {
	Text          string
	ContextEvents []Event // recent events, for reference resolution
	UserMemory    map[string]string
}

// Proposer turns natural language into a ProposedAction. Implementations
// must degrade failures into an ASK action rather than surfacing raw
// errors; the engine additionally guards against implementations that
// do not.
type Proposer interface {
	Propose(ctx context.Context, req ProposeRequest) (*ProposedAction, error)
}

// ----------------- services -----------------

// AssistantService is the façade callers (API, webhook) use: propose,
// validate, apply.
type AssistantService interface {
	// Parse runs the proposer for the utterance and validates the result
	// against the user's current events. Proposer failures come back as
	// an ASK action, never as an error the caller must interpret.
	Parse(ctx context.Context, userID int64, text string) (*ProposedAction, error)

	// Validate checks a proposed action against the schema rules and the
	// supplied snapshot; on time collision the action is re-tagged
	// CONFLICT in place.
	Validate(action *ProposedAction, snapshot []Event) ValidationOutcome

	// Apply executes a validated action against storage and writes audit
	// records for every successful mutation.
	Apply(ctx context.Context, userID int64, action *ProposedAction) (*ApplyResult, error)
}
