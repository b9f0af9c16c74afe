// storage.go
package calendarassistant

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type Storage struct {
	db *sql.DB
}

// Storage satisfies every repository contract.
var (
	_ UserRepository         = (*Storage)(nil)
	_ EventRepository        = (*Storage)(nil)
	_ ReminderRepository     = (*Storage)(nil)
	_ RecurrenceRepository   = (*Storage)(nil)
	_ NotificationRepository = (*Storage)(nil)
	_ AuditRepository        = (*Storage)(nil)
)

const maxPageSize = 100

// NewStorage opens the SQLite database and runs migrations.
func NewStorage(dsn string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Storage) Close() error { return s.db.Close() }

// ====================
// Migrations
// ====================
func (s *Storage) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	telegram_user_id INTEGER UNIQUE NOT NULL,
	username TEXT,
	first_name TEXT,
	language_code TEXT,
	timezone TEXT NOT NULL DEFAULT 'UTC',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS recurrence_rules (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	frequency TEXT NOT NULL,
	interval INTEGER NOT NULL DEFAULT 1,
	by_day TEXT,
	end_date DATETIME,
	count INTEGER,
	rrule TEXT,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	user_id INTEGER NOT NULL,
	title TEXT NOT NULL,
	description TEXT,
	location TEXT,
	start_ts INTEGER NOT NULL,
	end_ts INTEGER NOT NULL,
	timezone TEXT NOT NULL DEFAULT 'UTC',
	tags TEXT,
	recurrence_rule_id INTEGER,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_user_start ON events(user_id, start_ts);
CREATE INDEX IF NOT EXISTS idx_events_user_end ON events(user_id, end_ts);

CREATE TABLE IF NOT EXISTS reminders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id TEXT NOT NULL,
	offset_minutes INTEGER NOT NULL,
	sent_at DATETIME,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reminders_event ON reminders(event_id);

CREATE TABLE IF NOT EXISTS notifications (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	type TEXT NOT NULL,
	payload TEXT,
	read_at DATETIME,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	action TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id TEXT NOT NULL,
	metadata TEXT,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_user_created ON audit_logs(user_id, created_at);
`
	_, err := s.db.Exec(schema)
	return err
}

// ====================
// Users
// ====================
func (s *Storage) CreateUser(u *User) error {
	now := time.Now().UTC()
	if u.Timezone == "" {
		u.Timezone = "UTC"
	}
	res, err := s.db.Exec(`INSERT INTO users(telegram_user_id,username,first_name,language_code,timezone,created_at,updated_at)
		VALUES(?,?,?,?,?,?,?)`,
		u.TelegramUserID, u.Username, u.FirstName, u.LanguageCode, u.Timezone, now, now)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	u.ID = id
	u.CreatedAt = now
	u.UpdatedAt = now
	return nil
}

func (s *Storage) GetUserByID(id int64) (*User, error) {
	return s.getUser(`SELECT id, telegram_user_id, username, first_name, language_code, timezone, created_at, updated_at
		FROM users WHERE id=?`, id)
}

func (s *Storage) GetUserByTelegramID(telegramUserID int64) (*User, error) {
	return s.getUser(`SELECT id, telegram_user_id, username, first_name, language_code, timezone, created_at, updated_at
		FROM users WHERE telegram_user_id=?`, telegramUserID)
}

func (s *Storage) getUser(query string, arg any) (*User, error) {
	row := s.db.QueryRow(query, arg)
	var u User
	if err := row.Scan(&u.ID, &u.TelegramUserID, &u.Username, &u.FirstName, &u.LanguageCode, &u.Timezone, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *Storage) UpdateUser(u *User) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`UPDATE users SET username=?, first_name=?, language_code=?, timezone=?, updated_at=? WHERE id=?`,
		u.Username, u.FirstName, u.LanguageCode, u.Timezone, now, u.ID)
	if err == nil {
		u.UpdatedAt = now
	}
	return err
}

// ====================
// Events
// ====================

const eventColumns = `id, user_id, title, description, location, start_ts, end_ts, timezone, tags, recurrence_rule_id, created_at, updated_at`

func (s *Storage) CreateEvent(e *Event) error {
	now := time.Now().UTC()
	if e.Timezone == "" {
		e.Timezone = "UTC"
	}
	tags, err := marshalTags(e.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO events(`+eventColumns+`)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.UserID, e.Title, e.Description, e.Location,
		e.Start.Unix(), e.End.Unix(), e.Timezone, tags, e.RecurrenceRuleID, now, now)
	if err != nil {
		return err
	}
	e.CreatedAt = now
	e.UpdatedAt = now
	return nil
}

func (s *Storage) GetEventByID(userID int64, eventID string) (*Event, error) {
	row := s.db.QueryRow(`SELECT `+eventColumns+` FROM events WHERE id=? AND user_id=?`, eventID, userID)
	e, err := scanEvent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func (s *Storage) UpdateEvent(e *Event) error {
	now := time.Now().UTC()
	tags, err := marshalTags(e.Tags)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`UPDATE events SET title=?, description=?, location=?, start_ts=?, end_ts=?, timezone=?, tags=?, recurrence_rule_id=?, updated_at=?
		WHERE id=? AND user_id=?`,
		e.Title, e.Description, e.Location, e.Start.Unix(), e.End.Unix(),
		e.Timezone, tags, e.RecurrenceRuleID, now, e.ID, e.UserID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	e.UpdatedAt = now
	return nil
}

func (s *Storage) DeleteEvent(userID int64, eventID string) error {
	res, err := s.db.Exec(`DELETE FROM events WHERE id=? AND user_id=?`, eventID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	// Reminders belong to the event; they go with it.
	_, err = s.db.Exec(`DELETE FROM reminders WHERE event_id=?`, eventID)
	return err
}

func (s *Storage) ListEvents(userID int64, q EventQuery) ([]Event, int, error) {
	where := []string{"user_id = ?"}
	args := []any{userID}
	if !q.From.IsZero() {
		where = append(where, "start_ts >= ?")
		args = append(args, q.From.Unix())
	}
	if !q.To.IsZero() {
		where = append(where, "end_ts <= ?")
		args = append(args, q.To.Unix())
	}
	if q.Search != "" {
		where = append(where, "(title LIKE ? OR description LIKE ? OR location LIKE ?)")
		term := "%" + q.Search + "%"
		args = append(args, term, term, term)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM events WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := q.Page
	if page < 1 {
		page = 1
	}
	size := q.PageSize
	if size < 1 {
		size = 50
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	args = append(args, size, (page-1)*size)

	rows, err := s.db.Query(`SELECT `+eventColumns+` FROM events WHERE `+cond+` ORDER BY start_ts ASC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events, err := collectEvents(rows)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// GetSnapshot returns the events intersecting [from,to], ordered by
// start, capped at limit. Zero bounds mean unbounded on that side.
func (s *Storage) GetSnapshot(userID int64, from, to time.Time, limit int) ([]Event, error) {
	where := []string{"user_id = ?"}
	args := []any{userID}
	if !from.IsZero() {
		where = append(where, "end_ts > ?")
		args = append(args, from.Unix())
	}
	if !to.IsZero() {
		where = append(where, "start_ts < ?")
		args = append(args, to.Unix())
	}
	if limit <= 0 {
		limit = snapshotLimit
	}
	args = append(args, limit)

	rows, err := s.db.Query(`SELECT `+eventColumns+` FROM events WHERE `+
		strings.Join(where, " AND ")+` ORDER BY start_ts ASC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var e Event
	var startTS, endTS int64
	var description, location, tags sql.NullString
	var ruleID sql.NullInt64
	if err := row.Scan(&e.ID, &e.UserID, &e.Title, &description, &location,
		&startTS, &endTS, &e.Timezone, &tags, &ruleID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Description = description.String
	e.Location = location.String
	e.Start = time.Unix(startTS, 0).UTC()
	e.End = time.Unix(endTS, 0).UTC()
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &e.Tags); err != nil {
			return nil, fmt.Errorf("bad tags for event %s: %w", e.ID, err)
		}
	}
	if ruleID.Valid {
		id := ruleID.Int64
		e.RecurrenceRuleID = &id
	}
	return &e, nil
}

func collectEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

func marshalTags(tags map[string]string) (string, error) {
	if len(tags) == 0 {
		return "", nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ====================
// Reminders
// ====================

// ReplaceReminders swaps the full reminder list of an event in one
// transaction; old reminders are never merged with the new ones.
func (s *Storage) ReplaceReminders(eventID string, offsetMinutes []int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if _, err := tx.Exec(`DELETE FROM reminders WHERE event_id=?`, eventID); err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, offset := range offsetMinutes {
		if _, err := tx.Exec(`INSERT INTO reminders(event_id,offset_minutes,created_at) VALUES(?,?,?)`,
			eventID, offset, now); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *Storage) GetEventReminders(eventID string) ([]Reminder, error) {
	rows, err := s.db.Query(`SELECT id, event_id, offset_minutes, sent_at, created_at
		FROM reminders WHERE event_id=? ORDER BY offset_minutes ASC`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reminders []Reminder
	for rows.Next() {
		var r Reminder
		if err := rows.Scan(&r.ID, &r.EventID, &r.OffsetMinutes, &r.SentAt, &r.CreatedAt); err != nil {
			return nil, err
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

func (s *Storage) DueReminders(now time.Time, horizon time.Duration) ([]DueReminder, error) {
	rows, err := s.db.Query(`
SELECT r.id, r.event_id, r.offset_minutes, r.sent_at, r.created_at, `+prefixedEventColumns("e")+`, u.telegram_user_id
FROM reminders r
JOIN events e ON e.id = r.event_id
JOIN users u ON u.id = e.user_id
WHERE r.sent_at IS NULL
  AND e.start_ts > ?
  AND e.start_ts <= ?`,
		now.Unix(), now.Add(horizon).Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []DueReminder
	for rows.Next() {
		var d DueReminder
		var startTS, endTS int64
		var description, location, tags sql.NullString
		var ruleID sql.NullInt64
		if err := rows.Scan(
			&d.Reminder.ID, &d.Reminder.EventID, &d.Reminder.OffsetMinutes, &d.Reminder.SentAt, &d.Reminder.CreatedAt,
			&d.Event.ID, &d.Event.UserID, &d.Event.Title, &description, &location,
			&startTS, &endTS, &d.Event.Timezone, &tags, &ruleID, &d.Event.CreatedAt, &d.Event.UpdatedAt,
			&d.TelegramChatID,
		); err != nil {
			return nil, err
		}
		d.Event.Description = description.String
		d.Event.Location = location.String
		d.Event.Start = time.Unix(startTS, 0).UTC()
		d.Event.End = time.Unix(endTS, 0).UTC()
		due = append(due, d)
	}
	return due, rows.Err()
}

func (s *Storage) MarkReminderSent(reminderID int64, at time.Time) error {
	_, err := s.db.Exec(`UPDATE reminders SET sent_at=? WHERE id=?`, at.UTC(), reminderID)
	return err
}

func prefixedEventColumns(alias string) string {
	cols := strings.Split(eventColumns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// ====================
// Recurrence rules
// ====================
func (s *Storage) CreateRecurrenceRule(r *RecurrenceRule) error {
	now := time.Now().UTC()
	if r.Interval < 1 {
		r.Interval = 1
	}
	res, err := s.db.Exec(`INSERT INTO recurrence_rules(frequency,interval,by_day,end_date,count,rrule,created_at)
		VALUES(?,?,?,?,?,?,?)`,
		r.Frequency, r.Interval, r.ByDay, r.EndDate, r.Count, r.RRuleText, now)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	r.ID = id
	r.CreatedAt = now
	return nil
}

func (s *Storage) GetRecurrenceRule(id int64) (*RecurrenceRule, error) {
	row := s.db.QueryRow(`SELECT id, frequency, interval, by_day, end_date, count, rrule, created_at
		FROM recurrence_rules WHERE id=?`, id)
	r, err := scanRecurrenceRule(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *Storage) RulesByID(ids []int64) (map[int64]*RecurrenceRule, error) {
	out := make(map[int64]*RecurrenceRule, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.Query(`SELECT id, frequency, interval, by_day, end_date, count, rrule, created_at
		FROM recurrence_rules WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		r, err := scanRecurrenceRule(rows)
		if err != nil {
			return nil, err
		}
		out[r.ID] = r
	}
	return out, rows.Err()
}

func scanRecurrenceRule(row rowScanner) (*RecurrenceRule, error) {
	var r RecurrenceRule
	var byDay, rruleText sql.NullString
	var endDate sql.NullTime
	var count sql.NullInt64
	if err := row.Scan(&r.ID, &r.Frequency, &r.Interval, &byDay, &endDate, &count, &rruleText, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.ByDay = byDay.String
	r.RRuleText = rruleText.String
	if endDate.Valid {
		t := endDate.Time
		r.EndDate = &t
	}
	if count.Valid {
		c := int(count.Int64)
		r.Count = &c
	}
	return &r, nil
}

// ====================
// Notifications
// ====================
func (s *Storage) AddNotification(n *Notification) error {
	now := time.Now().UTC()
	res, err := s.db.Exec(`INSERT INTO notifications(user_id,type,payload,read_at,created_at)
		VALUES(?,?,?,?,?)`,
		n.UserID, n.Type, n.Payload, n.ReadAt, now)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	n.ID = id
	n.CreatedAt = now
	return nil
}

func (s *Storage) GetUserNotifications(userID int64) ([]Notification, error) {
	return s.queryNotifications(`SELECT id,user_id,type,payload,read_at,created_at FROM notifications WHERE user_id=?`, userID)
}

func (s *Storage) GetUnreadNotifications(userID int64) ([]Notification, error) {
	return s.queryNotifications(`SELECT id,user_id,type,payload,read_at,created_at FROM notifications WHERE user_id=? AND read_at IS NULL`, userID)
}

func (s *Storage) queryNotifications(query string, args ...any) ([]Notification, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Payload, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func (s *Storage) MarkNotificationRead(notificationID int64) error {
	_, err := s.db.Exec(`UPDATE notifications SET read_at=? WHERE id=?`, time.Now().UTC(), notificationID)
	return err
}

// ====================
// Audit
// ====================
func (s *Storage) AppendAudit(entry *AuditLog) error {
	metadata := ""
	if len(entry.Metadata) > 0 {
		data, err := json.Marshal(entry.Metadata)
		if err != nil {
			return err
		}
		metadata = string(data)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.Exec(`INSERT INTO audit_logs(user_id,action,resource_type,resource_id,metadata,created_at)
		VALUES(?,?,?,?,?,?)`,
		entry.UserID, entry.Action, entry.ResourceType, entry.ResourceID, metadata, entry.CreatedAt)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	entry.ID = id
	return nil
}

func (s *Storage) ListAuditLogs(filter AuditFilter) ([]AuditLog, error) {
	where := []string{"1=1"}
	args := []any{}
	if filter.UserID != 0 {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.ResourceType != "" {
		where = append(where, "resource_type = ?")
		args = append(args, filter.ResourceType)
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filter.Since)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := s.db.Query(`SELECT id,user_id,action,resource_type,resource_id,metadata,created_at
		FROM audit_logs WHERE `+strings.Join(where, " AND ")+` ORDER BY created_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []AuditLog
	for rows.Next() {
		var entry AuditLog
		var metadata sql.NullString
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Action, &entry.ResourceType,
			&entry.ResourceID, &metadata, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &entry.Metadata); err != nil {
				return nil, err
			}
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}
