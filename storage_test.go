package calendarassistant

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setupTestDB(t *testing.T) *Storage {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "calendar-assistant-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	dbPath := filepath.Join(tmpDir, "test.db")
	storage, err := NewStorage("file:" + dbPath + "?cache=shared&_fk=1")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	return storage
}

func mustCreateUser(t *testing.T, s *Storage, telegramID int64) *User {
	t.Helper()
	u := &User{TelegramUserID: telegramID, Username: "tester", Timezone: "UTC"}
	if err := s.CreateUser(u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func mustCreateEvent(t *testing.T, s *Storage, userID int64, id, title string, start, end time.Time) *Event {
	t.Helper()
	ev := &Event{ID: id, UserID: userID, Title: title, Start: start, End: end, Timezone: "UTC"}
	if err := s.CreateEvent(ev); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	return ev
}

func TestStorageUsers(t *testing.T) {
	s := setupTestDB(t)

	u := mustCreateUser(t, s, 1001)
	if u.ID == 0 {
		t.Fatal("expected assigned user id")
	}

	byTelegram, err := s.GetUserByTelegramID(1001)
	if err != nil {
		t.Fatalf("GetUserByTelegramID: %v", err)
	}
	if byTelegram.ID != u.ID {
		t.Errorf("id = %d, want %d", byTelegram.ID, u.ID)
	}

	byID, err := s.GetUserByID(u.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if byID.TelegramUserID != 1001 {
		t.Errorf("telegram id = %d, want 1001", byID.TelegramUserID)
	}

	if _, err := s.GetUserByTelegramID(9999); err != ErrNotFound {
		t.Errorf("missing user error = %v, want ErrNotFound", err)
	}

	byID.Timezone = "Europe/Madrid"
	if err := s.UpdateUser(byID); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	again, _ := s.GetUserByID(u.ID)
	if again.Timezone != "Europe/Madrid" {
		t.Errorf("timezone = %q after update", again.Timezone)
	}
}

func TestStorageEvents(t *testing.T) {
	s := setupTestDB(t)
	u := mustCreateUser(t, s, 1)

	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	ev := mustCreateEvent(t, s, u.ID, "ev1", "Dentist", start, start.Add(time.Hour))
	ev.Tags = map[string]string{"health": "1"}
	if err := s.UpdateEvent(ev); err != nil {
		t.Fatalf("UpdateEvent: %v", err)
	}

	got, err := s.GetEventByID(u.ID, "ev1")
	if err != nil {
		t.Fatalf("GetEventByID: %v", err)
	}
	if got.Title != "Dentist" || !got.Start.Equal(start) {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Tags["health"] != "1" {
		t.Errorf("tags lost on round trip: %v", got.Tags)
	}

	if _, err := s.GetEventByID(u.ID, "missing"); err != ErrNotFound {
		t.Errorf("missing event error = %v, want ErrNotFound", err)
	}
	// Another user must not see the event.
	if _, err := s.GetEventByID(u.ID+1, "ev1"); err != ErrNotFound {
		t.Errorf("cross-user read error = %v, want ErrNotFound", err)
	}

	if err := s.DeleteEvent(u.ID, "ev1"); err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}
	if err := s.DeleteEvent(u.ID, "ev1"); err != ErrNotFound {
		t.Errorf("double delete error = %v, want ErrNotFound", err)
	}
}

func TestStorageListEvents(t *testing.T) {
	s := setupTestDB(t)
	u := mustCreateUser(t, s, 1)

	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	mustCreateEvent(t, s, u.ID, "e1", "Standup", base, base.Add(time.Hour))
	mustCreateEvent(t, s, u.ID, "e2", "Lunch with Ana", base.Add(24*time.Hour), base.Add(25*time.Hour))
	mustCreateEvent(t, s, u.ID, "e3", "Standup", base.Add(48*time.Hour), base.Add(49*time.Hour))

	list, total, err := s.ListEvents(u.ID, EventQuery{Search: "standup"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(list) != 2 {
		t.Fatalf("search total = %d len = %d, want 2/2", total, len(list))
	}

	list, total, err = s.ListEvents(u.ID, EventQuery{From: base.Add(12 * time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Fatalf("window total = %d, want 2", total)
	}
	if !list[0].Start.Before(list[1].Start) {
		t.Error("expected ascending start order")
	}

	list, total, err = s.ListEvents(u.ID, EventQuery{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(list) != 2 {
		t.Fatalf("paged total = %d len = %d, want 3/2", total, len(list))
	}
}

func TestStorageSnapshotWindow(t *testing.T) {
	s := setupTestDB(t)
	u := mustCreateUser(t, s, 1)

	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	mustCreateEvent(t, s, u.ID, "inside", "A", base, base.Add(time.Hour))
	mustCreateEvent(t, s, u.ID, "straddles", "B", base.Add(-time.Hour), base.Add(time.Hour))
	mustCreateEvent(t, s, u.ID, "before", "C", base.Add(-3*time.Hour), base.Add(-2*time.Hour))
	mustCreateEvent(t, s, u.ID, "after", "D", base.Add(5*time.Hour), base.Add(6*time.Hour))

	snapshot, err := s.GetSnapshot(u.ID, base.Add(-30*time.Minute), base.Add(2*time.Hour), 0)
	if err != nil {
		t.Fatal(err)
	}
	ids := map[string]bool{}
	for _, ev := range snapshot {
		ids[ev.ID] = true
	}
	if !ids["inside"] || !ids["straddles"] {
		t.Errorf("snapshot missing intersecting events: %v", ids)
	}
	if ids["before"] || ids["after"] {
		t.Errorf("snapshot includes non-intersecting events: %v", ids)
	}
}

func TestStorageReminders(t *testing.T) {
	s := setupTestDB(t)
	u := mustCreateUser(t, s, 42)

	now := time.Now().UTC().Truncate(time.Second)
	ev := mustCreateEvent(t, s, u.ID, "ev1", "Flight", now.Add(30*time.Minute), now.Add(90*time.Minute))

	if err := s.ReplaceReminders(ev.ID, []int{15, 30}); err != nil {
		t.Fatalf("ReplaceReminders: %v", err)
	}
	reminders, err := s.GetEventReminders(ev.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(reminders) != 2 {
		t.Fatalf("got %d reminders, want 2", len(reminders))
	}

	// Replacement is wholesale, not a merge.
	if err := s.ReplaceReminders(ev.ID, []int{60}); err != nil {
		t.Fatal(err)
	}
	reminders, _ = s.GetEventReminders(ev.ID)
	if len(reminders) != 1 || reminders[0].OffsetMinutes != 60 {
		t.Fatalf("replacement merged instead of swapping: %+v", reminders)
	}

	due, err := s.DueReminders(now, reminderHorizon)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 {
		t.Fatalf("due = %d, want 1", len(due))
	}
	if due[0].TelegramChatID != 42 {
		t.Errorf("chat id = %d, want 42", due[0].TelegramChatID)
	}
	if due[0].Event.Title != "Flight" {
		t.Errorf("joined event title = %q", due[0].Event.Title)
	}

	if err := s.MarkReminderSent(due[0].Reminder.ID, now); err != nil {
		t.Fatal(err)
	}
	due, _ = s.DueReminders(now, reminderHorizon)
	if len(due) != 0 {
		t.Errorf("sent reminder still reported due")
	}
}

func TestStorageAudit(t *testing.T) {
	s := setupTestDB(t)

	entry := &AuditLog{
		UserID:       7,
		Action:       string(ActionCreate),
		ResourceType: "event",
		ResourceID:   "ev1",
		Metadata:     map[string]string{"title": "Dentist"},
	}
	if err := s.AppendAudit(entry); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}
	if entry.ID == 0 {
		t.Fatal("expected assigned audit id")
	}

	logs, err := s.ListAuditLogs(AuditFilter{UserID: 7})
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 {
		t.Fatalf("got %d logs, want 1", len(logs))
	}
	if logs[0].Metadata["title"] != "Dentist" {
		t.Errorf("metadata lost: %v", logs[0].Metadata)
	}

	logs, _ = s.ListAuditLogs(AuditFilter{UserID: 7, Action: string(ActionDelete)})
	if len(logs) != 0 {
		t.Errorf("action filter ignored")
	}
}

func TestStorageNotifications(t *testing.T) {
	s := setupTestDB(t)

	n := &Notification{UserID: 5, Type: "reminder", Payload: `{"x":1}`}
	if err := s.AddNotification(n); err != nil {
		t.Fatal(err)
	}

	unread, err := s.GetUnreadNotifications(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(unread) != 1 {
		t.Fatalf("unread = %d, want 1", len(unread))
	}

	if err := s.MarkNotificationRead(n.ID); err != nil {
		t.Fatal(err)
	}
	unread, _ = s.GetUnreadNotifications(5)
	if len(unread) != 0 {
		t.Error("read notification still unread")
	}
	all, _ := s.GetUserNotifications(5)
	if len(all) != 1 {
		t.Errorf("all notifications = %d, want 1", len(all))
	}
}
