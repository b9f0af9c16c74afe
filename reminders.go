// reminders.go
package calendarassistant

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	// Reminders for events starting past this horizon are not even
	// considered per tick.
	reminderHorizon = 7 * 24 * time.Hour

	// Send window around the ideal fire time: up to one minute early
	// (tick jitter) and up to five minutes late (catch up after
	// downtime). Outside the window the reminder waits or is dropped.
	reminderEarlyWindow = time.Minute
	reminderLateWindow  = 5 * time.Minute
)

// NotificationPusher delivers in-app notifications to connected clients.
type NotificationPusher interface {
	PushToUser(userID int64, payload any)
}

// ReminderDispatcher wakes every minute and delivers reminders whose
// fire time falls inside the send window.
type ReminderDispatcher struct {
	reminders     ReminderRepository
	notifications NotificationRepository
	bot           *TelegramClient
	pusher        NotificationPusher
	cron          *cron.Cron
	log           *slog.Logger

	// Now is swappable for tests.
	Now func() time.Time
}

func NewReminderDispatcher(reminders ReminderRepository, notifications NotificationRepository, bot *TelegramClient, pusher NotificationPusher) *ReminderDispatcher {
	return &ReminderDispatcher{
		reminders:     reminders,
		notifications: notifications,
		bot:           bot,
		pusher:        pusher,
		cron:          cron.New(),
		log:           ComponentLogger("reminders"),
		Now:           time.Now,
	}
}

// Start schedules the per-minute tick. The cron expression is configurable
// so tests and slow deployments can widen the cadence.
func (d *ReminderDispatcher) Start(cronSpec string) error {
	if cronSpec == "" {
		cronSpec = "* * * * *"
	}
	if _, err := d.cron.AddFunc(cronSpec, func() {
		d.Tick(context.Background())
	}); err != nil {
		return err
	}
	d.cron.Start()
	d.log.Info("reminder_dispatcher_started", "cron", cronSpec)
	return nil
}

func (d *ReminderDispatcher) Stop() {
	ctx := d.cron.Stop()
	<-ctx.Done()
	d.log.Info("reminder_dispatcher_stopped")
}

// Tick runs one dispatch pass. Exported so tests and admin endpoints
// can drive it without the cron schedule.
func (d *ReminderDispatcher) Tick(ctx context.Context) {
	now := d.Now().UTC()
	due, err := d.reminders.DueReminders(now, reminderHorizon)
	if err != nil {
		d.log.Error("reminder_query_failed", "err", err)
		return
	}

	sent := 0
	for _, item := range due {
		fireAt := item.Event.Start.Add(-time.Duration(item.Reminder.OffsetMinutes) * time.Minute)
		lateness := now.Sub(fireAt)
		if lateness < -reminderEarlyWindow || lateness > reminderLateWindow {
			continue
		}
		if err := d.deliver(ctx, item); err != nil {
			d.log.Warn("reminder_send_failed",
				"event_id", item.Event.ID, "reminder_id", item.Reminder.ID, "err", err)
			continue
		}
		if err := d.reminders.MarkReminderSent(item.Reminder.ID, now); err != nil {
			d.log.Error("reminder_mark_failed", "reminder_id", item.Reminder.ID, "err", err)
			continue
		}
		sent++
	}
	if sent > 0 {
		d.log.Info("reminders_sent", "count", sent)
	}
}

func (d *ReminderDispatcher) deliver(ctx context.Context, item DueReminder) error {
	eventTime := item.Event.Start.Format("2006-01-02 15:04 UTC")
	if d.bot != nil && d.bot.Enabled() {
		if err := d.bot.SendReminder(ctx, item.TelegramChatID, item.Event.Title, eventTime, item.Reminder.OffsetMinutes); err != nil {
			return err
		}
	}

	payload, _ := json.Marshal(map[string]any{
		"event_id":       item.Event.ID,
		"title":          item.Event.Title,
		"start_time":     item.Event.Start,
		"offset_minutes": item.Reminder.OffsetMinutes,
	})
	note := &Notification{
		UserID:  item.Event.UserID,
		Type:    "reminder",
		Payload: string(payload),
	}
	if d.notifications != nil {
		if err := d.notifications.AddNotification(note); err != nil {
			d.log.Warn("reminder_notification_store_failed", "event_id", item.Event.ID, "err", err)
		}
	}
	if d.pusher != nil {
		d.pusher.PushToUser(item.Event.UserID, note)
	}
	return nil
}
