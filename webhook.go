// webhook.go
package calendarassistant

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Telegram update shapes, reduced to the fields the webhook consumes.
type telegramUpdate struct {
	Message       *telegramMessage `json:"message"`
	EditedMessage *telegramMessage `json:"edited_message"`
}

type telegramMessage struct {
	From *telegramUser `json:"from"`
	Chat telegramChat  `json:"chat"`
	Text string        `json:"text"`
}

type telegramUser struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	FirstName    string `json:"first_name"`
	LanguageCode string `json:"language_code"`
}

type telegramChat struct {
	ID int64 `json:"id"`
}

// WebhookHandler turns Telegram updates into assistant actions and
// replies with the outcome. It always answers 200 to Telegram;
// otherwise the update is redelivered forever.
type WebhookHandler struct {
	users     UserRepository
	assistant AssistantService
	bot       *TelegramClient
	debug     bool
	log       *slog.Logger
}

func NewWebhookHandler(users UserRepository, assistant AssistantService, bot *TelegramClient, debug bool) *WebhookHandler {
	return &WebhookHandler{users: users, assistant: assistant, bot: bot, debug: debug, log: ComponentLogger("webhook")}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var update telegramUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		h.log.Warn("webhook_bad_update", "err", err)
		respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	msg := update.Message
	if msg == nil {
		msg = update.EditedMessage
	}
	if msg == nil || msg.From == nil || msg.Chat.ID == 0 || msg.Text == "" {
		respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	ctx, reqID := WithRequestID(r.Context())
	log := h.log.With("request_id", reqID, "telegram_user_id", msg.From.ID)

	user, err := h.getOrCreateUser(msg.From)
	if err != nil {
		log.Error("webhook_user_lookup_failed", "err", err)
		respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	chatID := msg.Chat.ID
	action, err := h.assistant.Parse(ctx, user.ID, msg.Text)
	if err != nil {
		log.Error("webhook_parse_failed", "err", err)
		h.replyError(ctx, chatID, err)
		respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}
	log.Info("webhook_action_parsed", "action", action.Kind, "confidence", action.Confidence)

	if !h.coerceTimes(ctx, chatID, action) {
		respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	// Non-mutating kinds only carry a message back to the user.
	if !action.Kind.Mutates() {
		switch {
		case action.Payload.Message != "":
			h.send(ctx, chatID, action.Payload.Message)
		case action.Kind == ActionNoop:
			// nothing actionable, stay silent
		default:
			h.send(ctx, chatID, "I need more information to help you.")
		}
		respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	result, err := h.assistant.Apply(ctx, user.ID, action)
	if err != nil {
		log.Error("webhook_apply_failed", "action", action.Kind, "err", err)
		h.replyError(ctx, chatID, err)
		respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}
	log.Info("webhook_action_applied", "action", result.Kind, "affected", result.Affected)
	h.send(ctx, chatID, summarizeResult(result))
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *WebhookHandler) getOrCreateUser(tu *telegramUser) (*User, error) {
	user, err := h.users.GetUserByTelegramID(tu.ID)
	if err == nil {
		return user, nil
	}
	if err != ErrNotFound {
		return nil, err
	}
	user = &User{
		TelegramUserID: tu.ID,
		Username:       tu.Username,
		FirstName:      tu.FirstName,
		LanguageCode:   tu.LanguageCode,
		Timezone:       "UTC",
	}
	if err := h.users.CreateUser(user); err != nil {
		return nil, err
	}
	return user, nil
}

// coerceTimes repairs the time fields of mutating actions before they
// reach Apply. Returns false when the exchange already ended with a
// clarification sent to the user.
func (h *WebhookHandler) coerceTimes(ctx context.Context, chatID int64, action *ProposedAction) bool {
	switch action.Kind {
	case ActionCreate, ActionUpdate, ActionMove:
	default:
		return true
	}

	payload := &action.Payload
	var start, end time.Time
	var err error
	if payload.StartTime != "" {
		if start, err = NormalizeTimestamp(payload.StartTime); err != nil {
			h.send(ctx, chatID, "I couldn't understand the start time. Please provide a clear date and time (e.g., 14 December 17:00).")
			return false
		}
	}
	if payload.EndTime != "" {
		if end, err = NormalizeTimestamp(payload.EndTime); err != nil {
			h.send(ctx, chatID, "I couldn't understand the end time. Please provide a clear date and time.")
			return false
		}
	}

	if action.Kind == ActionCreate {
		if start.IsZero() {
			h.send(ctx, chatID, "I need a start date/time to create the event.")
			return false
		}
		// Default duration when the user only gave a start.
		if end.IsZero() {
			end = start.Add(time.Hour)
		}
	}

	if !start.IsZero() {
		payload.StartTime = start.Format(time.RFC3339)
	}
	if !end.IsZero() {
		payload.EndTime = end.Format(time.RFC3339)
	}
	return true
}

func (h *WebhookHandler) send(ctx context.Context, chatID int64, text string) {
	if err := h.bot.SendMessage(ctx, chatID, text); err != nil {
		h.log.Error("webhook_reply_failed", "chat_id", chatID, "err", err)
	}
}

func (h *WebhookHandler) replyError(ctx context.Context, chatID int64, err error) {
	text := "Sorry, I couldn't process that request."
	if h.debug {
		text += " Error: " + err.Error()
	}
	h.send(ctx, chatID, text)
}

func summarizeResult(res *ApplyResult) string {
	if res.Message != "" {
		return res.Message
	}
	if res.Event == nil {
		return "Done."
	}
	return string(res.Kind) + ": " + res.Event.Title + "\n" +
		res.Event.Start.Format(time.RFC3339) + " — " + res.Event.End.Format(time.RFC3339)
}
