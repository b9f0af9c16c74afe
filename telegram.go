// telegram.go
package calendarassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TelegramClient sends messages through the Telegram Bot API. A client
// with an empty token degrades to a no-op so local setups work without
// a bot.
type TelegramClient struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

func NewTelegramClient(token string) *TelegramClient {
	return &TelegramClient{
		token:      token,
		baseURL:    "https://api.telegram.org/bot" + token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether the client holds a bot token.
func (c *TelegramClient) Enabled() bool { return c.token != "" }

func (c *TelegramClient) SendMessage(ctx context.Context, chatID int64, text string) error {
	if !c.Enabled() {
		ComponentLogger("telegram").Warn("telegram_token_missing", "chat_id", chatID)
		return nil
	}
	body, err := json.Marshal(map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram send status %d: %s", resp.StatusCode, string(raw))
	}
	return nil
}

// SendReminder formats and delivers a reminder for an upcoming event.
func (c *TelegramClient) SendReminder(ctx context.Context, chatID int64, eventTitle, eventTime string, offsetMinutes int) error {
	text := fmt.Sprintf("📅 <b>Reminder: %s</b>\n\n⏰ %s\n⏳ %s until event",
		eventTitle, eventTime, formatOffset(offsetMinutes))
	return c.SendMessage(ctx, chatID, text)
}

func formatOffset(offsetMinutes int) string {
	switch {
	case offsetMinutes < 60:
		return fmt.Sprintf("%d minutes", offsetMinutes)
	case offsetMinutes < 1440:
		return fmt.Sprintf("%d hours", offsetMinutes/60)
	default:
		return fmt.Sprintf("%d days", offsetMinutes/1440)
	}
}
