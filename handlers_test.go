package calendarassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

// errAssistant fails every Apply with a fixed error.
type errAssistant struct {
	err error
}

func (e *errAssistant) Parse(context.Context, int64, string) (*ProposedAction, error) {
	return nil, e.err
}
func (e *errAssistant) Validate(*ProposedAction, []Event) ValidationOutcome {
	return ValidationOutcome{Valid: false, Err: e.err}
}
func (e *errAssistant) Apply(context.Context, int64, *ProposedAction) (*ApplyResult, error) {
	return nil, e.err
}

func apiRequest(t *testing.T, router http.Handler, method, path string, telegramID int64, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if telegramID != 0 {
		req.Header.Set("X-Telegram-User-ID", strconv.FormatInt(telegramID, 10))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRouterHealth(t *testing.T) {
	storage := setupTestDB(t)
	router := NewRouter(storage, &stubAssistant{}, NewWebhookHandler(storage, &stubAssistant{}, NewTelegramClient(""), false), NewWSManager())

	rec := apiRequest(t, router, http.MethodGet, "/health", 0, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRouterRequiresUserHeader(t *testing.T) {
	storage := setupTestDB(t)
	router := NewRouter(storage, &stubAssistant{}, NewWebhookHandler(storage, &stubAssistant{}, NewTelegramClient(""), false), NewWSManager())

	rec := apiRequest(t, router, http.MethodGet, "/api/events", 0, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 without the user header", rec.Code)
	}

	rec = apiRequest(t, router, http.MethodGet, "/api/events", 999, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for an unknown user", rec.Code)
	}
}

func TestRouterRegisterIsIdempotent(t *testing.T) {
	storage := setupTestDB(t)
	router := NewRouter(storage, &stubAssistant{}, NewWebhookHandler(storage, &stubAssistant{}, NewTelegramClient(""), false), NewWSManager())

	body := map[string]any{"telegram_user_id": 42, "username": "ana", "timezone": "UTC"}
	rec := apiRequest(t, router, http.MethodPost, "/register", 0, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first register status = %d, want 201", rec.Code)
	}
	rec = apiRequest(t, router, http.MethodPost, "/register", 0, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("second register status = %d, want 200", rec.Code)
	}
}

func TestRouterErrorStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrDuplicateDetected, http.StatusConflict},
		{ErrNotFound, http.StatusNotFound},
		{ErrNoEventsMatched, http.StatusNotFound},
		{ErrInvalidInput, http.StatusBadRequest},
		{ErrInvalidOffsetFormat, http.StatusBadRequest},
		{ErrUnsupportedAction, http.StatusBadRequest},
	}

	storage := setupTestDB(t)
	user := mustCreateUser(t, storage, 42)

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			router := NewRouter(storage, &errAssistant{err: fmt.Errorf("wrapped: %w", tt.err)},
				NewWebhookHandler(storage, &stubAssistant{}, NewTelegramClient(""), false), NewWSManager())
			rec := apiRequest(t, router, http.MethodPost, "/api/events", user.TelegramUserID, map[string]any{
				"title": "X", "start_time": "2030-01-01T10:00:00Z", "end_time": "2030-01-01T11:00:00Z",
			})
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRouterEventLifecycle(t *testing.T) {
	storage := setupTestDB(t)
	SetAuditRepository(storage)
	t.Cleanup(func() { SetAuditRepository(nil) })

	user := mustCreateUser(t, storage, 42)
	proposer := &stubProposer{}
	assistant := NewAssistantService(storage, storage, storage, storage, proposer)
	router := NewRouter(storage, assistant, NewWebhookHandler(storage, assistant, NewTelegramClient(""), false), NewWSManager())

	start := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	rec := apiRequest(t, router, http.MethodPost, "/api/events", user.TelegramUserID, map[string]any{
		"title":      "Dentist",
		"start_time": rfc(start),
		"end_time":   rfc(start.Add(time.Hour)),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created ApplyResult
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.Event == nil {
		t.Fatal("create response carries no event")
	}

	rec = apiRequest(t, router, http.MethodGet, "/api/events/"+created.Event.ID, user.TelegramUserID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	// Same title, same slot: duplicate must come back as 409.
	rec = apiRequest(t, router, http.MethodPost, "/api/events", user.TelegramUserID, map[string]any{
		"title":      "dentist",
		"start_time": rfc(start),
		"end_time":   rfc(start.Add(time.Hour)),
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate create status = %d, want 409", rec.Code)
	}

	rec = apiRequest(t, router, http.MethodDelete, "/api/events/"+created.Event.ID, user.TelegramUserID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = apiRequest(t, router, http.MethodGet, "/api/events/"+created.Event.ID, user.TelegramUserID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", rec.Code)
	}

	rec = apiRequest(t, router, http.MethodGet, "/api/audit", user.TelegramUserID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit status = %d", rec.Code)
	}
	var logs []AuditLog
	if err := json.Unmarshal(rec.Body.Bytes(), &logs); err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 {
		t.Errorf("audit rows = %d, want create + delete", len(logs))
	}
}
