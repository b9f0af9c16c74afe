// handlers.go
package calendarassistant

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// ======================
// Helpers
// ======================

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// statusForError maps validation sentinels to HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrDuplicateDetected):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoEventsMatched):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrMalformedTimestamp),
		errors.Is(err, ErrUnsupportedAction), errors.Is(err, ErrInvalidOffsetFormat):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// ======================
// User resolution
// ======================

// userMiddleware resolves the caller from the X-Telegram-User-ID header
// and stashes the internal user id in the request context.
func userMiddleware(users UserRepository) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			telegramID := parseID(r.Header.Get("X-Telegram-User-ID"))
			if telegramID == 0 {
				respondError(w, http.StatusBadRequest, "Missing X-Telegram-User-ID header")
				return
			}
			user, err := users.GetUserByTelegramID(telegramID)
			if err != nil {
				respondError(w, http.StatusNotFound, "Unknown user")
				return
			}
			next.ServeHTTP(w, r.WithContext(SetUserContext(r.Context(), user.ID)))
		})
	}
}

func requireUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	uid, ok := GetUserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusInternalServerError, "No user in context")
	}
	return uid, ok
}

// ======================
// User Handlers
// ======================

type registerRequest struct {
	TelegramUserID int64  `json:"telegram_user_id"`
	Username       string `json:"username"`
	FirstName      string `json:"first_name"`
	LanguageCode   string `json:"language_code"`
	Timezone       string `json:"timezone"`
}

func handleRegister(users UserRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request")
			return
		}
		if req.TelegramUserID == 0 {
			respondError(w, http.StatusBadRequest, "telegram_user_id is required")
			return
		}

		if existing, err := users.GetUserByTelegramID(req.TelegramUserID); err == nil {
			respondJSON(w, http.StatusOK, existing)
			return
		}

		user := &User{
			TelegramUserID: req.TelegramUserID,
			Username:       req.Username,
			FirstName:      req.FirstName,
			LanguageCode:   req.LanguageCode,
			Timezone:       req.Timezone,
		}
		if err := users.CreateUser(user); err != nil {
			respondError(w, http.StatusInternalServerError, "Could not create user")
			return
		}
		respondJSON(w, http.StatusCreated, user)
	}
}

// ======================
// Event Handlers
// ======================

// eventRequest is the REST shape of an event write. It is translated to
// a proposed action so REST writes run through the same validation
// pipeline as the assistant.
type eventRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Recurrence  string `json:"recurrence"`
	Reminders   []int  `json:"reminders"`
}

func handleCreateEvent(assistant AssistantService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		var req eventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request")
			return
		}

		action := &ProposedAction{
			Kind: ActionCreate,
			Payload: ActionPayload{
				Title:       req.Title,
				Description: req.Description,
				Location:    req.Location,
				StartTime:   req.StartTime,
				EndTime:     req.EndTime,
				Recurrence:  req.Recurrence,
				Reminders:   req.Reminders,
			},
		}
		result, err := assistant.Apply(r.Context(), userID, action)
		if err != nil {
			respondError(w, statusForError(err), err.Error())
			return
		}
		respondJSON(w, http.StatusCreated, result)
	}
}

func handleGetEvent(events EventRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		event, err := events.GetEventByID(userID, mux.Vars(r)["eventID"])
		if err != nil {
			respondError(w, statusForError(err), "Event not found")
			return
		}
		respondJSON(w, http.StatusOK, event)
	}
}

func handleUpdateEvent(assistant AssistantService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		var req eventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request")
			return
		}

		action := &ProposedAction{
			Kind: ActionUpdate,
			Payload: ActionPayload{
				EventID:     mux.Vars(r)["eventID"],
				Title:       req.Title,
				Description: req.Description,
				Location:    req.Location,
				StartTime:   req.StartTime,
				EndTime:     req.EndTime,
				Reminders:   req.Reminders,
			},
		}
		result, err := assistant.Apply(r.Context(), userID, action)
		if err != nil {
			respondError(w, statusForError(err), err.Error())
			return
		}
		respondJSON(w, http.StatusOK, result)
	}
}

func handleDeleteEvent(assistant AssistantService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		action := &ProposedAction{
			Kind:    ActionDelete,
			Payload: ActionPayload{EventID: mux.Vars(r)["eventID"]},
		}
		result, err := assistant.Apply(r.Context(), userID, action)
		if err != nil {
			respondError(w, statusForError(err), err.Error())
			return
		}
		respondJSON(w, http.StatusOK, result)
	}
}

func handleListEvents(events EventRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		start, end := parseTimeRange(r)
		q := EventQuery{
			From:     start,
			To:       end,
			Search:   r.URL.Query().Get("search"),
			Page:     parsePositiveInt(r, "page"),
			PageSize: parsePositiveInt(r, "page_size"),
		}
		list, total, err := events.ListEvents(userID, q)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Error loading events")
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"events": list,
			"total":  total,
		})
	}
}

func handleEventOccurrences(events EventRepository, rules RecurrenceRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		event, err := events.GetEventByID(userID, mux.Vars(r)["eventID"])
		if err != nil {
			respondError(w, statusForError(err), "Event not found")
			return
		}
		if event.RecurrenceRuleID == nil {
			respondJSON(w, http.StatusOK, []Event{*event})
			return
		}
		rule, err := rules.GetRecurrenceRule(*event.RecurrenceRuleID)
		if err != nil {
			respondError(w, statusForError(err), "Recurrence rule not found")
			return
		}
		start, end := parseTimeRange(r)
		occurrences, err := ExpandOccurrences(*event, rule, start, end)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, occurrences)
	}
}

// ======================
// Assistant Handlers
// ======================

type parseRequest struct {
	Text string `json:"text"`
}

func handleAssistantParse(assistant AssistantService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		var req parseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
			respondError(w, http.StatusBadRequest, "text is required")
			return
		}
		action, err := assistant.Parse(r.Context(), userID, req.Text)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Parse failed")
			return
		}
		respondJSON(w, http.StatusOK, action)
	}
}

func handleAssistantApply(assistant AssistantService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		var action ProposedAction
		if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid action")
			return
		}
		result, err := assistant.Apply(r.Context(), userID, &action)
		if err != nil {
			respondError(w, statusForError(err), err.Error())
			return
		}
		respondJSON(w, http.StatusOK, result)
	}
}

// ======================
// Audit & Notifications
// ======================

func handleListAudit(audit AuditRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		filter := AuditFilter{
			UserID: userID,
			Action: r.URL.Query().Get("action"),
			Limit:  parsePositiveInt(r, "limit"),
		}
		if s := r.URL.Query().Get("since"); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				filter.Since = t
			}
		}
		logs, err := audit.ListAuditLogs(filter)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Error loading audit logs")
			return
		}
		respondJSON(w, http.StatusOK, logs)
	}
}

func handleListNotifications(notifications NotificationRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		notes, err := notifications.GetUserNotifications(userID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Error loading notifications")
			return
		}
		respondJSON(w, http.StatusOK, notes)
	}
}

func handleMarkNotificationRead(notifications NotificationRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireUserID(w, r); !ok {
			return
		}
		id := parseID(mux.Vars(r)["notificationID"])
		if id == 0 {
			respondError(w, http.StatusBadRequest, "Invalid notification id")
			return
		}
		if err := notifications.MarkNotificationRead(id); err != nil {
			respondError(w, http.StatusInternalServerError, "Error updating notification")
			return
		}
		respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// ======================
// Router Setup
// ======================

func NewRouter(storage *Storage, assistant AssistantService, webhook *WebhookHandler, wsManager *WSManager) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")

	r.HandleFunc("/register", handleRegister(storage)).Methods("POST")
	r.Handle("/telegram/webhook", webhook).Methods("POST")
	r.HandleFunc("/ws", ServeWS(storage, storage, wsManager)).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(userMiddleware(storage))

	// Events
	api.HandleFunc("/events", handleCreateEvent(assistant)).Methods("POST")
	api.HandleFunc("/events", handleListEvents(storage)).Methods("GET")
	api.HandleFunc("/events/{eventID}", handleGetEvent(storage)).Methods("GET")
	api.HandleFunc("/events/{eventID}", handleUpdateEvent(assistant)).Methods("PUT")
	api.HandleFunc("/events/{eventID}", handleDeleteEvent(assistant)).Methods("DELETE")
	api.HandleFunc("/events/{eventID}/occurrences", handleEventOccurrences(storage, storage)).Methods("GET")

	// Assistant
	api.HandleFunc("/assistant/parse", handleAssistantParse(assistant)).Methods("POST")
	api.HandleFunc("/assistant/apply", handleAssistantApply(assistant)).Methods("POST")

	// Audit & notifications
	api.HandleFunc("/audit", handleListAudit(storage)).Methods("GET")
	api.HandleFunc("/notifications", handleListNotifications(storage)).Methods("GET")
	api.HandleFunc("/notifications/{notificationID}/read", handleMarkNotificationRead(storage)).Methods("POST")

	return r
}
