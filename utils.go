// utils.go
package calendarassistant

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// -----------------------------
// Context helpers for UserID
// -----------------------------

type ctxKeyUserID struct{}

func SetUserContext(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, ctxKeyUserID{}, userID)
}

func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	uid, ok := ctx.Value(ctxKeyUserID{}).(int64)
	return uid, ok
}

// -----------------------------
// Parse helpers
// -----------------------------

// parseID converts string to int64 with fallback 0.
func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// parseTimeRange reads ?start= and ?end= in RFC3339.
// Without them the range defaults to today -> +7 days.
func parseTimeRange(r *http.Request) (time.Time, time.Time) {
	q := r.URL.Query()
	now := time.Now().UTC()

	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(7 * 24 * time.Hour)

	if s := q.Get("start"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			start = t
		}
	}
	if s := q.Get("end"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			end = t
		}
	}
	return start, end
}

// parsePositiveInt reads a query param as a positive int, 0 when absent
// or invalid.
func parsePositiveInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return 0
	}
	return v
}
