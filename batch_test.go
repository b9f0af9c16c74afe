package calendarassistant

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestParseTimeOffset(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"+1h", time.Hour, false},
		{"-30m", -30 * time.Minute, false},
		{"+2d", 48 * time.Hour, false},
		{"45s", 45 * time.Second, false},
		{"5", 5 * time.Hour, false}, // bare number defaults to hours
		{"-1", -time.Hour, false},
		{"0h", 0, false},
		{" +1h ", time.Hour, false},
		{"", 0, true},
		{"h", 0, true},
		{"+", 0, true},
		{"1.5h", 0, true},
		{"1w", 0, true},
		{"abc", 0, true},
		{"--1h", 0, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.input), func(t *testing.T) {
			got, err := ParseTimeOffset(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidOffsetFormat) {
					t.Fatalf("error = %v, want ErrInvalidOffsetFormat", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseTimeOffset(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func batchSnapshot() []Event {
	day := func(d, h int) time.Time {
		return time.Date(2024, 12, d, h, 0, 0, 0, time.UTC)
	}
	return []Event{
		{ID: "a", Title: "Team Meeting", Start: day(2, 10), End: day(2, 11), Timezone: "UTC"},
		{ID: "b", Title: "Client Meeting", Start: day(3, 14), End: day(3, 15), Timezone: "UTC"},
		{ID: "c", Title: "Gym", Start: day(4, 18), End: day(4, 19), Timezone: "UTC",
			Tags: map[string]string{"personal": "1"}},
		{ID: "d", Title: "Meeting Prep", Start: day(20, 9), End: day(20, 10), Timezone: "UTC"},
	}
}

func TestResolveBatch(t *testing.T) {
	snapshot := batchSnapshot()

	t.Run("title pattern is case-insensitive substring", func(t *testing.T) {
		res, err := ResolveBatch(&BatchFilter{TitlePattern: "meeting"}, nil, snapshot, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Matched) != 3 {
			t.Fatalf("matched %d, want 3", len(res.Matched))
		}
	})

	t.Run("date range and title AND together", func(t *testing.T) {
		res, err := ResolveBatch(&BatchFilter{
			DateFrom:     "2024-12-01",
			DateTo:       "2024-12-05",
			TitlePattern: "meeting",
		}, nil, snapshot, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Matched) != 2 {
			t.Fatalf("matched %d, want 2", len(res.Matched))
		}
		for _, ev := range res.Matched {
			if ev.ID == "d" {
				t.Error("event outside date range matched")
			}
		}
	})

	t.Run("explicit event ids", func(t *testing.T) {
		res, err := ResolveBatch(&BatchFilter{EventIDs: []string{"a", "c"}}, nil, snapshot, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Matched) != 2 {
			t.Fatalf("matched %d, want 2", len(res.Matched))
		}
	})

	t.Run("tag filter", func(t *testing.T) {
		res, err := ResolveBatch(&BatchFilter{Tags: []string{"personal"}}, nil, snapshot, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Matched) != 1 || res.Matched[0].ID != "c" {
			t.Fatalf("matched %v, want just event c", res.Titles)
		}
	})

	t.Run("zero matches", func(t *testing.T) {
		_, err := ResolveBatch(&BatchFilter{TitlePattern: "dentist"}, nil, snapshot, nil)
		if !errors.Is(err, ErrNoEventsMatched) {
			t.Fatalf("error = %v, want ErrNoEventsMatched", err)
		}
	})

	t.Run("empty filter rejected", func(t *testing.T) {
		_, err := ResolveBatch(&BatchFilter{}, nil, snapshot, nil)
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("error = %v, want ErrInvalidInput", err)
		}
	})

	t.Run("malformed offset rejects whole batch", func(t *testing.T) {
		_, err := ResolveBatch(&BatchFilter{TitlePattern: "meeting"},
			&BatchUpdateFields{StartTimeOffset: "sometime"}, snapshot, nil)
		if !errors.Is(err, ErrInvalidOffsetFormat) {
			t.Fatalf("error = %v, want ErrInvalidOffsetFormat", err)
		}
	})

	t.Run("malformed date bound rejects whole batch", func(t *testing.T) {
		_, err := ResolveBatch(&BatchFilter{DateFrom: "last week"}, nil, snapshot, nil)
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("error = %v, want ErrInvalidInput", err)
		}
	})

	t.Run("preview is capped", func(t *testing.T) {
		var big []Event
		for i := 0; i < 25; i++ {
			big = append(big, Event{
				ID:    fmt.Sprintf("ev%d", i),
				Title: fmt.Sprintf("Meeting %d", i),
				Start: time.Date(2024, 12, 1, 10, 0, 0, 0, time.UTC).Add(time.Duration(i) * 24 * time.Hour),
				End:   time.Date(2024, 12, 1, 11, 0, 0, 0, time.UTC).Add(time.Duration(i) * 24 * time.Hour),
			})
		}
		res, err := ResolveBatch(&BatchFilter{TitlePattern: "meeting"}, nil, big, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Matched) != 25 {
			t.Fatalf("matched %d, want 25", len(res.Matched))
		}
		if len(res.Titles) != batchPreviewCap {
			t.Fatalf("preview has %d titles, want %d", len(res.Titles), batchPreviewCap)
		}
		summary := res.Summary("Updated")
		if !strings.Contains(summary, "25 event(s)") || !strings.Contains(summary, "…") {
			t.Errorf("summary %q should state the count and mark truncation", summary)
		}
	})
}

func TestBatchResolutionApplyTo(t *testing.T) {
	res := &BatchResolution{
		Update:      &BatchUpdateFields{Location: "Room B", Tags: map[string]string{"moved": "1"}},
		StartOffset: time.Hour,
		EndOffset:   time.Hour,
	}
	ev := Event{
		Title:    "Sync",
		Location: "Room A",
		Start:    time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		End:      time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC),
	}
	got := res.ApplyTo(ev)
	if got.Title != "Sync" {
		t.Errorf("title changed without an override")
	}
	if got.Location != "Room B" {
		t.Errorf("location = %q, want Room B", got.Location)
	}
	if !got.Start.Equal(ev.Start.Add(time.Hour)) || !got.End.Equal(ev.End.Add(time.Hour)) {
		t.Errorf("offsets not applied: %v - %v", got.Start, got.End)
	}
	if got.Tags["moved"] != "1" {
		t.Errorf("tags not replaced")
	}
	// The input copy must be untouched.
	if !ev.Start.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)) {
		t.Error("ApplyTo mutated its input")
	}
}
