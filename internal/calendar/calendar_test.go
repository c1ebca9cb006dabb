package calendar

import (
	"testing"
	"time"
)

func TestMatchTitleIsExactIgnoringCase(t *testing.T) {
	t.Parallel()
	events := []Event{
		{ID: "1", Title: "Team Retro prep"},
		{ID: "2", Title: "team retro"},
		{ID: "3", Title: "Team Retro"},
	}
	got := MatchTitle(events, "Team Retro")
	if got == nil || got.ID != "2" {
		t.Fatalf("MatchTitle = %+v, want event 2", got)
	}
	if MatchTitle(events, "Standup") != nil {
		t.Fatal("expected no match")
	}
}

func TestParseStart(t *testing.T) {
	t.Parallel()
	ts, allDay, err := ParseStart("2025-08-01T14:00:00+01:00", "", time.UTC)
	if err != nil || allDay {
		t.Fatalf("ParseStart dateTime = %v, %v, %v", ts, allDay, err)
	}
	if want := time.Date(2025, 8, 1, 13, 0, 0, 0, time.UTC); !ts.Equal(want) {
		t.Fatalf("start = %v, want %v", ts, want)
	}

	loc, _ := time.LoadLocation("Europe/London")
	d, allDay, err := ParseStart("", "2025-08-02", loc)
	if err != nil || !allDay {
		t.Fatalf("ParseStart date = %v, %v, %v", d, allDay, err)
	}
	if want := time.Date(2025, 8, 2, 0, 0, 0, 0, loc); !d.Equal(want) {
		t.Fatalf("start = %v, want %v", d, want)
	}

	if _, _, err := ParseStart("", "", nil); err == nil {
		t.Fatal("expected error for empty start")
	}
}
