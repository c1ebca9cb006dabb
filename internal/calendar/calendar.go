// Package calendar looks up upcoming events on a calendar.
package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Event is the subset of a calendar event the scheduler needs.
type Event struct {
	ID     string
	Title  string
	Start  time.Time
	AllDay bool
}

// Finder finds the next event whose title case-insensitively equals name,
// starting within daysAhead days from now. A nil event with a nil error
// means no match.
type Finder interface {
	FindNextEvent(ctx context.Context, name, calendarID string, daysAhead int) (*Event, error)
}

// FinderFunc adapts a function to Finder.
type FinderFunc func(ctx context.Context, name, calendarID string, daysAhead int) (*Event, error)

func (f FinderFunc) FindNextEvent(ctx context.Context, name, calendarID string, daysAhead int) (*Event, error) {
	return f(ctx, name, calendarID, daysAhead)
}

// MatchTitle returns the first event whose title equals name ignoring case.
// Events are expected in start order.
func MatchTitle(events []Event, name string) *Event {
	want := strings.TrimSpace(name)
	for i := range events {
		if strings.EqualFold(strings.TrimSpace(events[i].Title), want) {
			ev := events[i]
			return &ev
		}
	}
	return nil
}

// ParseStart parses a calendar start value: an RFC 3339 timestamp, or a bare
// YYYY-MM-DD date for all-day events (midnight in loc).
func ParseStart(dateTime, date string, loc *time.Location) (time.Time, bool, error) {
	if dateTime != "" {
		t, err := time.Parse(time.RFC3339, dateTime)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parse event start %q: %w", dateTime, err)
		}
		return t, false, nil
	}
	if date != "" {
		if loc == nil {
			loc = time.UTC
		}
		t, err := time.ParseInLocation("2006-01-02", date, loc)
		if err != nil {
			return time.Time{}, true, fmt.Errorf("parse event date %q: %w", date, err)
		}
		return t, true, nil
	}
	return time.Time{}, false, fmt.Errorf("event has no start")
}
