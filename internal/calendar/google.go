package calendar

import (
	"context"
	"fmt"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	logx "herald/pkg/logx"
)

const maxResults = 50

// Google queries Google Calendar v3.
type Google struct {
	svc *gcal.Service
	loc *time.Location
	now func() time.Time
	log logx.Logger
}

// NewGoogle builds a client. loc is used for all-day events.
func NewGoogle(ctx context.Context, loc *time.Location, log logx.Logger, opts ...option.ClientOption) (*Google, error) {
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Google{svc: svc, loc: loc, now: time.Now, log: log.With(logx.String("comp", "calendar"))}, nil
}

func (g *Google) FindNextEvent(ctx context.Context, name, calendarID string, daysAhead int) (*Event, error) {
	if calendarID == "" {
		calendarID = "primary"
	}
	now := g.now()
	events, err := g.list(ctx, calendarID, now, now.AddDate(0, 0, daysAhead), name, maxResults)
	if err != nil {
		return nil, err
	}
	ev := MatchTitle(events, name)
	if ev == nil {
		g.log.Debug("no matching event", logx.String("event_name", name), logx.String("calendar_id", calendarID), logx.Int("candidates", len(events)))
	}
	return ev, nil
}

// Upcoming lists the next n events on calendarID.
func (g *Google) Upcoming(ctx context.Context, calendarID string, n int) ([]Event, error) {
	return g.list(ctx, calendarID, g.now(), time.Time{}, "", n)
}

// Calendars lists the calendars visible to the credentials as id -> summary.
func (g *Google) Calendars(ctx context.Context) (map[string]string, error) {
	res, err := g.svc.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list calendars: %w", err)
	}
	out := make(map[string]string, len(res.Items))
	for _, c := range res.Items {
		out[c.Id] = c.Summary
	}
	return out, nil
}

func (g *Google) list(ctx context.Context, calendarID string, from, to time.Time, query string, n int) ([]Event, error) {
	call := g.svc.Events.List(calendarID).
		TimeMin(from.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(int64(n)).
		Context(ctx)
	if !to.IsZero() {
		call = call.TimeMax(to.Format(time.RFC3339))
	}
	if query != "" {
		call = call.Q(query)
	}
	res, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("list events on %s: %w", calendarID, err)
	}
	out := make([]Event, 0, len(res.Items))
	for _, it := range res.Items {
		if it == nil || it.Start == nil {
			continue
		}
		start, allDay, err := ParseStart(it.Start.DateTime, it.Start.Date, g.loc)
		if err != nil {
			g.log.Warn("skipping event with bad start", logx.String("event_id", it.Id), logx.Any("err", err))
			continue
		}
		out = append(out, Event{ID: it.Id, Title: it.Summary, Start: start, AllDay: allDay})
	}
	return out, nil
}
