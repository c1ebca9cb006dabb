package anchor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"herald/internal/calendar"
	logx "herald/pkg/logx"
)

// LateSendDelay is how far ahead a late but still acceptable send is placed.
const LateSendDelay = 5 * time.Second

type Outcome int

const (
	NotReady Outcome = iota
	Scheduled
	AlreadyTracked
)

func (o Outcome) String() string {
	switch o {
	case Scheduled:
		return "scheduled"
	case AlreadyTracked:
		return "already_tracked"
	default:
		return "not_ready"
	}
}

// Result describes one resolution.
type Result struct {
	Outcome  Outcome
	Event    *calendar.Event
	SendTime time.Time
	JobID    string
	Reason   string
}

// Tracker is the subset of the event dispatch tracker the resolver needs.
type Tracker interface {
	IsTracked(ctx context.Context, messageID, eventID string) (bool, error)
	RecordScheduled(ctx context.Context, messageID, eventID string, eventStart, sendTime time.Time, jobID string) error
}

// CalendarJob is a one-shot job bound to a calendar event.
type CalendarJob struct {
	ID         string
	MessageID  string
	EventID    string
	EventStart time.Time
	RunAt      time.Time
	Payload    json.RawMessage
}

// Registrar persists and arms calendar jobs. UnregisterCalendarJob undoes a
// registration whose tracker row could not be written.
type Registrar interface {
	RegisterCalendarJob(ctx context.Context, j CalendarJob) error
	UnregisterCalendarJob(ctx context.Context, id string) error
}

// JobID is the stable job identifier for a (message, event) pair.
func JobID(messageID, eventID string) string {
	return "calendar_" + messageID + "_" + eventID
}

type Option func(*Resolver)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// Resolver turns anchors into scheduled jobs.
//
// The check-register-record sequence runs under one mutex so that a
// reconciliation tick and a reload cannot both schedule the same pair. The
// calendar query happens outside the lock.
type Resolver struct {
	mu      sync.Mutex
	finder  calendar.Finder
	tracker Tracker
	jobs    Registrar
	now     func() time.Time
	log     logx.Logger
}

func NewResolver(finder calendar.Finder, tracker Tracker, jobs Registrar, log logx.Logger, opts ...Option) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Resolver{
		finder:  finder,
		tracker: tracker,
		jobs:    jobs,
		now:     time.Now,
		log:     log.With(logx.String("comp", "anchor")),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve finds the next event for a and schedules payload against it.
//
// Calendar lookup failures yield NotReady. Offset errors and persistence
// failures are returned.
func (r *Resolver) Resolve(ctx context.Context, messageID string, a Anchor, payload json.RawMessage) (Result, error) {
	a = a.WithDefaults()
	offset, err := ParseOffset(a.Offset)
	if err != nil {
		return Result{}, err
	}
	var latest *time.Duration
	if a.LatestSendOffset != "" {
		d, err := ParseOffset(a.LatestSendOffset)
		if err != nil {
			return Result{}, err
		}
		latest = &d
	}

	log := r.log.With(logx.String("message_id", messageID), logx.String("event_name", a.EventName))

	ev, err := r.finder.FindNextEvent(ctx, a.EventName, a.CalendarID, a.SearchWindowDays)
	if err != nil {
		log.Warn("calendar lookup failed; will retry next reconciliation", logx.String("calendar_id", a.CalendarID), logx.Any("err", err))
		return Result{Outcome: NotReady, Reason: "calendar lookup failed"}, nil
	}
	if ev == nil {
		log.Warn("calendar anchor skipped: no matching event", logx.String("calendar_id", a.CalendarID), logx.Int("search_window_days", a.SearchWindowDays))
		return Result{Outcome: NotReady, Reason: "event not found"}, nil
	}
	log = log.With(logx.String("event_id", ev.ID), logx.Time("event_start", ev.Start))

	r.mu.Lock()
	defer r.mu.Unlock()

	tracked, err := r.tracker.IsTracked(ctx, messageID, ev.ID)
	if err != nil {
		return Result{}, err
	}
	if tracked {
		log.Debug("calendar anchor already tracked")
		return Result{Outcome: AlreadyTracked, Event: ev}, nil
	}

	now := r.now()
	send := ev.Start.Add(offset)

	if ev.Start.Before(now) {
		log.Warn("calendar anchor skipped: event already started", logx.Time("now", now))
		return Result{Outcome: NotReady, Event: ev, Reason: "event in the past"}, nil
	}
	if latest != nil {
		deadline := ev.Start.Add(*latest)
		if now.After(deadline) {
			log.Warn("calendar anchor skipped: past latest send time",
				logx.Time("now", now), logx.Time("ideal_send", send), logx.Time("latest_send", deadline))
			return Result{Outcome: NotReady, Event: ev, Reason: "past latest send time"}, nil
		}
	}
	if send.Before(now) {
		late := now.Add(LateSendDelay)
		log.Info("calendar anchor late; sending shortly", logx.Time("ideal_send", send), logx.Time("send_time", late))
		send = late
	}

	jobID := JobID(messageID, ev.ID)
	err = r.jobs.RegisterCalendarJob(ctx, CalendarJob{
		ID:         jobID,
		MessageID:  messageID,
		EventID:    ev.ID,
		EventStart: ev.Start,
		RunAt:      send,
		Payload:    payload,
	})
	if err != nil {
		return Result{}, err
	}
	if err := r.tracker.RecordScheduled(ctx, messageID, ev.ID, ev.Start, send, jobID); err != nil {
		// An armed job without a row would fire and fail MarkSent; drop it so
		// the next pass retries the pair from scratch.
		if uerr := r.jobs.UnregisterCalendarJob(ctx, jobID); uerr != nil {
			log.Error("calendar job left armed without tracker row", logx.String("job_id", jobID), logx.Any("err", uerr))
		}
		return Result{}, err
	}
	log.Info("calendar message scheduled", logx.Time("send_time", send), logx.String("job_id", jobID))
	return Result{Outcome: Scheduled, Event: ev, SendTime: send, JobID: jobID}, nil
}
