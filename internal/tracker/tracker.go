// Package tracker records which (message, calendar event) pairs have been
// scheduled or sent. It is the source of truth that keeps reconciliation
// passes and restarts from scheduling the same event twice.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"herald/internal/storage"
	logx "herald/pkg/logx"
)

var ErrNotRecorded = errors.New("tracker: event was never recorded as scheduled")

// Record is one tracked (message, event) pair.
type Record = storage.CalendarEventRecord

// Tracker serializes mutations with a process-wide lock on top of SQLite's
// single writer. Records are never deleted.
type Tracker struct {
	mu    sync.Mutex
	store storage.Store
	log   logx.Logger
}

func New(store storage.Store, log logx.Logger) *Tracker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Tracker{store: store, log: log.With(logx.String("comp", "tracker"))}
}

// IsTracked reports whether the pair is scheduled or sent.
func (t *Tracker) IsTracked(ctx context.Context, messageID, eventID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, err := t.store.GetCalendarEvent(ctx, messageID, eventID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return r.Status == storage.StatusScheduled || r.Status == storage.StatusSent, nil
}

// RecordScheduled upserts the pair as scheduled. A pair already marked sent
// keeps its status.
func (t *Tracker) RecordScheduled(ctx context.Context, messageID, eventID string, eventStart, sendTime time.Time, jobID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	status := storage.StatusScheduled
	prev, err := t.store.GetCalendarEvent(ctx, messageID, eventID)
	switch {
	case err == nil:
		if prev.Status == storage.StatusSent {
			status = storage.StatusSent
		}
	case errors.Is(err, storage.ErrNotFound):
	default:
		return err
	}

	err = t.store.UpsertCalendarEvent(ctx, storage.CalendarEventRecord{
		MessageConfigID:   messageID,
		EventID:           eventID,
		EventStartTime:    eventStart,
		ScheduledSendTime: sendTime,
		JobID:             jobID,
		Status:            status,
	})
	if err != nil {
		return err
	}
	t.log.Debug("event recorded", logx.String("message_id", messageID), logx.String("event_id", eventID), logx.Time("send_time", sendTime), logx.String("job_id", jobID))
	return nil
}

// MarkSent transitions the pair to sent. Calling it on a sent pair is a no-op.
func (t *Tracker) MarkSent(ctx context.Context, messageID, eventID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	ok, err := t.store.SetCalendarEventStatus(ctx, messageID, eventID, storage.StatusSent)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotRecorded, messageID, eventID)
	}
	t.log.Debug("event marked sent", logx.String("message_id", messageID), logx.String("event_id", eventID))
	return nil
}

// Get returns the record for the pair or storage.ErrNotFound.
func (t *Tracker) Get(ctx context.Context, messageID, eventID string) (Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.GetCalendarEvent(ctx, messageID, eventID)
}

// List returns every record ordered by send time.
func (t *Tracker) List(ctx context.Context) ([]Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.ListCalendarEvents(ctx)
}
