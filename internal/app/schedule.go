package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"herald/internal/anchor"
	"herald/internal/dispatch"
	"herald/internal/eventbus"
	"herald/internal/messages"
	"herald/internal/reconcile"
	"herald/internal/recurrence"
	"herald/internal/storage"
	"herald/internal/task/scheduler"
	logx "herald/pkg/logx"
)

// jobArgs is the args column of a persisted job.
type jobArgs struct {
	Payload    json.RawMessage `json:"payload"`
	EventID    string          `json:"event_id,omitempty"`
	EventStart time.Time       `json:"event_start,omitzero"`
}

// Plan is the validated outcome of a message list.
type Plan struct {
	Jobs     []scheduler.Job
	Calendar []reconcile.Entry
	Disabled int
}

// ScheduleJobID names the job of a time-based message.
func ScheduleJobID(m messages.Message) string {
	return fmt.Sprintf("message_%d_%s", m.Index, m.ID)
}

// BuildPlan validates and compiles every enabled message. It touches no
// state; the first invalid message aborts the whole plan.
func BuildPlan(msgs []messages.Message, now time.Time, defaultTZ string, defaultApp dispatch.Transport) (Plan, error) {
	if err := messages.CheckUniqueIDs(msgs); err != nil {
		return Plan{}, err
	}
	var p Plan
	for _, m := range msgs {
		if !m.Enabled {
			p.Disabled++
			continue
		}
		if err := m.Payload.Validate(defaultApp); err != nil {
			return Plan{}, fmt.Errorf("message %d (%s): %w", m.Index, m.ID, err)
		}
		payload, err := json.Marshal(m.Payload)
		if err != nil {
			return Plan{}, fmt.Errorf("message %d (%s): encode payload: %w", m.Index, m.ID, err)
		}

		if m.Calendar() {
			if err := m.Anchor.Validate(m.Index); err != nil {
				var ve *anchor.ValidationError
				if errors.As(err, &ve) {
					ve.MessageID = m.ID
				}
				return Plan{}, err
			}
			a := m.Anchor.WithDefaults()
			p.Calendar = append(p.Calendar, reconcile.Entry{MessageID: m.ID, Anchor: a, Payload: payload})
			continue
		}

		tr, err := recurrence.Compile(m.Schedule, m.Index, now, defaultTZ)
		if err != nil {
			return Plan{}, err
		}
		args, err := json.Marshal(jobArgs{Payload: payload})
		if err != nil {
			return Plan{}, err
		}
		p.Jobs = append(p.Jobs, scheduler.Job{
			ID:        ScheduleJobID(m),
			Origin:    storage.OriginSchedule,
			MessageID: m.ID,
			Trigger:   tr,
			Args:      args,
		})
	}
	return p, nil
}

// ScheduleFromConfig replaces every time-based job and the calendar list
// with msgs, then resolves calendar messages once. Reloads are serialized.
func (a *App) ScheduleFromConfig(ctx context.Context, msgs []messages.Message) error {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	plan, err := BuildPlan(msgs, time.Now(), a.cfg.Scheduler.Timezone, a.defaultApp)
	if err != nil {
		return err
	}

	removed, err := a.sched.RemoveByOrigin(ctx, storage.OriginSchedule)
	if err != nil {
		return fmt.Errorf("clear scheduled jobs: %w", err)
	}
	a.recon.Set(nil)

	added, expired := 0, 0
	for _, j := range plan.Jobs {
		if j.Trigger.MaxOccurrences > 0 {
			a.log.Warn("max_occurrences is recorded but not enforced", logx.String("job_id", j.ID), logx.Int("max_occurrences", j.Trigger.MaxOccurrences))
		}
		err := a.sched.AddJob(ctx, j)
		switch {
		case errors.Is(err, scheduler.ErrNoFutureFire):
			expired++
			a.log.Warn("schedule has no future fire; skipped", logx.String("job_id", j.ID), logx.String("spec", j.Trigger.Spec()))
		case err != nil:
			return err
		default:
			added++
		}
	}

	a.recon.Set(plan.Calendar)
	a.msgs = msgs
	a.log.Info("messages scheduled",
		logx.Int("jobs", added),
		logx.Int("expired", expired),
		logx.Int("calendar", len(plan.Calendar)),
		logx.Int("disabled", plan.Disabled),
		logx.Int("replaced", len(removed)),
	)
	if a.bus != nil {
		a.bus.Publish(eventbus.Event{Type: eventbus.MessagesReloaded, Data: len(msgs)})
	}
	a.refreshJobGauge()

	if len(plan.Calendar) > 0 {
		a.recon.Run(ctx)
	}
	return nil
}

// Reload re-reads the messages path. A broken file keeps the current jobs.
func (a *App) Reload(ctx context.Context) error {
	msgs, err := messages.Load(a.cfg.Messages.Path)
	if err != nil {
		a.log.Warn("messages reload rejected; keeping current jobs", logx.Any("err", err))
		return err
	}
	if err := a.ScheduleFromConfig(ctx, msgs); err != nil {
		a.log.Warn("messages reload rejected; keeping current jobs", logx.Any("err", err))
		return err
	}
	return nil
}

// Messages returns the last scheduled message list.
func (a *App) Messages() []messages.Message {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()
	return a.msgs
}

// runJob executes one due persisted job.
func (a *App) runJob(ctx context.Context, rec storage.JobRecord) error {
	var args jobArgs
	if err := json.Unmarshal(rec.Args, &args); err != nil {
		return fmt.Errorf("job %s: decode args: %w", rec.ID, err)
	}
	var p dispatch.Payload
	if err := json.Unmarshal(args.Payload, &p); err != nil {
		return fmt.Errorf("job %s: decode payload: %w", rec.ID, err)
	}
	err := a.disp.Dispatch(ctx, dispatch.Request{
		JobID:      rec.ID,
		MessageID:  rec.MessageID,
		Payload:    p,
		EventStart: args.EventStart,
	})
	if err != nil {
		return err
	}
	if rec.Origin == storage.OriginCalendar && args.EventID != "" {
		if err := a.tracker.MarkSent(ctx, rec.MessageID, args.EventID); err != nil {
			a.log.Warn("mark sent failed", logx.String("message_id", rec.MessageID), logx.String("event_id", args.EventID), logx.Any("err", err))
			return err
		}
	}
	return nil
}

// calendarJobs registers resolver output as one-shot persisted jobs.
type calendarJobs struct{ a *App }

func (c calendarJobs) RegisterCalendarJob(ctx context.Context, j anchor.CalendarJob) error {
	args, err := json.Marshal(jobArgs{Payload: j.Payload, EventID: j.EventID, EventStart: j.EventStart})
	if err != nil {
		return err
	}
	err = c.a.sched.AddJob(ctx, scheduler.Job{
		ID:        j.ID,
		Origin:    storage.OriginCalendar,
		MessageID: j.MessageID,
		Trigger:   recurrence.Trigger{Kind: recurrence.KindDate, Timezone: c.a.sched.Location().String(), RunAt: j.RunAt},
		Args:      args,
	})
	if err != nil {
		return err
	}
	if c.a.bus != nil {
		c.a.bus.Publish(eventbus.Event{Type: eventbus.CalendarScheduled, Data: j.ID})
	}
	return nil
}

func (c calendarJobs) UnregisterCalendarJob(ctx context.Context, id string) error {
	_, err := c.a.sched.RemoveJob(ctx, id)
	return err
}

func (a *App) refreshJobGauge() {
	if a.metrics == nil {
		return
	}
	counts := map[string]int{}
	for _, j := range a.sched.Jobs() {
		origin := j.Origin
		if !j.Persisted {
			origin = "internal"
		}
		counts[origin]++
	}
	a.metrics.SetJobs(counts)
}
