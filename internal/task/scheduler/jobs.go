package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"herald/internal/recurrence"
	"herald/internal/storage"
	"herald/internal/task/engine"
	logx "herald/pkg/logx"
)

const storeTimeout = 5 * time.Second

// AddJob persists j and arms it, replacing any job with the same id.
// It returns ErrNoFutureFire when the trigger would never fire.
func (s *Service) AddJob(ctx context.Context, j Job) error {
	if strings.TrimSpace(j.ID) == "" {
		return fmt.Errorf("job id required")
	}
	sched, err := j.Trigger.Schedule()
	if err != nil {
		return fmt.Errorf("job %s: %w", j.ID, err)
	}
	next := sched.Next(time.Now())
	if next.IsZero() {
		return fmt.Errorf("job %s: %w", j.ID, ErrNoFutureFire)
	}
	raw, err := j.Trigger.Marshal()
	if err != nil {
		return fmt.Errorf("job %s: encode trigger: %w", j.ID, err)
	}
	rec := storage.JobRecord{
		ID:        j.ID,
		Origin:    j.Origin,
		MessageID: j.MessageID,
		Trigger:   raw,
		Args:      []byte(j.Args),
		NextRun:   next,
	}
	if err := s.store.UpsertJob(ctx, rec); err != nil {
		return fmt.Errorf("job %s: %w", j.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e := &jobEntry{rec: rec, trigger: j.Trigger, sched: sched, state: &engine.RunState{}}
	if old := s.jobs[j.ID]; old != nil {
		s.disarmLocked(old)
		e.state = old.state
	}
	s.jobs[j.ID] = e
	if s.c != nil {
		s.armLocked(e)
	}
	s.log.Debug("job added", logx.String("job_id", j.ID), logx.String("spec", j.Trigger.Spec()), logx.Time("next", next))
	return nil
}

// RemoveJob deletes one job. It reports whether the job existed.
func (s *Service) RemoveJob(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	if e := s.jobs[id]; e != nil {
		s.disarmLocked(e)
		delete(s.jobs, id)
	}
	s.mu.Unlock()
	return s.store.DeleteJob(ctx, id)
}

// RemoveByOrigin deletes every job of one origin and returns their ids.
func (s *Service) RemoveByOrigin(ctx context.Context, origin string) ([]string, error) {
	ids, err := s.store.DeleteJobsByOrigin(ctx, origin)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.jobs {
		if e.rec.Origin == origin {
			s.disarmLocked(e)
			delete(s.jobs, id)
		}
	}
	return ids, nil
}

// Jobs lists armed persisted jobs followed by volatile ones.
func (s *Service) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.jobs)+len(s.volatiles))
	for _, e := range s.jobs {
		it := JobInfo{
			ID:             e.rec.ID,
			Origin:         e.rec.Origin,
			MessageID:      e.rec.MessageID,
			Spec:           e.trigger.Spec(),
			Next:           e.rec.NextRun,
			Prev:           e.prev,
			Persisted:      true,
			MaxOccurrences: e.trigger.MaxOccurrences,
		}
		if s.c != nil && e.entryID != 0 {
			it.Next = s.c.Entry(e.entryID).Next
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	vols := make([]JobInfo, 0, len(s.volatiles))
	for _, d := range s.volatiles {
		it := JobInfo{ID: d.name, Spec: d.spec}
		if s.c != nil && d.entryID != 0 {
			ent := s.c.Entry(d.entryID)
			it.Next, it.Prev = ent.Next, ent.Prev
		}
		vols = append(vols, it)
	}
	sort.Slice(vols, func(i, j int) bool { return vols[i].ID < vols[j].ID })
	return append(out, vols...)
}

// Describe decodes a stored job for listing without a running scheduler.
func Describe(rec storage.JobRecord) (JobInfo, error) {
	tr, err := recurrence.Unmarshal(rec.Trigger)
	if err != nil {
		return JobInfo{}, fmt.Errorf("job %s: %w", rec.ID, err)
	}
	return JobInfo{
		ID:             rec.ID,
		Origin:         rec.Origin,
		MessageID:      rec.MessageID,
		Spec:           tr.Spec(),
		Next:           rec.NextRun,
		Persisted:      true,
		MaxOccurrences: tr.MaxOccurrences,
	}, nil
}

// Snapshot returns jobs plus engine counters.
func (s *Service) Snapshot() Snapshot {
	snap := Snapshot{Timezone: s.Location().String(), Jobs: s.Jobs()}
	if s.engine != nil {
		snap.Engine = s.engine.Snapshot()
	}
	return snap
}

func (s *Service) armLocked(e *jobEntry) {
	id := e.rec.ID
	e.entryID = s.c.Schedule(e.sched, cron.FuncJob(func() { s.fire(id) }))
}

func (s *Service) disarmLocked(e *jobEntry) {
	if s.c != nil && e.entryID != 0 {
		s.c.Remove(e.entryID)
	}
	e.entryID = 0
}

func (s *Service) deleteLocked(ctx context.Context, id string) {
	if e := s.jobs[id]; e != nil {
		s.disarmLocked(e)
		delete(s.jobs, id)
	}
	if _, err := s.store.DeleteJob(ctx, id); err != nil {
		s.log.Error("delete job failed", logx.String("job_id", id), logx.Any("err", err))
	}
}

// fire runs on the cron goroutine. One-shot jobs leave the table before
// they are handed to the engine, so a crash mid-dispatch never repeats them.
func (s *Service) fire(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	now := time.Now()
	s.mu.Lock()
	e := s.jobs[id]
	if e == nil {
		s.mu.Unlock()
		return
	}
	e.prev = now
	if e.trigger.Kind == recurrence.KindDate {
		s.deleteLocked(ctx, id)
	} else if next := e.sched.Next(now); next.IsZero() {
		s.deleteLocked(ctx, id)
	} else {
		e.rec.NextRun = next
		if err := s.store.UpdateNextRun(ctx, id, next); err != nil {
			s.log.Error("persist next run failed", logx.String("job_id", id), logx.Any("err", err))
		}
	}
	s.mu.Unlock()

	s.enqueue(e)
}

func (s *Service) enqueue(e *jobEntry) {
	rec := e.rec
	err := s.engine.Enqueue(engine.Task{
		Name:    "job:" + rec.ID,
		Timeout: s.cfg.JobTimeout,
		Overlap: engine.OverlapSkipIfRunning,
		State:   e.state,
		Run: func(ctx context.Context) error {
			return s.run(ctx, rec)
		},
	})
	s.reportEnqueueError(rec.ID, err)
}
