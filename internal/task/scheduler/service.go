package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"herald/internal/eventbus"
	"herald/internal/recurrence"
	"herald/internal/storage"
	"herald/internal/task/engine"
	logx "herald/pkg/logx"
)

// DefaultMisfireGrace is used when Config.MisfireGrace is 0.
const DefaultMisfireGrace = 30 * time.Second

func New(cfg Config, store storage.Store, eng *engine.Service, run Runner, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.MisfireGrace <= 0 {
		cfg.MisfireGrace = DefaultMisfireGrace
	}
	return &Service{
		cfg:         cfg,
		log:         log.With(logx.String("comp", "scheduler")),
		bus:         bus,
		engine:      eng,
		store:       store,
		run:         run,
		jobs:        map[string]*jobEntry{},
		volatiles:   map[string]*volatileDef{},
		lastEnqWarn: map[string]time.Time{},
	}
}

// Location returns the scheduler timezone.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocationLocked()
}

// Start restores persisted jobs, applies the misfire policy and starts
// triggering. It fails only when the job table cannot be read.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithLocation(loc))

	recs, err := s.store.LoadJobs(ctx)
	if err != nil {
		s.c = nil
		return fmt.Errorf("restore jobs: %w", err)
	}
	now := time.Now()
	restored := 0
	for _, rec := range recs {
		if s.restoreLocked(ctx, rec, now) {
			restored++
		}
	}
	for _, d := range s.volatiles {
		s.addVolatileLocked(d)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", loc.String()), logx.Int("jobs", restored), logx.Int("volatile", len(s.volatiles)), logx.Duration("misfire_grace", s.cfg.MisfireGrace))
	return nil
}

// restoreLocked re-arms one persisted job, firing a coalesced catch-up run
// if its persisted fire time was missed by less than the grace period.
func (s *Service) restoreLocked(ctx context.Context, rec storage.JobRecord, now time.Time) bool {
	log := s.log.With(logx.String("job_id", rec.ID), logx.String("message_id", rec.MessageID))
	tr, err := recurrence.Unmarshal(rec.Trigger)
	if err != nil {
		log.Error("dropping job with unreadable trigger", logx.Any("err", err))
		s.deleteLocked(ctx, rec.ID)
		return false
	}
	sched, err := tr.Schedule()
	if err != nil {
		log.Error("dropping job with invalid trigger", logx.Any("err", err))
		s.deleteLocked(ctx, rec.ID)
		return false
	}
	e := &jobEntry{rec: rec, trigger: tr, sched: sched, state: &engine.RunState{}}

	due := rec.NextRun
	if due.IsZero() && tr.Kind == recurrence.KindDate {
		due = tr.RunAt
	}
	if !due.IsZero() && !due.After(now) {
		late := now.Sub(due)
		if late <= s.cfg.MisfireGrace {
			log.Info("running missed job", logx.Time("scheduled", due), logx.Duration("late", late))
			if tr.Kind == recurrence.KindDate {
				s.deleteLocked(ctx, rec.ID)
				s.enqueue(e)
				return false
			}
			s.enqueue(e)
		} else {
			log.Warn("missed fire dropped: past misfire grace", logx.Time("scheduled", due), logx.Duration("late", late))
			if tr.Kind == recurrence.KindDate {
				s.deleteLocked(ctx, rec.ID)
				return false
			}
		}
	}

	next := sched.Next(now)
	if next.IsZero() {
		log.Info("job has no further fire time; removing")
		s.deleteLocked(ctx, rec.ID)
		return false
	}
	if !next.Equal(rec.NextRun) {
		e.rec.NextRun = next
		if err := s.store.UpdateNextRun(ctx, rec.ID, next); err != nil {
			log.Error("persist next run failed", logx.Any("err", err))
		}
	}
	s.jobs[rec.ID] = e
	s.armLocked(e)
	return true
}

// Stop stops triggering. Persisted jobs stay in storage for the next Start.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.jobs = map[string]*jobEntry{}
	for _, d := range s.volatiles {
		d.entryID = 0
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) loadLocationLocked() *time.Location {
	if s.loc != nil {
		return s.loc
	}
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Any("err", err))
		return time.Local
	}
	return loc
}
