package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"herald/internal/task/engine"
	logx "herald/pkg/logx"
)

// AddEvery registers an in-memory job from a schedule string accepted by
// ParseEvery. Interval jobs get a randomized first run so several of them
// do not all fire together after a restart.
func (s *Service) AddEvery(name, spec string, timeout time.Duration, job func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" || job == nil {
		return fmt.Errorf("volatile job needs a name and a func")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	loc := s.loadLocationLocked()

	p, err := ParseEvery(spec)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	d := &volatileDef{name: name, timeout: timeout, job: job, state: &engine.RunState{}}
	switch p.Kind {
	case SpecInterval:
		d.sched, d.spread = makeIntervalScheduleWithSpread(p.Every, time.Now(), name)
		d.spec = "@every " + p.Every.String()
	default:
		sched, err := cron.ParseStandard(p.Cron)
		if err != nil {
			return fmt.Errorf("%s: bad cron %q: %w", name, p.Cron, err)
		}
		if ss, ok := sched.(*cron.SpecSchedule); ok {
			ss.Location = loc
		}
		d.sched = sched
		d.spec = p.Cron
	}

	if old := s.volatiles[name]; old != nil && s.c != nil && old.entryID != 0 {
		s.c.Remove(old.entryID)
	}
	s.volatiles[name] = d
	if s.c != nil {
		s.addVolatileLocked(d)
	}
	return nil
}

// RemoveEvery drops a volatile job.
func (s *Service) RemoveEvery(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.volatiles[name]
	if d == nil {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.volatiles, name)
	return true
}

func (s *Service) addVolatileLocked(d *volatileDef) {
	d.entryID = s.c.Schedule(d.sched, cron.FuncJob(func() {
		err := s.engine.Enqueue(engine.Task{
			Name:    d.name,
			Timeout: d.timeout,
			Overlap: engine.OverlapSkipIfRunning,
			State:   d.state,
			Run:     d.job,
		})
		s.reportEnqueueError(d.name, err)
	}))
	if d.spread > 0 {
		s.log.Debug("volatile job first run spread", logx.String("job", d.name), logx.Duration("spread", d.spread))
	}
}
