package scheduler

import (
	"errors"
	"time"

	"herald/internal/task/engine"
	logx "herald/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

// reportEnqueueError logs enqueue failures, at most once per job per throttle window.
func (s *Service) reportEnqueueError(name string, err error) {
	if err == nil {
		return
	}
	// Overlap skips can happen during normal operation.
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("job still running; fire skipped", logx.String("job", name), logx.Any("err", err))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()

	s.log.Warn("job fire not enqueued", logx.String("job", name), logx.Any("err", err))
}
