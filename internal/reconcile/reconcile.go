// Package reconcile periodically re-resolves calendar-anchored messages so
// newly created or moved events get their one-shot jobs.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"herald/internal/anchor"
	"herald/internal/eventbus"
	logx "herald/pkg/logx"
)

// DefaultInterval is the reconciliation cadence.
const DefaultInterval = 30 * time.Minute

// Entry is one calendar-anchored message held in memory.
type Entry struct {
	MessageID string
	Anchor    anchor.Anchor
	Payload   json.RawMessage
}

type Resolver interface {
	Resolve(ctx context.Context, messageID string, a anchor.Anchor, payload json.RawMessage) (anchor.Result, error)
}

// Summary counts the outcomes of one pass.
type Summary struct {
	Checked        int
	Scheduled      int
	AlreadyTracked int
	NotReady       int
	Failed         int
	Took           time.Duration
}

type Loop struct {
	res Resolver
	log logx.Logger
	bus eventbus.Bus

	mu      sync.RWMutex
	entries []Entry
}

func New(res Resolver, log logx.Logger, bus eventbus.Bus) *Loop {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loop{res: res, log: log.With(logx.String("comp", "reconcile")), bus: bus}
}

// Set replaces the in-memory list.
func (l *Loop) Set(entries []Entry) {
	cp := append([]Entry(nil), entries...)
	l.mu.Lock()
	l.entries = cp
	l.mu.Unlock()
}

func (l *Loop) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

// Run resolves every entry once. A failing or panicking entry is logged
// and does not stop the pass.
func (l *Loop) Run(ctx context.Context) Summary {
	start := time.Now()
	var sum Summary
	for _, e := range l.Entries() {
		if ctx.Err() != nil {
			break
		}
		sum.Checked++
		res, err := l.resolveOne(ctx, e)
		switch {
		case err != nil:
			sum.Failed++
			l.log.Error("calendar message resolution failed", logx.String("message_id", e.MessageID), logx.String("event_name", e.Anchor.EventName), logx.Any("err", err))
		case res.Outcome == anchor.Scheduled:
			sum.Scheduled++
		case res.Outcome == anchor.AlreadyTracked:
			sum.AlreadyTracked++
		default:
			sum.NotReady++
		}
	}
	sum.Took = time.Since(start)
	if sum.Checked > 0 {
		l.log.Info("calendar reconciliation finished",
			logx.Int("checked", sum.Checked),
			logx.Int("scheduled", sum.Scheduled),
			logx.Int("already_tracked", sum.AlreadyTracked),
			logx.Int("not_ready", sum.NotReady),
			logx.Int("failed", sum.Failed),
			logx.Duration("took", sum.Took),
		)
	}
	if l.bus != nil {
		l.bus.Publish(eventbus.Event{Type: eventbus.ReconcileFinished, Data: sum})
	}
	return sum
}

// Tick adapts Run to a scheduler job.
func (l *Loop) Tick(ctx context.Context) error {
	l.Run(ctx)
	return nil
}

func (l *Loop) resolveOne(ctx context.Context, e Entry) (res anchor.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("panic resolving calendar message", logx.String("message_id", e.MessageID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return l.res.Resolve(ctx, e.MessageID, e.Anchor, e.Payload)
}
