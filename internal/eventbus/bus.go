// Package eventbus is herald's in-process fanout for operational signals:
// task lifecycle, dispatch outcomes and reconciliation passes. Metrics and
// the debug server consume it; nothing on the delivery path depends on it.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	DispatchSent      = "dispatch.sent"
	DispatchFailed    = "dispatch.failed"
	ReconcileFinished = "reconcile.finished"
	CalendarScheduled = "calendar.scheduled"
	MessagesReloaded  = "messages.reloaded"
)

// Event is a small signal. Publish never blocks; a subscriber whose buffer
// is full misses the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a buffered subscriber. unsubscribe closes the channel.
func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			// Holding the write lock excludes concurrent Publish sends.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}
