package engine

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"herald/internal/eventbus"
	logx "herald/pkg/logx"
)

func startEngine(t *testing.T, cfg Config, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestOverlapSkipWhileInFlight(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 2}, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	st := &RunState{}
	blocking := Task{Name: "message_1_standup", Overlap: OverlapSkipIfRunning, State: st, Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}
	if err := s.Enqueue(blocking); err != nil {
		t.Fatalf("Enqueue #1: %v", err)
	}
	<-started

	second := blocking
	second.Run = func(context.Context) error { return nil }
	if err := s.Enqueue(second); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("Enqueue #2 err = %v, want ErrOverlapSkip", err)
	}
	close(release)
	waitFor(t, func() bool { return !st.Busy() })

	if err := s.Enqueue(second); err != nil {
		t.Fatalf("Enqueue after release: %v", err)
	}
	if got := s.Snapshot().Skipped; got != 1 {
		t.Fatalf("Skipped = %d, want 1", got)
	}
}

func TestPanicIsRecorded(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	s := startEngine(t, Config{Workers: 1}, bus)

	if err := s.Enqueue(Task{Name: "boom", Run: func(context.Context) error { panic("bad payload") }}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	var ran atomic.Bool
	if err := s.Enqueue(Task{Name: "after", Run: func(context.Context) error { ran.Store(true); return nil }}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, ran.Load)

	var failed bool
	timeout := time.After(time.Second)
	for !failed {
		select {
		case e := <-events:
			if e.Type == EventFailed {
				ev := e.Data.(TaskEvent)
				failed = ev.Name == "boom" && strings.Contains(ev.Error, "bad payload")
			}
		case <-timeout:
			t.Fatal("no task.failed event for panicking task")
		}
	}
}

func TestStaleTasksAreDropped(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, MaxQueueDelay: 10 * time.Millisecond}, nil)

	release := make(chan struct{})
	if err := s.Enqueue(Task{Name: "slow", Run: func(context.Context) error { <-release; return nil }}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	var ranLate atomic.Bool
	if err := s.Enqueue(Task{Name: "late", Run: func(context.Context) error { ranLate.Store(true); return nil }}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)

	waitFor(t, func() bool { return s.Snapshot().DroppedStale == 1 })
	if ranLate.Load() {
		t.Fatal("stale task should not run")
	}
}

func TestEnqueueBeforeStart(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestQueueFullDropsAndReleasesState(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, QueueSize: 1}, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	if err := s.Enqueue(Task{Name: "slow", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}); err != nil {
		t.Fatalf("Enqueue slow: %v", err)
	}
	<-started
	defer close(release)

	if err := s.Enqueue(Task{Name: "queued", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("Enqueue queued: %v", err)
	}

	st := &RunState{}
	err := s.Enqueue(Task{Name: "message_2_digest", Overlap: OverlapSkipIfRunning, State: st, Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if st.Busy() {
		t.Fatal("dropped task still holds its run state")
	}
	if got := s.Snapshot().DroppedQueueFull; got != 1 {
		t.Fatalf("DroppedQueueFull = %d, want 1", got)
	}
}
