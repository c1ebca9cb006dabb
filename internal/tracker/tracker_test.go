package tracker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"herald/internal/storage"
	logx "herald/pkg/logx"
)

func newTracker(t *testing.T) *Tracker {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "t.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st, logx.Nop())
}

func TestRecordThenMarkSent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTracker(t)

	start := time.Date(2030, 5, 6, 10, 0, 0, 0, time.UTC)
	send := start.Add(-2 * time.Hour)
	if ok, _ := tr.IsTracked(ctx, "retro", "ev1"); ok {
		t.Fatal("unexpected tracked before record")
	}
	if err := tr.RecordScheduled(ctx, "retro", "ev1", start, send, "calendar_retro_ev1"); err != nil {
		t.Fatalf("RecordScheduled: %v", err)
	}
	r, err := tr.Get(ctx, "retro", "ev1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if r.Status != storage.StatusScheduled || r.MessageConfigID != "retro" || r.EventID != "ev1" {
		t.Fatalf("unexpected record: %+v", r)
	}

	for i := 0; i < 2; i++ {
		if err := tr.MarkSent(ctx, "retro", "ev1"); err != nil {
			t.Fatalf("MarkSent #%d: %v", i, err)
		}
	}
	after, _ := tr.Get(ctx, "retro", "ev1")
	if after.Status != storage.StatusSent {
		t.Fatalf("Status = %s, want sent", after.Status)
	}
	if !after.EventStartTime.Equal(start) || !after.ScheduledSendTime.Equal(send) || after.JobID != r.JobID {
		t.Fatalf("fields changed after MarkSent: %+v vs %+v", after, r)
	}
	if ok, _ := tr.IsTracked(ctx, "retro", "ev1"); !ok {
		t.Fatal("sent pair should be tracked")
	}
}

func TestRecordScheduledDoesNotRevertSent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTracker(t)
	now := time.Now()
	_ = tr.RecordScheduled(ctx, "m", "e", now, now, "j")
	_ = tr.MarkSent(ctx, "m", "e")
	if err := tr.RecordScheduled(ctx, "m", "e", now, now, "j2"); err != nil {
		t.Fatalf("RecordScheduled: %v", err)
	}
	r, _ := tr.Get(ctx, "m", "e")
	if r.Status != storage.StatusSent {
		t.Fatalf("Status = %s, want sent", r.Status)
	}
	all, _ := tr.List(ctx)
	if len(all) != 1 {
		t.Fatalf("records = %d, want 1", len(all))
	}
}

func TestMarkSentUnknownPair(t *testing.T) {
	t.Parallel()
	err := newTracker(t).MarkSent(context.Background(), "m", "nope")
	if !errors.Is(err, ErrNotRecorded) {
		t.Fatalf("err = %v, want ErrNotRecorded", err)
	}
}

func TestConcurrentRecordIsSingleRow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := newTracker(t)
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tr.RecordScheduled(ctx, "m", "e", now, now, "j")
		}()
	}
	wg.Wait()
	all, err := tr.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("records = %d, want 1", len(all))
	}
}
