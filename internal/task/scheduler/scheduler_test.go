package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"herald/internal/recurrence"
	"herald/internal/storage"
	"herald/internal/task/engine"
	logx "herald/pkg/logx"
)

func TestParseEveryVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		raw   string
		kind  SpecKind
		every time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron},
		{name: "descriptor", raw: "@hourly", kind: SpecCron},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron},
		{name: "duration", raw: "10m", kind: SpecInterval, every: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, every: 45 * time.Second},
		{name: "every prefix", raw: "every: 2h", kind: SpecInterval, every: 2 * time.Hour},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, every: 90 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseEvery(tt.raw)
			if err != nil {
				t.Fatalf("ParseEvery(%q): %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if tt.kind == SpecInterval && got.Every != tt.every {
				t.Fatalf("Every = %v, want %v", got.Every, tt.every)
			}
		})
	}
}

func TestParseEveryInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "0m", "00:00", "1:75", "cron:"} {
		if _, err := ParseEvery(raw); err == nil {
			t.Fatalf("ParseEvery(%q): expected error", raw)
		}
	}
}

type harness struct {
	store storage.Store
	eng   *engine.Service
	svc   *Service
	runs  chan storage.JobRecord
}

func newHarness(t *testing.T, grace time.Duration) *harness {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "herald.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	h := &harness{store: st, runs: make(chan storage.JobRecord, 16)}
	h.eng = engine.New(engine.Config{Workers: 2}, logx.Nop(), nil)
	run := func(ctx context.Context, rec storage.JobRecord) error {
		h.runs <- rec
		return nil
	}
	h.svc = New(Config{Timezone: "UTC", MisfireGrace: grace}, st, h.eng, run, logx.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	h.eng.Start(ctx)
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		h.svc.Stop(stopCtx)
		h.eng.Stop(stopCtx)
		cancel()
		_ = st.Close()
	})
	return h
}

func (h *harness) put(t *testing.T, id string, tr recurrence.Trigger, next time.Time) {
	t.Helper()
	raw, err := tr.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	rec := storage.JobRecord{ID: id, Origin: storage.OriginSchedule, MessageID: id, Trigger: raw, Args: []byte(`{}`), NextRun: next}
	if err := h.store.UpsertJob(context.Background(), rec); err != nil {
		t.Fatalf("UpsertJob: %v", err)
	}
}

func (h *harness) waitRun(t *testing.T, d time.Duration) (storage.JobRecord, bool) {
	t.Helper()
	select {
	case rec := <-h.runs:
		return rec, true
	case <-time.After(d):
		return storage.JobRecord{}, false
	}
}

func TestRestoreMisfirePolicy(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()
	daily := recurrence.Trigger{Kind: recurrence.KindCron, Timezone: "UTC", Hour: now.Hour(), Minute: now.Minute()}

	tests := []struct {
		name     string
		trigger  recurrence.Trigger
		next     time.Time
		wantRun  bool
		wantKept bool
	}{
		{name: "date within grace", trigger: recurrence.Trigger{Kind: recurrence.KindDate, Timezone: "UTC", RunAt: now.Add(-10 * time.Second)}, next: now.Add(-10 * time.Second), wantRun: true},
		{name: "date past grace", trigger: recurrence.Trigger{Kind: recurrence.KindDate, Timezone: "UTC", RunAt: now.Add(-2 * time.Minute)}, next: now.Add(-2 * time.Minute)},
		{name: "cron within grace", trigger: daily, next: now.Add(-10 * time.Second), wantRun: true, wantKept: true},
		{name: "cron past grace", trigger: daily, next: now.Add(-2 * time.Hour), wantKept: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, 30*time.Second)
			h.put(t, "job", tt.trigger, tt.next)
			if err := h.svc.Start(context.Background()); err != nil {
				t.Fatalf("Start: %v", err)
			}

			rec, ran := h.waitRun(t, 500*time.Millisecond)
			if ran != tt.wantRun {
				t.Fatalf("ran = %v, want %v", ran, tt.wantRun)
			}
			if ran && rec.ID != "job" {
				t.Fatalf("ran %q", rec.ID)
			}
			if _, again := h.waitRun(t, 100*time.Millisecond); again {
				t.Fatal("missed fires must coalesce into one run")
			}

			got, err := h.store.GetJob(context.Background(), "job")
			if tt.wantKept {
				if err != nil {
					t.Fatalf("GetJob: %v", err)
				}
				if !got.NextRun.After(now) {
					t.Fatalf("NextRun = %v, want a future time", got.NextRun)
				}
			} else if !errors.Is(err, storage.ErrNotFound) {
				t.Fatalf("GetJob err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestAddJobRejectsPastDate(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Second)
	tr := recurrence.Trigger{Kind: recurrence.KindDate, Timezone: "UTC", RunAt: time.Now().Add(-time.Hour)}
	err := h.svc.AddJob(context.Background(), Job{ID: "old", Origin: storage.OriginSchedule, Trigger: tr})
	if !errors.Is(err, ErrNoFutureFire) {
		t.Fatalf("AddJob err = %v, want ErrNoFutureFire", err)
	}
	if _, err := h.store.GetJob(context.Background(), "old"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("job must not be persisted, GetJob err = %v", err)
	}
}

func TestDateJobFiresOnceAndLeavesTable(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Second)
	if err := h.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tr := recurrence.Trigger{Kind: recurrence.KindDate, Timezone: "UTC", RunAt: time.Now().Add(700 * time.Millisecond)}
	job := Job{ID: "calendar_m_e", Origin: storage.OriginCalendar, MessageID: "m", Trigger: tr, Args: []byte(`{"text":"hi"}`)}
	if err := h.svc.AddJob(context.Background(), job); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if jobs := h.svc.Jobs(); len(jobs) != 1 || jobs[0].ID != job.ID || !jobs[0].Persisted {
		t.Fatalf("Jobs = %+v", jobs)
	}

	rec, ok := h.waitRun(t, 5*time.Second)
	if !ok {
		t.Fatal("job never ran")
	}
	if rec.MessageID != "m" || string(rec.Args) != `{"text":"hi"}` {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if _, err := h.store.GetJob(context.Background(), job.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("fired one-shot still stored: %v", err)
	}
	if _, again := h.waitRun(t, 1500*time.Millisecond); again {
		t.Fatal("one-shot ran twice")
	}
	if n := len(h.svc.Jobs()); n != 0 {
		t.Fatalf("Jobs len = %d, want 0", n)
	}
}

func TestRemoveByOrigin(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Second)
	ctx := context.Background()
	if err := h.svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	future := time.Now().Add(24 * time.Hour)
	for _, j := range []Job{
		{ID: "message_1_a", Origin: storage.OriginSchedule, MessageID: "a"},
		{ID: "message_2_b", Origin: storage.OriginSchedule, MessageID: "b"},
		{ID: "calendar_c_e1", Origin: storage.OriginCalendar, MessageID: "c"},
	} {
		j.Trigger = recurrence.Trigger{Kind: recurrence.KindDate, Timezone: "UTC", RunAt: future}
		if err := h.svc.AddJob(ctx, j); err != nil {
			t.Fatalf("AddJob %s: %v", j.ID, err)
		}
	}

	ids, err := h.svc.RemoveByOrigin(ctx, storage.OriginSchedule)
	if err != nil {
		t.Fatalf("RemoveByOrigin: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("removed %v, want two ids", ids)
	}
	jobs := h.svc.Jobs()
	if len(jobs) != 1 || jobs[0].ID != "calendar_c_e1" {
		t.Fatalf("Jobs = %+v", jobs)
	}

	ok, err := h.svc.RemoveJob(ctx, "calendar_c_e1")
	if err != nil || !ok {
		t.Fatalf("RemoveJob = %v, %v", ok, err)
	}
}

func TestAddEveryListsVolatileJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Second)
	if err := h.svc.AddEvery("reconcile", "5m", time.Minute, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("AddEvery: %v", err)
	}
	if err := h.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	jobs := h.svc.Jobs()
	if len(jobs) != 1 || jobs[0].ID != "reconcile" || jobs[0].Persisted || jobs[0].Spec != "@every 5m0s" {
		t.Fatalf("Jobs = %+v", jobs)
	}
	if !h.svc.RemoveEvery("reconcile") {
		t.Fatal("RemoveEvery returned false")
	}
	if err := h.svc.AddEvery("bad", "nope", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for bad spec")
	}
}
