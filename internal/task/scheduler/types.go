package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"herald/internal/eventbus"
	"herald/internal/recurrence"
	"herald/internal/storage"
	"herald/internal/task/engine"
	logx "herald/pkg/logx"
)

var (
	ErrNoFutureFire = errors.New("trigger has no future fire time")
	ErrNotStarted   = errors.New("scheduler not started")
)

// Config controls the scheduler (trigger) service.
type Config struct {
	Timezone string // IANA TZ used for logs and volatile schedules

	// MisfireGrace bounds how late a missed fire may still run. Missed fires
	// inside the window are coalesced into one run.
	MisfireGrace time.Duration

	// JobTimeout bounds one job run. 0 means the engine default.
	JobTimeout time.Duration
}

// Runner executes a due persisted job.
type Runner func(ctx context.Context, job storage.JobRecord) error

// Job is a persisted job definition.
type Job struct {
	ID        string
	Origin    string
	MessageID string
	Trigger   recurrence.Trigger
	Args      json.RawMessage
}

// JobInfo is a listing row.
type JobInfo struct {
	ID             string
	Origin         string
	MessageID      string
	Spec           string
	Next           time.Time
	Prev           time.Time
	Persisted      bool
	MaxOccurrences int
}

type jobEntry struct {
	rec     storage.JobRecord
	trigger recurrence.Trigger
	sched   cron.Schedule

	entryID cron.EntryID
	prev    time.Time

	state *engine.RunState
}

type volatileDef struct {
	name    string
	spec    string
	sched   cron.Schedule
	timeout time.Duration
	job     func(ctx context.Context) error
	entryID cron.EntryID
	spread  time.Duration
	state   *engine.RunState
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	engine *engine.Service
	store  storage.Store
	run    Runner

	c         *cron.Cron
	jobs      map[string]*jobEntry
	volatiles map[string]*volatileDef

	// Enqueue error throttling: key is job id.
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

// Snapshot is a diagnostics view.
type Snapshot struct {
	Timezone string
	Jobs     []JobInfo
	Engine   engine.Snapshot
}
