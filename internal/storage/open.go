package storage

import (
	"context"
	"time"

	logx "herald/pkg/logx"
)

// Store is the persistence API used by the scheduler, the tracker and dispatch.
type Store interface {
	UpsertJob(ctx context.Context, j JobRecord) error
	GetJob(ctx context.Context, id string) (JobRecord, error)
	DeleteJob(ctx context.Context, id string) (bool, error)
	DeleteJobsByOrigin(ctx context.Context, origin string) ([]string, error)
	LoadJobs(ctx context.Context) ([]JobRecord, error)
	UpdateNextRun(ctx context.Context, id string, next time.Time) error

	GetCalendarEvent(ctx context.Context, messageID, eventID string) (CalendarEventRecord, error)
	UpsertCalendarEvent(ctx context.Context, r CalendarEventRecord) error
	SetCalendarEventStatus(ctx context.Context, messageID, eventID, status string) (bool, error)
	ListCalendarEvents(ctx context.Context) ([]CalendarEventRecord, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the SQLite store at cfg.Path, creating parent directories
// and applying migrations.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	st, err := openSQLite(cfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	return st, nil
}
