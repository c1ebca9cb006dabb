package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("storage: not found")
)

// Config configures storage.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Job origins.
const (
	OriginSchedule = "schedule"
	OriginCalendar = "calendar"
)

// JobRecord is one durable scheduled job.
//
// Trigger and Args are opaque JSON owned by the scheduler and the app layer.
type JobRecord struct {
	ID        string
	Origin    string
	MessageID string
	Trigger   []byte
	Args      []byte
	NextRun   time.Time // zero when the job has no further fire time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Calendar event statuses.
const (
	StatusScheduled = "scheduled"
	StatusSent      = "sent"
)

// CalendarEventRecord is one row of calendar_events.
type CalendarEventRecord struct {
	MessageConfigID   string
	EventID           string
	EventStartTime    time.Time
	ScheduledSendTime time.Time
	JobID             string
	Status            string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AuditEntry records one dispatch attempt.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At        time.Time
	JobID     string
	MessageID string
	Transport string
	Target    string
	OK        bool
	Error     string
	TookMS    int64
}
