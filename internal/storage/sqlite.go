package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	logx "herald/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const auditRetention = 90 * 24 * time.Hour

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (*sqliteStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage: create dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	// SQLite prefers a single writer; this also serializes upserts.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- jobs ----

func (s *sqliteStore) UpsertJob(ctx context.Context, j JobRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if strings.TrimSpace(j.ID) == "" {
		return errors.New("storage: job id is required")
	}
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(id, origin, message_id, trigger, args, next_run, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
			origin=excluded.origin,
			message_id=excluded.message_id,
			trigger=excluded.trigger,
			args=excluded.args,
			next_run=excluded.next_run,
			updated_at=excluded.updated_at`,
		j.ID, j.Origin, j.MessageID, string(j.Trigger), string(j.Args), nullMillis(j.NextRun),
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("storage: upsert job %s: %w", j.ID, err)
	}
	return nil
}

func (s *sqliteStore) GetJob(ctx context.Context, id string) (JobRecord, error) {
	if s == nil || s.db == nil {
		return JobRecord{}, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, origin, message_id, trigger, args, next_run, created_at, updated_at FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return JobRecord{}, ErrNotFound
	}
	if err != nil {
		return JobRecord{}, fmt.Errorf("storage: get job %s: %w", id, err)
	}
	return j, nil
}

func (s *sqliteStore) DeleteJob(ctx context.Context, id string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("storage: delete job %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteJobsByOrigin removes every job of the given origin and returns their ids.
func (s *sqliteStore) DeleteJobsByOrigin(ctx context.Context, origin string) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM jobs WHERE origin = ? ORDER BY id`, origin)
	if err != nil {
		return nil, fmt.Errorf("storage: list %s jobs: %w", origin, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE origin = ?`, origin); err != nil {
		return nil, fmt.Errorf("storage: delete %s jobs: %w", origin, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("storage: commit: %w", err)
	}
	return ids, nil
}

func (s *sqliteStore) LoadJobs(ctx context.Context) ([]JobRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, origin, message_id, trigger, args, next_run, created_at, updated_at FROM jobs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("storage: load jobs: %w", err)
	}
	defer rows.Close()

	var out []JobRecord
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateNextRun(ctx context.Context, id string, next time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET next_run = ?, updated_at = ? WHERE id = ?`,
		nullMillis(next), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("storage: update next_run %s: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (JobRecord, error) {
	var (
		j                JobRecord
		trigger, args    string
		next             sql.NullInt64
		created, updated string
	)
	if err := r.Scan(&j.ID, &j.Origin, &j.MessageID, &trigger, &args, &next, &created, &updated); err != nil {
		return JobRecord{}, err
	}
	j.Trigger = []byte(trigger)
	j.Args = []byte(args)
	if next.Valid {
		j.NextRun = time.UnixMilli(next.Int64)
	}
	j.CreatedAt = parseTime(created)
	j.UpdatedAt = parseTime(updated)
	return j, nil
}

// ---- calendar_events ----

func (s *sqliteStore) GetCalendarEvent(ctx context.Context, messageID, eventID string) (CalendarEventRecord, error) {
	if s == nil || s.db == nil {
		return CalendarEventRecord{}, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT message_config_id, event_id, event_start_time, scheduled_send_time, job_id, status, created_at, updated_at
		 FROM calendar_events WHERE message_config_id = ? AND event_id = ?`, messageID, eventID)
	r, err := scanCalendarEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return CalendarEventRecord{}, ErrNotFound
	}
	if err != nil {
		return CalendarEventRecord{}, fmt.Errorf("storage: get calendar event %s/%s: %w", messageID, eventID, err)
	}
	return r, nil
}

func (s *sqliteStore) UpsertCalendarEvent(ctx context.Context, r CalendarEventRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.Status == "" {
		r.Status = StatusScheduled
	}
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calendar_events(message_config_id, event_id, event_start_time, scheduled_send_time, job_id, status, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(message_config_id, event_id) DO UPDATE SET
			event_start_time=excluded.event_start_time,
			scheduled_send_time=excluded.scheduled_send_time,
			job_id=excluded.job_id,
			status=excluded.status,
			updated_at=excluded.updated_at`,
		r.MessageConfigID, r.EventID, formatTime(r.EventStartTime), formatTime(r.ScheduledSendTime),
		r.JobID, r.Status, now, now,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert calendar event %s/%s: %w", r.MessageConfigID, r.EventID, err)
	}
	return nil
}

// SetCalendarEventStatus reports whether a row matched.
func (s *sqliteStore) SetCalendarEventStatus(ctx context.Context, messageID, eventID, status string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE calendar_events SET status = ?, updated_at = ? WHERE message_config_id = ? AND event_id = ?`,
		status, formatTime(time.Now()), messageID, eventID)
	if err != nil {
		return false, fmt.Errorf("storage: set status %s/%s: %w", messageID, eventID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStore) ListCalendarEvents(ctx context.Context) ([]CalendarEventRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_config_id, event_id, event_start_time, scheduled_send_time, job_id, status, created_at, updated_at
		 FROM calendar_events ORDER BY scheduled_send_time, message_config_id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list calendar events: %w", err)
	}
	defer rows.Close()

	var out []CalendarEventRecord
	for rows.Next() {
		r, err := scanCalendarEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan calendar event: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanCalendarEvent(r rowScanner) (CalendarEventRecord, error) {
	var (
		rec                           CalendarEventRecord
		start, send, created, updated string
	)
	if err := r.Scan(&rec.MessageConfigID, &rec.EventID, &start, &send, &rec.JobID, &rec.Status, &created, &updated); err != nil {
		return CalendarEventRecord{}, err
	}
	rec.EventStartTime = parseTime(start)
	rec.ScheduledSendTime = parseTime(send)
	rec.CreatedAt = parseTime(created)
	rec.UpdatedAt = parseTime(updated)
	return rec, nil
}

// ---- dispatch_audit ----

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	ok := 0
	if e.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatch_audit(at, job_id, message_id, transport, target, ok, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?)`,
		formatTime(e.At), e.JobID, e.MessageID, e.Transport, e.Target, ok, nullStr(e.Error), e.TookMS,
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		if perr := s.pruneAudit(pctx); perr != nil {
			s.log.Debug("audit prune failed", logx.Any("err", perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) pruneAudit(ctx context.Context) error {
	cutoff := formatTime(time.Now().Add(-auditRetention))
	_, err := s.db.ExecContext(ctx, `DELETE FROM dispatch_audit WHERE at < ?`, cutoff)
	return err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullMillis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
