// Package storage is herald's persistence layer.
//
// It owns three SQLite tables:
//   - jobs: durable scheduled jobs (trigger + bound arguments + next fire time)
//   - calendar_events: which (message, calendar event) pairs were scheduled or sent
//   - dispatch_audit: append-only record of dispatch attempts
package storage
