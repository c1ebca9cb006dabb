// Package scheduler owns herald's durable job table and turns due triggers
// into engine tasks.
//
// Persisted jobs (message and calendar jobs) live in storage and survive
// restarts; on Start each job's persisted next fire time is checked against
// the misfire grace period. Volatile jobs (the reconciliation loop) are held
// in memory only and re-registered by the app on every start.
package scheduler
