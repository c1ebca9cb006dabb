// Package recurrence turns a message's declarative schedule block into a
// concrete Trigger: a single absolute fire time, or a recurring rule keyed by
// time of day plus a day constraint.
//
// Triggers are plain JSON-serializable values so the job table can persist
// them; Trigger.Schedule rebuilds the robfig/cron schedule at runtime.
package recurrence
