package config

import (
	"reflect"

	logx "herald/pkg/logx"
)

// SummarizeChange lists the changed top-level sections and safe log fields
// describing them. Tokens are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs, logx.String("logging.level", newCfg.Logging.Level), logx.Bool("logging.file", newCfg.Logging.File.Enabled))
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", newCfg.Scheduler.Timezone), logx.String("scheduler.reconcile_interval", newCfg.Scheduler.ReconcileInterval))
	}
	if oldCfg.TaskEngine != newCfg.TaskEngine {
		changed = append(changed, "task_engine")
		attrs = append(attrs, logx.Int("task_engine.workers", newCfg.TaskEngine.Workers))
	}
	if oldCfg.Messages != newCfg.Messages {
		changed = append(changed, "messages")
		attrs = append(attrs, logx.String("messages.path", newCfg.Messages.Path), logx.Bool("messages.watch", newCfg.Messages.Watch))
	}
	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs, logx.Bool("dispatch.dry_run", newCfg.Dispatch.DryRun), logx.String("dispatch.default_app", newCfg.Dispatch.DefaultApp))
	}
	if !reflect.DeepEqual(oldCfg.Slack, newCfg.Slack) {
		changed = append(changed, "slack")
		attrs = append(attrs, logx.Int("slack.workspaces", len(newCfg.Slack.Workspaces)))
	}
	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
	}
	if oldCfg.Google != newCfg.Google {
		changed = append(changed, "google")
	}
	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs, logx.Bool("debug.enabled", newCfg.Debug.Enabled), logx.String("debug.addr", newCfg.Debug.Addr))
	}
	return changed, attrs
}

// HotSections are sections applied without a restart.
var HotSections = map[string]bool{"logging": true, "debug": true}
