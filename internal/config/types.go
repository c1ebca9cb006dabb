package config

// Config is herald.yaml (or herald.json). Durations are Go duration
// strings ("30s", "30m"). Any string may reference the environment as
// ${NAME}; .env is loaded before parsing.
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Messages   MessagesConfig   `json:"messages"`
	Dispatch   DispatchConfig   `json:"dispatch"`
	Slack      SlackConfig      `json:"slack"`
	Telegram   TelegramConfig   `json:"telegram"`
	Google     GoogleConfig     `json:"google"`
	Debug      DebugConfig      `json:"debug"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls triggering and the job store.
//
// Defaults:
//   - timezone: Europe/London (also the default for schedules without one)
//   - db_path: ./data/herald.db
//   - misfire_grace: 30s
//   - reconcile_interval: 30m
//   - busy_timeout: 5s
type SchedulerConfig struct {
	Timezone          string `json:"timezone,omitempty"`
	DBPath            string `json:"db_path,omitempty"`
	MisfireGrace      string `json:"misfire_grace,omitempty"`
	ReconcileInterval string `json:"reconcile_interval,omitempty"`
	BusyTimeout       string `json:"busy_timeout,omitempty"`
}

// TaskEngineConfig controls the worker pool that runs due jobs.
type TaskEngineConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`
	// DefaultTimeout bounds one dispatch. "0s" disables it.
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

type MessagesConfig struct {
	// Path is a YAML file or a directory of .yaml/.yml files.
	Path  string `json:"path"`
	Watch bool   `json:"watch,omitempty"`
}

type DispatchConfig struct {
	DryRun     bool    `json:"dry_run,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
	DefaultApp string  `json:"default_app,omitempty"`
}

type SlackConfig struct {
	Token string `json:"token,omitempty"`
	// Workspaces maps a workspace name to its bot token.
	Workspaces map[string]string `json:"workspaces,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token,omitempty"`
}

// GoogleConfig enables Calendar anchors and document generation when a
// credentials file is set.
type GoogleConfig struct {
	CredentialsFile string `json:"credentials_file,omitempty"`
	TokenFile       string `json:"token_file,omitempty"`
}

// DebugConfig controls the /metrics, /healthz and pprof listener.
//
// Bind to loopback, or set a token, or set allow_insecure explicitly.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: 127.0.0.1:9464
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
