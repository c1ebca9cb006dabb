package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultTimezone          = "Europe/London"
	DefaultDBPath            = "./data/herald.db"
	DefaultMisfireGrace      = 30 * time.Second
	DefaultReconcileInterval = "30m"
	DefaultBusyTimeout       = 5 * time.Second
	DefaultWorkers           = 10
	DefaultDebugAddr         = "127.0.0.1:9464"
	DefaultTokenFile         = "./token.json"
)

// Durations holds the parsed duration fields.
type Durations struct {
	MisfireGrace   time.Duration
	BusyTimeout    time.Duration
	DefaultTimeout time.Duration
}

// ApplyDefaults fills omitted fields in place.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Scheduler.Timezone) == "" {
		c.Scheduler.Timezone = DefaultTimezone
	}
	if strings.TrimSpace(c.Scheduler.DBPath) == "" {
		c.Scheduler.DBPath = DefaultDBPath
	}
	if strings.TrimSpace(c.Scheduler.ReconcileInterval) == "" {
		c.Scheduler.ReconcileInterval = DefaultReconcileInterval
	}
	if c.TaskEngine.Workers <= 0 {
		c.TaskEngine.Workers = DefaultWorkers
	}
	if strings.TrimSpace(c.Dispatch.DefaultApp) == "" {
		c.Dispatch.DefaultApp = "slack"
	}
	if strings.TrimSpace(c.Google.TokenFile) == "" {
		c.Google.TokenFile = DefaultTokenFile
	}
	if strings.TrimSpace(c.Debug.Addr) == "" {
		c.Debug.Addr = DefaultDebugAddr
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks fields that would otherwise fail late.
func (c *Config) Validate() (Durations, error) {
	var d Durations
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return d, fmt.Errorf("scheduler.timezone: %w", err)
	}
	var err error
	if d.MisfireGrace, err = ParseDurationOrDefault("scheduler.misfire_grace", c.Scheduler.MisfireGrace, DefaultMisfireGrace); err != nil {
		return d, err
	}
	if d.BusyTimeout, err = ParseDurationOrDefault("scheduler.busy_timeout", c.Scheduler.BusyTimeout, DefaultBusyTimeout); err != nil {
		return d, err
	}
	if d.DefaultTimeout, err = ParseDurationField("task_engine.default_timeout", c.TaskEngine.DefaultTimeout); err != nil {
		return d, err
	}
	if strings.TrimSpace(c.Messages.Path) == "" {
		return d, fmt.Errorf("messages.path: required")
	}
	if c.Dispatch.RatePerSec < 0 {
		return d, fmt.Errorf("dispatch.rate_per_sec: must be >= 0")
	}
	return d, nil
}
