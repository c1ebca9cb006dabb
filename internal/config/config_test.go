package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	logx "herald/pkg/logx"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestParseYAMLWithEnvAndDefaults(t *testing.T) {
	t.Setenv("HERALD_TEST_SLACK", "xoxb-secret")
	path := filepath.Join(t.TempDir(), "herald.yaml")
	writeFile(t, path, `
messages:
  path: ./messages
slack:
  token: ${HERALD_TEST_SLACK}
  workspaces:
    acme: ${HERALD_TEST_SLACK}
scheduler:
  misfire_grace: 1m
`)
	m := NewManager(path, logx.Nop())
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Slack.Token != "xoxb-secret" || cfg.Slack.Workspaces["acme"] != "xoxb-secret" {
		t.Fatalf("slack = %+v", cfg.Slack)
	}
	if cfg.Scheduler.Timezone != DefaultTimezone || cfg.Scheduler.ReconcileInterval != "30m" || cfg.TaskEngine.Workers != DefaultWorkers {
		t.Fatalf("defaults not applied: %+v %+v", cfg.Scheduler, cfg.TaskEngine)
	}
	d, err := cfg.Validate()
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if d.MisfireGrace != time.Minute || d.BusyTimeout != DefaultBusyTimeout {
		t.Fatalf("durations = %+v", d)
	}
	if m.Get() != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
		want string
	}{
		{name: "unknown field", file: "c.yaml", body: "messages: {path: x}\nschedular: {}\n", want: "unknown field"},
		{name: "missing env", file: "c.yaml", body: "messages: {path: x}\ntelegram: {token: ${HERALD_TEST_UNSET_VAR}}\n", want: "HERALD_TEST_UNSET_VAR"},
		{name: "trailing json", file: "c.json", body: `{"messages":{"path":"x"}} {}`, want: "trailing"},
		{name: "bad duration", file: "c.yaml", body: "messages: {path: x}\nscheduler: {misfire_grace: soon}\n", want: "misfire_grace"},
		{name: "bad timezone", file: "c.yaml", body: "messages: {path: x}\nscheduler: {timezone: Mars/Base}\n", want: "timezone"},
		{name: "no messages path", file: "c.yaml", body: "dispatch: {dry_run: true}\n", want: "messages.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			writeFile(t, path, tt.body)
			_, err := NewManager(path, logx.Nop()).Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Load err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	a := &Config{Logging: LoggingConfig{Level: "info"}, Telegram: TelegramConfig{Token: "one"}}
	b := &Config{Logging: LoggingConfig{Level: "debug"}, Telegram: TelegramConfig{Token: "two"}}
	changed, attrs := SummarizeChange(a, b)
	if strings.Join(changed, ",") != "logging,telegram" {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) != 2 {
		t.Fatalf("attrs = %d", len(attrs))
	}
}

func TestWatchPathDirectory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = WatchPath(ctx, dir, logx.Nop(), func() { calls.Add(1) })
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Each write is followed by a quiet period longer than watchDebounce so
	// the callback can fire; writes repeat only in case the watcher was not
	// registered yet.
	deadline := time.Now().Add(5 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		writeFile(t, filepath.Join(dir, "m.yaml"), "messages: []\n")
		quiet := time.Now().Add(4 * watchDebounce)
		for calls.Load() == 0 && time.Now().Before(quiet) {
			time.Sleep(20 * time.Millisecond)
		}
	}
	if calls.Load() == 0 {
		t.Fatal("change never observed")
	}

	// Non-matching files are ignored.
	time.Sleep(2 * watchDebounce)
	before := calls.Load()
	writeFile(t, filepath.Join(dir, "notes.txt"), "x")
	time.Sleep(4 * watchDebounce)
	if got := calls.Load(); got != before {
		t.Fatalf("calls = %d after writing notes.txt, want %d", got, before)
	}
}

func TestWatchTargetFile(t *testing.T) {
	t.Parallel()
	dir, match := watchTarget(filepath.Join("conf", "herald.yaml"))
	if dir != "conf" || !match(filepath.Join("conf", "herald.yaml")) || match(filepath.Join("conf", "other.yaml")) {
		t.Fatalf("watchTarget = %q", dir)
	}
}
