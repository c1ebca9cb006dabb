package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))

	log.Warn("calendar anchor skipped", String("message_id", "standup"), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if m["level"] != "warn" {
		t.Fatalf("level = %v, want warn", m["level"])
	}
	if m["comp"] != "test" || m["message"] != "calendar anchor skipped" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if m["message_id"] != "standup" || m["err"] != "boom" {
		t.Fatalf("unexpected fields: %v", m)
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var log Logger
	if !log.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	log.Info("ignored")
	if Nop().IsZero() {
		t.Fatal("Nop logger should not be zero")
	}
}

func TestEnabledRespectsLevel(t *testing.T) {
	log := NewWriter(&bytes.Buffer{}, "warn")
	if log.Enabled(LevelDebug) {
		t.Fatal("debug should be disabled at warn level")
	}
	if !log.Enabled(LevelError) {
		t.Fatal("error should be enabled at warn level")
	}
}
