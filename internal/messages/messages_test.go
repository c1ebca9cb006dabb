package messages

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func write(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadDirectoryConcatenatesInOrder(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	write(t, dir, "b.yml", `
messages:
  - channel: "#b"
    text: second file
    schedule:
      frequency: daily
      time: "09:30"
`)
	write(t, dir, "a.yaml", `
messages:
  - id: standup
    channel: "#a"
    text: "Standup {date}"
    display_name: Herald
    icon: robot_face
    replacements:
      "{room}": Blue
    schedule:
      frequency: weekly
      days_of_week: [monday, wednesday]
      time: "10:00"
      start_date: 2025-08-01
  - id: retro
    enabled: false
    app: telegram
    channel: "-1001"
    thread_id: 7
    text: retro soon
    calendar_anchor:
      event_name: Retro
      offset: -1h
`)
	write(t, dir, "notes.txt", "ignored")

	msgs, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}

	standup := msgs[0]
	if standup.ID != "standup" || standup.Index != 1 || !standup.Enabled || standup.Calendar() {
		t.Fatalf("standup = %+v", standup)
	}
	if standup.Schedule["start_date"] != "2025-08-01" {
		t.Fatalf("start_date decoded as %T %v", standup.Schedule["start_date"], standup.Schedule["start_date"])
	}
	if standup.Payload.DisplayName != "Herald" || standup.Payload.Replacements["{room}"] != "Blue" {
		t.Fatalf("payload = %+v", standup.Payload)
	}

	retro := msgs[1]
	if retro.Enabled || !retro.Calendar() || retro.Anchor.EventName != "Retro" || retro.Anchor.Offset != "-1h" {
		t.Fatalf("retro = %+v anchor %+v", retro, retro.Anchor)
	}
	if retro.Payload.App != "telegram" || retro.Payload.ThreadID != 7 {
		t.Fatalf("retro payload = %+v", retro.Payload)
	}

	third := msgs[2]
	if third.ID != "message_3" || third.Index != 3 || third.Payload.Channel != "#b" {
		t.Fatalf("third = %+v", third)
	}
}

func TestLoadRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "unknown payload key", body: "messages:\n  - channel: x\n    txt: typo\n", want: "txt"},
		{name: "both triggers", body: "messages:\n  - channel: x\n    schedule: {frequency: daily}\n    calendar_anchor: {event_name: E}\n", want: "mutually exclusive"},
		{name: "unknown anchor key", body: "messages:\n  - channel: x\n    calendar_anchor: {event: E}\n", want: "calendar_anchor"},
		{name: "bad yaml", body: "messages: [\n", want: "bad.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := write(t, t.TempDir(), "bad.yaml", tt.body)
			_, err := Load(p)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Load err = %v, want mention of %q", err, tt.want)
			}
			var le *LoadError
			if !errors.As(err, &le) {
				t.Fatalf("err %T is not a LoadError", err)
			}
		})
	}
}

func TestLoadDefaultsToOnceSchedule(t *testing.T) {
	t.Parallel()
	p := write(t, t.TempDir(), "m.yaml", "messages:\n  - channel: x\n    text: hi\n")
	msgs, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if msgs[0].Schedule == nil || msgs[0].Schedule.Frequency() != "once" {
		t.Fatalf("schedule = %#v", msgs[0].Schedule)
	}
	if _, ok := ByID(msgs, "message_1"); !ok {
		t.Fatal("ByID did not find message_1")
	}
}

func TestLoadEmptyFile(t *testing.T) {
	t.Parallel()
	p := write(t, t.TempDir(), "empty.yaml", "")
	msgs, err := Load(p)
	if err != nil || len(msgs) != 0 {
		t.Fatalf("Load = %v, %v", msgs, err)
	}
}

func TestLoadKeepsUnquotedDatesAsText(t *testing.T) {
	t.Parallel()
	p := write(t, t.TempDir(), "m.yaml", `
messages:
  - channel: "#a"
    text: hi
    schedule:
      frequency: daily
      time: "08:00"
      start_date: 2025-08-01
      end_conditions:
        end_date: 2025-12-31
`)
	msgs, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := msgs[0].Schedule
	if got, ok := s["start_date"].(string); !ok || got != "2025-08-01" {
		t.Fatalf("start_date = %T %v", s["start_date"], s["start_date"])
	}
	end, _ := s["end_conditions"].(map[string]any)
	if got, ok := end["end_date"].(string); !ok || got != "2025-12-31" {
		t.Fatalf("end_date = %T %v", end["end_date"], end["end_date"])
	}
}

func TestLoadRejectsDuplicateIDsAcrossFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	write(t, dir, "a.yaml", "messages:\n  - id: reminder\n    channel: \"#a\"\n    calendar_anchor: {event_name: Retro}\n")
	write(t, dir, "b.yaml", "messages:\n  - id: reminder\n    enabled: false\n    channel: \"#b\"\n    calendar_anchor: {event_name: Retro}\n")

	_, err := Load(dir)
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("err = %v, want ErrDuplicateID", err)
	}
	var le *LoadError
	if !errors.As(err, &le) || le.Index != 2 || filepath.Base(le.File) != "b.yaml" {
		t.Fatalf("err = %#v", err)
	}
	if !strings.Contains(err.Error(), "message 1") {
		t.Fatalf("error %q should name the first position", err)
	}
}
