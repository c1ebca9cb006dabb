// Package messages loads message definitions from a YAML file or a
// directory of YAML files.
package messages

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"herald/internal/anchor"
	"herald/internal/dispatch"
	"herald/internal/recurrence"
)

// Message is one entry of a messages list.
type Message struct {
	// Index is the 1-based position in the concatenated list.
	Index    int
	ID       string
	Enabled  bool
	Schedule recurrence.Schedule
	Anchor   *anchor.Anchor
	Payload  dispatch.Payload
	Source   string
}

// Calendar reports whether the message is calendar-anchored.
func (m Message) Calendar() bool { return m.Anchor != nil }

// LoadError reports a file or entry that could not be decoded.
type LoadError struct {
	File  string
	Index int
	Err   error
}

func (e *LoadError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("message %d: %v", e.Index, e.Err)
	}
	if e.Index > 0 {
		return fmt.Sprintf("%s: message %d: %v", e.File, e.Index, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

type document struct {
	Messages []entry `yaml:"messages"`
}

type entry struct {
	ID       string         `yaml:"id"`
	Enabled  *bool          `yaml:"enabled"`
	Schedule map[string]any `yaml:"schedule"`
	Anchor   map[string]any `yaml:"calendar_anchor"`

	dispatch.Payload `yaml:",inline"`
}

// Files lists the definition files under path: path itself when it is a
// file, otherwise its .yaml/.yml entries in lexical order.
func Files(path string) ([]string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return []string{path}, nil
	}
	ents, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			out = append(out, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Load reads every definition file under path and concatenates their
// messages lists. Unknown keys are rejected. Schedules and anchors are
// only decoded here; the scheduler validates them as a batch.
func Load(path string) ([]Message, error) {
	files, err := Files(path)
	if err != nil {
		return nil, fmt.Errorf("messages: %w", err)
	}
	var out []Message
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, &LoadError{File: f, Err: err}
		}
		msgs, err := decode(f, data, len(out))
		if err != nil {
			return nil, err
		}
		out = append(out, msgs...)
	}
	if err := CheckUniqueIDs(out); err != nil {
		return nil, err
	}
	return out, nil
}

// ErrDuplicateID is wrapped by the error CheckUniqueIDs returns.
var ErrDuplicateID = errors.New("duplicate message id")

// CheckUniqueIDs rejects a list where two messages, enabled or not, share an
// id. Tracker rows and calendar job ids are keyed by id alone.
func CheckUniqueIDs(msgs []Message) error {
	seen := make(map[string]int, len(msgs))
	for _, m := range msgs {
		if first, ok := seen[m.ID]; ok {
			return &LoadError{File: m.Source, Index: m.Index, Err: fmt.Errorf("%w %q (first used by message %d)", ErrDuplicateID, m.ID, first)}
		}
		seen[m.ID] = m.Index
	}
	return nil
}

func decode(file string, data []byte, offset int) ([]Message, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var doc document
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, &LoadError{File: file, Err: err}
	}

	out := make([]Message, 0, len(doc.Messages))
	for i, e := range doc.Messages {
		idx := offset + i + 1
		m := Message{
			Index:    idx,
			ID:       strings.TrimSpace(e.ID),
			Enabled:  e.Enabled == nil || *e.Enabled,
			Schedule: recurrence.Schedule(normalizeDates(e.Schedule)),
			Payload:  e.Payload,
			Source:   file,
		}
		if m.ID == "" {
			m.ID = fmt.Sprintf("message_%d", idx)
		}
		if e.Schedule != nil && e.Anchor != nil {
			return nil, &LoadError{File: file, Index: idx, Err: errors.New("schedule and calendar_anchor are mutually exclusive")}
		}
		if e.Anchor != nil {
			a, err := decodeAnchor(normalizeDates(e.Anchor))
			if err != nil {
				return nil, &LoadError{File: file, Index: idx, Err: fmt.Errorf("calendar_anchor: %w", err)}
			}
			m.Anchor = &a
		}
		if m.Schedule == nil && m.Anchor == nil {
			m.Schedule = recurrence.Schedule{}
		}
		out = append(out, m)
	}
	return out, nil
}

// normalizeDates rewrites YAML timestamps (an unquoted 2025-08-01 decodes as
// time.Time) back to text so stored schedules look like the file.
func normalizeDates(m map[string]any) map[string]any {
	for k, v := range m {
		m[k] = normalizeValue(v)
	}
	return m
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}
		return x.Format(time.RFC3339)
	case map[string]any:
		return normalizeDates(x)
	case []any:
		for i, e := range x {
			x[i] = normalizeValue(e)
		}
	}
	return v
}

func decodeAnchor(raw map[string]any) (anchor.Anchor, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return anchor.Anchor{}, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var a anchor.Anchor
	if err := dec.Decode(&a); err != nil {
		return anchor.Anchor{}, err
	}
	return a, nil
}

// ByID returns the message with id, or false.
func ByID(msgs []Message, id string) (Message, bool) {
	for _, m := range msgs {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}
