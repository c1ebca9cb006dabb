// Package anchor resolves calendar-anchored messages: it finds the next
// matching calendar event, computes a send time relative to it and registers
// a one-shot job, recording the (message, event) pair so it is never
// scheduled twice.
package anchor

import (
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultCalendarID   = "primary"
	DefaultSearchWindow = 30
	DefaultOffset       = "0m"
)

// Anchor is the calendar_anchor block of a message.
type Anchor struct {
	EventName        string `json:"event_name"`
	CalendarID       string `json:"calendar_id,omitempty"`
	Offset           string `json:"offset,omitempty"`
	LatestSendOffset string `json:"latest_send_offset,omitempty"`
	SearchWindowDays int    `json:"search_window_days,omitempty"`
}

// ValidationError reports a malformed calendar_anchor block.
type ValidationError struct {
	Index     int
	MessageID string
	Field     string
	Err       error
}

func (e *ValidationError) Error() string {
	id := ""
	if e.MessageID != "" {
		id = " (" + e.MessageID + ")"
	}
	return fmt.Sprintf("message %d%s: calendar_anchor.%s: %v", e.Index, id, e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// WithDefaults fills calendar id, offset and search window.
func (a Anchor) WithDefaults() Anchor {
	if strings.TrimSpace(a.CalendarID) == "" {
		a.CalendarID = DefaultCalendarID
	}
	if strings.TrimSpace(a.Offset) == "" {
		a.Offset = DefaultOffset
	}
	if a.SearchWindowDays <= 0 {
		a.SearchWindowDays = DefaultSearchWindow
	}
	return a
}

// Validate checks the block. index is the 1-based message position.
func (a Anchor) Validate(index int) error {
	if strings.TrimSpace(a.EventName) == "" {
		return &ValidationError{Index: index, Field: "event_name", Err: errors.New("required")}
	}
	if a.SearchWindowDays < 0 {
		return &ValidationError{Index: index, Field: "search_window_days", Err: errors.New("must not be negative")}
	}
	if a.Offset != "" {
		if _, err := ParseOffset(a.Offset); err != nil {
			return &ValidationError{Index: index, Field: "offset", Err: err}
		}
	}
	if a.LatestSendOffset != "" {
		if _, err := ParseOffset(a.LatestSendOffset); err != nil {
			return &ValidationError{Index: index, Field: "latest_send_offset", Err: err}
		}
	}
	return nil
}
