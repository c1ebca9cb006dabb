package recurrence

import (
	"errors"
	"fmt"
	"strings"
)

var ErrStartDateRequired = errors.New("'start_date' is required for 'once' frequency")

// ValidationError reports a malformed schedule block.
//
// Index is the 1-based position of the message in the loaded set.
type ValidationError struct {
	Index     int
	MessageID string
	Fields    []string
	Cause     string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "message %d", e.Index)
	if e.MessageID != "" {
		fmt.Fprintf(&b, " (%s)", e.MessageID)
	}
	b.WriteString(": ")
	b.WriteString(e.Cause)
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, " %v", e.Fields)
	}
	return b.String()
}

func invalid(index int, cause string, fields ...string) *ValidationError {
	return &ValidationError{Index: index, Cause: cause, Fields: fields}
}
