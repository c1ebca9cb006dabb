package anchor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var offsetRe = regexp.MustCompile(`^([+-]?)(\d+)([mhdw])$`)

// OffsetError reports a malformed offset string.
type OffsetError struct {
	Value string
}

func (e *OffsetError) Error() string {
	return fmt.Sprintf("invalid offset %q: expected [+|-]<n><m|h|d|w>, e.g. -2h or 30m", e.Value)
}

// ParseOffset parses a signed offset such as "-2h", "30m", "+1d" or "1w".
func ParseOffset(text string) (time.Duration, error) {
	m := offsetRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return 0, &OffsetError{Value: text}
	}
	n, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return 0, &OffsetError{Value: text}
	}
	var unit time.Duration
	switch m[3] {
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	case "w":
		unit = 7 * 24 * time.Hour
	}
	d := time.Duration(n) * unit
	if m[1] == "-" {
		d = -d
	}
	return d, nil
}
