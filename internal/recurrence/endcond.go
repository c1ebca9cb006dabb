package recurrence

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var durationRe = regexp.MustCompile(`^(\d+)([dwm])$`)

var endKeys = []string{"end_after_duration", "end_date", "max_occurrences"}

// EndCondition is the resolved end of a recurring schedule.
type EndCondition struct {
	// EndDate is the last calendar day (midnight in the schedule timezone) on
	// which the trigger may fire. Zero means unbounded.
	EndDate time.Time
	// MaxOccurrences is recorded but not enforced by the trigger.
	MaxOccurrences int
}

// ParseEndConditions resolves an end_conditions block.
//
// end_after_duration ("90d", "12w", "6m"; a month is 30 days) is resolved
// relative to now, so the result shifts if the same block is compiled later.
func ParseEndConditions(end map[string]any, now time.Time) (EndCondition, error) {
	var out EndCondition
	var unknown []string
	for k := range end {
		if !contains(endKeys, k) {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return out, fmt.Errorf("unknown end_conditions keys %v (allowed %v)", unknown, endKeys)
	}

	_, hasDate := end["end_date"]
	_, hasDuration := end["end_after_duration"]
	if hasDate && hasDuration {
		return out, fmt.Errorf("end_date and end_after_duration are mutually exclusive")
	}

	loc := now.Location()
	if hasDate {
		d, err := ParseDate(Schedule(end).str("end_date"), loc)
		if err != nil {
			return out, fmt.Errorf("end_date: %w", err)
		}
		out.EndDate = d
	}
	if hasDuration {
		d, err := ParseDuration(Schedule(end).str("end_after_duration"))
		if err != nil {
			return out, err
		}
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
		out.EndDate = today.AddDate(0, 0, d)
	}
	if v, ok := end["max_occurrences"]; ok {
		n, ok := toInt(v)
		if !ok || n < 1 {
			return out, fmt.Errorf("max_occurrences must be a positive integer")
		}
		out.MaxOccurrences = n
	}
	return out, nil
}

// ParseDuration parses "<n>d", "<n>w" or "<n>m" into a number of days.
func ParseDuration(v string) (int, error) {
	m := durationRe.FindStringSubmatch(strings.TrimSpace(v))
	if m == nil {
		return 0, fmt.Errorf("invalid end_after_duration %q, use <n>d, <n>w or <n>m", v)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid end_after_duration %q: %w", v, err)
	}
	switch m[2] {
	case "w":
		return n * 7, nil
	case "m":
		return n * 30, nil
	default:
		return n, nil
	}
}
