package recurrence

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Frequency values.
const (
	FrequencyOnce    = "once"
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
)

// Schedule is a raw schedule block as declared in a message definition.
// Key presence matters: Validate rejects keys that do not belong to the
// declared frequency.
type Schedule map[string]any

var baseKeys = []string{"frequency", "interval", "start_date", "time", "timezone"}

var frequencyKeys = map[string][]string{
	FrequencyOnce:    nil,
	FrequencyDaily:   {"end_conditions"},
	FrequencyWeekly:  {"days_of_week", "end_conditions"},
	FrequencyMonthly: {"day_of_month", "day_of_week", "end_conditions", "week_of_month"},
}

// AllowedKeys returns the sorted key set accepted for frequency.
func AllowedKeys(frequency string) []string {
	extra, ok := frequencyKeys[frequency]
	if !ok {
		return nil
	}
	out := append(append([]string(nil), baseKeys...), extra...)
	sort.Strings(out)
	return out
}

// Frequency returns the declared frequency, defaulting to once.
func (s Schedule) Frequency() string {
	v, ok := s["frequency"]
	if !ok || v == nil {
		return FrequencyOnce
	}
	return strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
}

func (s Schedule) has(key string) bool {
	_, ok := s[key]
	return ok
}

func (s Schedule) str(key string) string {
	v, ok := s[key]
	if !ok || v == nil {
		return ""
	}
	if t, ok := v.(time.Time); ok {
		return t.Format("2006-01-02")
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// parsed is the typed view of a Schedule shared by Validate and Compile.
type parsed struct {
	frequency   string
	hour        int
	minute      int
	startDate   string
	timezone    string
	interval    int
	weekdays    []time.Weekday
	dayOfMonth  int
	weekOfMonth int // -1 means last
	dayOfWeek   time.Weekday
	nthWeekday  bool
	end         map[string]any
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// ParseWeekday maps a case-insensitive day name (full or three-letter) to a weekday.
func ParseWeekday(name string) (time.Weekday, error) {
	d, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown day %q", name)
	}
	return d, nil
}

// ParseClock parses a 24-hour HH:MM time of day.
func ParseClock(v string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time format %q, use HH:MM", v)
	}
	return t.Hour(), t.Minute(), nil
}

// ParseDate parses a YYYY-MM-DD date at midnight in loc.
func ParseDate(v string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(v), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date format %q, use YYYY-MM-DD", v)
	}
	return t, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	default:
		return 0, false
	}
}

func toStrings(v any) ([]string, bool) {
	switch l := v.(type) {
	case []string:
		return l, true
	case []any:
		out := make([]string, 0, len(l))
		for _, x := range l {
			s, ok := x.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	case string:
		// "monday, friday" is accepted as a convenience.
		parts := strings.Split(l, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, true
	default:
		return nil, false
	}
}

func toMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Schedule:
		return m, true
	case nil:
		return map[string]any{}, true
	default:
		return nil, false
	}
}

// parse checks key sets and field formats. Index is used only for errors.
func (s Schedule) parse(index int, defaultTZ string) (parsed, error) {
	p := parsed{frequency: s.Frequency(), interval: 1}

	allowed := AllowedKeys(p.frequency)
	if allowed == nil {
		return p, invalid(index, fmt.Sprintf("invalid frequency %q, must be one of once, daily, weekly, monthly", p.frequency))
	}
	var redundant []string
	for k := range s {
		if !contains(allowed, k) {
			redundant = append(redundant, k)
		}
	}
	if len(redundant) > 0 {
		sort.Strings(redundant)
		return p, invalid(index, fmt.Sprintf("redundant keys for frequency %q (allowed %v):", p.frequency, allowed), redundant...)
	}

	if s.has("interval") {
		n, ok := toInt(s["interval"])
		if !ok || n < 1 {
			return p, invalid(index, "interval must be a positive integer", "interval")
		}
		p.interval = n
	}
	if p.interval != 1 && p.frequency != FrequencyDaily {
		return p, invalid(index, fmt.Sprintf("interval is not meaningful for %q frequency", p.frequency), "interval")
	}

	clock := s.str("time")
	if clock == "" {
		clock = "00:00"
	}
	h, m, err := ParseClock(clock)
	if err != nil {
		return p, invalid(index, err.Error(), "time")
	}
	p.hour, p.minute = h, m

	p.timezone = s.str("timezone")
	if p.timezone == "" {
		p.timezone = defaultTZ
	}
	if p.timezone == "" {
		p.timezone = "UTC"
	}
	loc, err := time.LoadLocation(p.timezone)
	if err != nil {
		return p, invalid(index, fmt.Sprintf("unknown timezone %q", p.timezone), "timezone")
	}

	p.startDate = s.str("start_date")
	if p.startDate != "" {
		if _, err := ParseDate(p.startDate, loc); err != nil {
			return p, invalid(index, "invalid start_date: "+err.Error(), "start_date")
		}
	}

	switch p.frequency {
	case FrequencyOnce:
		if p.startDate == "" {
			return p, invalid(index, ErrStartDateRequired.Error(), "start_date")
		}
	case FrequencyWeekly:
		names, ok := toStrings(s["days_of_week"])
		if !s.has("days_of_week") || !ok || len(names) == 0 {
			return p, invalid(index, "'days_of_week' required for weekly frequency", "days_of_week")
		}
		seen := map[time.Weekday]bool{}
		for _, n := range names {
			d, err := ParseWeekday(n)
			if err != nil {
				return p, invalid(index, err.Error(), "days_of_week")
			}
			if !seen[d] {
				seen[d] = true
				p.weekdays = append(p.weekdays, d)
			}
		}
		sort.Slice(p.weekdays, func(i, j int) bool { return p.weekdays[i] < p.weekdays[j] })
	case FrequencyMonthly:
		hasDOM := s.has("day_of_month")
		hasRelative := s.has("week_of_month") && s.has("day_of_week")
		if !hasDOM && !hasRelative {
			return p, invalid(index, "monthly frequency requires either 'day_of_month' or both 'week_of_month' and 'day_of_week'")
		}
		if hasDOM && (s.has("week_of_month") || s.has("day_of_week")) {
			return p, invalid(index, "cannot combine 'day_of_month' with 'week_of_month'/'day_of_week'", "day_of_month", "week_of_month", "day_of_week")
		}
		if hasDOM {
			n, ok := toInt(s["day_of_month"])
			if !ok || n < 1 || n > 31 {
				return p, invalid(index, "day_of_month must be between 1 and 31", "day_of_month")
			}
			p.dayOfMonth = n
		} else {
			w, err := parseWeekOfMonth(s["week_of_month"])
			if err != nil {
				return p, invalid(index, err.Error(), "week_of_month")
			}
			d, err := ParseWeekday(s.str("day_of_week"))
			if err != nil {
				return p, invalid(index, err.Error(), "day_of_week")
			}
			p.weekOfMonth, p.dayOfWeek, p.nthWeekday = w, d, true
		}
	}

	if s.has("end_conditions") {
		end, ok := toMap(s["end_conditions"])
		if !ok {
			return p, invalid(index, "end_conditions must be a mapping", "end_conditions")
		}
		if _, err := ParseEndConditions(end, time.Now().In(loc)); err != nil {
			return p, invalid(index, err.Error(), "end_conditions")
		}
		p.end = end
	}
	return p, nil
}

func parseWeekOfMonth(v any) (int, error) {
	if s, ok := v.(string); ok && strings.EqualFold(strings.TrimSpace(s), "last") {
		return -1, nil
	}
	n, ok := toInt(v)
	if !ok || n < 1 || n > 5 {
		return 0, fmt.Errorf("week_of_month must be 1-5 or \"last\", got %v", v)
	}
	return n, nil
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
