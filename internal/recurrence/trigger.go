package recurrence

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Kind string

const (
	KindDate Kind = "date"
	KindCron Kind = "cron"
)

// NthWeekday selects the nth weekday of a month; Week -1 means the last one.
type NthWeekday struct {
	Week    int          `json:"week"`
	Weekday time.Weekday `json:"weekday"`
}

// Trigger is a compiled, serializable fire rule.
type Trigger struct {
	Kind     Kind   `json:"kind"`
	Timezone string `json:"timezone"`

	// KindDate
	RunAt time.Time `json:"run_at,omitempty"`

	// KindCron
	Hour        int            `json:"hour"`
	Minute      int            `json:"minute"`
	Weekdays    []time.Weekday `json:"weekdays,omitempty"`
	DayOfMonth  int            `json:"day_of_month,omitempty"`
	DayInterval int            `json:"day_interval,omitempty"`
	Nth         *NthWeekday    `json:"nth,omitempty"`

	// Start is the first instant a recurring trigger may fire.
	Start time.Time `json:"start,omitempty"`
	// Until is the exclusive upper bound; zero means unbounded.
	Until time.Time `json:"until,omitempty"`

	MaxOccurrences int `json:"max_occurrences,omitempty"`
}

// Validate checks a schedule block. index is the 1-based message position,
// defaultTZ applies when the block has no timezone.
func Validate(s Schedule, index int, defaultTZ string) error {
	_, err := s.parse(index, defaultTZ)
	if err != nil {
		return err
	}
	return nil
}

// Compile validates s and builds its Trigger. End conditions given as a
// duration are resolved against now.
func Compile(s Schedule, index int, now time.Time, defaultTZ string) (Trigger, error) {
	p, err := s.parse(index, defaultTZ)
	if err != nil {
		return Trigger{}, err
	}
	loc, err := time.LoadLocation(p.timezone)
	if err != nil {
		return Trigger{}, invalid(index, err.Error(), "timezone")
	}

	var start time.Time
	if p.startDate != "" {
		start, err = ParseDate(p.startDate, loc)
		if err != nil {
			return Trigger{}, invalid(index, err.Error(), "start_date")
		}
	}

	tr := Trigger{Timezone: p.timezone, Hour: p.hour, Minute: p.minute}
	if p.frequency == FrequencyOnce {
		tr.Kind = KindDate
		tr.RunAt = time.Date(start.Year(), start.Month(), start.Day(), p.hour, p.minute, 0, 0, loc)
		return tr, nil
	}

	tr.Kind = KindCron
	tr.Start = start
	switch p.frequency {
	case FrequencyDaily:
		if p.interval > 1 {
			tr.DayInterval = p.interval
		}
	case FrequencyWeekly:
		tr.Weekdays = p.weekdays
	case FrequencyMonthly:
		if p.nthWeekday {
			tr.Nth = &NthWeekday{Week: p.weekOfMonth, Weekday: p.dayOfWeek}
		} else {
			tr.DayOfMonth = p.dayOfMonth
		}
	}
	if p.end != nil {
		end, err := ParseEndConditions(p.end, now.In(loc))
		if err != nil {
			return Trigger{}, invalid(index, err.Error(), "end_conditions")
		}
		if !end.EndDate.IsZero() {
			tr.Until = end.EndDate.AddDate(0, 0, 1)
		}
		tr.MaxOccurrences = end.MaxOccurrences
	}
	return tr, nil
}

// Location returns the trigger's timezone, falling back to UTC.
func (t Trigger) Location() *time.Location {
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Spec renders the recurring rule as a five-field cron expression. The nth
// weekday rule has no cron form and renders descriptively.
func (t Trigger) Spec() string {
	switch t.Kind {
	case KindDate:
		return "at " + t.RunAt.Format(time.RFC3339)
	case KindCron:
	default:
		return ""
	}
	if t.Nth != nil {
		week := strconv.Itoa(t.Nth.Week)
		if t.Nth.Week < 0 {
			week = "last"
		}
		return fmt.Sprintf("%d %d nth(%s %s)", t.Minute, t.Hour, week, strings.ToLower(t.Nth.Weekday.String()))
	}
	dom := "*"
	switch {
	case t.DayOfMonth > 0:
		dom = strconv.Itoa(t.DayOfMonth)
	case t.DayInterval > 1:
		dom = "*/" + strconv.Itoa(t.DayInterval)
	}
	dow := "*"
	if len(t.Weekdays) > 0 {
		parts := make([]string, len(t.Weekdays))
		for i, d := range t.Weekdays {
			parts[i] = strconv.Itoa(int(d))
		}
		dow = strings.Join(parts, ",")
	}
	return fmt.Sprintf("%d %d %s * %s", t.Minute, t.Hour, dom, dow)
}

// Schedule builds the runtime cron schedule. A zero Next means the trigger
// will never fire again.
func (t Trigger) Schedule() (cron.Schedule, error) {
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return nil, fmt.Errorf("trigger timezone %q: %w", t.Timezone, err)
	}
	switch t.Kind {
	case KindDate:
		return dateSchedule{at: t.RunAt}, nil
	case KindCron:
		var base cron.Schedule
		if t.Nth != nil {
			base = nthWeekdaySchedule{week: t.Nth.Week, weekday: t.Nth.Weekday, hour: t.Hour, minute: t.Minute, loc: loc}
		} else {
			spec, err := cron.ParseStandard(t.Spec())
			if err != nil {
				return nil, fmt.Errorf("trigger spec %q: %w", t.Spec(), err)
			}
			if ss, ok := spec.(*cron.SpecSchedule); ok {
				ss.Location = loc
			}
			base = spec
		}
		return &boundedSchedule{base: base, start: t.Start, until: t.Until}, nil
	default:
		return nil, fmt.Errorf("unknown trigger kind %q", t.Kind)
	}
}

// Next returns the first fire time strictly after from, or zero.
func (t Trigger) Next(from time.Time) time.Time {
	s, err := t.Schedule()
	if err != nil {
		return time.Time{}
	}
	return s.Next(from)
}

// Marshal encodes the trigger for the job table.
func (t Trigger) Marshal() ([]byte, error) { return json.Marshal(t) }

// Unmarshal decodes a trigger persisted by Marshal.
func Unmarshal(b []byte) (Trigger, error) {
	var t Trigger
	if len(b) == 0 {
		return t, errors.New("empty trigger")
	}
	if err := json.Unmarshal(b, &t); err != nil {
		return t, fmt.Errorf("decode trigger: %w", err)
	}
	return t, nil
}

type dateSchedule struct{ at time.Time }

func (d dateSchedule) Next(t time.Time) time.Time {
	if t.Before(d.at) {
		return d.at
	}
	return time.Time{}
}

// boundedSchedule clamps a base schedule to [start, until).
type boundedSchedule struct {
	base  cron.Schedule
	start time.Time
	until time.Time
}

func (b *boundedSchedule) Next(t time.Time) time.Time {
	if !b.start.IsZero() && t.Before(b.start) {
		t = b.start.Add(-time.Nanosecond)
	}
	n := b.base.Next(t)
	if n.IsZero() {
		return n
	}
	if !b.until.IsZero() && !n.Before(b.until) {
		return time.Time{}
	}
	return n
}
