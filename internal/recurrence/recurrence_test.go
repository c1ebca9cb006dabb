package recurrence

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

var london = mustLoad("Europe/London")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func TestValidSchedulesCompile(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, london)
	cases := []struct {
		name string
		s    Schedule
		kind Kind
	}{
		{"once", Schedule{"frequency": "once", "start_date": "2025-08-01", "time": "09:30"}, KindDate},
		{"default frequency", Schedule{"start_date": "2025-08-01"}, KindDate},
		{"daily", Schedule{"frequency": "daily", "time": "08:00"}, KindCron},
		{"daily interval", Schedule{"frequency": "daily", "time": "08:00", "interval": 3}, KindCron},
		{"weekly", Schedule{"frequency": "weekly", "days_of_week": []any{"Monday", "fri"}, "time": "10:00"}, KindCron},
		{"monthly dom", Schedule{"frequency": "monthly", "day_of_month": 15, "time": "10:00"}, KindCron},
		{"monthly nth", Schedule{"frequency": "monthly", "week_of_month": 2, "day_of_week": "tuesday"}, KindCron},
		{"monthly last", Schedule{"frequency": "monthly", "week_of_month": "last", "day_of_week": "friday"}, KindCron},
		{"end date", Schedule{"frequency": "daily", "end_conditions": map[string]any{"end_date": "2025-12-31"}}, KindCron},
		{"end duration", Schedule{"frequency": "weekly", "days_of_week": []any{"monday"}, "end_conditions": map[string]any{"end_after_duration": "12w", "max_occurrences": 5}}, KindCron},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if err := Validate(tc.s, 1, "Europe/London"); err != nil {
				t.Fatalf("Validate: %v", err)
			}
			tr, err := Compile(tc.s, 1, now, "Europe/London")
			if err != nil {
				t.Fatalf("Compile: %v", err)
			}
			if tr.Kind != tc.kind {
				t.Fatalf("Kind = %s, want %s", tr.Kind, tc.kind)
			}
			if _, err := tr.Schedule(); err != nil {
				t.Fatalf("Schedule: %v", err)
			}
		})
	}
}

func TestRedundantKeysAreNamed(t *testing.T) {
	t.Parallel()
	s := Schedule{"frequency": "daily", "days_of_week": []any{"monday"}, "day_of_month": 3}
	err := Validate(s, 4, "UTC")
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if ve.Index != 4 {
		t.Fatalf("Index = %d, want 4", ve.Index)
	}
	if want := []string{"day_of_month", "days_of_week"}; !reflect.DeepEqual(ve.Fields, want) {
		t.Fatalf("Fields = %v, want %v", ve.Fields, want)
	}
}

func TestInvalidSchedules(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		s    Schedule
	}{
		{"bad frequency", Schedule{"frequency": "hourly"}},
		{"once end conditions", Schedule{"frequency": "once", "start_date": "2025-01-01", "end_conditions": map[string]any{}}},
		{"once interval", Schedule{"frequency": "once", "start_date": "2025-01-01", "interval": 2}},
		{"once without date", Schedule{"frequency": "once", "time": "10:00"}},
		{"weekly without days", Schedule{"frequency": "weekly"}},
		{"weekly bad day", Schedule{"frequency": "weekly", "days_of_week": []any{"funday"}}},
		{"weekly interval", Schedule{"frequency": "weekly", "days_of_week": []any{"monday"}, "interval": 2}},
		{"monthly neither", Schedule{"frequency": "monthly"}},
		{"monthly both", Schedule{"frequency": "monthly", "day_of_month": 1, "week_of_month": 1, "day_of_week": "monday"}},
		{"monthly bad week", Schedule{"frequency": "monthly", "week_of_month": 6, "day_of_week": "monday"}},
		{"bad time", Schedule{"frequency": "daily", "time": "25:00"}},
		{"bad date", Schedule{"frequency": "daily", "start_date": "01/02/2025"}},
		{"bad timezone", Schedule{"frequency": "daily", "timezone": "Mars/Olympus"}},
		{"end both", Schedule{"frequency": "daily", "end_conditions": map[string]any{"end_date": "2025-01-01", "end_after_duration": "3d"}}},
		{"end unknown key", Schedule{"frequency": "daily", "end_conditions": map[string]any{"until": "2025-01-01"}}},
		{"end bad duration", Schedule{"frequency": "daily", "end_conditions": map[string]any{"end_after_duration": "3y"}}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var ve *ValidationError
			if err := Validate(tc.s, 1, "UTC"); !errors.As(err, &ve) {
				t.Fatalf("Validate err = %v, want ValidationError", err)
			}
		})
	}
}

func TestDailyNextRespectsTimezoneAndBounds(t *testing.T) {
	t.Parallel()
	s := Schedule{
		"frequency":      "daily",
		"time":           "09:00",
		"start_date":     "2025-08-04",
		"timezone":       "Europe/London",
		"end_conditions": map[string]any{"end_date": "2025-08-05"},
	}
	tr, err := Compile(s, 1, time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC), "UTC")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	first := tr.Next(time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC))
	if want := time.Date(2025, 8, 4, 9, 0, 0, 0, london); !first.Equal(want) {
		t.Fatalf("first = %v, want %v", first, want)
	}
	second := tr.Next(first)
	if want := time.Date(2025, 8, 5, 9, 0, 0, 0, london); !second.Equal(want) {
		t.Fatalf("second = %v, want %v", second, want)
	}
	if third := tr.Next(second); !third.IsZero() {
		t.Fatalf("third = %v, want zero (past end date)", third)
	}
}

func TestWeeklyNext(t *testing.T) {
	t.Parallel()
	s := Schedule{"frequency": "weekly", "days_of_week": []any{"Wednesday"}, "time": "14:15", "timezone": "UTC"}
	tr, err := Compile(s, 1, time.Now(), "UTC")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	// 2025-08-01 is a Friday.
	got := tr.Next(time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC))
	if want := time.Date(2025, 8, 6, 14, 15, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
}

func TestNthWeekdayNext(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		week any
		day  string
		from time.Time
		want time.Time
	}{
		// August 2025: Tuesdays on 5, 12, 19, 26.
		{"second tuesday", 2, "tuesday", time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 8, 12, 10, 0, 0, 0, time.UTC)},
		{"rolls to next month", 2, "tuesday", time.Date(2025, 8, 13, 0, 0, 0, 0, time.UTC), time.Date(2025, 9, 9, 10, 0, 0, 0, time.UTC)},
		{"last friday", "last", "friday", time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 8, 29, 10, 0, 0, 0, time.UTC)},
		// September's fifth Monday (29th) has passed, October and November have four.
		{"fifth monday skips months", 5, "monday", time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC), time.Date(2025, 12, 29, 10, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := Schedule{"frequency": "monthly", "week_of_month": tc.week, "day_of_week": tc.day, "time": "10:00", "timezone": "UTC"}
			tr, err := Compile(s, 1, tc.from, "UTC")
			if err != nil {
				t.Fatalf("Compile: %v", err)
			}
			if got := tr.Next(tc.from); !got.Equal(tc.want) {
				t.Fatalf("Next = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestOnceTriggerFiresOnce(t *testing.T) {
	t.Parallel()
	tr, err := Compile(Schedule{"start_date": "2025-08-01", "time": "09:00"}, 1, time.Now(), "Europe/London")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	want := time.Date(2025, 8, 1, 9, 0, 0, 0, london)
	if !tr.RunAt.Equal(want) {
		t.Fatalf("RunAt = %v, want %v", tr.RunAt, want)
	}
	if got := tr.Next(want.Add(-time.Minute)); !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
	if got := tr.Next(want); !got.IsZero() {
		t.Fatalf("Next after fire = %v, want zero", got)
	}
}

func TestTriggerRoundTripKeepsSchedule(t *testing.T) {
	t.Parallel()
	s := Schedule{"frequency": "monthly", "week_of_month": "last", "day_of_week": "sun", "time": "18:00", "timezone": "Europe/London"}
	tr, err := Compile(s, 1, time.Now(), "UTC")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	b, err := tr.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	back, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	from := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	if a, b := tr.Next(from), back.Next(from); !a.Equal(b) || a.IsZero() {
		t.Fatalf("Next differs after round trip: %v vs %v", a, b)
	}
}

func TestParseEndConditionsDuration(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 1, 10, 15, 0, 0, 0, time.UTC)
	cases := map[string]time.Time{
		"10d": time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC),
		"2w":  time.Date(2025, 1, 24, 0, 0, 0, 0, time.UTC),
		"1m":  time.Date(2025, 2, 9, 0, 0, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, err := ParseEndConditions(map[string]any{"end_after_duration": in}, now)
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if !got.EndDate.Equal(want) {
			t.Fatalf("%s: EndDate = %v, want %v", in, got.EndDate, want)
		}
	}
}

func TestDailyIntervalSpec(t *testing.T) {
	t.Parallel()
	tr, err := Compile(Schedule{"frequency": "daily", "interval": 2, "time": "07:05"}, 1, time.Now(), "UTC")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if got, want := tr.Spec(), "5 7 */2 * *"; got != want {
		t.Fatalf("Spec = %q, want %q", got, want)
	}
}
