package recurrence

import "time"

// nthWeekdaySchedule fires at hour:minute on the nth weekday of each month
// (week -1 is the last one). robfig/cron ORs day-of-month and day-of-week
// when both are restricted, so this rule cannot be written as a plain spec.
type nthWeekdaySchedule struct {
	week    int
	weekday time.Weekday
	hour    int
	minute  int
	loc     *time.Location
}

// maxMonthsAhead bounds the search; a 5th weekday occurs at least every few months.
const maxMonthsAhead = 60

func (s nthWeekdaySchedule) Next(t time.Time) time.Time {
	t = t.In(s.loc)
	y, m := t.Year(), t.Month()
	for i := 0; i < maxMonthsAhead; i++ {
		first := time.Date(y, m+time.Month(i), 1, 0, 0, 0, 0, s.loc)
		day, ok := nthWeekdayOf(first, s.week, s.weekday)
		if !ok {
			continue
		}
		at := time.Date(first.Year(), first.Month(), day, s.hour, s.minute, 0, 0, s.loc)
		if at.After(t) {
			return at
		}
	}
	return time.Time{}
}

// nthWeekdayOf returns the day of month of the nth weekday in first's month.
func nthWeekdayOf(first time.Time, week int, wd time.Weekday) (int, bool) {
	offset := (int(wd) - int(first.Weekday()) + 7) % 7
	firstDay := 1 + offset
	last := daysIn(first)
	if week < 0 {
		d := firstDay
		for d+7 <= last {
			d += 7
		}
		return d, true
	}
	d := firstDay + 7*(week-1)
	if d > last {
		return 0, false
	}
	return d, true
}

func daysIn(first time.Time) int {
	return time.Date(first.Year(), first.Month()+1, 0, 0, 0, 0, 0, first.Location()).Day()
}
