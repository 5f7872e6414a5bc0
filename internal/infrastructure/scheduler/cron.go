package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// CRON SCHEDULE
// ══════════════════════════════════════════════════════════════════════════════

// CronSchedule is a standard 5-field cron expression evaluated in a fixed
// location: minute hour day-of-month month day-of-week.
//
// Examples:
//   - "0 0 * * 1"    - Monday 00:00, the weekly league boundary
//   - "*/5 * * * *"  - every 5 minutes
//   - "30 6 * * 1-5" - weekdays at 06:30
type CronSchedule struct {
	raw      string
	loc      *time.Location
	minutes  fieldSet
	hours    fieldSet
	days     fieldSet
	months   fieldSet
	weekdays fieldSet

	// set when the field starts with '*'
	anyDay, anyWeekday bool
}

// fieldSet is a bitmask of allowed values, bit i set when i matches.
type fieldSet uint64

func (f fieldSet) has(v int) bool { return f&(1<<uint(v)) != 0 }

// Presets.
const (
	EveryMinute   = "* * * * *"
	Every5Minutes = "*/5 * * * *"
	EveryHour     = "0 * * * *"
	WeeklyMonday  = "0 0 * * 1"
)

// ParseCron parses expr for evaluation in loc (UTC when nil).
// Supports *, n, n-m, */s, n-m/s and comma lists; day-of-week 7 is Sunday.
// When both day-of-month and day-of-week are restricted, a time matches if
// either does, as in Vixie cron.
func ParseCron(expr string, loc *time.Location) (*CronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("invalid cron expression %q: expected 5 fields, got %d", expr, len(fields))
	}
	if loc == nil {
		loc = time.UTC
	}

	cs := &CronSchedule{raw: expr, loc: loc}
	specs := []struct {
		name     string
		min, max int
		dst      *fieldSet
	}{
		{"minute", 0, 59, &cs.minutes},
		{"hour", 0, 23, &cs.hours},
		{"day", 1, 31, &cs.days},
		{"month", 1, 12, &cs.months},
		{"weekday", 0, 7, &cs.weekdays},
	}
	for i, sp := range specs {
		set, err := parseField(fields[i], sp.min, sp.max)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field in %q: %w", sp.name, expr, err)
		}
		*sp.dst = set
	}
	cs.anyDay = strings.HasPrefix(fields[2], "*")
	cs.anyWeekday = strings.HasPrefix(fields[4], "*")
	if cs.weekdays.has(7) {
		cs.weekdays |= 1
	}
	return cs, nil
}

// MustParseCron parses a constant expression or panics.
func MustParseCron(expr string, loc *time.Location) *CronSchedule {
	cs, err := ParseCron(expr, loc)
	if err != nil {
		panic(err)
	}
	return cs
}

func parseField(field string, min, max int) (fieldSet, error) {
	var set fieldSet
	for _, part := range strings.Split(field, ",") {
		if part == "" {
			return 0, fmt.Errorf("empty list element")
		}

		rangePart, step := part, 1
		if i := strings.IndexByte(part, '/'); i >= 0 {
			s, err := strconv.Atoi(part[i+1:])
			if err != nil || s <= 0 {
				return 0, fmt.Errorf("invalid step %q", part[i+1:])
			}
			rangePart, step = part[:i], s
		}

		lo, hi := min, max
		switch {
		case rangePart == "*":
		case strings.Contains(rangePart, "-"):
			bounds := strings.SplitN(rangePart, "-", 2)
			var err error
			if lo, err = strconv.Atoi(bounds[0]); err != nil {
				return 0, fmt.Errorf("invalid range start %q", bounds[0])
			}
			if hi, err = strconv.Atoi(bounds[1]); err != nil {
				return 0, fmt.Errorf("invalid range end %q", bounds[1])
			}
		default:
			v, err := strconv.Atoi(rangePart)
			if err != nil {
				return 0, fmt.Errorf("invalid value %q", rangePart)
			}
			lo = v
			if step == 1 {
				hi = v
			}
		}
		if lo < min || hi > max || lo > hi {
			return 0, fmt.Errorf("%q out of range [%d-%d]", part, min, max)
		}
		for v := lo; v <= hi; v += step {
			set |= 1 << uint(v)
		}
	}
	return set, nil
}

// Next returns the first matching minute strictly after t, or the zero time
// when nothing matches within a year.
func (cs *CronSchedule) Next(t time.Time) time.Time {
	next := t.In(cs.loc).Truncate(time.Minute).Add(time.Minute)

	const horizon = 366 * 24 * 60
	for i := 0; i < horizon; i++ {
		if cs.matches(next) {
			return next
		}
		next = next.Add(time.Minute)
	}
	return time.Time{}
}

func (cs *CronSchedule) matches(t time.Time) bool {
	if !cs.minutes.has(t.Minute()) || !cs.hours.has(t.Hour()) || !cs.months.has(int(t.Month())) {
		return false
	}
	day, weekday := cs.days.has(t.Day()), cs.weekdays.has(int(t.Weekday()))
	if cs.anyDay || cs.anyWeekday {
		return day && weekday
	}
	return day || weekday
}

// String returns the expression and its zone.
func (cs *CronSchedule) String() string {
	return cs.raw + " (" + cs.loc.String() + ")"
}

// ══════════════════════════════════════════════════════════════════════════════
// INTERVAL SCHEDULE
// ══════════════════════════════════════════════════════════════════════════════

// IntervalSchedule runs a job at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// Every returns an IntervalSchedule.
func Every(d time.Duration) IntervalSchedule {
	return IntervalSchedule{Interval: d}
}

// Next returns t plus the interval.
func (s IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

func (s IntervalSchedule) String() string {
	return "@every " + s.Interval.String()
}
