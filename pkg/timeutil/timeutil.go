// Package timeutil provides the week epoch used by the league.
// All league weeks start on Monday 00:00 in a fixed-offset zone (UTC+5 by default,
// Kazakhstan has no DST). Weeks are identified by a date-only key, never by an
// instant, so the same key means the same week regardless of the server zone.
package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LeagueTZ is the canonical league timezone (UTC+5, no DST).
var LeagueTZ = time.FixedZone("Asia/Almaty", 5*60*60)

// FormatDate is the text form of a Date (YYYY-MM-DD).
const FormatDate = "2006-01-02"

// DaysPerWeek is the length of a league epoch.
const DaysPerWeek = 7

// ═══════════════════════════════════════════════════════════════════════════════
// DATE
// ═══════════════════════════════════════════════════════════════════════════════

// Date is a calendar date without time of day or zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate builds a normalized Date (overflowing days roll into the next month).
func NewDate(year int, month time.Month, day int) Date {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// DateOf returns the calendar date of t as observed in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = LeagueTZ
	}
	lt := t.In(loc)
	return Date{Year: lt.Year(), Month: lt.Month(), Day: lt.Day()}
}

// ParseDate parses a YYYY-MM-DD key.
func ParseDate(value string) (Date, error) {
	t, err := time.Parse(FormatDate, strings.TrimSpace(value))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", value)
	}
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

// MustParseDate is ParseDate for constants and tests.
func MustParseDate(value string) Date {
	d, err := ParseDate(value)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) utc() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// String returns the YYYY-MM-DD key.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// AddDays returns the date n days later (n may be negative).
func (d Date) AddDays(n int) Date {
	return NewDate(d.Year, d.Month, d.Day+n)
}

// Weekday returns the day of week (Sunday = 0).
func (d Date) Weekday() time.Weekday {
	return d.utc().Weekday()
}

// Before reports whether d is strictly before other.
func (d Date) Before(other Date) bool {
	return d.utc().Before(other.utc())
}

// After reports whether d is strictly after other.
func (d Date) After(other Date) bool {
	return d.utc().After(other.utc())
}

// DaysUntil returns the signed number of days from d to other.
func (d Date) DaysUntil(other Date) int {
	return int(other.utc().Sub(d.utc()).Hours() / 24)
}

// StartIn returns 00:00:00 of the date in loc.
func (d Date) StartIn(loc *time.Location) time.Time {
	if loc == nil {
		loc = LeagueTZ
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	if d.IsZero() {
		return []byte{}, nil
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// WEEK EPOCH
// ═══════════════════════════════════════════════════════════════════════════════

// WeekResolver maps instants to league week keys in a fixed zone.
type WeekResolver struct {
	loc *time.Location
}

// NewWeekResolver creates a resolver. A nil location means LeagueTZ.
func NewWeekResolver(loc *time.Location) *WeekResolver {
	if loc == nil {
		loc = LeagueTZ
	}
	return &WeekResolver{loc: loc}
}

// DefaultResolver uses LeagueTZ.
var DefaultResolver = NewWeekResolver(LeagueTZ)

// Location returns the resolver zone.
func (r *WeekResolver) Location() *time.Location {
	return r.loc
}

// Now returns the current time in the resolver zone.
func (r *WeekResolver) Now() time.Time {
	return time.Now().In(r.loc)
}

// CurrentWeekStart returns the Monday of the week containing ts.
func (r *WeekResolver) CurrentWeekStart(ts time.Time) Date {
	day := DateOf(ts, r.loc)
	wd := int(day.Weekday())
	return day.AddDays(-((wd + 6) % 7))
}

// NextWeekStart returns the Monday strictly after the day of ts.
// Called on a Monday it returns the following Monday.
func (r *WeekResolver) NextWeekStart(ts time.Time) Date {
	day := DateOf(ts, r.loc)
	wd := int(day.Weekday())
	if wd == 0 {
		return day.AddDays(1)
	}
	return day.AddDays(8 - wd)
}

// PreviousWeekStart returns the Monday of the last fully elapsed week.
func (r *WeekResolver) PreviousWeekStart(ts time.Time) Date {
	return r.CurrentWeekStart(ts).AddDays(-DaysPerWeek)
}

// WeekRange returns the inclusive bounds of the week starting at start:
// Monday 00:00:00.000 through Sunday 23:59:59.999.
func (r *WeekResolver) WeekRange(start Date) (time.Time, time.Time) {
	from := start.StartIn(r.loc)
	to := start.AddDays(DaysPerWeek-1).StartIn(r.loc).
		Add(24*time.Hour - time.Millisecond)
	return from, to
}

// WeekOf is CurrentWeekStart for a stored instant.
func (r *WeekResolver) WeekOf(ts time.Time) Date {
	return r.CurrentWeekStart(ts)
}

// IsWeekStart reports whether d is a Monday.
func IsWeekStart(d Date) bool {
	return d.Weekday() == time.Monday
}

// CurrentWeekStart resolves with DefaultResolver.
func CurrentWeekStart(ts time.Time) Date { return DefaultResolver.CurrentWeekStart(ts) }

// NextWeekStart resolves with DefaultResolver.
func NextWeekStart(ts time.Time) Date { return DefaultResolver.NextWeekStart(ts) }

// WeekRange resolves with DefaultResolver.
func WeekRange(start Date) (time.Time, time.Time) { return DefaultResolver.WeekRange(start) }

// ═══════════════════════════════════════════════════════════════════════════════
// ZONES
// ═══════════════════════════════════════════════════════════════════════════════

// ParseFixedZone parses "+05:00", "-03:30" or "UTC" into a fixed zone named name.
// Named IANA zones are rejected on purpose: a DST zone would make weeks 167 or 169h.
func ParseFixedZone(name, offset string) (*time.Location, error) {
	offset = strings.TrimSpace(offset)
	if offset == "" || strings.EqualFold(offset, "UTC") || offset == "Z" {
		return time.FixedZone(name, 0), nil
	}
	sign := 1
	switch offset[0] {
	case '+':
	case '-':
		sign = -1
	default:
		return nil, fmt.Errorf("invalid zone offset %q: expected ±HH:MM", offset)
	}
	parts := strings.SplitN(offset[1:], ":", 2)
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours > 14 {
		return nil, fmt.Errorf("invalid zone offset %q: bad hours", offset)
	}
	minutes := 0
	if len(parts) == 2 {
		minutes, err = strconv.Atoi(parts[1])
		if err != nil || minutes >= 60 {
			return nil, fmt.Errorf("invalid zone offset %q: bad minutes", offset)
		}
	}
	return time.FixedZone(name, sign*(hours*3600+minutes*60)), nil
}
