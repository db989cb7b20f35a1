package recurrence

import (
	"fmt"
	"strings"
	"sync"
	"time"

	_ "time/tzdata"
)

const localDateLayout = "2006-01-02"

var locationCache sync.Map

// LoadLocation resolves an IANA zone name, caching successful lookups.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("recurrence: timezone is required")
	}
	if cached, ok := locationCache.Load(name); ok {
		return cached.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("recurrence: unknown timezone %q: %w", name, err)
	}
	locationCache.Store(name, loc)
	return loc, nil
}

// StartOfLocalDay returns the first instant of the calendar day containing t
// in loc. That is local midnight unless a DST change skips it.
func StartOfLocalDay(loc *time.Location, t time.Time) time.Time {
	return AddLocalDays(loc, t, 0)
}

// AddLocalDays returns the first instant of the calendar day n days after the
// day containing t in loc.
func AddLocalDays(loc *time.Location, t time.Time, n int) time.Time {
	y, m, d := t.In(loc).Date()
	return startOfDate(loc, y, m, d+n)
}

// startOfDate resolves the first instant of y-m-d, normalising an
// out-of-range day the way time.Date does. A skipped midnight comes back
// from time.Date as the previous evening; the day then starts where the
// new offset begins.
func startOfDate(loc *time.Location, year int, month time.Month, day int) time.Time {
	start := time.Date(year, month, day, 0, 0, 0, 0, loc)
	if start.Hour() >= 12 {
		if _, end := start.ZoneBounds(); !end.IsZero() {
			return end
		}
	}
	return start
}

// EndOfLocalDay returns the last instant of the local calendar day containing t.
func EndOfLocalDay(loc *time.Location, t time.Time) time.Time {
	return AddLocalDays(loc, t, 1).Add(-time.Nanosecond)
}

// LocalDate formats the local calendar day containing t as YYYY-MM-DD.
func LocalDate(loc *time.Location, t time.Time) string {
	return t.In(loc).Format(localDateLayout)
}

// ParseLocalDate parses YYYY-MM-DD as local midnight in loc.
func ParseLocalDate(loc *time.Location, value string) (time.Time, error) {
	t, err := time.ParseInLocation(localDateLayout, strings.TrimSpace(value), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("recurrence: invalid date %q: %w", value, err)
	}
	return t, nil
}

// LocalTimeToUTC places the wall-clock time tod on the local calendar day of
// date in loc and returns the resulting instant in UTC.
func LocalTimeToUTC(tod TimeOfDay, loc *time.Location, date time.Time) time.Time {
	local := date.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), tod.Hour(), tod.Minute(), 0, 0, loc).UTC()
}

// UTCTimestampForDate is LocalTimeToUTC for textual inputs, e.g.
// ("14:30", "America/New_York", 2024-01-15) yields 2024-01-15T19:30:00Z.
func UTCTimestampForDate(hhmm, timezone string, date time.Time) (time.Time, error) {
	tod, err := ParseTimeOfDay(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := LoadLocation(timezone)
	if err != nil {
		return time.Time{}, err
	}
	return LocalTimeToUTC(tod, loc, date), nil
}

// daysBetween counts calendar days from a to b, both local midnights in the same zone.
func daysBetween(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}
