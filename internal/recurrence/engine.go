package recurrence

import (
	"errors"
	"time"
)

// Kind selects how a schedule repeats.
type Kind string

const (
	// KindOneTime occupies a single calendar day.
	KindOneTime Kind = "one_time"
	// KindDaily occupies every Interval-th day.
	KindDaily Kind = "daily"
	// KindWeekly occupies the selected weekdays of every Interval-th week.
	KindWeekly Kind = "weekly"
	// KindMonthly occupies one day of every Interval-th month.
	KindMonthly Kind = "monthly"
)

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	switch k {
	case KindOneTime, KindDaily, KindWeekly, KindMonthly:
		return true
	}
	return false
}

// Recurring reports whether k spans a StartDate..EndDate range.
func (k Kind) Recurring() bool {
	return k == KindDaily || k == KindWeekly || k == KindMonthly
}

// Schedule describes when a series occurs. Dates are instants whose calendar
// day is read in the series timezone.
type Schedule struct {
	Kind       Kind
	StartTime  TimeOfDay
	EndTime    TimeOfDay
	StartDate  *time.Time
	EndDate    *time.Time
	Date       *time.Time
	DaysOfWeek []time.Weekday
	DayOfMonth int
	Interval   int
}

// WindowMinutes is the length of the daily time window.
func (s Schedule) WindowMinutes() int {
	return s.EndTime.Minutes() - s.StartTime.Minutes()
}

// FirstDay returns the first occupied-day bound of the schedule.
func (s Schedule) FirstDay() (time.Time, bool) {
	if s.Kind == KindOneTime {
		if s.Date == nil {
			return time.Time{}, false
		}
		return *s.Date, true
	}
	if s.StartDate == nil {
		return time.Time{}, false
	}
	return *s.StartDate, true
}

// LastDay returns the last occupied-day bound of the schedule.
func (s Schedule) LastDay() (time.Time, bool) {
	if s.Kind == KindOneTime {
		return s.FirstDay()
	}
	if s.EndDate == nil {
		return time.Time{}, false
	}
	return *s.EndDate, true
}

// DefaultMaxGenerationDays bounds look-ahead when no cap is configured.
const DefaultMaxGenerationDays = 14

var (
	// ErrInvalidKind indicates the schedule kind is not supported.
	ErrInvalidKind = errors.New("recurrence: invalid kind")
	// ErrInvalidInterval indicates a non-positive repeat interval.
	ErrInvalidInterval = errors.New("recurrence: interval must be positive")
	// ErrIncompleteSchedule indicates required date fields are missing for the kind.
	ErrIncompleteSchedule = errors.New("recurrence: schedule is missing required dates")
)

// Engine expands schedules into occupied calendar days.
type Engine struct {
	maxGenerationDays int
}

// NewEngine constructs an Engine that never looks further than
// maxGenerationDays past the start of a requested range.
func NewEngine(maxGenerationDays int) *Engine {
	if maxGenerationDays <= 0 {
		maxGenerationDays = DefaultMaxGenerationDays
	}
	return &Engine{maxGenerationDays: maxGenerationDays}
}

// MaxGenerationDays returns the look-ahead cap.
func (e *Engine) MaxGenerationDays() int {
	if e == nil || e.maxGenerationDays <= 0 {
		return DefaultMaxGenerationDays
	}
	return e.maxGenerationDays
}

// GenerateDates returns, in ascending order, the UTC instant of local
// midnight for every occupied day of s within the window.
//
// The window starts at max(rangeStart, StartDate) and ends at
// min(rangeEnd, rangeStart+MaxGenerationDays, EndDate). Days are compared as
// calendar dates in loc, so the local day containing each bound qualifies.
func (e *Engine) GenerateDates(s Schedule, loc *time.Location, rangeStart, rangeEnd time.Time) ([]time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	if !s.Kind.Valid() {
		return nil, ErrInvalidKind
	}

	if s.Kind == KindOneTime {
		if s.Date == nil {
			return nil, ErrIncompleteSchedule
		}
		lower, upper := e.Window(s, rangeStart, rangeEnd)
		day := StartOfLocalDay(loc, *s.Date)
		if day.Before(StartOfLocalDay(loc, lower)) || day.After(StartOfLocalDay(loc, upper)) {
			return nil, nil
		}
		return []time.Time{day.UTC()}, nil
	}

	if s.Interval <= 0 {
		return nil, ErrInvalidInterval
	}
	if s.StartDate == nil || s.EndDate == nil {
		return nil, ErrIncompleteSchedule
	}

	weekdaySet := make(map[time.Weekday]struct{}, len(s.DaysOfWeek))
	for _, day := range s.DaysOfWeek {
		if day >= time.Sunday && day <= time.Saturday {
			weekdaySet[day] = struct{}{}
		}
	}
	if s.Kind == KindWeekly && len(weekdaySet) == 0 {
		return nil, nil
	}

	lower, upper := e.Window(s, rangeStart, rangeEnd)
	if upper.Before(lower) {
		return nil, nil
	}

	anchor := StartOfLocalDay(loc, *s.StartDate)
	last := StartOfLocalDay(loc, upper)
	dates := make([]time.Time, 0)

	for day := StartOfLocalDay(loc, lower); !day.After(last); day = AddLocalDays(loc, day, 1) {
		if occupies(s, weekdaySet, anchor, day) {
			dates = append(dates, day.UTC())
		}
	}

	return dates, nil
}

// Window returns the bounds GenerateDates scans for s. The look-ahead cap
// counts from rangeStart even when the schedule starts later, so upper may
// precede lower when the range and the schedule do not overlap.
func (e *Engine) Window(s Schedule, rangeStart, rangeEnd time.Time) (lower, upper time.Time) {
	lower = rangeStart
	if s.Kind != KindOneTime && s.StartDate != nil && s.StartDate.After(lower) {
		lower = *s.StartDate
	}
	upper = e.capUpper(rangeStart, rangeEnd)
	if s.Kind != KindOneTime && s.EndDate != nil && s.EndDate.Before(upper) {
		upper = *s.EndDate
	}
	return lower, upper
}

func (e *Engine) capUpper(start, rangeEnd time.Time) time.Time {
	capped := start.AddDate(0, 0, e.MaxGenerationDays())
	if rangeEnd.Before(capped) {
		return rangeEnd
	}
	return capped
}

func occupies(s Schedule, weekdaySet map[time.Weekday]struct{}, anchor, day time.Time) bool {
	switch s.Kind {
	case KindDaily:
		return daysBetween(anchor, day)%s.Interval == 0
	case KindWeekly:
		if _, ok := weekdaySet[day.Weekday()]; !ok {
			return false
		}
		weeks := daysBetween(weekStart(anchor), weekStart(day)) / 7
		return weeks%s.Interval == 0
	case KindMonthly:
		if day.Day() != s.DayOfMonth {
			return false
		}
		months := (day.Year()-anchor.Year())*12 + int(day.Month()) - int(anchor.Month())
		return months%s.Interval == 0
	}
	return false
}

// weekStart returns the civil date of the Sunday that begins the week
// containing day, expressed in UTC.
func weekStart(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d-int(day.Weekday()), 0, 0, 0, 0, time.UTC)
}
