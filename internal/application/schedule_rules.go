package application

import (
	"slices"
	"time"

	"github.com/example/club-scheduler/internal/persistence"
	"github.com/example/club-scheduler/internal/recurrence"
)

// buildSchedule checks in against the schedule rules and converts it into a
// recurrence.Schedule whose dates are local midnights in loc. checkStart
// enables the "start in the future, but not too far" rules.
func (v *SeriesValidator) buildSchedule(kind persistence.SeriesKind, in ScheduleInput, loc *time.Location, checkStart bool) (recurrence.Schedule, *ValidationError) {
	if vErr := firstViolation(v.validate.Struct(in), ValidationKindSchedule, ""); vErr != nil {
		return recurrence.Schedule{}, vErr
	}

	recurrenceKind := recurrence.Kind(in.Recurrence)
	if recurrenceKind == recurrence.KindOneTime && kind == persistence.SeriesKindEvent {
		return recurrence.Schedule{}, scheduleError("recurrence", "unsupported_for_event", "one-time recurrence is only available for sessions")
	}

	if vErr := checkScheduleShape(recurrenceKind, in); vErr != nil {
		return recurrence.Schedule{}, vErr
	}

	startTime := recurrence.MustParseTimeOfDay(in.StartTime)
	endTime := recurrence.MustParseTimeOfDay(in.EndTime)
	if startTime >= endTime {
		return recurrence.Schedule{}, scheduleError("end_time", "start_after_end", "must be after start_time")
	}

	schedule := recurrence.Schedule{
		Kind:      recurrenceKind,
		StartTime: startTime,
		EndTime:   endTime,
		Interval:  1,
	}

	if recurrenceKind.Recurring() {
		if in.Interval < 1 {
			return recurrence.Schedule{}, scheduleError("interval", "invalid_interval", "must be at least 1")
		}
		schedule.Interval = in.Interval
	}

	var err error
	switch recurrenceKind {
	case recurrence.KindOneTime:
		var date time.Time
		if date, err = recurrence.ParseLocalDate(loc, in.Date); err != nil {
			return recurrence.Schedule{}, scheduleError("date", "invalid_date", "must be a date in YYYY-MM-DD format")
		}
		schedule.Date = &date
	default:
		var start, end time.Time
		if start, err = recurrence.ParseLocalDate(loc, in.StartDate); err != nil {
			return recurrence.Schedule{}, scheduleError("start_date", "invalid_date", "must be a date in YYYY-MM-DD format")
		}
		if end, err = recurrence.ParseLocalDate(loc, in.EndDate); err != nil {
			return recurrence.Schedule{}, scheduleError("end_date", "invalid_date", "must be a date in YYYY-MM-DD format")
		}
		schedule.StartDate = &start
		schedule.EndDate = &end
	}

	switch recurrenceKind {
	case recurrence.KindWeekly:
		schedule.DaysOfWeek = weekdays(in.DaysOfWeek)
	case recurrence.KindMonthly:
		schedule.DayOfMonth = in.DayOfMonth
	}

	if checkStart {
		field := "start_date"
		if recurrenceKind == recurrence.KindOneTime {
			field = "date"
		}
		first, _ := schedule.FirstDay()
		now := v.now()
		if !first.After(now) {
			return recurrence.Schedule{}, scheduleError(field, "start_not_future", "must be in the future")
		}
		if first.After(now.AddDate(0, 0, v.limits.MaxStartDaysAhead)) {
			return recurrence.Schedule{}, scheduleError(field, "start_too_far", "must be within the allowed scheduling horizon")
		}
	}

	if recurrenceKind.Recurring() && !schedule.EndDate.After(*schedule.StartDate) {
		return recurrence.Schedule{}, scheduleError("end_date", "end_not_after_start", "must be after start_date")
	}

	return schedule, nil
}

// checkScheduleShape enforces the fields each recurrence kind requires and
// rejects the ones it does not use.
func checkScheduleShape(kind recurrence.Kind, in ScheduleInput) *ValidationError {
	present := map[string]bool{
		"start_date":   in.StartDate != "",
		"end_date":     in.EndDate != "",
		"date":         in.Date != "",
		"days_of_week": len(in.DaysOfWeek) > 0,
		"day_of_month": in.DayOfMonth != 0,
	}

	var required []string
	switch kind {
	case recurrence.KindOneTime:
		required = []string{"date"}
	case recurrence.KindDaily:
		required = []string{"start_date", "end_date"}
	case recurrence.KindWeekly:
		required = []string{"start_date", "end_date", "days_of_week"}
	case recurrence.KindMonthly:
		required = []string{"start_date", "end_date", "day_of_month"}
	}

	for _, field := range required {
		if !present[field] {
			return scheduleError(field, "required", "is required for "+string(kind)+" recurrence")
		}
	}
	for _, field := range []string{"start_date", "end_date", "date", "days_of_week", "day_of_month"} {
		if present[field] && !slices.Contains(required, field) {
			return scheduleError(field, "superfluous", "is not used by "+string(kind)+" recurrence")
		}
	}
	return nil
}

func weekdays(days []int) []time.Weekday {
	out := make([]time.Weekday, 0, len(days))
	for _, day := range days {
		out = append(out, time.Weekday(day))
	}
	slices.Sort(out)
	return out
}

// toScheduleInput renders a stored schedule back into its input form.
func toScheduleInput(schedule recurrence.Schedule, loc *time.Location) ScheduleInput {
	in := ScheduleInput{
		Recurrence: string(schedule.Kind),
		StartTime:  schedule.StartTime.String(),
		EndTime:    schedule.EndTime.String(),
		DayOfMonth: schedule.DayOfMonth,
		Interval:   schedule.Interval,
	}
	if schedule.StartDate != nil {
		in.StartDate = recurrence.LocalDate(loc, *schedule.StartDate)
	}
	if schedule.EndDate != nil {
		in.EndDate = recurrence.LocalDate(loc, *schedule.EndDate)
	}
	if schedule.Date != nil {
		in.Date = recurrence.LocalDate(loc, *schedule.Date)
	}
	for _, day := range schedule.DaysOfWeek {
		in.DaysOfWeek = append(in.DaysOfWeek, int(day))
	}
	return in
}

// mergeSchedulePatch overlays patch on base. Switching the recurrence kind
// starts from a blank shape that keeps only the times and interval.
func mergeSchedulePatch(base ScheduleInput, patch SchedulePatch) ScheduleInput {
	merged := base
	if patch.Recurrence != nil && *patch.Recurrence != base.Recurrence {
		merged = ScheduleInput{
			Recurrence: *patch.Recurrence,
			StartTime:  base.StartTime,
			EndTime:    base.EndTime,
			Interval:   base.Interval,
		}
	}
	if patch.StartTime != nil {
		merged.StartTime = *patch.StartTime
	}
	if patch.EndTime != nil {
		merged.EndTime = *patch.EndTime
	}
	if patch.StartDate != nil {
		merged.StartDate = *patch.StartDate
	}
	if patch.EndDate != nil {
		merged.EndDate = *patch.EndDate
	}
	if patch.Date != nil {
		merged.Date = *patch.Date
	}
	if patch.DaysOfWeek != nil {
		merged.DaysOfWeek = slices.Clone(*patch.DaysOfWeek)
	}
	if patch.DayOfMonth != nil {
		merged.DayOfMonth = *patch.DayOfMonth
	}
	if patch.Interval != nil {
		merged.Interval = *patch.Interval
	}
	return merged
}
