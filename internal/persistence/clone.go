package persistence

import (
	"time"

	"github.com/example/club-scheduler/internal/recurrence"
)

// CloneSeries returns a deep copy of series so stores never share slices or
// pointers with callers.
func CloneSeries(series Series) Series {
	out := series
	out.Schedule = cloneSchedule(series.Schedule)
	out.Timeslots = make([]TimeslotTemplate, len(series.Timeslots))
	for i, slot := range series.Timeslots {
		out.Timeslots[i] = cloneTemplate(slot)
	}
	out.OnSeriesEndJobID = cloneString(series.OnSeriesEndJobID)
	out.NextGenerationJobID = cloneString(series.NextGenerationJobID)
	out.LastGeneratedDate = cloneTime(series.LastGeneratedDate)
	return out
}

// CloneInstance returns a deep copy of instance.
func CloneInstance(instance Instance) Instance {
	out := instance
	out.Timeslots = make([]TimeslotSnapshot, len(instance.Timeslots))
	for i, slot := range instance.Timeslots {
		out.Timeslots[i] = TimeslotSnapshot{
			ID:               slot.ID,
			TimeslotTemplate: cloneTemplate(slot.TimeslotTemplate),
			NumParticipants:  slot.NumParticipants,
			NumWaitlisted:    slot.NumWaitlisted,
			Participants:     cloneStrings(slot.Participants),
			Waitlist:         cloneStrings(slot.Waitlist),
		}
	}
	out.OnEventStartJobID = cloneString(instance.OnEventStartJobID)
	out.OnEventEndJobID = cloneString(instance.OnEventEndJobID)
	return out
}

// CloneJob returns a deep copy of job.
func CloneJob(job Job) Job {
	out := job
	out.Payload = append([]byte(nil), job.Payload...)
	out.LastError = cloneString(job.LastError)
	out.FinishedAt = cloneTime(job.FinishedAt)
	return out
}

func cloneSchedule(schedule recurrence.Schedule) recurrence.Schedule {
	out := schedule
	out.StartDate = cloneTime(schedule.StartDate)
	out.EndDate = cloneTime(schedule.EndDate)
	out.Date = cloneTime(schedule.Date)
	if schedule.DaysOfWeek != nil {
		out.DaysOfWeek = append([]time.Weekday(nil), schedule.DaysOfWeek...)
	}
	return out
}

func cloneTemplate(slot TimeslotTemplate) TimeslotTemplate {
	out := slot
	if slot.StartTime != nil {
		value := *slot.StartTime
		out.StartTime = &value
	}
	if slot.EndTime != nil {
		value := *slot.EndTime
		out.EndTime = &value
	}
	if slot.Fee != nil {
		value := *slot.Fee
		out.Fee = &value
	}
	out.PermanentParticipants = cloneStrings(slot.PermanentParticipants)
	return out
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	return append([]string(nil), values...)
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	copy := *value
	return &copy
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copy := *value
	return &copy
}
