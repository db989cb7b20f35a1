package application

import (
	"context"
	"fmt"
	"time"

	"github.com/example/club-scheduler/internal/persistence"
	"github.com/example/club-scheduler/internal/recurrence"
)

// InstanceFactory materialises dated instances of a series.
type InstanceFactory struct {
	instances   persistence.InstanceRepository
	idGenerator func() string
	now         func() time.Time
}

// NewInstanceFactory wires the instance store and id source.
func NewInstanceFactory(instances persistence.InstanceRepository, idGenerator func() string, now func() time.Time) *InstanceFactory {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &InstanceFactory{instances: instances, idGenerator: idGenerator, now: now}
}

// BuildInstance copies the series fields onto the local calendar day of
// date. Each timeslot gets a fresh id and starts with its permanent
// participants enrolled.
func (f *InstanceFactory) BuildInstance(series persistence.Series, date time.Time) (persistence.Instance, error) {
	loc, err := recurrence.LoadLocation(series.Timezone)
	if err != nil {
		return persistence.Instance{}, err
	}

	day := recurrence.StartOfLocalDay(loc, date)
	createdAt := f.now().UTC()

	slots := make([]persistence.TimeslotSnapshot, 0, len(series.Timeslots))
	for _, template := range series.Timeslots {
		permanent := append([]string(nil), template.PermanentParticipants...)
		template.PermanentParticipants = permanent
		if template.StartTime != nil {
			start := *template.StartTime
			template.StartTime = &start
		}
		if template.EndTime != nil {
			end := *template.EndTime
			template.EndTime = &end
		}
		if template.Fee != nil {
			fee := *template.Fee
			template.Fee = &fee
		}
		slots = append(slots, persistence.TimeslotSnapshot{
			ID:               f.idGenerator(),
			TimeslotTemplate: template,
			NumParticipants:  len(permanent),
			NumWaitlisted:    0,
			Participants:     append([]string{}, permanent...),
			Waitlist:         []string{},
		})
	}

	return persistence.Instance{
		ID:          f.idGenerator(),
		SeriesID:    series.ID,
		ClubID:      series.ClubID,
		Date:        day.UTC(),
		LocalDate:   recurrence.LocalDate(loc, day),
		Name:        series.Name,
		Description: series.Description,
		Location:    series.Location,
		Timezone:    series.Timezone,
		Visibility:  series.Visibility,
		StartTime:   series.Schedule.StartTime,
		EndTime:     series.Schedule.EndTime,
		StartsAt:    recurrence.LocalTimeToUTC(series.Schedule.StartTime, loc, day),
		EndsAt:      recurrence.LocalTimeToUTC(series.Schedule.EndTime, loc, day),
		Timeslots:   slots,
		Status:      persistence.InstanceStatusNotStarted,
		CreatedBy:   series.CreatedBy,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}, nil
}

// Materialize stores the instance for date unless the series already has one
// on that day, in which case the existing record is returned with created=false.
func (f *InstanceFactory) Materialize(ctx context.Context, series persistence.Series, date time.Time) (instance persistence.Instance, created bool, err error) {
	built, err := f.BuildInstance(series, date)
	if err != nil {
		return persistence.Instance{}, false, err
	}
	instance, created, err = f.instances.CreateInstanceIfAbsent(ctx, built)
	if err != nil {
		return persistence.Instance{}, false, fmt.Errorf("materialize %s on %s: %w", series.ID, built.LocalDate, err)
	}
	return instance, created, nil
}
