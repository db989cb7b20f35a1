package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/club-scheduler/internal/persistence"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// QueryService exposes read-only views of series, instances and their jobs.
type QueryService struct {
	series      persistence.SeriesRepository
	instances   persistence.InstanceRepository
	transitions *TransitionScheduler
	jobs        JobScheduler
	logger      *slog.Logger
}

// NewQueryService constructs a QueryService.
func NewQueryService(series persistence.SeriesRepository, instances persistence.InstanceRepository, transitions *TransitionScheduler, jobs JobScheduler) *QueryService {
	return NewQueryServiceWithLogger(series, instances, transitions, jobs, nil)
}

// NewQueryServiceWithLogger constructs a QueryService with a specified logger.
func NewQueryServiceWithLogger(series persistence.SeriesRepository, instances persistence.InstanceRepository, transitions *TransitionScheduler, jobs JobScheduler, logger *slog.Logger) *QueryService {
	return &QueryService{
		series:      series,
		instances:   instances,
		transitions: transitions,
		jobs:        jobs,
		logger:      defaultLogger(logger),
	}
}

func (q *QueryService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, q.logger, "QueryService", operation, attrs...)
}

// GetSeries returns a series by id.
func (q *QueryService) GetSeries(ctx context.Context, seriesID string) (persistence.Series, error) {
	series, err := q.series.GetSeries(ctx, seriesID)
	if err != nil {
		return persistence.Series{}, mapRepoError(err)
	}
	return series, nil
}

// GetInstance returns an instance by id.
func (q *QueryService) GetInstance(ctx context.Context, instanceID string) (persistence.Instance, error) {
	instance, err := q.instances.GetInstance(ctx, instanceID)
	if err != nil {
		return persistence.Instance{}, mapRepoError(err)
	}
	return instance, nil
}

// ListInstancesForClub lists a club's instances dated within [from, to],
// ordered by date. Nil bounds are open.
func (q *QueryService) ListInstancesForClub(ctx context.Context, clubID string, from, to *time.Time, page Page) (instances []persistence.Instance, err error) {
	logger := q.loggerWith(ctx, "ListInstancesForClub", "club_id", clubID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list instances", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	if from != nil && to != nil && to.Before(*from) {
		return nil, scheduleError("to", "end_not_after_start", "must not be before from")
	}

	limit := page.Limit
	switch {
	case limit <= 0:
		limit = defaultPageLimit
	case limit > maxPageLimit:
		limit = maxPageLimit
	}
	offset := page.Offset
	if offset < 0 {
		offset = 0
	}

	instances, err = q.instances.ListInstances(ctx, persistence.InstanceFilter{
		ClubID: clubID,
		From:   from,
		To:     to,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, mapRepoError(err)
	}
	if instances == nil {
		instances = []persistence.Instance{}
	}
	return instances, nil
}

// GetInstanceAtDate returns the instance of a series on a local calendar date.
func (q *QueryService) GetInstanceAtDate(ctx context.Context, seriesID, localDate string) (persistence.Instance, error) {
	instance, err := q.instances.GetInstanceBySeriesDate(ctx, seriesID, localDate)
	if err != nil {
		return persistence.Instance{}, mapRepoError(err)
	}
	return instance, nil
}

// GetScheduleStatuses reports the transition jobs of an instance.
func (q *QueryService) GetScheduleStatuses(ctx context.Context, instanceID string) (ScheduleStatuses, error) {
	instance, err := q.instances.GetInstance(ctx, instanceID)
	if err != nil {
		return ScheduleStatuses{}, mapRepoError(err)
	}
	return q.transitions.Statuses(ctx, instance)
}

// GetSeriesDeactivationStatus reports the series-end job of a series.
func (q *QueryService) GetSeriesDeactivationStatus(ctx context.Context, seriesID string) (DeactivationStatus, error) {
	series, err := q.series.GetSeries(ctx, seriesID)
	if err != nil {
		return DeactivationStatus{}, mapRepoError(err)
	}

	status := DeactivationStatus{
		SeriesID:          series.ID,
		State:             series.State,
		JobID:             series.OnSeriesEndJobID,
		LastGeneratedDate: series.LastGeneratedDate,
	}
	if series.OnSeriesEndJobID != nil {
		jobStatus, err := q.jobs.Status(ctx, *series.OnSeriesEndJobID)
		if err != nil {
			return DeactivationStatus{}, fmt.Errorf("job %s status: %w", *series.OnSeriesEndJobID, err)
		}
		status.JobStatus = &jobStatus
	}
	return status, nil
}
