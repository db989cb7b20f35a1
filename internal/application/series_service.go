package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/club-scheduler/internal/persistence"
	"github.com/example/club-scheduler/internal/recurrence"
)

// CreateSeriesParams bundles the inputs of CreateSeries.
type CreateSeriesParams struct {
	Principal Principal
	Input     CreateSeriesInput
}

// UpdateSeriesParams bundles the inputs of UpdateSeries.
type UpdateSeriesParams struct {
	Principal Principal
	SeriesID  string
	Input     UpdateSeriesInput
}

// SeriesService drives the series lifecycle: inactive, active, deactivated.
type SeriesService struct {
	series      persistence.SeriesRepository
	factory     *InstanceFactory
	transitions *TransitionScheduler
	validator   *SeriesValidator
	jobs        JobScheduler
	engine      *recurrence.Engine
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewSeriesService wires dependencies for series operations.
func NewSeriesService(series persistence.SeriesRepository, factory *InstanceFactory, transitions *TransitionScheduler, validator *SeriesValidator, jobs JobScheduler, engine *recurrence.Engine, idGenerator func() string, now func() time.Time) *SeriesService {
	return NewSeriesServiceWithLogger(series, factory, transitions, validator, jobs, engine, idGenerator, now, nil)
}

// NewSeriesServiceWithLogger wires dependencies for series operations with a specified logger.
func NewSeriesServiceWithLogger(series persistence.SeriesRepository, factory *InstanceFactory, transitions *TransitionScheduler, validator *SeriesValidator, jobs JobScheduler, engine *recurrence.Engine, idGenerator func() string, now func() time.Time, logger *slog.Logger) *SeriesService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	if engine == nil {
		engine = recurrence.NewEngine(recurrence.DefaultMaxGenerationDays)
	}
	return &SeriesService{
		series:      series,
		factory:     factory,
		transitions: transitions,
		validator:   validator,
		jobs:        jobs,
		engine:      engine,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

func (s *SeriesService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "SeriesService", operation, attrs...)
}

// CreateSeries validates and stores a new inactive series, activating it
// straight away when the input asks for it.
func (s *SeriesService) CreateSeries(ctx context.Context, params CreateSeriesParams) (series persistence.Series, err error) {
	if s == nil {
		err = fmt.Errorf("SeriesService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CreateSeries",
		"principal_id", params.Principal.UserID,
		"club_id", params.Input.ClubID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create series", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("series_id", series.ID, "state", series.State).InfoContext(ctx, "series created")
	}()

	validated, err := s.validator.ValidateCreate(ctx, params.Input)
	if err != nil {
		return persistence.Series{}, err
	}

	createdAt := s.now().UTC()
	input := params.Input
	series = persistence.Series{
		ID:          s.idGenerator(),
		ClubID:      input.ClubID,
		Kind:        validated.Kind,
		Name:        strings.TrimSpace(input.Name),
		Description: input.Description,
		Location:    input.Location,
		Timezone:    validated.Location.String(),
		Visibility:  validated.Visibility,
		State:       persistence.SeriesStateInactive,
		Schedule:    validated.Schedule,
		Timeslots:   validated.Timeslots,
		CreatedBy:   params.Principal.UserID,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}

	if err = s.series.CreateSeries(ctx, series); err != nil {
		if errors.Is(err, persistence.ErrForeignKeyViolation) {
			return persistence.Series{}, ErrNotFound
		}
		return persistence.Series{}, mapRepoError(err)
	}

	if input.Activate {
		return s.ActivateSeries(ctx, series.ID)
	}
	return series, nil
}

// UpdateSeries applies a partial update. Materialised instances are left as
// they are. When an active series gets a new last day its series-end job is
// moved to match, and a later last day restarts generation if the rolling
// chain has already stopped.
func (s *SeriesService) UpdateSeries(ctx context.Context, params UpdateSeriesParams) (series persistence.Series, err error) {
	if s == nil {
		err = fmt.Errorf("SeriesService is nil")
		return
	}

	logger := s.loggerWith(ctx, "UpdateSeries",
		"principal_id", params.Principal.UserID,
		"series_id", params.SeriesID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update series", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "series updated")
	}()

	existing, err := s.series.GetSeries(ctx, params.SeriesID)
	if err != nil {
		return persistence.Series{}, mapRepoError(err)
	}
	if existing.State == persistence.SeriesStateDeactivated {
		return persistence.Series{}, fmt.Errorf("%w: series %s is deactivated", ErrInvalidState, existing.ID)
	}

	validated, err := s.validator.ValidateUpdate(ctx, existing, params.Input)
	if err != nil {
		return persistence.Series{}, err
	}

	input := params.Input
	series, err = s.series.MutateSeries(ctx, existing.ID, func(stored *persistence.Series) error {
		if stored.State == persistence.SeriesStateDeactivated {
			return fmt.Errorf("%w: series %s is deactivated", ErrInvalidState, stored.ID)
		}
		if input.Name != nil {
			stored.Name = strings.TrimSpace(*input.Name)
		}
		if input.Description != nil {
			stored.Description = *input.Description
		}
		if input.Location != nil {
			stored.Location = *input.Location
		}
		stored.Visibility = validated.Visibility
		if validated.ScheduleChanged {
			stored.Schedule = validated.Schedule
		}
		if validated.TimeslotsChanged {
			stored.Timeslots = validated.Timeslots
		}
		stored.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return persistence.Series{}, mapRepoError(err)
	}

	if series.State == persistence.SeriesStateActive && validated.ScheduleChanged && lastDayChanged(existing, series, validated.Location) {
		series, err = s.rescheduleSeriesEnd(ctx, series, validated.Location)
		if err != nil {
			return persistence.Series{}, err
		}
		logger.InfoContext(ctx, "series end job rescheduled", "job_id", derefString(series.OnSeriesEndJobID))

		if lastDayExtended(existing, series, validated.Location) {
			series, err = s.resumeGeneration(ctx, series, validated.Location)
			if err != nil {
				return persistence.Series{}, err
			}
		}
	}

	return series, nil
}

func lastDayExtended(before, after persistence.Series, loc *time.Location) bool {
	oldLast, oldOK := before.Schedule.LastDay()
	newLast, newOK := after.Schedule.LastDay()
	if !oldOK || !newOK {
		return newOK
	}
	return recurrence.StartOfLocalDay(loc, newLast).After(recurrence.StartOfLocalDay(loc, oldLast))
}

// resumeGeneration registers a generate-next job after the last generated
// day, or today if that is later, unless one is still pending.
func (s *SeriesService) resumeGeneration(ctx context.Context, series persistence.Series, loc *time.Location) (persistence.Series, error) {
	pending, err := s.generationPending(ctx, series)
	if err != nil || pending {
		return series, err
	}

	from := recurrence.StartOfLocalDay(loc, s.now())
	if series.LastGeneratedDate != nil {
		if next := recurrence.AddLocalDays(loc, *series.LastGeneratedDate, 1); next.After(from) {
			from = next
		}
	}
	return s.scheduleGenerationFrom(ctx, series, loc, from)
}

// generationPending reports whether the series' latest generate-next job has
// yet to run.
func (s *SeriesService) generationPending(ctx context.Context, series persistence.Series) (bool, error) {
	if series.NextGenerationJobID == nil {
		return false, nil
	}
	status, err := s.jobs.Status(ctx, *series.NextGenerationJobID)
	if err != nil {
		return false, fmt.Errorf("next generation job status: %w", err)
	}
	return status == persistence.JobStatusPending, nil
}

func lastDayChanged(before, after persistence.Series, loc *time.Location) bool {
	oldLast, oldOK := before.Schedule.LastDay()
	newLast, newOK := after.Schedule.LastDay()
	if oldOK != newOK {
		return true
	}
	return oldOK && recurrence.LocalDate(loc, oldLast) != recurrence.LocalDate(loc, newLast)
}

func (s *SeriesService) rescheduleSeriesEnd(ctx context.Context, series persistence.Series, loc *time.Location) (persistence.Series, error) {
	if series.OnSeriesEndJobID != nil {
		if err := s.jobs.Cancel(ctx, *series.OnSeriesEndJobID); err != nil {
			return series, fmt.Errorf("cancel series end job: %w", err)
		}
	}
	lastDay, _ := series.Schedule.LastDay()
	jobID, err := s.registerSeriesEnd(ctx, series.ID, recurrence.EndOfLocalDay(loc, lastDay))
	if err != nil {
		return series, err
	}
	return s.series.MutateSeries(ctx, series.ID, func(stored *persistence.Series) error {
		id := jobID
		stored.OnSeriesEndJobID = &id
		stored.UpdatedAt = s.now().UTC()
		return nil
	})
}

func (s *SeriesService) registerSeriesEnd(ctx context.Context, seriesID string, runAt time.Time) (string, error) {
	payload, err := json.Marshal(seriesPayload{SeriesID: seriesID})
	if err != nil {
		return "", err
	}
	jobID, err := s.jobs.ScheduleAt(ctx, runAt, HandlerSeriesDeactivate, payload)
	if err != nil {
		return "", fmt.Errorf("schedule series end: %w", err)
	}
	return jobID, nil
}

// ActivateSeries moves a series to active and materialises the first
// look-ahead window. Every step skips work already done, so calling it again
// on an active series, or after a failed attempt, is safe. An active series
// whose generate-next job is still pending is returned as is. Store and
// scheduler failures are reported wrapped in ErrActivationFailed.
func (s *SeriesService) ActivateSeries(ctx context.Context, seriesID string) (series persistence.Series, err error) {
	if s == nil {
		err = fmt.Errorf("SeriesService is nil")
		return
	}

	logger := s.loggerWith(ctx, "ActivateSeries", "series_id", seriesID)
	generated := 0
	wasActive := false
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to activate series", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("instances", generated).InfoContext(ctx, "series activated")
	}()

	series, err = s.series.MutateSeries(ctx, seriesID, func(stored *persistence.Series) error {
		if stored.State == persistence.SeriesStateDeactivated {
			return fmt.Errorf("%w: series %s is deactivated", ErrInvalidState, stored.ID)
		}
		wasActive = stored.State == persistence.SeriesStateActive
		if !wasActive {
			stored.State = persistence.SeriesStateActive
			stored.UpdatedAt = s.now().UTC()
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidState) {
			return persistence.Series{}, err
		}
		return persistence.Series{}, mapRepoError(err)
	}

	loc, err := recurrence.LoadLocation(series.Timezone)
	if err != nil {
		return persistence.Series{}, fmt.Errorf("%w: %w", ErrActivationFailed, err)
	}
	lastDay, ok := series.Schedule.LastDay()
	if !ok {
		return persistence.Series{}, fmt.Errorf("%w: %w", ErrActivationFailed, recurrence.ErrIncompleteSchedule)
	}

	if series.OnSeriesEndJobID == nil {
		series, err = s.ensureSeriesEnd(ctx, series, recurrence.EndOfLocalDay(loc, lastDay))
		if err != nil {
			return persistence.Series{}, fmt.Errorf("%w: %w", ErrActivationFailed, err)
		}
	}

	if wasActive {
		pending, err := s.generationPending(ctx, series)
		if err != nil {
			return persistence.Series{}, fmt.Errorf("%w: %w", ErrActivationFailed, err)
		}
		if pending {
			return series, nil
		}
	}

	rangeStart := s.now()
	series, generated, err = s.generateWindow(ctx, series, loc, rangeStart, lastDay)
	if err != nil {
		return persistence.Series{}, fmt.Errorf("%w: %w", ErrActivationFailed, err)
	}

	return series, nil
}

// ensureSeriesEnd registers the series-end job and stores its id unless a
// concurrent activation stored one first.
func (s *SeriesService) ensureSeriesEnd(ctx context.Context, series persistence.Series, runAt time.Time) (persistence.Series, error) {
	jobID, err := s.registerSeriesEnd(ctx, series.ID, runAt)
	if err != nil {
		return series, err
	}
	var kept string
	updated, err := s.series.MutateSeries(ctx, series.ID, func(stored *persistence.Series) error {
		if stored.OnSeriesEndJobID == nil {
			id := jobID
			stored.OnSeriesEndJobID = &id
			stored.UpdatedAt = s.now().UTC()
		}
		kept = *stored.OnSeriesEndJobID
		return nil
	})
	if err != nil {
		return series, fmt.Errorf("store series end job: %w", err)
	}
	if kept != jobID {
		if cancelErr := s.jobs.Cancel(ctx, jobID); cancelErr != nil {
			s.loggerWith(ctx, "ActivateSeries", "series_id", series.ID).WarnContext(ctx,
				"failed to cancel duplicate series end job", "job_id", jobID, "error", cancelErr)
		}
	}
	return updated, nil
}

// generateWindow materialises the dates of one look-ahead window starting at
// rangeStart and registers the generation of the window after it.
func (s *SeriesService) generateWindow(ctx context.Context, series persistence.Series, loc *time.Location, rangeStart, rangeEnd time.Time) (persistence.Series, int, error) {
	dates, err := s.engine.GenerateDates(series.Schedule, loc, rangeStart, rangeEnd)
	if err != nil {
		return series, 0, fmt.Errorf("generate dates: %w", err)
	}

	for _, date := range dates {
		instance, _, err := s.factory.Materialize(ctx, series, date)
		if err != nil {
			return series, 0, err
		}
		if instance.Status != persistence.InstanceStatusNotStarted {
			continue
		}
		if _, err := s.transitions.Schedule(ctx, instance); err != nil {
			return series, 0, err
		}
	}

	if len(dates) == 0 {
		_, windowEnd := s.engine.Window(series.Schedule, rangeStart, rangeEnd)
		series, err = s.scheduleGenerationFrom(ctx, series, loc, recurrence.AddLocalDays(loc, windowEnd, 1))
		if err != nil {
			return series, 0, err
		}
		return series, 0, nil
	}

	series, err = s.ScheduleNextGeneration(ctx, series, dates)
	if err != nil {
		return series, 0, err
	}
	return series, len(dates), nil
}

// ScheduleNextGeneration registers the job that generates the window after
// dates. It fires MaxGenerationDays before the last date of the batch, or at
// the next runner tick when that has already passed. Nothing is registered
// once the batch reaches the series' last day.
func (s *SeriesService) ScheduleNextGeneration(ctx context.Context, series persistence.Series, dates []time.Time) (persistence.Series, error) {
	if len(dates) == 0 {
		return series, nil
	}
	loc, err := recurrence.LoadLocation(series.Timezone)
	if err != nil {
		return series, err
	}

	last := recurrence.StartOfLocalDay(loc, dates[len(dates)-1])
	updated, err := s.series.MutateSeries(ctx, series.ID, func(stored *persistence.Series) error {
		if stored.LastGeneratedDate == nil || last.After(*stored.LastGeneratedDate) {
			generated := last.UTC()
			stored.LastGeneratedDate = &generated
		}
		return nil
	})
	if err != nil {
		return series, fmt.Errorf("record last generated date: %w", mapRepoError(err))
	}

	return s.scheduleGenerationFrom(ctx, updated, loc, recurrence.AddLocalDays(loc, last, 1))
}

// scheduleGenerationFrom registers generation of the window starting at from
// and records the job on the series. The run time depends only on from, so
// registering the same window twice while the first is pending yields the
// same job.
func (s *SeriesService) scheduleGenerationFrom(ctx context.Context, series persistence.Series, loc *time.Location, from time.Time) (persistence.Series, error) {
	lastDay, ok := series.Schedule.LastDay()
	if !ok || from.After(recurrence.StartOfLocalDay(loc, lastDay)) {
		return series, nil
	}
	trigger := recurrence.AddLocalDays(loc, from, -(s.engine.MaxGenerationDays() + 1))

	payload, err := json.Marshal(generateNextPayload{SeriesID: series.ID, From: recurrence.LocalDate(loc, from)})
	if err != nil {
		return series, err
	}
	jobID, err := s.jobs.ScheduleAt(ctx, trigger, HandlerSeriesGenerateNext, payload)
	if err != nil {
		return series, fmt.Errorf("schedule next generation: %w", err)
	}

	updated, err := s.series.MutateSeries(ctx, series.ID, func(stored *persistence.Series) error {
		id := jobID
		stored.NextGenerationJobID = &id
		return nil
	})
	if err != nil {
		return series, fmt.Errorf("record next generation job: %w", mapRepoError(err))
	}
	s.loggerWith(ctx, "ScheduleNextGeneration", "series_id", series.ID).DebugContext(ctx,
		"next generation scheduled", "job_id", jobID, "from", recurrence.LocalDate(loc, from), "run_at", trigger.UTC())
	return updated, nil
}

// GenerateNext materialises the window that starts on the local date from.
// A missing or inactive series is left alone.
func (s *SeriesService) GenerateNext(ctx context.Context, seriesID, from string) (generated int, err error) {
	if s == nil {
		err = fmt.Errorf("SeriesService is nil")
		return
	}

	logger := s.loggerWith(ctx, "GenerateNext", "series_id", seriesID, "from", from)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to generate next window", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("instances", generated).InfoContext(ctx, "next window generated")
	}()

	series, err := s.series.GetSeries(ctx, seriesID)
	if errors.Is(err, persistence.ErrNotFound) {
		logger.InfoContext(ctx, "series gone, generation skipped")
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if series.State != persistence.SeriesStateActive {
		logger.InfoContext(ctx, "series not active, generation skipped", "state", series.State)
		return 0, nil
	}

	loc, err := recurrence.LoadLocation(series.Timezone)
	if err != nil {
		return 0, err
	}
	start, err := recurrence.ParseLocalDate(loc, from)
	if err != nil {
		return 0, err
	}
	lastDay, ok := series.Schedule.LastDay()
	if !ok {
		return 0, recurrence.ErrIncompleteSchedule
	}

	_, generated, err = s.generateWindow(ctx, series, loc, start, lastDay)
	return generated, err
}

// DeactivateSeries moves an active series to deactivated. Any other state,
// or a missing series, is a no-op.
func (s *SeriesService) DeactivateSeries(ctx context.Context, seriesID string) (err error) {
	if s == nil {
		return fmt.Errorf("SeriesService is nil")
	}

	logger := s.loggerWith(ctx, "DeactivateSeries", "series_id", seriesID)
	changed := false
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to deactivate series", "error", err, "error_kind", ErrorKind(err))
			return
		}
		if changed {
			logger.InfoContext(ctx, "series deactivated")
		}
	}()

	_, err = s.series.MutateSeries(ctx, seriesID, func(stored *persistence.Series) error {
		if stored.State != persistence.SeriesStateActive {
			return nil
		}
		stored.State = persistence.SeriesStateDeactivated
		stored.UpdatedAt = s.now().UTC()
		changed = true
		return nil
	})
	if errors.Is(err, persistence.ErrNotFound) {
		return nil
	}
	return err
}

// DeleteSeries cancels the series-end job and removes the series. Its
// instances, and their transition jobs, are kept.
func (s *SeriesService) DeleteSeries(ctx context.Context, seriesID string) (err error) {
	if s == nil {
		return fmt.Errorf("SeriesService is nil")
	}

	logger := s.loggerWith(ctx, "DeleteSeries", "series_id", seriesID)

	series, err := s.series.GetSeries(ctx, seriesID)
	if err != nil {
		err = mapRepoError(err)
		logger.ErrorContext(ctx, "failed to delete series", "error", err, "error_kind", ErrorKind(err))
		return err
	}
	if series.OnSeriesEndJobID != nil {
		if err := s.jobs.Cancel(ctx, *series.OnSeriesEndJobID); err != nil {
			logger.ErrorContext(ctx, "failed to cancel series end job", "error", err, "error_kind", ErrorKind(err))
			return fmt.Errorf("cancel series end job: %w", err)
		}
	}
	if err := s.series.DeleteSeries(ctx, seriesID); err != nil {
		err = mapRepoError(err)
		logger.ErrorContext(ctx, "failed to delete series", "error", err, "error_kind", ErrorKind(err))
		return err
	}

	logger.InfoContext(ctx, "series deleted")
	return nil
}

// HandleDeactivate is the series.deactivate job handler.
func (s *SeriesService) HandleDeactivate(ctx context.Context, payload []byte) error {
	var p seriesPayload
	if err := decodePayload(HandlerSeriesDeactivate, payload, &p); err != nil {
		return err
	}
	return s.DeactivateSeries(ctx, p.SeriesID)
}

// HandleGenerateNext is the series.generate_next job handler.
func (s *SeriesService) HandleGenerateNext(ctx context.Context, payload []byte) error {
	var p generateNextPayload
	if err := decodePayload(HandlerSeriesGenerateNext, payload, &p); err != nil {
		return err
	}
	_, err := s.GenerateNext(ctx, p.SeriesID, p.From)
	return err
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
