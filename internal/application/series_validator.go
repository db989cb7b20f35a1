package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/example/club-scheduler/internal/persistence"
	"github.com/example/club-scheduler/internal/recurrence"
)

// SeriesValidator applies the schedule, capacity and visibility rules to
// series create and update requests. The first violated rule is reported.
type SeriesValidator struct {
	validate *validator.Validate
	clubs    ClubDirectory
	limits   Limits
	now      func() time.Time
}

// NewSeriesValidator constructs a validator. Zero limits fall back to DefaultLimits.
func NewSeriesValidator(clubs ClubDirectory, limits Limits, now func() time.Time) *SeriesValidator {
	defaults := DefaultLimits()
	if limits.MaxStartDaysAhead <= 0 {
		limits.MaxStartDaysAhead = defaults.MaxStartDaysAhead
	}
	if limits.MaxTotalParticipants <= 0 {
		limits.MaxTotalParticipants = defaults.MaxTotalParticipants
	}
	if now == nil {
		now = time.Now
	}
	return &SeriesValidator{
		validate: newStructValidator(),
		clubs:    clubs,
		limits:   limits,
		now:      now,
	}
}

// ValidatedSeries holds the normalised result of a successful validation.
type ValidatedSeries struct {
	Kind       persistence.SeriesKind
	Visibility persistence.Visibility
	Location   *time.Location
	Schedule   recurrence.Schedule
	Timeslots  []persistence.TimeslotTemplate

	ScheduleChanged  bool
	TimeslotsChanged bool
}

// ValidateCreate checks every rule group for a new series.
func (v *SeriesValidator) ValidateCreate(ctx context.Context, in CreateSeriesInput) (ValidatedSeries, error) {
	if vErr := firstViolation(v.validate.Struct(in), ValidationKindSchedule, ""); vErr != nil {
		if vErr.Field == "visibility" {
			vErr.Kind = ValidationKindVisibility
		}
		return ValidatedSeries{}, vErr
	}

	loc, err := recurrence.LoadLocation(in.Timezone)
	if err != nil {
		return ValidatedSeries{}, scheduleError("timezone", "invalid_timezone", "must be an IANA timezone name")
	}

	club, err := v.clubs.GetClub(ctx, in.ClubID)
	if err != nil {
		return ValidatedSeries{}, fmt.Errorf("load club %s: %w", in.ClubID, mapRepoError(err))
	}

	kind := persistence.SeriesKind(in.Kind)
	schedule, vErr := v.buildSchedule(kind, in.Schedule, loc, true)
	if vErr != nil {
		return ValidatedSeries{}, vErr
	}

	timeslots, vErr, err := v.buildTimeslots(ctx, club.ID, schedule, in.Timeslots)
	if err != nil {
		return ValidatedSeries{}, err
	}
	if vErr != nil {
		return ValidatedSeries{}, vErr
	}

	visibility := persistence.Visibility(in.Visibility)
	if vErr := checkVisibility(club, visibility); vErr != nil {
		return ValidatedSeries{}, vErr
	}

	return ValidatedSeries{
		Kind:             kind,
		Visibility:       visibility,
		Location:         loc,
		Schedule:         schedule,
		Timeslots:        timeslots,
		ScheduleChanged:  true,
		TimeslotsChanged: true,
	}, nil
}

// ValidateUpdate re-checks only the groups the input touches. Slot windows are
// re-checked against the merged schedule whenever the schedule or slots change.
func (v *SeriesValidator) ValidateUpdate(ctx context.Context, existing persistence.Series, in UpdateSeriesInput) (ValidatedSeries, error) {
	if vErr := firstViolation(v.validate.Struct(in), ValidationKindSchedule, ""); vErr != nil {
		if vErr.Field == "visibility" {
			vErr.Kind = ValidationKindVisibility
		}
		return ValidatedSeries{}, vErr
	}
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return ValidatedSeries{}, scheduleError("name", "required", "is required")
	}

	loc, err := recurrence.LoadLocation(existing.Timezone)
	if err != nil {
		return ValidatedSeries{}, fmt.Errorf("load series timezone: %w", err)
	}

	result := ValidatedSeries{
		Kind:       existing.Kind,
		Visibility: existing.Visibility,
		Location:   loc,
		Schedule:   existing.Schedule,
		Timeslots:  existing.Timeslots,
	}

	if patch := in.Schedule; patch != nil {
		merged := mergeSchedulePatch(toScheduleInput(existing.Schedule, loc), *patch)
		checkStart := patch.Recurrence != nil || patch.StartDate != nil || patch.Date != nil
		schedule, vErr := v.buildSchedule(existing.Kind, merged, loc, checkStart)
		if vErr != nil {
			return ValidatedSeries{}, vErr
		}
		result.Schedule = schedule
		result.ScheduleChanged = true
	}

	switch {
	case in.Timeslots != nil:
		timeslots, vErr, err := v.buildTimeslots(ctx, existing.ClubID, result.Schedule, *in.Timeslots)
		if err != nil {
			return ValidatedSeries{}, err
		}
		if vErr != nil {
			return ValidatedSeries{}, vErr
		}
		result.Timeslots = timeslots
		result.TimeslotsChanged = true
	case result.ScheduleChanged:
		if vErr := checkSlotWindows(existing.Timeslots, result.Schedule); vErr != nil {
			return ValidatedSeries{}, vErr
		}
	}

	if in.Visibility != nil && persistence.Visibility(*in.Visibility) != existing.Visibility {
		club, err := v.clubs.GetClub(ctx, existing.ClubID)
		if err != nil {
			return ValidatedSeries{}, fmt.Errorf("load club %s: %w", existing.ClubID, mapRepoError(err))
		}
		visibility := persistence.Visibility(*in.Visibility)
		if vErr := checkVisibility(club, visibility); vErr != nil {
			return ValidatedSeries{}, vErr
		}
		result.Visibility = visibility
	}

	return result, nil
}

func checkVisibility(club persistence.Club, visibility persistence.Visibility) *ValidationError {
	if visibility == persistence.VisibilityPublic && !club.Public {
		return visibilityError("visibility", "club_not_public", "public series require a public club")
	}
	return nil
}
