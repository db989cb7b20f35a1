package application

import (
	"context"
	"fmt"

	"github.com/example/club-scheduler/internal/persistence"
	"github.com/example/club-scheduler/internal/recurrence"
)

// buildTimeslots checks the slot list against schedule and the club roster.
// Rule failures come back as a ValidationError; directory failures as err.
func (v *SeriesValidator) buildTimeslots(ctx context.Context, clubID string, schedule recurrence.Schedule, inputs []TimeslotInput) ([]persistence.TimeslotTemplate, *ValidationError, error) {
	if len(inputs) == 0 {
		return nil, capacityError("timeslots", "required", "at least one timeslot is required"), nil
	}

	var members map[string]struct{}
	total := 0
	templates := make([]persistence.TimeslotTemplate, 0, len(inputs))

	for i, in := range inputs {
		prefix := fmt.Sprintf("timeslots[%d].", i)
		if vErr := firstViolation(v.validate.Struct(in), ValidationKindCapacity, prefix); vErr != nil {
			return nil, vErr, nil
		}

		template := persistence.TimeslotTemplate{
			Name:            in.Name,
			CapacityModel:   persistence.CapacityModel(in.CapacityModel),
			FeeType:         persistence.FeeType(in.FeeType),
			MaxParticipants: in.MaxParticipants,
			MaxWaitlist:     in.MaxWaitlist,
		}

		switch {
		case template.FeeType == persistence.FeeTypeFixed && in.Fee == nil:
			return nil, capacityError(prefix+"fee", "required", "is required for a fixed fee"), nil
		case in.Fee != nil && *in.Fee < 0:
			return nil, capacityError(prefix+"fee", "out_of_range", "must not be negative"), nil
		}
		if in.Fee != nil {
			fee := *in.Fee
			template.Fee = &fee
		}

		switch template.CapacityModel {
		case persistence.CapacityModelDuration:
			if in.StartTime != nil {
				return nil, capacityError(prefix+"start_time", "superfluous", "is not used by the duration model"), nil
			}
			if in.EndTime != nil {
				return nil, capacityError(prefix+"end_time", "superfluous", "is not used by the duration model"), nil
			}
			template.DurationMinutes = in.DurationMinutes
		case persistence.CapacityModelStartEnd:
			if in.StartTime == nil {
				return nil, capacityError(prefix+"start_time", "required", "is required for the start_end model"), nil
			}
			if in.EndTime == nil {
				return nil, capacityError(prefix+"end_time", "required", "is required for the start_end model"), nil
			}
			if in.DurationMinutes != 0 {
				return nil, capacityError(prefix+"duration_minutes", "superfluous", "is not used by the start_end model"), nil
			}
			start := recurrence.MustParseTimeOfDay(*in.StartTime)
			end := recurrence.MustParseTimeOfDay(*in.EndTime)
			template.StartTime = &start
			template.EndTime = &end
		}

		if vErr := slotWindowViolation(i, template, schedule); vErr != nil {
			return nil, vErr, nil
		}

		if len(in.PermanentParticipants) > in.MaxParticipants {
			return nil, capacityError(prefix+"permanent_participants", "too_many_permanent", "must not exceed max_participants"), nil
		}
		if len(in.PermanentParticipants) > 0 {
			if members == nil {
				roster, err := v.clubs.ListMembers(ctx, clubID)
				if err != nil {
					return nil, nil, fmt.Errorf("list club members: %w", mapRepoError(err))
				}
				members = make(map[string]struct{}, len(roster))
				for _, member := range roster {
					members[member.UserID] = struct{}{}
				}
			}
			for _, userID := range in.PermanentParticipants {
				if _, ok := members[userID]; !ok {
					return nil, capacityError(prefix+"permanent_participants", "not_member", fmt.Sprintf("%s is not a member of the club", userID)), nil
				}
			}
			template.PermanentParticipants = append([]string(nil), in.PermanentParticipants...)
		}

		total += in.MaxParticipants
		templates = append(templates, template)
	}

	if total > v.limits.MaxTotalParticipants {
		return nil, capacityError("timeslots", "capacity_exceeded", fmt.Sprintf("total max_participants must not exceed %d", v.limits.MaxTotalParticipants)), nil
	}

	return templates, nil, nil
}

// checkSlotWindows re-checks stored slots against a changed schedule window.
func checkSlotWindows(templates []persistence.TimeslotTemplate, schedule recurrence.Schedule) *ValidationError {
	for i, template := range templates {
		if vErr := slotWindowViolation(i, template, schedule); vErr != nil {
			return vErr
		}
	}
	return nil
}

func slotWindowViolation(i int, template persistence.TimeslotTemplate, schedule recurrence.Schedule) *ValidationError {
	prefix := fmt.Sprintf("timeslots[%d].", i)
	switch template.CapacityModel {
	case persistence.CapacityModelDuration:
		if template.DurationMinutes <= 0 {
			return capacityError(prefix+"duration_minutes", "invalid_duration", "must be greater than 0")
		}
		if template.DurationMinutes > schedule.WindowMinutes() {
			return capacityError(prefix+"duration_minutes", "duration_exceeds_window", "must fit within the schedule window")
		}
	case persistence.CapacityModelStartEnd:
		if template.StartTime == nil || template.EndTime == nil {
			return nil
		}
		if *template.StartTime >= *template.EndTime {
			return capacityError(prefix+"end_time", "start_after_end", "must be after start_time")
		}
		if *template.StartTime < schedule.StartTime || *template.EndTime > schedule.EndTime {
			return capacityError(prefix+"start_time", "outside_window", "must lie within the schedule window")
		}
	}
	return nil
}
