package application

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/example/club-scheduler/internal/persistence"
)

// TimeslotParams identifies a timeslot of an instance on behalf of a user.
type TimeslotParams struct {
	Principal  Principal
	InstanceID string
	TimeslotID string
}

// InstanceService handles operations on single materialised instances.
type InstanceService struct {
	instances   persistence.InstanceRepository
	transitions *TransitionScheduler
	now         func() time.Time
	logger      *slog.Logger
}

// NewInstanceService constructs an InstanceService.
func NewInstanceService(instances persistence.InstanceRepository, transitions *TransitionScheduler, now func() time.Time) *InstanceService {
	return NewInstanceServiceWithLogger(instances, transitions, now, nil)
}

// NewInstanceServiceWithLogger constructs an InstanceService with a specified logger.
func NewInstanceServiceWithLogger(instances persistence.InstanceRepository, transitions *TransitionScheduler, now func() time.Time, logger *slog.Logger) *InstanceService {
	if now == nil {
		now = time.Now
	}
	return &InstanceService{instances: instances, transitions: transitions, now: now, logger: defaultLogger(logger)}
}

func (s *InstanceService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "InstanceService", operation, attrs...)
}

// DeleteInstance cancels both transition jobs of the instance, then removes it.
func (s *InstanceService) DeleteInstance(ctx context.Context, instanceID string) (err error) {
	logger := s.loggerWith(ctx, "DeleteInstance", "instance_id", instanceID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to delete instance", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "instance deleted")
	}()

	instance, err := s.instances.GetInstance(ctx, instanceID)
	if err != nil {
		return mapRepoError(err)
	}
	if err = s.transitions.Cancel(ctx, instance); err != nil {
		return err
	}
	return mapRepoError(s.instances.DeleteInstance(ctx, instanceID))
}

// CancelInstance marks the instance cancelled and cancels its transition
// jobs. Cancelling a cancelled instance is a no-op; a completed one cannot be
// cancelled.
func (s *InstanceService) CancelInstance(ctx context.Context, instanceID string) (instance persistence.Instance, err error) {
	logger := s.loggerWith(ctx, "CancelInstance", "instance_id", instanceID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to cancel instance", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "instance cancelled")
	}()

	instance, err = s.instances.MutateInstance(ctx, instanceID, func(stored *persistence.Instance) error {
		switch stored.Status {
		case persistence.InstanceStatusCompleted:
			return fmt.Errorf("%w: instance %s is completed", ErrInvalidState, stored.ID)
		case persistence.InstanceStatusCancelled:
			return nil
		}
		stored.Status = persistence.InstanceStatusCancelled
		stored.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return persistence.Instance{}, mapRepoError(err)
	}
	if err = s.transitions.Cancel(ctx, instance); err != nil {
		return persistence.Instance{}, err
	}
	return instance, nil
}

// JoinTimeslot seats the user in the timeslot, or puts them on its waitlist
// once every seat is taken.
func (s *InstanceService) JoinTimeslot(ctx context.Context, params TimeslotParams) (result JoinResult, err error) {
	logger := s.loggerWith(ctx, "JoinTimeslot",
		"principal_id", params.Principal.UserID,
		"instance_id", params.InstanceID,
		"timeslot_id", params.TimeslotID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to join timeslot", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("waitlisted", result.Waitlisted).InfoContext(ctx, "timeslot joined")
	}()

	userID := params.Principal.UserID
	waitlisted := false
	instance, err := s.instances.MutateInstance(ctx, params.InstanceID, func(stored *persistence.Instance) error {
		if stored.Status != persistence.InstanceStatusNotStarted {
			return ErrInstanceNotOpen
		}
		slot, err := findSlot(stored, params.TimeslotID)
		if err != nil {
			return err
		}
		if slices.Contains(slot.Participants, userID) || slices.Contains(slot.Waitlist, userID) {
			return ErrAlreadyJoined
		}
		switch {
		case slot.NumParticipants < slot.MaxParticipants:
			slot.Participants = append(slot.Participants, userID)
			slot.NumParticipants++
		case slot.NumWaitlisted < slot.MaxWaitlist:
			slot.Waitlist = append(slot.Waitlist, userID)
			slot.NumWaitlisted++
			waitlisted = true
		default:
			return ErrTimeslotFull
		}
		stored.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return JoinResult{}, mapRepoError(err)
	}
	return JoinResult{Instance: instance, TimeslotID: params.TimeslotID, Waitlisted: waitlisted}, nil
}

// LeaveTimeslot removes the user from the timeslot. A freed seat goes to the
// first user on the waitlist.
func (s *InstanceService) LeaveTimeslot(ctx context.Context, params TimeslotParams) (instance persistence.Instance, err error) {
	logger := s.loggerWith(ctx, "LeaveTimeslot",
		"principal_id", params.Principal.UserID,
		"instance_id", params.InstanceID,
		"timeslot_id", params.TimeslotID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to leave timeslot", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "timeslot left")
	}()

	userID := params.Principal.UserID
	instance, err = s.instances.MutateInstance(ctx, params.InstanceID, func(stored *persistence.Instance) error {
		if stored.Status != persistence.InstanceStatusNotStarted {
			return ErrInstanceNotOpen
		}
		slot, err := findSlot(stored, params.TimeslotID)
		if err != nil {
			return err
		}
		if i := slices.Index(slot.Waitlist, userID); i >= 0 {
			slot.Waitlist = slices.Delete(slot.Waitlist, i, i+1)
			slot.NumWaitlisted--
		} else if i := slices.Index(slot.Participants, userID); i >= 0 {
			slot.Participants = slices.Delete(slot.Participants, i, i+1)
			slot.NumParticipants--
			if len(slot.Waitlist) > 0 {
				promoted := slot.Waitlist[0]
				slot.Waitlist = slices.Delete(slot.Waitlist, 0, 1)
				slot.NumWaitlisted--
				slot.Participants = append(slot.Participants, promoted)
				slot.NumParticipants++
			}
		} else {
			return ErrNotJoined
		}
		stored.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return persistence.Instance{}, mapRepoError(err)
	}
	return instance, nil
}

func findSlot(instance *persistence.Instance, timeslotID string) (*persistence.TimeslotSnapshot, error) {
	for i := range instance.Timeslots {
		if instance.Timeslots[i].ID == timeslotID {
			return &instance.Timeslots[i], nil
		}
	}
	return nil, fmt.Errorf("%w: timeslot %s", ErrNotFound, timeslotID)
}
