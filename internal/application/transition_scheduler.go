package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/club-scheduler/internal/persistence"
	"github.com/example/club-scheduler/internal/recurrence"
)

var errTransitionSkipped = errors.New("transition skipped")

// TransitionScheduler registers the jobs that move an instance to
// in_progress at its start and completed at its end.
type TransitionScheduler struct {
	instances persistence.InstanceRepository
	jobs      JobScheduler
	logger    *slog.Logger
}

// NewTransitionScheduler constructs a TransitionScheduler.
func NewTransitionScheduler(instances persistence.InstanceRepository, jobs JobScheduler) *TransitionScheduler {
	return NewTransitionSchedulerWithLogger(instances, jobs, nil)
}

// NewTransitionSchedulerWithLogger constructs a TransitionScheduler with a specified logger.
func NewTransitionSchedulerWithLogger(instances persistence.InstanceRepository, jobs JobScheduler, logger *slog.Logger) *TransitionScheduler {
	return &TransitionScheduler{instances: instances, jobs: jobs, logger: defaultLogger(logger)}
}

func (t *TransitionScheduler) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, t.logger, "TransitionScheduler", operation, attrs...)
}

type transitionSlot struct {
	status persistence.InstanceStatus
	jobID  func(*persistence.Instance) **string
}

var transitionSlots = []transitionSlot{
	{
		status: persistence.InstanceStatusInProgress,
		jobID:  func(i *persistence.Instance) **string { return &i.OnEventStartJobID },
	},
	{
		status: persistence.InstanceStatusCompleted,
		jobID:  func(i *persistence.Instance) **string { return &i.OnEventEndJobID },
	},
}

// Schedule registers whichever transition jobs instance is still missing and
// stores each id as soon as it is issued. Ids that are already set are kept.
func (t *TransitionScheduler) Schedule(ctx context.Context, instance persistence.Instance) (persistence.Instance, error) {
	loc, err := recurrence.LoadLocation(instance.Timezone)
	if err != nil {
		return instance, err
	}
	startAt := recurrence.LocalTimeToUTC(instance.StartTime, loc, instance.Date)
	endAt := recurrence.LocalTimeToUTC(instance.EndTime, loc, instance.Date)

	current := instance
	for _, slot := range transitionSlots {
		if *slot.jobID(&current) != nil {
			continue
		}

		at := startAt
		if slot.status == persistence.InstanceStatusCompleted {
			at = endAt
		}
		payload, err := json.Marshal(transitionPayload{InstanceID: instance.ID, Status: slot.status})
		if err != nil {
			return current, err
		}
		jobID, err := t.jobs.ScheduleAt(ctx, at, HandlerInstanceTransition, payload)
		if err != nil {
			return current, fmt.Errorf("schedule %s transition for %s: %w", slot.status, instance.ID, err)
		}

		var kept string
		updated, err := t.instances.MutateInstance(ctx, instance.ID, func(stored *persistence.Instance) error {
			field := slot.jobID(stored)
			if *field == nil {
				id := jobID
				*field = &id
			}
			kept = **field
			return nil
		})
		if err != nil {
			return current, fmt.Errorf("store %s job id for %s: %w", slot.status, instance.ID, err)
		}
		if kept != jobID {
			if cancelErr := t.jobs.Cancel(ctx, jobID); cancelErr != nil {
				t.loggerWith(ctx, "Schedule", "instance_id", instance.ID).WarnContext(ctx,
					"failed to cancel duplicate transition job", "job_id", jobID, "error", cancelErr)
			}
		}
		current = updated
	}
	return current, nil
}

// Cancel cancels both transition jobs of instance. Run it before the
// instance is deleted.
func (t *TransitionScheduler) Cancel(ctx context.Context, instance persistence.Instance) error {
	for _, id := range []*string{instance.OnEventStartJobID, instance.OnEventEndJobID} {
		if id == nil {
			continue
		}
		if err := t.jobs.Cancel(ctx, *id); err != nil {
			return fmt.Errorf("cancel job %s: %w", *id, err)
		}
	}
	return nil
}

// Statuses resolves the state of both transition jobs of instance.
func (t *TransitionScheduler) Statuses(ctx context.Context, instance persistence.Instance) (ScheduleStatuses, error) {
	statuses := ScheduleStatuses{
		InstanceID: instance.ID,
		StartJobID: instance.OnEventStartJobID,
		EndJobID:   instance.OnEventEndJobID,
	}
	var err error
	if statuses.StartStatus, err = t.jobStatus(ctx, instance.OnEventStartJobID); err != nil {
		return ScheduleStatuses{}, err
	}
	if statuses.EndStatus, err = t.jobStatus(ctx, instance.OnEventEndJobID); err != nil {
		return ScheduleStatuses{}, err
	}
	return statuses, nil
}

func (t *TransitionScheduler) jobStatus(ctx context.Context, id *string) (*persistence.JobStatus, error) {
	if id == nil {
		return nil, nil
	}
	status, err := t.jobs.Status(ctx, *id)
	if err != nil {
		return nil, fmt.Errorf("job %s status: %w", *id, err)
	}
	return &status, nil
}

// HandleTransition is the instance.transition job handler. in_progress is
// only entered from not_started; completed from not_started or in_progress.
// Any other combination, or a deleted instance, is a no-op.
func (t *TransitionScheduler) HandleTransition(ctx context.Context, payload []byte) error {
	var p transitionPayload
	if err := decodePayload(HandlerInstanceTransition, payload, &p); err != nil {
		return err
	}
	logger := t.loggerWith(ctx, "HandleTransition", "instance_id", p.InstanceID, "target_status", p.Status)

	var from persistence.InstanceStatus
	_, err := t.instances.MutateInstance(ctx, p.InstanceID, func(instance *persistence.Instance) error {
		from = instance.Status
		if !transitionAllowed(instance.Status, p.Status) {
			return errTransitionSkipped
		}
		instance.Status = p.Status
		return nil
	})
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		logger.InfoContext(ctx, "instance gone, transition skipped")
		return nil
	case errors.Is(err, errTransitionSkipped):
		logger.InfoContext(ctx, "transition skipped", "current_status", from)
		return nil
	case err != nil:
		logger.ErrorContext(ctx, "failed to apply transition", "error", err, "error_kind", ErrorKind(err))
		return err
	}
	logger.InfoContext(ctx, "instance status changed", "previous_status", from)
	return nil
}

func transitionAllowed(from, to persistence.InstanceStatus) bool {
	switch to {
	case persistence.InstanceStatusInProgress:
		return from == persistence.InstanceStatusNotStarted
	case persistence.InstanceStatusCompleted:
		return from == persistence.InstanceStatusNotStarted || from == persistence.InstanceStatusInProgress
	}
	return false
}
