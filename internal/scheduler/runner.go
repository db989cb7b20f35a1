package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sethvargo/go-retry"

	"github.com/example/club-scheduler/internal/logging"
	"github.com/example/club-scheduler/internal/persistence"
)

var errNotClaimed = errors.New("scheduler: job no longer pending")

// Start runs RunDue every PollInterval until Stop is called or ctx ends.
// Ticks that arrive while a batch is still running are skipped.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	logger := cronLogger{logger: s.logger}
	runner := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	runner.Schedule(cron.Every(s.opts.PollInterval), cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.RunDue(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.ErrorContext(ctx, "run due jobs failed", "error", err)
		}
	}))
	runner.Start()

	s.cron, s.cancel = runner, cancel
}

// Stop halts the polling loop and waits for the in-flight batch to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	runner, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if runner == nil {
		return
	}
	cancel()
	<-runner.Stop().Done()
}

// cronLogger routes the cron runner's own logging through slog. Its
// per-tick chatter goes to debug.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

// RunDue executes every job due at the current time and returns how many
// completed successfully.
func (s *Service) RunDue(ctx context.Context) (int, error) {
	due, err := s.jobs.ListDueJobs(ctx, s.now().UTC(), s.opts.BatchSize)
	if err != nil {
		return 0, err
	}

	executed := 0
	for _, job := range due {
		if err := ctx.Err(); err != nil {
			return executed, err
		}
		ok, err := s.execute(ctx, job)
		if err != nil {
			return executed, err
		}
		if ok {
			executed++
		}
	}
	return executed, nil
}

// execute claims job, runs its handler and records the outcome. The returned
// error is reserved for store failures; handler failures only reschedule.
func (s *Service) execute(ctx context.Context, job persistence.Job) (bool, error) {
	logger := s.logger.With(slog.String("job_id", job.ID), slog.String("handler", job.Handler))

	claimed, err := s.jobs.MutateJob(ctx, job.ID, func(current *persistence.Job) error {
		if current.Status != persistence.JobStatusPending {
			return errNotClaimed
		}
		current.Attempts++
		current.UpdatedAt = s.now().UTC()
		return nil
	})
	if errors.Is(err, errNotClaimed) || errors.Is(err, persistence.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	runErr := s.invoke(logging.ContextWithLogger(ctx, logger), claimed)
	now := s.now().UTC()

	_, err = s.jobs.MutateJob(ctx, job.ID, func(current *persistence.Job) error {
		if current.Status != persistence.JobStatusPending {
			return nil
		}
		current.UpdatedAt = now
		if runErr == nil {
			current.Status = persistence.JobStatusExecuted
			current.FinishedAt = &now
			current.LastError = nil
			return nil
		}
		message := runErr.Error()
		current.LastError = &message
		current.RunAt = now.Add(s.rescheduleDelay(current.Attempts))
		return nil
	})
	if err != nil {
		return false, err
	}

	if runErr != nil {
		logger.WarnContext(ctx, "job failed, rescheduled", "attempts", claimed.Attempts, "error", runErr)
		return false, nil
	}
	logger.DebugContext(ctx, "job executed", "attempts", claimed.Attempts)
	return true, nil
}

func (s *Service) invoke(ctx context.Context, job persistence.Job) error {
	handler, ok := s.handler(job.Handler)
	if !ok {
		return ErrUnknownHandler
	}

	backoff := retry.WithMaxRetries(uint64(s.opts.MaxAttempts-1),
		retry.WithCappedDuration(s.opts.RetryMaxDelay, retry.NewExponential(s.opts.RetryBaseDelay)))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := handler(ctx, job.Payload); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

// rescheduleDelay doubles from RetryBaseDelay per attempt, capped at RetryMaxDelay.
func (s *Service) rescheduleDelay(attempts int) time.Duration {
	delay := s.opts.RetryBaseDelay
	for i := 1; i < attempts && delay < s.opts.RetryMaxDelay; i++ {
		delay *= 2
	}
	return min(delay, s.opts.RetryMaxDelay)
}
