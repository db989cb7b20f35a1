// Package scheduler runs time-triggered jobs persisted through a
// persistence.JobRepository. Jobs are delivered at least once: a handler
// that fails stays pending and is retried later, so handlers must tolerate
// redundant invocation.
package scheduler

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/crypto/blake2b"

	"github.com/example/club-scheduler/internal/persistence"
)

var (
	// ErrUnknownHandler is returned when scheduling a job for an unregistered handler.
	ErrUnknownHandler = errors.New("scheduler: unknown handler")
	// ErrJobNotFound is returned when the job id does not exist.
	ErrJobNotFound = errors.New("scheduler: job not found")
)

// HandlerFunc executes a job payload.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Options tunes the job runner.
type Options struct {
	// PollInterval is how often Start checks for due jobs. Intervals under a
	// second run every second.
	PollInterval time.Duration
	// MaxAttempts bounds in-process retries of a handler per run.
	MaxAttempts int
	// RetryBaseDelay and RetryMaxDelay shape both the in-process backoff and
	// how far a failed job's RunAt is pushed out.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// BatchSize caps the jobs claimed per poll.
	BatchSize int
	Logger    *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = 100 * time.Millisecond
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 5 * time.Minute
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Service schedules, cancels and runs jobs.
type Service struct {
	jobs        persistence.JobRepository
	idGenerator func() string
	now         func() time.Time
	opts        Options
	logger      *slog.Logger

	handlersMu sync.RWMutex
	handlers   map[string]HandlerFunc

	mu     sync.Mutex
	cancel context.CancelFunc
	cron   *cron.Cron
}

// New constructs a Service backed by jobs.
func New(jobs persistence.JobRepository, idGenerator func() string, now func() time.Time, opts Options) *Service {
	if now == nil {
		now = time.Now
	}
	opts = opts.withDefaults()
	return &Service{
		jobs:        jobs,
		idGenerator: idGenerator,
		now:         now,
		opts:        opts,
		logger:      opts.Logger.With(slog.String("component", "scheduler")),
		handlers:    make(map[string]HandlerFunc),
	}
}

// Register binds name to handler, replacing any previous binding.
func (s *Service) Register(name string, handler func(ctx context.Context, payload []byte) error) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[name] = handler
}

func (s *Service) handler(name string) (HandlerFunc, bool) {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	h, ok := s.handlers[name]
	return h, ok
}

// ScheduleAt persists a pending job that runs handler with payload at runAt.
// Registering an identical (handler, payload, runAt) while the first is still
// pending returns the existing job id.
func (s *Service) ScheduleAt(ctx context.Context, runAt time.Time, handler string, payload []byte) (string, error) {
	if _, ok := s.handler(handler); !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownHandler, handler)
	}

	now := s.now().UTC()
	job := persistence.Job{
		ID:        s.idGenerator(),
		Handler:   handler,
		Payload:   append([]byte(nil), payload...),
		DedupeKey: DedupeKey(handler, payload, runAt),
		RunAt:     runAt.UTC(),
		Status:    persistence.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	stored, created, err := s.jobs.CreateJob(ctx, job)
	if err != nil {
		return "", fmt.Errorf("schedule %s: %w", handler, err)
	}
	if !created {
		s.logger.DebugContext(ctx, "job already pending", "job_id", stored.ID, "handler", handler)
	}
	return stored.ID, nil
}

// Cancel moves a pending job to canceled. Cancelling an executed or already
// canceled job is a no-op.
func (s *Service) Cancel(ctx context.Context, id string) error {
	_, err := s.jobs.MutateJob(ctx, id, func(job *persistence.Job) error {
		if job.Status != persistence.JobStatusPending {
			return nil
		}
		now := s.now().UTC()
		job.Status = persistence.JobStatusCanceled
		job.FinishedAt = &now
		job.UpdatedAt = now
		return nil
	})
	if errors.Is(err, persistence.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return err
}

// Status reports the job's current state.
func (s *Service) Status(ctx context.Context, id string) (persistence.JobStatus, error) {
	job, err := s.jobs.GetJob(ctx, id)
	if errors.Is(err, persistence.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return "", err
	}
	return job.Status, nil
}

// Job returns the stored job.
func (s *Service) Job(ctx context.Context, id string) (persistence.Job, error) {
	job, err := s.jobs.GetJob(ctx, id)
	if errors.Is(err, persistence.ErrNotFound) {
		return persistence.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, err
}

// DedupeKey identifies a registration by handler, payload and run time.
func DedupeKey(handler string, payload []byte, runAt time.Time) string {
	buf := make([]byte, 0, len(handler)+len(payload)+40)
	buf = append(buf, handler...)
	buf = append(buf, 0)
	buf = append(buf, payload...)
	buf = append(buf, 0)
	buf = append(buf, runAt.UTC().Format(time.RFC3339Nano)...)
	sum := blake2b.Sum256(buf)
	return hex.EncodeToString(sum[:])
}
