package testfixtures

import (
	"log/slog"
	"testing"
	"time"

	"github.com/example/club-scheduler/internal/application"
	"github.com/example/club-scheduler/internal/persistence"
	"github.com/example/club-scheduler/internal/persistence/memory"
	"github.com/example/club-scheduler/internal/recurrence"
	"github.com/example/club-scheduler/internal/scheduler"
)

// Store is the union of repositories the services need.
type Store interface {
	persistence.ClubRepository
	persistence.SeriesRepository
	persistence.InstanceRepository
	persistence.JobRepository
}

// ServiceHarness wires every application service over one store and an
// in-process job scheduler driven by a controllable clock.
type ServiceHarness struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Store       Store
	Scheduler   *scheduler.Service
	Engine      *recurrence.Engine

	Validator   *application.SeriesValidator
	Factory     *application.InstanceFactory
	Transitions *application.TransitionScheduler
	Series      *application.SeriesService
	Instances   *application.InstanceService
	Queries     *application.QueryService
}

type harnessConfig struct {
	clock             *Clock
	ids               *IDGenerator
	store             Store
	limits            application.Limits
	maxGenerationDays int
	logger            *slog.Logger
}

// HarnessOption configures a ServiceHarness.
type HarnessOption func(*harnessConfig)

// WithClock overrides the clock used by the harness.
func WithClock(clock *Clock) HarnessOption {
	return func(c *harnessConfig) {
		c.clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the harness.
func WithIDGenerator(generator *IDGenerator) HarnessOption {
	return func(c *harnessConfig) {
		c.ids = generator
	}
}

// WithStore runs the harness over store instead of a fresh memory store.
func WithStore(store Store) HarnessOption {
	return func(c *harnessConfig) {
		c.store = store
	}
}

// WithLimits overrides the validation limits.
func WithLimits(limits application.Limits) HarnessOption {
	return func(c *harnessConfig) {
		c.limits = limits
	}
}

// WithMaxGenerationDays overrides the look-ahead cap.
func WithMaxGenerationDays(days int) HarnessOption {
	return func(c *harnessConfig) {
		c.maxGenerationDays = days
	}
}

// WithLogger sets the logger handed to every service.
func WithLogger(logger *slog.Logger) HarnessOption {
	return func(c *harnessConfig) {
		c.logger = logger
	}
}

// NewServiceHarness builds the services with job handlers registered. The
// scheduler is not started; tests drive it with Scheduler.RunDue.
func NewServiceHarness(tb testing.TB, opts ...HarnessOption) *ServiceHarness {
	tb.Helper()

	cfg := harnessConfig{
		limits:            application.DefaultLimits(),
		maxGenerationDays: recurrence.DefaultMaxGenerationDays,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.clock == nil {
		cfg.clock = NewClock(time.Time{})
	}
	if cfg.ids == nil {
		cfg.ids = NewIDGenerator("id")
	}
	if cfg.store == nil {
		cfg.store = memory.New()
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}

	now := cfg.clock.NowFunc()
	nextID := cfg.ids.NextFunc()

	jobs := scheduler.New(cfg.store, nextID, now, scheduler.Options{
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  10 * time.Millisecond,
		MaxAttempts:    1,
		Logger:         cfg.logger,
	})
	engine := recurrence.NewEngine(cfg.maxGenerationDays)
	validator := application.NewSeriesValidator(cfg.store, cfg.limits, now)
	factory := application.NewInstanceFactory(cfg.store, nextID, now)
	transitions := application.NewTransitionSchedulerWithLogger(cfg.store, jobs, cfg.logger)
	series := application.NewSeriesServiceWithLogger(cfg.store, factory, transitions, validator, jobs, engine, nextID, now, cfg.logger)
	instances := application.NewInstanceServiceWithLogger(cfg.store, transitions, now, cfg.logger)
	queries := application.NewQueryServiceWithLogger(cfg.store, cfg.store, transitions, jobs, cfg.logger)

	application.RegisterJobHandlers(jobs, series, transitions)

	return &ServiceHarness{
		Clock:       cfg.clock,
		IDGenerator: cfg.ids,
		Store:       cfg.store,
		Scheduler:   jobs,
		Engine:      engine,
		Validator:   validator,
		Factory:     factory,
		Transitions: transitions,
		Series:      series,
		Instances:   instances,
		Queries:     queries,
	}
}
