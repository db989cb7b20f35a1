package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/example/club-scheduler/internal/application"
	"github.com/example/club-scheduler/internal/config"
	httptransport "github.com/example/club-scheduler/internal/http"
	"github.com/example/club-scheduler/internal/logging"
	"github.com/example/club-scheduler/internal/persistence/sqlite"
	"github.com/example/club-scheduler/internal/recurrence"
	"github.com/example/club-scheduler/internal/scheduler"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWithDotEnv()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("club scheduler stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	app, err := newApp(ctx, cfg, logger, time.Now)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	app.jobs.Start(ctx)
	defer app.jobs.Stop()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("club scheduler API listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

type app struct {
	store   *sqlite.Store
	jobs    *scheduler.Service
	handler http.Handler
}

// newApp opens storage and wires every service behind the HTTP router. The
// job runner is returned stopped.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, now func() time.Time) (*app, error) {
	store, err := sqlite.Open(ctx, cfg.SQLiteDSN, sqlite.Options{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	idGenerator := uuid.NewString
	limits := application.Limits{
		MaxStartDaysAhead:    cfg.MaxStartDaysAhead,
		MaxTotalParticipants: cfg.MaxTotalParticipants,
	}

	jobs := scheduler.New(store, idGenerator, now, scheduler.Options{
		PollInterval: cfg.JobPollInterval,
		MaxAttempts:  cfg.JobMaxAttempts,
		Logger:       logger,
	})
	engine := recurrence.NewEngine(cfg.MaxGenerationDays)
	validator := application.NewSeriesValidator(store, limits, now)
	factory := application.NewInstanceFactory(store, idGenerator, now)
	transitions := application.NewTransitionSchedulerWithLogger(store, jobs, logger)
	seriesService := application.NewSeriesServiceWithLogger(store, factory, transitions, validator, jobs, engine, idGenerator, now, logger)
	instanceService := application.NewInstanceServiceWithLogger(store, transitions, now, logger)
	queries := application.NewQueryServiceWithLogger(store, store, transitions, jobs, logger)

	application.RegisterJobHandlers(jobs, seriesService, transitions)

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Series:     httptransport.NewSeriesHandler(seriesService, queries, logger),
		Instances:  httptransport.NewInstanceHandler(instanceService, queries, logger),
		Auth:       httptransport.RequireJWT([]byte(cfg.JWTSecret), logger),
		Middleware: []func(http.Handler) http.Handler{httptransport.RequestLogger(logger)},
	})

	return &app{store: store, jobs: jobs, handler: router}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
