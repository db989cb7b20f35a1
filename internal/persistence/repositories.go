package persistence

import (
	"context"
	"time"
)

// ClubRepository exposes clubs and their membership rosters.
type ClubRepository interface {
	CreateClub(ctx context.Context, club Club) error
	GetClub(ctx context.Context, id string) (Club, error)
	AddMember(ctx context.Context, member Member) error
	ListMembers(ctx context.Context, clubID string) ([]Member, error)
}

// SeriesRepository stores series templates.
type SeriesRepository interface {
	CreateSeries(ctx context.Context, series Series) error
	GetSeries(ctx context.Context, id string) (Series, error)
	// MutateSeries loads, modifies and stores a series as one atomic step.
	// Returning an error from fn aborts the write.
	MutateSeries(ctx context.Context, id string, fn func(*Series) error) (Series, error)
	DeleteSeries(ctx context.Context, id string) error
}

// InstanceFilter narrows instance listings.
type InstanceFilter struct {
	ClubID string
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// InstanceRepository stores materialised instances.
type InstanceRepository interface {
	// CreateInstanceIfAbsent inserts instance unless one already exists for
	// its (SeriesID, LocalDate). The stored record is returned either way and
	// created reports whether the insert happened.
	CreateInstanceIfAbsent(ctx context.Context, instance Instance) (stored Instance, created bool, err error)
	GetInstance(ctx context.Context, id string) (Instance, error)
	GetInstanceBySeriesDate(ctx context.Context, seriesID, localDate string) (Instance, error)
	ListInstancesForSeries(ctx context.Context, seriesID string) ([]Instance, error)
	ListInstances(ctx context.Context, filter InstanceFilter) ([]Instance, error)
	MutateInstance(ctx context.Context, id string, fn func(*Instance) error) (Instance, error)
	DeleteInstance(ctx context.Context, id string) error
}

// JobRepository stores scheduled jobs.
type JobRepository interface {
	// CreateJob inserts job. A pending job with the same DedupeKey yields
	// that job with created=false.
	CreateJob(ctx context.Context, job Job) (stored Job, created bool, err error)
	GetJob(ctx context.Context, id string) (Job, error)
	ListDueJobs(ctx context.Context, reference time.Time, limit int) ([]Job, error)
	MutateJob(ctx context.Context, id string, fn func(*Job) error) (Job, error)
}
