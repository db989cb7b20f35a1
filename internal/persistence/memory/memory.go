// Package memory provides a mutex-guarded, map-backed implementation of the
// persistence repositories. It is used by tests and by single-process
// deployments that do not need durability.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/club-scheduler/internal/persistence"
)

// Storage keeps every record in process memory. Each repository call holds
// the mutex for its full lookup-and-write, so Mutate* callbacks run atomically.
type Storage struct {
	mu        sync.RWMutex
	clubs     map[string]persistence.Club
	members   map[string][]persistence.Member
	series    map[string]persistence.Series
	instances map[string]persistence.Instance
	bySlot    map[string]string
	jobs      map[string]persistence.Job
	pending   map[string]string
}

// New returns an empty Storage.
func New() *Storage {
	return &Storage{
		clubs:     make(map[string]persistence.Club),
		members:   make(map[string][]persistence.Member),
		series:    make(map[string]persistence.Series),
		instances: make(map[string]persistence.Instance),
		bySlot:    make(map[string]string),
		jobs:      make(map[string]persistence.Job),
		pending:   make(map[string]string),
	}
}

// Close is a no-op.
func (s *Storage) Close() error {
	return nil
}

// --- ClubRepository implementation ---

// CreateClub stores a new club.
func (s *Storage) CreateClub(ctx context.Context, club persistence.Club) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clubs[club.ID]; ok {
		return fmt.Errorf("memory: club %s: %w", club.ID, persistence.ErrDuplicate)
	}
	s.clubs[club.ID] = club
	return nil
}

// GetClub retrieves a club by ID.
func (s *Storage) GetClub(ctx context.Context, id string) (persistence.Club, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	club, ok := s.clubs[id]
	if !ok {
		return persistence.Club{}, persistence.ErrNotFound
	}
	return club, nil
}

// AddMember enrols a user in a club.
func (s *Storage) AddMember(ctx context.Context, member persistence.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clubs[member.ClubID]; !ok {
		return persistence.ErrForeignKeyViolation
	}
	for _, existing := range s.members[member.ClubID] {
		if existing.UserID == member.UserID {
			return fmt.Errorf("memory: member %s: %w", member.UserID, persistence.ErrDuplicate)
		}
	}
	s.members[member.ClubID] = append(s.members[member.ClubID], member)
	return nil
}

// ListMembers returns the members of a club ordered by JoinedAt.
func (s *Storage) ListMembers(ctx context.Context, clubID string) ([]persistence.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := append([]persistence.Member(nil), s.members[clubID]...)
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	return members, nil
}

// --- SeriesRepository implementation ---

// CreateSeries stores a new series.
func (s *Storage) CreateSeries(ctx context.Context, series persistence.Series) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.series[series.ID]; ok {
		return fmt.Errorf("memory: series %s: %w", series.ID, persistence.ErrDuplicate)
	}
	if _, ok := s.clubs[series.ClubID]; !ok {
		return persistence.ErrForeignKeyViolation
	}
	s.series[series.ID] = persistence.CloneSeries(series)
	return nil
}

// GetSeries retrieves a series by ID.
func (s *Storage) GetSeries(ctx context.Context, id string) (persistence.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series, ok := s.series[id]
	if !ok {
		return persistence.Series{}, persistence.ErrNotFound
	}
	return persistence.CloneSeries(series), nil
}

// MutateSeries applies fn to a copy of the stored series and saves it.
func (s *Storage) MutateSeries(ctx context.Context, id string, fn func(*persistence.Series) error) (persistence.Series, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.series[id]
	if !ok {
		return persistence.Series{}, persistence.ErrNotFound
	}
	working := persistence.CloneSeries(stored)
	if err := fn(&working); err != nil {
		return persistence.Series{}, err
	}
	working.ID = id
	s.series[id] = persistence.CloneSeries(working)
	return working, nil
}

// DeleteSeries removes a series. Instances are kept.
func (s *Storage) DeleteSeries(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.series[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.series, id)
	return nil
}

// --- InstanceRepository implementation ---

// CreateInstanceIfAbsent inserts the instance unless its series already has
// one on the same local date.
func (s *Storage) CreateInstanceIfAbsent(ctx context.Context, instance persistence.Instance) (persistence.Instance, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := slotKey(instance.SeriesID, instance.LocalDate)
	if existingID, ok := s.bySlot[key]; ok {
		return persistence.CloneInstance(s.instances[existingID]), false, nil
	}
	if _, ok := s.instances[instance.ID]; ok {
		return persistence.Instance{}, false, fmt.Errorf("memory: instance %s: %w", instance.ID, persistence.ErrDuplicate)
	}

	s.instances[instance.ID] = persistence.CloneInstance(instance)
	s.bySlot[key] = instance.ID
	return persistence.CloneInstance(instance), true, nil
}

// GetInstance retrieves an instance by ID.
func (s *Storage) GetInstance(ctx context.Context, id string) (persistence.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	instance, ok := s.instances[id]
	if !ok {
		return persistence.Instance{}, persistence.ErrNotFound
	}
	return persistence.CloneInstance(instance), nil
}

// GetInstanceBySeriesDate looks up the instance of a series on a local date.
func (s *Storage) GetInstanceBySeriesDate(ctx context.Context, seriesID, localDate string) (persistence.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.bySlot[slotKey(seriesID, localDate)]
	if !ok {
		return persistence.Instance{}, persistence.ErrNotFound
	}
	return persistence.CloneInstance(s.instances[id]), nil
}

// ListInstancesForSeries returns a series' instances ordered by date.
func (s *Storage) ListInstancesForSeries(ctx context.Context, seriesID string) ([]persistence.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]persistence.Instance, 0)
	for _, instance := range s.instances {
		if instance.SeriesID == seriesID {
			result = append(result, persistence.CloneInstance(instance))
		}
	}
	sortInstances(result)
	return result, nil
}

// ListInstances returns the instances matching filter ordered by date.
func (s *Storage) ListInstances(ctx context.Context, filter persistence.InstanceFilter) ([]persistence.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]persistence.Instance, 0)
	for _, instance := range s.instances {
		if matchesInstanceFilter(instance, filter) {
			result = append(result, persistence.CloneInstance(instance))
		}
	}
	sortInstances(result)

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []persistence.Instance{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// MutateInstance applies fn to a copy of the stored instance and saves it.
func (s *Storage) MutateInstance(ctx context.Context, id string, fn func(*persistence.Instance) error) (persistence.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.instances[id]
	if !ok {
		return persistence.Instance{}, persistence.ErrNotFound
	}
	working := persistence.CloneInstance(stored)
	if err := fn(&working); err != nil {
		return persistence.Instance{}, err
	}
	working.ID = id
	working.SeriesID = stored.SeriesID
	working.LocalDate = stored.LocalDate
	s.instances[id] = persistence.CloneInstance(working)
	return working, nil
}

// DeleteInstance removes an instance by ID.
func (s *Storage) DeleteInstance(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	instance, ok := s.instances[id]
	if !ok {
		return persistence.ErrNotFound
	}
	delete(s.instances, id)
	delete(s.bySlot, slotKey(instance.SeriesID, instance.LocalDate))
	return nil
}

// --- JobRepository implementation ---

// CreateJob stores a job unless a pending job shares its dedupe key.
func (s *Storage) CreateJob(ctx context.Context, job persistence.Job) (persistence.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.DedupeKey != "" {
		if existingID, ok := s.pending[job.DedupeKey]; ok {
			return persistence.CloneJob(s.jobs[existingID]), false, nil
		}
	}
	if _, ok := s.jobs[job.ID]; ok {
		return persistence.Job{}, false, fmt.Errorf("memory: job %s: %w", job.ID, persistence.ErrDuplicate)
	}

	s.jobs[job.ID] = persistence.CloneJob(job)
	if job.DedupeKey != "" && job.Status == persistence.JobStatusPending {
		s.pending[job.DedupeKey] = job.ID
	}
	return persistence.CloneJob(job), true, nil
}

// GetJob retrieves a job by ID.
func (s *Storage) GetJob(ctx context.Context, id string) (persistence.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return persistence.Job{}, persistence.ErrNotFound
	}
	return persistence.CloneJob(job), nil
}

// ListDueJobs returns pending jobs with RunAt at or before reference, oldest first.
func (s *Storage) ListDueJobs(ctx context.Context, reference time.Time, limit int) ([]persistence.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	due := make([]persistence.Job, 0)
	for _, job := range s.jobs {
		if job.Status == persistence.JobStatusPending && !job.RunAt.After(reference) {
			due = append(due, persistence.CloneJob(job))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].RunAt.Equal(due[j].RunAt) {
			return due[i].CreatedAt.Before(due[j].CreatedAt) || (due[i].CreatedAt.Equal(due[j].CreatedAt) && due[i].ID < due[j].ID)
		}
		return due[i].RunAt.Before(due[j].RunAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// MutateJob applies fn to a copy of the stored job and saves it.
func (s *Storage) MutateJob(ctx context.Context, id string, fn func(*persistence.Job) error) (persistence.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.jobs[id]
	if !ok {
		return persistence.Job{}, persistence.ErrNotFound
	}
	working := persistence.CloneJob(stored)
	if err := fn(&working); err != nil {
		return persistence.Job{}, err
	}
	working.ID = id

	if stored.DedupeKey != "" && s.pending[stored.DedupeKey] == id && working.Status != persistence.JobStatusPending {
		delete(s.pending, stored.DedupeKey)
	}
	s.jobs[id] = persistence.CloneJob(working)
	return working, nil
}

// --- Helpers ---

func slotKey(seriesID, localDate string) string {
	return seriesID + "|" + localDate
}

func sortInstances(instances []persistence.Instance) {
	sort.Slice(instances, func(i, j int) bool {
		if instances[i].Date.Equal(instances[j].Date) {
			return instances[i].ID < instances[j].ID
		}
		return instances[i].Date.Before(instances[j].Date)
	})
}

func matchesInstanceFilter(instance persistence.Instance, filter persistence.InstanceFilter) bool {
	if filter.ClubID != "" && instance.ClubID != filter.ClubID {
		return false
	}
	if filter.From != nil && instance.Date.Before(*filter.From) {
		return false
	}
	if filter.To != nil && instance.Date.After(*filter.To) {
		return false
	}
	return true
}
