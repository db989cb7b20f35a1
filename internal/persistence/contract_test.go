package persistence_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/club-scheduler/internal/persistence"
	"github.com/example/club-scheduler/internal/persistence/memory"
	"github.com/example/club-scheduler/internal/persistence/sqlite"
	"github.com/example/club-scheduler/internal/recurrence"
)

type store interface {
	persistence.ClubRepository
	persistence.SeriesRepository
	persistence.InstanceRepository
	persistence.JobRepository
	Close() error
}

var referenceTime = time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

func forEachStore(t *testing.T, run func(t *testing.T, s store)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		t.Parallel()
		s := memory.New()
		t.Cleanup(func() { _ = s.Close() })
		run(t, s)
	})

	t.Run("sqlite", func(t *testing.T) {
		t.Parallel()
		s, err := sqlite.Open(context.Background(), ":memory:", sqlite.Options{})
		if err != nil {
			t.Fatalf("failed to open sqlite store: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		run(t, s)
	})
}

func seedClub(t *testing.T, s store, id string) {
	t.Helper()
	if err := s.CreateClub(context.Background(), persistence.Club{ID: id, Name: "Club " + id, Public: true, CreatedAt: referenceTime}); err != nil {
		t.Fatalf("CreateClub failed: %v", err)
	}
}

func newSeries(id, clubID string) persistence.Series {
	start := time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.June, 30, 0, 0, 0, 0, time.UTC)
	fee := int64(1500)
	slotStart := recurrence.MustParseTimeOfDay("18:00")
	slotEnd := recurrence.MustParseTimeOfDay("19:00")
	return persistence.Series{
		ID:         id,
		ClubID:     clubID,
		Kind:       persistence.SeriesKindEvent,
		Name:       "Tuesday doubles",
		Location:   "Court 3",
		Timezone:   "Asia/Tokyo",
		Visibility: persistence.VisibilityMembersOnly,
		State:      persistence.SeriesStateInactive,
		Schedule: recurrence.Schedule{
			Kind:       recurrence.KindWeekly,
			StartTime:  recurrence.MustParseTimeOfDay("18:00"),
			EndTime:    recurrence.MustParseTimeOfDay("21:00"),
			StartDate:  &start,
			EndDate:    &end,
			DaysOfWeek: []time.Weekday{time.Tuesday, time.Thursday},
			Interval:   2,
		},
		Timeslots: []persistence.TimeslotTemplate{{
			Name:                  "Early",
			CapacityModel:         persistence.CapacityModelStartEnd,
			StartTime:             &slotStart,
			EndTime:               &slotEnd,
			FeeType:               persistence.FeeTypeFixed,
			Fee:                   &fee,
			MaxParticipants:       4,
			MaxWaitlist:           2,
			PermanentParticipants: []string{"user-1"},
		}},
		CreatedBy: "user-1",
		CreatedAt: referenceTime,
		UpdatedAt: referenceTime,
	}
}

func newInstance(id, seriesID, clubID string, date time.Time) persistence.Instance {
	return persistence.Instance{
		ID:         id,
		SeriesID:   seriesID,
		ClubID:     clubID,
		Date:       date,
		LocalDate:  date.Format("2006-01-02"),
		Name:       "Tuesday doubles",
		Timezone:   "UTC",
		Visibility: persistence.VisibilityMembersOnly,
		StartTime:  recurrence.MustParseTimeOfDay("18:00"),
		EndTime:    recurrence.MustParseTimeOfDay("21:00"),
		StartsAt:   date.Add(18 * time.Hour),
		EndsAt:     date.Add(21 * time.Hour),
		Timeslots: []persistence.TimeslotSnapshot{{
			ID:               "slot-" + id,
			TimeslotTemplate: persistence.TimeslotTemplate{Name: "Open", CapacityModel: persistence.CapacityModelDuration, DurationMinutes: 60, FeeType: persistence.FeeTypeSplit, MaxParticipants: 4},
			Participants:     []string{},
			Waitlist:         []string{},
		}},
		Status:    persistence.InstanceStatusNotStarted,
		CreatedBy: "user-1",
		CreatedAt: referenceTime,
		UpdatedAt: referenceTime,
	}
}

func TestClubRepository(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, s store) {
		ctx := context.Background()
		seedClub(t, s, "club-1")

		club, err := s.GetClub(ctx, "club-1")
		if err != nil {
			t.Fatalf("GetClub failed: %v", err)
		}
		if !club.Public || club.Name != "Club club-1" || !club.CreatedAt.Equal(referenceTime) {
			t.Fatalf("unexpected club: %#v", club)
		}
		if _, err := s.GetClub(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected persistence.ErrNotFound, got %v", err)
		}

		for i, userID := range []string{"user-2", "user-1"} {
			member := persistence.Member{ClubID: "club-1", UserID: userID, JoinedAt: referenceTime.Add(time.Duration(i) * time.Hour)}
			if err := s.AddMember(ctx, member); err != nil {
				t.Fatalf("AddMember failed: %v", err)
			}
		}
		if err := s.AddMember(ctx, persistence.Member{ClubID: "club-1", UserID: "user-1", JoinedAt: referenceTime}); !errors.Is(err, persistence.ErrDuplicate) {
			t.Fatalf("expected persistence.ErrDuplicate, got %v", err)
		}
		if err := s.AddMember(ctx, persistence.Member{ClubID: "missing", UserID: "user-1", JoinedAt: referenceTime}); !errors.Is(err, persistence.ErrForeignKeyViolation) {
			t.Fatalf("expected persistence.ErrForeignKeyViolation, got %v", err)
		}

		members, err := s.ListMembers(ctx, "club-1")
		if err != nil {
			t.Fatalf("ListMembers failed: %v", err)
		}
		if len(members) != 2 || members[0].UserID != "user-2" || members[1].UserID != "user-1" {
			t.Fatalf("unexpected members: %#v", members)
		}
	})
}

func TestSeriesRepository(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, s store) {
		ctx := context.Background()
		seedClub(t, s, "club-1")

		series := newSeries("series-1", "club-1")
		if err := s.CreateSeries(ctx, series); err != nil {
			t.Fatalf("CreateSeries failed: %v", err)
		}
		if err := s.CreateSeries(ctx, series); !errors.Is(err, persistence.ErrDuplicate) {
			t.Fatalf("expected persistence.ErrDuplicate, got %v", err)
		}

		fetched, err := s.GetSeries(ctx, "series-1")
		if err != nil {
			t.Fatalf("GetSeries failed: %v", err)
		}
		if fetched.Schedule.Kind != recurrence.KindWeekly || fetched.Schedule.Interval != 2 || len(fetched.Schedule.DaysOfWeek) != 2 {
			t.Fatalf("unexpected schedule: %#v", fetched.Schedule)
		}
		if !fetched.Schedule.StartDate.Equal(*series.Schedule.StartDate) || fetched.Schedule.StartTime.String() != "18:00" {
			t.Fatalf("unexpected schedule bounds: %#v", fetched.Schedule)
		}
		if len(fetched.Timeslots) != 1 || *fetched.Timeslots[0].Fee != 1500 || fetched.Timeslots[0].EndTime.String() != "19:00" {
			t.Fatalf("unexpected timeslots: %#v", fetched.Timeslots)
		}
		if fetched.OnSeriesEndJobID != nil || fetched.NextGenerationJobID != nil || fetched.LastGeneratedDate != nil {
			t.Fatalf("expected nil job reference and generation marker, got %#v", fetched)
		}

		jobID := "job-1"
		nextID := "job-2"
		updated, err := s.MutateSeries(ctx, "series-1", func(series *persistence.Series) error {
			series.State = persistence.SeriesStateActive
			series.OnSeriesEndJobID = &jobID
			series.NextGenerationJobID = &nextID
			return nil
		})
		if err != nil {
			t.Fatalf("MutateSeries failed: %v", err)
		}
		if updated.State != persistence.SeriesStateActive {
			t.Fatalf("expected active series, got %s", updated.State)
		}

		boom := errors.New("boom")
		if _, err := s.MutateSeries(ctx, "series-1", func(series *persistence.Series) error {
			series.State = persistence.SeriesStateDeactivated
			return boom
		}); !errors.Is(err, boom) {
			t.Fatalf("expected callback error, got %v", err)
		}

		fetched, err = s.GetSeries(ctx, "series-1")
		if err != nil {
			t.Fatalf("GetSeries failed: %v", err)
		}
		if fetched.State != persistence.SeriesStateActive || fetched.OnSeriesEndJobID == nil || *fetched.OnSeriesEndJobID != jobID {
			t.Fatalf("expected aborted mutation to leave series untouched, got %#v", fetched)
		}
		if fetched.NextGenerationJobID == nil || *fetched.NextGenerationJobID != nextID {
			t.Fatalf("expected generation job %s, got %v", nextID, fetched.NextGenerationJobID)
		}

		if _, err := s.MutateSeries(ctx, "missing", func(*persistence.Series) error { return nil }); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected persistence.ErrNotFound, got %v", err)
		}
		if err := s.DeleteSeries(ctx, "series-1"); err != nil {
			t.Fatalf("DeleteSeries failed: %v", err)
		}
		if err := s.DeleteSeries(ctx, "series-1"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected persistence.ErrNotFound, got %v", err)
		}
	})
}

func TestInstanceRepository_ConcurrentCreateIsExactlyOnce(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, s store) {
		ctx := context.Background()
		day := time.Date(2024, time.April, 2, 0, 0, 0, 0, time.UTC)
		const workers = 8

		var (
			wg      sync.WaitGroup
			created atomic.Int32
			errs    = make(chan error, workers)
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, ok, err := s.CreateInstanceIfAbsent(ctx, newInstance(fmt.Sprintf("instance-%d", i), "series-1", "club-1", day))
				if err != nil {
					errs <- err
					return
				}
				if ok {
					created.Add(1)
				}
			}(i)
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			t.Fatalf("CreateInstanceIfAbsent failed: %v", err)
		}
		if got := created.Load(); got != 1 {
			t.Fatalf("expected exactly one insert, got %d", got)
		}
		instances, err := s.ListInstancesForSeries(ctx, "series-1")
		if err != nil {
			t.Fatalf("ListInstancesForSeries failed: %v", err)
		}
		if len(instances) != 1 {
			t.Fatalf("expected one stored instance, got %d", len(instances))
		}
	})
}

func TestInstanceRepository(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, s store) {
		ctx := context.Background()
		day := time.Date(2024, time.April, 2, 0, 0, 0, 0, time.UTC)

		first, created, err := s.CreateInstanceIfAbsent(ctx, newInstance("instance-1", "series-1", "club-1", day))
		if err != nil || !created {
			t.Fatalf("expected first insert to create, got created=%v err=%v", created, err)
		}
		if first.ID != "instance-1" {
			t.Fatalf("expected instance-1, got %s", first.ID)
		}

		again, created, err := s.CreateInstanceIfAbsent(ctx, newInstance("instance-2", "series-1", "club-1", day))
		if err != nil {
			t.Fatalf("CreateInstanceIfAbsent failed: %v", err)
		}
		if created || again.ID != "instance-1" {
			t.Fatalf("expected existing instance-1 to be returned, got %s created=%v", again.ID, created)
		}
		if _, err := s.GetInstance(ctx, "instance-2"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected duplicate to be skipped, got %v", err)
		}

		for i, id := range []string{"instance-3", "instance-4"} {
			if _, _, err := s.CreateInstanceIfAbsent(ctx, newInstance(id, "series-1", "club-1", day.AddDate(0, 0, 7*(i+1)))); err != nil {
				t.Fatalf("CreateInstanceIfAbsent failed: %v", err)
			}
		}
		if _, _, err := s.CreateInstanceIfAbsent(ctx, newInstance("other-1", "series-2", "club-2", day)); err != nil {
			t.Fatalf("CreateInstanceIfAbsent failed: %v", err)
		}

		bySeries, err := s.ListInstancesForSeries(ctx, "series-1")
		if err != nil {
			t.Fatalf("ListInstancesForSeries failed: %v", err)
		}
		if len(bySeries) != 3 || bySeries[0].ID != "instance-1" || bySeries[2].ID != "instance-4" {
			t.Fatalf("unexpected series listing: %d", len(bySeries))
		}

		from := day.AddDate(0, 0, 1)
		to := day.AddDate(0, 0, 30)
		page, err := s.ListInstances(ctx, persistence.InstanceFilter{ClubID: "club-1", From: &from, To: &to, Limit: 1, Offset: 1})
		if err != nil {
			t.Fatalf("ListInstances failed: %v", err)
		}
		if len(page) != 1 || page[0].ID != "instance-4" {
			t.Fatalf("expected instance-4 on the second page, got %#v", page)
		}

		byDate, err := s.GetInstanceBySeriesDate(ctx, "series-1", "2024-04-09")
		if err != nil {
			t.Fatalf("GetInstanceBySeriesDate failed: %v", err)
		}
		if byDate.ID != "instance-3" || !byDate.Date.Equal(day.AddDate(0, 0, 7)) {
			t.Fatalf("unexpected instance for date: %#v", byDate)
		}

		jobID := "job-start"
		mutated, err := s.MutateInstance(ctx, "instance-1", func(instance *persistence.Instance) error {
			instance.Status = persistence.InstanceStatusInProgress
			instance.OnEventStartJobID = &jobID
			instance.Timeslots[0].NumParticipants = 1
			instance.Timeslots[0].Participants = append(instance.Timeslots[0].Participants, "user-9")
			return nil
		})
		if err != nil {
			t.Fatalf("MutateInstance failed: %v", err)
		}
		if mutated.Status != persistence.InstanceStatusInProgress {
			t.Fatalf("expected in_progress, got %s", mutated.Status)
		}

		fetched, err := s.GetInstance(ctx, "instance-1")
		if err != nil {
			t.Fatalf("GetInstance failed: %v", err)
		}
		if fetched.OnEventStartJobID == nil || *fetched.OnEventStartJobID != jobID || fetched.OnEventEndJobID != nil {
			t.Fatalf("unexpected job references: %#v", fetched)
		}
		if fetched.Timeslots[0].NumParticipants != 1 || len(fetched.Timeslots[0].Participants) != 1 {
			t.Fatalf("unexpected timeslot counters: %#v", fetched.Timeslots[0])
		}
		if !fetched.StartsAt.Equal(day.Add(18*time.Hour)) || fetched.EndTime.String() != "21:00" {
			t.Fatalf("unexpected times: %#v", fetched)
		}

		if err := s.DeleteInstance(ctx, "instance-1"); err != nil {
			t.Fatalf("DeleteInstance failed: %v", err)
		}
		if err := s.DeleteInstance(ctx, "instance-1"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected persistence.ErrNotFound, got %v", err)
		}
		if _, created, err := s.CreateInstanceIfAbsent(ctx, newInstance("instance-5", "series-1", "club-1", day)); err != nil || !created {
			t.Fatalf("expected recreation after delete, got created=%v err=%v", created, err)
		}
	})
}

func TestJobRepository(t *testing.T) {
	t.Parallel()

	forEachStore(t, func(t *testing.T, s store) {
		ctx := context.Background()

		newJob := func(id, key string, runAt time.Time) persistence.Job {
			return persistence.Job{
				ID:        id,
				Handler:   "instance.transition",
				Payload:   []byte(`{"instance_id":"i-1"}`),
				DedupeKey: key,
				RunAt:     runAt,
				Status:    persistence.JobStatusPending,
				CreatedAt: referenceTime,
				UpdatedAt: referenceTime,
			}
		}

		first, created, err := s.CreateJob(ctx, newJob("job-1", "key-1", referenceTime.Add(time.Hour)))
		if err != nil || !created || first.ID != "job-1" {
			t.Fatalf("expected job-1 to be created, got %#v created=%v err=%v", first, created, err)
		}
		dup, created, err := s.CreateJob(ctx, newJob("job-2", "key-1", referenceTime.Add(time.Hour)))
		if err != nil || created || dup.ID != "job-1" {
			t.Fatalf("expected pending duplicate to resolve to job-1, got %#v created=%v err=%v", dup, created, err)
		}
		if _, _, err := s.CreateJob(ctx, newJob("job-3", "key-3", referenceTime.Add(-time.Hour))); err != nil {
			t.Fatalf("CreateJob failed: %v", err)
		}

		due, err := s.ListDueJobs(ctx, referenceTime.Add(2*time.Hour), 0)
		if err != nil {
			t.Fatalf("ListDueJobs failed: %v", err)
		}
		if len(due) != 2 || due[0].ID != "job-3" || due[1].ID != "job-1" {
			t.Fatalf("unexpected due jobs: %#v", due)
		}
		due, err = s.ListDueJobs(ctx, referenceTime, 10)
		if err != nil {
			t.Fatalf("ListDueJobs failed: %v", err)
		}
		if len(due) != 1 || due[0].ID != "job-3" {
			t.Fatalf("expected only job-3 due, got %#v", due)
		}

		finished := referenceTime.Add(time.Minute)
		canceled, err := s.MutateJob(ctx, "job-1", func(job *persistence.Job) error {
			job.Status = persistence.JobStatusCanceled
			job.FinishedAt = &finished
			job.UpdatedAt = finished
			return nil
		})
		if err != nil {
			t.Fatalf("MutateJob failed: %v", err)
		}
		if canceled.Status != persistence.JobStatusCanceled {
			t.Fatalf("expected canceled, got %s", canceled.Status)
		}

		fetched, err := s.GetJob(ctx, "job-1")
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if fetched.FinishedAt == nil || !fetched.FinishedAt.Equal(finished) || string(fetched.Payload) != `{"instance_id":"i-1"}` {
			t.Fatalf("unexpected job: %#v", fetched)
		}

		replacement, created, err := s.CreateJob(ctx, newJob("job-4", "key-1", referenceTime.Add(time.Hour)))
		if err != nil || !created || replacement.ID != "job-4" {
			t.Fatalf("expected a new job once the old one is terminal, got %#v created=%v err=%v", replacement, created, err)
		}
		if _, err := s.GetJob(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected persistence.ErrNotFound, got %v", err)
		}
	})
}
