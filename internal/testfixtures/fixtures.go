package testfixtures

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/club-scheduler/internal/application"
	"github.com/example/club-scheduler/internal/persistence"
)

var (
	clubCounter   uint64
	seriesCounter uint64
)

var referenceTime = time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ----------------------------- Club fixtures -----------------------------

// ClubFixture represents a deterministic club with its member roster.
type ClubFixture struct {
	ID        string
	Name      string
	Public    bool
	MemberIDs []string
	CreatedAt time.Time
}

// ClubOption configures the generated club fixture.
type ClubOption func(*ClubFixture)

// NewClubFixture returns a deterministic public club fixture with optional overrides.
func NewClubFixture(opts ...ClubOption) ClubFixture {
	idx := atomic.AddUint64(&clubCounter, 1)
	id := fmt.Sprintf("club-%03d", idx)
	fixture := ClubFixture{
		ID:        id,
		Name:      fmt.Sprintf("Club %03d", idx),
		Public:    true,
		CreatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithClubID overrides the generated club ID.
func WithClubID(id string) ClubOption {
	return func(f *ClubFixture) {
		f.ID = id
	}
}

// WithClubPublic sets whether the club is public.
func WithClubPublic(public bool) ClubOption {
	return func(f *ClubFixture) {
		f.Public = public
	}
}

// WithClubMembers sets the member user IDs.
func WithClubMembers(userIDs ...string) ClubOption {
	return func(f *ClubFixture) {
		f.MemberIDs = append([]string(nil), userIDs...)
	}
}

// Persistence returns the fixture as a persistence.Club value.
func (f ClubFixture) Persistence() persistence.Club {
	return persistence.Club{ID: f.ID, Name: f.Name, Public: f.Public, CreatedAt: f.CreatedAt}
}

// Seed stores the club and its members in repo.
func (f ClubFixture) Seed(tb testing.TB, repo persistence.ClubRepository) ClubFixture {
	tb.Helper()
	ctx := context.Background()
	if err := repo.CreateClub(ctx, f.Persistence()); err != nil {
		tb.Fatalf("failed to seed club %s: %v", f.ID, err)
	}
	for _, userID := range f.MemberIDs {
		if err := repo.AddMember(ctx, persistence.Member{ClubID: f.ID, UserID: userID, JoinedAt: f.CreatedAt}); err != nil {
			tb.Fatalf("failed to seed member %s: %v", userID, err)
		}
	}
	return f
}

// --------------------------- Timeslot fixtures ---------------------------

// TimeslotOption configures a generated timeslot input.
type TimeslotOption func(*application.TimeslotInput)

// NewTimeslotInput returns a duration-model, split-fee slot of 60 minutes
// for ten participants.
func NewTimeslotInput(opts ...TimeslotOption) application.TimeslotInput {
	slot := application.TimeslotInput{
		Name:            "Main court",
		CapacityModel:   string(persistence.CapacityModelDuration),
		DurationMinutes: 60,
		FeeType:         string(persistence.FeeTypeSplit),
		MaxParticipants: 10,
		MaxWaitlist:     2,
	}
	for _, opt := range opts {
		opt(&slot)
	}
	return slot
}

// WithSlotName overrides the slot name.
func WithSlotName(name string) TimeslotOption {
	return func(s *application.TimeslotInput) {
		s.Name = name
	}
}

// WithSlotCapacity sets the participant and waitlist limits.
func WithSlotCapacity(maxParticipants, maxWaitlist int) TimeslotOption {
	return func(s *application.TimeslotInput) {
		s.MaxParticipants = maxParticipants
		s.MaxWaitlist = maxWaitlist
	}
}

// WithSlotDuration switches the slot to the duration model.
func WithSlotDuration(minutes int) TimeslotOption {
	return func(s *application.TimeslotInput) {
		s.CapacityModel = string(persistence.CapacityModelDuration)
		s.DurationMinutes = minutes
		s.StartTime = nil
		s.EndTime = nil
	}
}

// WithSlotWindow switches the slot to the start_end model.
func WithSlotWindow(start, end string) TimeslotOption {
	return func(s *application.TimeslotInput) {
		s.CapacityModel = string(persistence.CapacityModelStartEnd)
		s.DurationMinutes = 0
		s.StartTime = &start
		s.EndTime = &end
	}
}

// WithSlotFixedFee sets a fixed fee in minor units.
func WithSlotFixedFee(fee int64) TimeslotOption {
	return func(s *application.TimeslotInput) {
		s.FeeType = string(persistence.FeeTypeFixed)
		s.Fee = &fee
	}
}

// WithSlotPermanentParticipants pre-enrols the given users.
func WithSlotPermanentParticipants(userIDs ...string) TimeslotOption {
	return func(s *application.TimeslotInput) {
		s.PermanentParticipants = append([]string(nil), userIDs...)
	}
}

// ---------------------------- Series fixtures ----------------------------

// SeriesOption configures a generated series input.
type SeriesOption func(*application.CreateSeriesInput)

// NewSeriesInput returns a weekly Monday session from 18:00 to 20:00 in UTC,
// running from 2024-05-06 to 2024-06-24, with one timeslot.
func NewSeriesInput(clubID string, opts ...SeriesOption) application.CreateSeriesInput {
	idx := atomic.AddUint64(&seriesCounter, 1)
	input := application.CreateSeriesInput{
		ClubID:     clubID,
		Kind:       string(persistence.SeriesKindSession),
		Name:       fmt.Sprintf("Series %03d", idx),
		Location:   "Hall A",
		Timezone:   "UTC",
		Visibility: string(persistence.VisibilityMembersOnly),
		Schedule: application.ScheduleInput{
			Recurrence: "weekly",
			StartTime:  "18:00",
			EndTime:    "20:00",
			StartDate:  "2024-05-06",
			EndDate:    "2024-06-24",
			DaysOfWeek: []int{int(time.Monday)},
			Interval:   1,
		},
		Timeslots: []application.TimeslotInput{NewTimeslotInput()},
	}
	for _, opt := range opts {
		opt(&input)
	}
	return input
}

// WithSeriesKind sets event or session.
func WithSeriesKind(kind persistence.SeriesKind) SeriesOption {
	return func(in *application.CreateSeriesInput) {
		in.Kind = string(kind)
	}
}

// WithSeriesTimezone sets the IANA timezone.
func WithSeriesTimezone(tz string) SeriesOption {
	return func(in *application.CreateSeriesInput) {
		in.Timezone = tz
	}
}

// WithSeriesVisibility sets the visibility.
func WithSeriesVisibility(visibility persistence.Visibility) SeriesOption {
	return func(in *application.CreateSeriesInput) {
		in.Visibility = string(visibility)
	}
}

// WithSeriesSchedule replaces the schedule input.
func WithSeriesSchedule(schedule application.ScheduleInput) SeriesOption {
	return func(in *application.CreateSeriesInput) {
		in.Schedule = schedule
	}
}

// WithDailySchedule switches to a daily schedule between two local dates.
func WithDailySchedule(startDate, endDate string) SeriesOption {
	return func(in *application.CreateSeriesInput) {
		in.Schedule = application.ScheduleInput{
			Recurrence: "daily",
			StartTime:  in.Schedule.StartTime,
			EndTime:    in.Schedule.EndTime,
			StartDate:  startDate,
			EndDate:    endDate,
			Interval:   1,
		}
	}
}

// WithOneTimeSchedule switches to a single local date.
func WithOneTimeSchedule(date string) SeriesOption {
	return func(in *application.CreateSeriesInput) {
		in.Schedule = application.ScheduleInput{
			Recurrence: "one_time",
			StartTime:  in.Schedule.StartTime,
			EndTime:    in.Schedule.EndTime,
			Date:       date,
		}
	}
}

// WithSeriesTimeslots replaces the timeslot inputs.
func WithSeriesTimeslots(slots ...application.TimeslotInput) SeriesOption {
	return func(in *application.CreateSeriesInput) {
		in.Timeslots = slots
	}
}

// WithActivate asks CreateSeries to activate the series.
func WithActivate() SeriesOption {
	return func(in *application.CreateSeriesInput) {
		in.Activate = true
	}
}
