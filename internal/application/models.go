package application

import (
	"context"
	"time"

	"github.com/example/club-scheduler/internal/persistence"
)

// Principal represents the authenticated user invoking a service method.
type Principal struct {
	UserID string
}

// JobScheduler registers time-triggered handler invocations. Job ids are
// opaque handles.
type JobScheduler interface {
	ScheduleAt(ctx context.Context, runAt time.Time, handler string, payload []byte) (string, error)
	Cancel(ctx context.Context, id string) error
	Status(ctx context.Context, id string) (persistence.JobStatus, error)
}

// JobRegistry binds handler names to functions.
type JobRegistry interface {
	Register(name string, handler func(ctx context.Context, payload []byte) error)
}

// ClubDirectory resolves clubs and their current members.
type ClubDirectory interface {
	GetClub(ctx context.Context, id string) (persistence.Club, error)
	ListMembers(ctx context.Context, clubID string) ([]persistence.Member, error)
}

// Limits are the deployment-wide bounds enforced at validation time.
type Limits struct {
	MaxStartDaysAhead    int
	MaxTotalParticipants int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{MaxStartDaysAhead: 365, MaxTotalParticipants: 500}
}

// ScheduleInput captures caller provided recurrence fields. Dates are local
// calendar dates (YYYY-MM-DD) in the series timezone.
type ScheduleInput struct {
	Recurrence string `validate:"required,oneof=one_time daily weekly monthly"`
	StartTime  string `validate:"required,hhmm"`
	EndTime    string `validate:"required,hhmm"`
	StartDate  string `validate:"omitempty,datetime=2006-01-02"`
	EndDate    string `validate:"omitempty,datetime=2006-01-02"`
	Date       string `validate:"omitempty,datetime=2006-01-02"`
	DaysOfWeek []int  `validate:"omitempty,unique,dive,min=0,max=6"`
	DayOfMonth int    `validate:"omitempty,min=1,max=31"`
	Interval   int
}

// SchedulePatch carries the schedule fields an update changes. Nil fields
// keep the stored value.
type SchedulePatch struct {
	Recurrence *string
	StartTime  *string
	EndTime    *string
	StartDate  *string
	EndDate    *string
	Date       *string
	DaysOfWeek *[]int
	DayOfMonth *int
	Interval   *int
}

// TimeslotInput captures caller provided timeslot fields.
type TimeslotInput struct {
	Name                  string   `validate:"required,max=100"`
	CapacityModel         string   `validate:"required,oneof=duration start_end"`
	DurationMinutes       int      `validate:"min=0"`
	StartTime             *string  `validate:"omitempty,hhmm"`
	EndTime               *string  `validate:"omitempty,hhmm"`
	FeeType               string   `validate:"required,oneof=fixed split"`
	Fee                   *int64
	MaxParticipants       int      `validate:"gt=0"`
	MaxWaitlist           int      `validate:"min=0"`
	PermanentParticipants []string `validate:"omitempty,unique,dive,required"`
}

// CreateSeriesInput captures the fields of a new series.
type CreateSeriesInput struct {
	ClubID      string          `validate:"required"`
	Kind        string          `validate:"required,oneof=event session"`
	Name        string          `validate:"required,max=200"`
	Description string          `validate:"max=2000"`
	Location    string          `validate:"max=200"`
	Timezone    string          `validate:"required,timezone"`
	Visibility  string          `validate:"required,oneof=public members_only"`
	Schedule    ScheduleInput   `validate:"-"`
	Timeslots   []TimeslotInput `validate:"-"`
	// Activate runs activation right after the series is stored.
	Activate bool
}

// UpdateSeriesInput carries the fields an update changes. Nil fields keep
// the stored value. The timezone of a series is fixed at creation.
type UpdateSeriesInput struct {
	Name        *string          `validate:"omitempty,min=1,max=200"`
	Description *string          `validate:"omitempty,max=2000"`
	Location    *string          `validate:"omitempty,max=200"`
	Visibility  *string          `validate:"omitempty,oneof=public members_only"`
	Schedule    *SchedulePatch   `validate:"-"`
	Timeslots   *[]TimeslotInput `validate:"-"`
}

// Page bounds a listing.
type Page struct {
	Limit  int
	Offset int
}

// ScheduleStatuses reports the transition jobs of an instance.
type ScheduleStatuses struct {
	InstanceID  string
	StartJobID  *string
	StartStatus *persistence.JobStatus
	EndJobID    *string
	EndStatus   *persistence.JobStatus
}

// DeactivationStatus reports the series-end job of a series.
type DeactivationStatus struct {
	SeriesID          string
	State             persistence.SeriesState
	JobID             *string
	JobStatus         *persistence.JobStatus
	LastGeneratedDate *time.Time
}

// JoinResult describes where a join placed the user.
type JoinResult struct {
	Instance   persistence.Instance
	TimeslotID string
	Waitlisted bool
}
