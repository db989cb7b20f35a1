package persistence

import (
	"time"

	"github.com/example/club-scheduler/internal/recurrence"
)

// SeriesKind distinguishes competitive events from casual sessions.
type SeriesKind string

const (
	SeriesKindEvent   SeriesKind = "event"
	SeriesKindSession SeriesKind = "session"
)

// Visibility controls who may see a series and its instances.
type Visibility string

const (
	VisibilityPublic      Visibility = "public"
	VisibilityMembersOnly Visibility = "members_only"
)

// SeriesState is the lifecycle state of a series.
type SeriesState string

const (
	SeriesStateInactive    SeriesState = "inactive"
	SeriesStateActive      SeriesState = "active"
	SeriesStateDeactivated SeriesState = "deactivated"
)

// InstanceStatus is the time-driven status of a materialised instance.
type InstanceStatus string

const (
	InstanceStatusNotStarted InstanceStatus = "not_started"
	InstanceStatusInProgress InstanceStatus = "in_progress"
	InstanceStatusCompleted  InstanceStatus = "completed"
	InstanceStatusCancelled  InstanceStatus = "cancelled"
)

// CapacityModel selects how a timeslot's window is expressed.
type CapacityModel string

const (
	CapacityModelDuration CapacityModel = "duration"
	CapacityModelStartEnd CapacityModel = "start_end"
)

// FeeType selects how a timeslot is charged.
type FeeType string

const (
	FeeTypeFixed FeeType = "fixed"
	FeeTypeSplit FeeType = "split"
)

// JobStatus is the state of a scheduled job. Executed and canceled are terminal.
type JobStatus string

const (
	JobStatusPending  JobStatus = "pending"
	JobStatusExecuted JobStatus = "executed"
	JobStatusCanceled JobStatus = "canceled"
)

// Club is the owner of series.
type Club struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Public    bool      `db:"is_public"`
	CreatedAt time.Time `db:"created_at"`
}

// Member links a user to a club.
type Member struct {
	ClubID   string    `db:"club_id"`
	UserID   string    `db:"user_id"`
	JoinedAt time.Time `db:"joined_at"`
}

// TimeslotTemplate defines a bookable unit copied into each instance.
type TimeslotTemplate struct {
	Name                  string                `json:"name"`
	CapacityModel         CapacityModel         `json:"capacity_model"`
	DurationMinutes       int                   `json:"duration_minutes,omitempty"`
	StartTime             *recurrence.TimeOfDay `json:"start_time,omitempty"`
	EndTime               *recurrence.TimeOfDay `json:"end_time,omitempty"`
	FeeType               FeeType               `json:"fee_type"`
	Fee                   *int64                `json:"fee,omitempty"`
	MaxParticipants       int                   `json:"max_participants"`
	MaxWaitlist           int                   `json:"max_waitlist"`
	PermanentParticipants []string              `json:"permanent_participants,omitempty"`
}

// TimeslotSnapshot is the per-instance copy of a template with live counters.
type TimeslotSnapshot struct {
	ID string `json:"id"`
	TimeslotTemplate
	NumParticipants int      `json:"num_participants"`
	NumWaitlisted   int      `json:"num_waitlisted"`
	Participants    []string `json:"participants"`
	Waitlist        []string `json:"waitlist"`
}

// Series is a recurrence template owned by a club.
type Series struct {
	ID                  string
	ClubID              string
	Kind                SeriesKind
	Name                string
	Description         string
	Location            string
	Timezone            string
	Visibility          Visibility
	State               SeriesState
	Schedule            recurrence.Schedule
	Timeslots           []TimeslotTemplate
	OnSeriesEndJobID    *string
	// NextGenerationJobID is the most recently registered generate-next job.
	NextGenerationJobID *string
	LastGeneratedDate   *time.Time
	CreatedBy           string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Instance is one dated occurrence of a series.
type Instance struct {
	ID                string
	SeriesID          string
	ClubID            string
	Date              time.Time
	LocalDate         string
	Name              string
	Description       string
	Location          string
	Timezone          string
	Visibility        Visibility
	StartTime         recurrence.TimeOfDay
	EndTime           recurrence.TimeOfDay
	StartsAt          time.Time
	EndsAt            time.Time
	Timeslots         []TimeslotSnapshot
	Status            InstanceStatus
	OnEventStartJobID *string
	OnEventEndJobID   *string
	CreatedBy         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Job is a persisted time-triggered handler invocation.
type Job struct {
	ID         string
	Handler    string
	Payload    []byte
	DedupeKey  string
	RunAt      time.Time
	Status     JobStatus
	Attempts   int
	LastError  *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt *time.Time
}
