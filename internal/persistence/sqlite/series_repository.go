package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/club-scheduler/internal/persistence"
	"github.com/example/club-scheduler/internal/recurrence"
)

const seriesColumns = `id, club_id, kind, name, description, location, timezone, visibility, state,
	schedule_json, timeslots_json, on_series_end_job_id, next_generation_job_id, last_generated_date,
	created_by, created_at, updated_at`

type seriesRow struct {
	ID                string  `db:"id"`
	ClubID            string  `db:"club_id"`
	Kind              string  `db:"kind"`
	Name              string  `db:"name"`
	Description       string  `db:"description"`
	Location          string  `db:"location"`
	Timezone          string  `db:"timezone"`
	Visibility        string  `db:"visibility"`
	State             string  `db:"state"`
	Schedule          string  `db:"schedule_json"`
	Timeslots         string  `db:"timeslots_json"`
	OnSeriesEndJobID  *string `db:"on_series_end_job_id"`
	NextGenJobID      *string `db:"next_generation_job_id"`
	LastGeneratedDate *string `db:"last_generated_date"`
	CreatedBy         string  `db:"created_by"`
	CreatedAt         string  `db:"created_at"`
	UpdatedAt         string  `db:"updated_at"`
}

// scheduleDocument is the JSON shape of recurrence.Schedule in schedule_json.
type scheduleDocument struct {
	Kind       recurrence.Kind      `json:"kind"`
	StartTime  recurrence.TimeOfDay `json:"start_time"`
	EndTime    recurrence.TimeOfDay `json:"end_time"`
	StartDate  *time.Time           `json:"start_date,omitempty"`
	EndDate    *time.Time           `json:"end_date,omitempty"`
	Date       *time.Time           `json:"date,omitempty"`
	DaysOfWeek []time.Weekday       `json:"days_of_week,omitempty"`
	DayOfMonth int                  `json:"day_of_month,omitempty"`
	Interval   int                  `json:"interval"`
}

// CreateSeries inserts a series.
func (s *Store) CreateSeries(ctx context.Context, series persistence.Series) error {
	args, err := seriesArgs(series)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO event_series (`+seriesColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
		return err
	})
}

// GetSeries loads a series by ID.
func (s *Store) GetSeries(ctx context.Context, id string) (persistence.Series, error) {
	var row seriesRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+seriesColumns+` FROM event_series WHERE id = ?`, id); err != nil {
		return persistence.Series{}, mapError(err)
	}
	return row.toSeries()
}

// MutateSeries loads, modifies and rewrites a series inside one transaction.
func (s *Store) MutateSeries(ctx context.Context, id string, fn func(*persistence.Series) error) (persistence.Series, error) {
	var result persistence.Series
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var row seriesRow
		if err := tx.GetContext(ctx, &row, `SELECT `+seriesColumns+` FROM event_series WHERE id = ?`, id); err != nil {
			return mapError(err)
		}
		series, err := row.toSeries()
		if err != nil {
			return err
		}
		if err := fn(&series); err != nil {
			return err
		}
		series.ID = id

		args, err := seriesArgs(series)
		if err != nil {
			return err
		}
		// Drop the id from the head of args and append it for the WHERE clause.
		args = append(args[1:], id)
		if _, err := tx.ExecContext(ctx, `UPDATE event_series SET
				club_id = ?, kind = ?, name = ?, description = ?, location = ?, timezone = ?,
				visibility = ?, state = ?, schedule_json = ?, timeslots_json = ?,
				on_series_end_job_id = ?, next_generation_job_id = ?, last_generated_date = ?, created_by = ?,
				created_at = ?, updated_at = ?
			WHERE id = ?`, args...); err != nil {
			return err
		}
		result = series
		return nil
	})
	if err != nil {
		return persistence.Series{}, err
	}
	return result, nil
}

// DeleteSeries removes a series. Its instances are left in place.
func (s *Store) DeleteSeries(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM event_series WHERE id = ?`, id)
		if err != nil {
			return err
		}
		return rowsAffectedOrNotFound(result)
	})
}

func seriesArgs(series persistence.Series) ([]any, error) {
	schedule := series.Schedule
	scheduleJSON, err := json.Marshal(scheduleDocument{
		Kind:       schedule.Kind,
		StartTime:  schedule.StartTime,
		EndTime:    schedule.EndTime,
		StartDate:  schedule.StartDate,
		EndDate:    schedule.EndDate,
		Date:       schedule.Date,
		DaysOfWeek: schedule.DaysOfWeek,
		DayOfMonth: schedule.DayOfMonth,
		Interval:   schedule.Interval,
	})
	if err != nil {
		return nil, fmt.Errorf("encode schedule: %w", err)
	}
	timeslots := series.Timeslots
	if timeslots == nil {
		timeslots = []persistence.TimeslotTemplate{}
	}
	timeslotsJSON, err := json.Marshal(timeslots)
	if err != nil {
		return nil, fmt.Errorf("encode timeslots: %w", err)
	}

	return []any{
		series.ID,
		series.ClubID,
		string(series.Kind),
		series.Name,
		series.Description,
		series.Location,
		series.Timezone,
		string(series.Visibility),
		string(series.State),
		string(scheduleJSON),
		string(timeslotsJSON),
		series.OnSeriesEndJobID,
		series.NextGenerationJobID,
		formatOptionalTime(series.LastGeneratedDate),
		series.CreatedBy,
		formatTime(series.CreatedAt),
		formatTime(series.UpdatedAt),
	}, nil
}

func (row seriesRow) toSeries() (persistence.Series, error) {
	var doc scheduleDocument
	if err := json.Unmarshal([]byte(row.Schedule), &doc); err != nil {
		return persistence.Series{}, fmt.Errorf("decode schedule for series %s: %w", row.ID, err)
	}
	var timeslots []persistence.TimeslotTemplate
	if err := json.Unmarshal([]byte(row.Timeslots), &timeslots); err != nil {
		return persistence.Series{}, fmt.Errorf("decode timeslots for series %s: %w", row.ID, err)
	}
	lastGenerated, err := parseOptionalTime(row.LastGeneratedDate)
	if err != nil {
		return persistence.Series{}, err
	}
	createdAt, err := parseTime(row.CreatedAt)
	if err != nil {
		return persistence.Series{}, err
	}
	updatedAt, err := parseTime(row.UpdatedAt)
	if err != nil {
		return persistence.Series{}, err
	}

	return persistence.Series{
		ID:          row.ID,
		ClubID:      row.ClubID,
		Kind:        persistence.SeriesKind(row.Kind),
		Name:        row.Name,
		Description: row.Description,
		Location:    row.Location,
		Timezone:    row.Timezone,
		Visibility:  persistence.Visibility(row.Visibility),
		State:       persistence.SeriesState(row.State),
		Schedule: recurrence.Schedule{
			Kind:       doc.Kind,
			StartTime:  doc.StartTime,
			EndTime:    doc.EndTime,
			StartDate:  utcPtr(doc.StartDate),
			EndDate:    utcPtr(doc.EndDate),
			Date:       utcPtr(doc.Date),
			DaysOfWeek: doc.DaysOfWeek,
			DayOfMonth: doc.DayOfMonth,
			Interval:   doc.Interval,
		},
		Timeslots:           timeslots,
		OnSeriesEndJobID:    row.OnSeriesEndJobID,
		NextGenerationJobID: row.NextGenJobID,
		LastGeneratedDate:   lastGenerated,
		CreatedBy:           row.CreatedBy,
		CreatedAt:           createdAt,
		UpdatedAt:           updatedAt,
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	value := t.UTC()
	return &value
}
