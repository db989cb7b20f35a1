package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/club-scheduler/internal/persistence"
	"github.com/example/club-scheduler/internal/recurrence"
)

const instanceColumns = `id, series_id, club_id, date, local_date, name, description, location,
	timezone, visibility, start_time, end_time, starts_at, ends_at, timeslots_json, status,
	on_event_start_job_id, on_event_end_job_id, created_by, created_at, updated_at`

type instanceRow struct {
	ID                string               `db:"id"`
	SeriesID          string               `db:"series_id"`
	ClubID            string               `db:"club_id"`
	Date              string               `db:"date"`
	LocalDate         string               `db:"local_date"`
	Name              string               `db:"name"`
	Description       string               `db:"description"`
	Location          string               `db:"location"`
	Timezone          string               `db:"timezone"`
	Visibility        string               `db:"visibility"`
	StartTime         recurrence.TimeOfDay `db:"start_time"`
	EndTime           recurrence.TimeOfDay `db:"end_time"`
	StartsAt          string               `db:"starts_at"`
	EndsAt            string               `db:"ends_at"`
	Timeslots         string               `db:"timeslots_json"`
	Status            string               `db:"status"`
	OnEventStartJobID *string              `db:"on_event_start_job_id"`
	OnEventEndJobID   *string              `db:"on_event_end_job_id"`
	CreatedBy         string               `db:"created_by"`
	CreatedAt         string               `db:"created_at"`
	UpdatedAt         string               `db:"updated_at"`
}

// CreateInstanceIfAbsent looks up (series_id, local_date) and inserts within
// the same transaction; the unique index backs the check.
func (s *Store) CreateInstanceIfAbsent(ctx context.Context, instance persistence.Instance) (persistence.Instance, bool, error) {
	args, err := instanceArgs(instance)
	if err != nil {
		return persistence.Instance{}, false, err
	}

	var (
		stored  persistence.Instance
		created bool
	)
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		var row instanceRow
		err := tx.GetContext(ctx, &row, `SELECT `+instanceColumns+` FROM event_instances
			WHERE series_id = ? AND local_date = ?`, instance.SeriesID, instance.LocalDate)
		switch mapped := mapError(err); {
		case mapped == nil:
			stored, err = row.toInstance()
			created = false
			return err
		case !errors.Is(mapped, persistence.ErrNotFound):
			return mapped
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO event_instances (`+instanceColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...); err != nil {
			return err
		}
		stored = persistence.CloneInstance(instance)
		created = true
		return nil
	})
	if err != nil {
		return persistence.Instance{}, false, err
	}
	return stored, created, nil
}

// GetInstance loads an instance by ID.
func (s *Store) GetInstance(ctx context.Context, id string) (persistence.Instance, error) {
	var row instanceRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+instanceColumns+` FROM event_instances WHERE id = ?`, id); err != nil {
		return persistence.Instance{}, mapError(err)
	}
	return row.toInstance()
}

// GetInstanceBySeriesDate loads the instance of a series on a local date.
func (s *Store) GetInstanceBySeriesDate(ctx context.Context, seriesID, localDate string) (persistence.Instance, error) {
	var row instanceRow
	err := s.db.GetContext(ctx, &row, `SELECT `+instanceColumns+` FROM event_instances
		WHERE series_id = ? AND local_date = ?`, seriesID, localDate)
	if err != nil {
		return persistence.Instance{}, mapError(err)
	}
	return row.toInstance()
}

// ListInstancesForSeries returns a series' instances ordered by date.
func (s *Store) ListInstancesForSeries(ctx context.Context, seriesID string) ([]persistence.Instance, error) {
	var rows []instanceRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+instanceColumns+` FROM event_instances
		WHERE series_id = ? ORDER BY date, id`, seriesID)
	if err != nil {
		return nil, mapError(err)
	}
	return toInstances(rows)
}

// ListInstances returns instances matching filter ordered by date.
func (s *Store) ListInstances(ctx context.Context, filter persistence.InstanceFilter) ([]persistence.Instance, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.ClubID != "" {
		clauses = append(clauses, "club_id = ?")
		args = append(args, filter.ClubID)
	}
	if filter.From != nil {
		clauses = append(clauses, "date >= ?")
		args = append(args, formatTime(*filter.From))
	}
	if filter.To != nil {
		clauses = append(clauses, "date <= ?")
		args = append(args, formatTime(*filter.To))
	}

	query := `SELECT ` + instanceColumns + ` FROM event_instances`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY date, id LIMIT ? OFFSET ?"
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit, max(filter.Offset, 0))

	var rows []instanceRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, mapError(err)
	}
	return toInstances(rows)
}

// MutateInstance loads, modifies and rewrites an instance inside one transaction.
// The identity columns (id, series_id, local_date) are never rewritten.
func (s *Store) MutateInstance(ctx context.Context, id string, fn func(*persistence.Instance) error) (persistence.Instance, error) {
	var result persistence.Instance
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var row instanceRow
		if err := tx.GetContext(ctx, &row, `SELECT `+instanceColumns+` FROM event_instances WHERE id = ?`, id); err != nil {
			return mapError(err)
		}
		instance, err := row.toInstance()
		if err != nil {
			return err
		}
		if err := fn(&instance); err != nil {
			return err
		}
		instance.ID = row.ID
		instance.SeriesID = row.SeriesID
		instance.LocalDate = row.LocalDate

		timeslotsJSON, err := encodeSnapshots(instance.Timeslots)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE event_instances SET
				club_id = ?, date = ?, name = ?, description = ?, location = ?, timezone = ?,
				visibility = ?, start_time = ?, end_time = ?, starts_at = ?, ends_at = ?,
				timeslots_json = ?, status = ?, on_event_start_job_id = ?, on_event_end_job_id = ?,
				created_by = ?, created_at = ?, updated_at = ?
			WHERE id = ?`,
			instance.ClubID,
			formatTime(instance.Date),
			instance.Name,
			instance.Description,
			instance.Location,
			instance.Timezone,
			string(instance.Visibility),
			instance.StartTime.String(),
			instance.EndTime.String(),
			formatTime(instance.StartsAt),
			formatTime(instance.EndsAt),
			timeslotsJSON,
			string(instance.Status),
			instance.OnEventStartJobID,
			instance.OnEventEndJobID,
			instance.CreatedBy,
			formatTime(instance.CreatedAt),
			formatTime(instance.UpdatedAt),
			id,
		)
		if err != nil {
			return err
		}
		result = instance
		return nil
	})
	if err != nil {
		return persistence.Instance{}, err
	}
	return result, nil
}

// DeleteInstance removes an instance by ID.
func (s *Store) DeleteInstance(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM event_instances WHERE id = ?`, id)
		if err != nil {
			return err
		}
		return rowsAffectedOrNotFound(result)
	})
}

func instanceArgs(instance persistence.Instance) ([]any, error) {
	timeslotsJSON, err := encodeSnapshots(instance.Timeslots)
	if err != nil {
		return nil, err
	}
	return []any{
		instance.ID,
		instance.SeriesID,
		instance.ClubID,
		formatTime(instance.Date),
		instance.LocalDate,
		instance.Name,
		instance.Description,
		instance.Location,
		instance.Timezone,
		string(instance.Visibility),
		instance.StartTime.String(),
		instance.EndTime.String(),
		formatTime(instance.StartsAt),
		formatTime(instance.EndsAt),
		timeslotsJSON,
		string(instance.Status),
		instance.OnEventStartJobID,
		instance.OnEventEndJobID,
		instance.CreatedBy,
		formatTime(instance.CreatedAt),
		formatTime(instance.UpdatedAt),
	}, nil
}

func encodeSnapshots(slots []persistence.TimeslotSnapshot) (string, error) {
	if slots == nil {
		slots = []persistence.TimeslotSnapshot{}
	}
	encoded, err := json.Marshal(slots)
	if err != nil {
		return "", fmt.Errorf("encode timeslots: %w", err)
	}
	return string(encoded), nil
}

func toInstances(rows []instanceRow) ([]persistence.Instance, error) {
	instances := make([]persistence.Instance, 0, len(rows))
	for _, row := range rows {
		instance, err := row.toInstance()
		if err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

func (row instanceRow) toInstance() (persistence.Instance, error) {
	var timeslots []persistence.TimeslotSnapshot
	if err := json.Unmarshal([]byte(row.Timeslots), &timeslots); err != nil {
		return persistence.Instance{}, fmt.Errorf("decode timeslots for instance %s: %w", row.ID, err)
	}

	instance := persistence.Instance{
		ID:                row.ID,
		SeriesID:          row.SeriesID,
		ClubID:            row.ClubID,
		LocalDate:         row.LocalDate,
		Name:              row.Name,
		Description:       row.Description,
		Location:          row.Location,
		Timezone:          row.Timezone,
		Visibility:        persistence.Visibility(row.Visibility),
		StartTime:         row.StartTime,
		EndTime:           row.EndTime,
		Timeslots:         timeslots,
		Status:            persistence.InstanceStatus(row.Status),
		OnEventStartJobID: row.OnEventStartJobID,
		OnEventEndJobID:   row.OnEventEndJobID,
		CreatedBy:         row.CreatedBy,
	}

	var err error
	for _, field := range []struct {
		raw    string
		target *time.Time
	}{
		{row.Date, &instance.Date},
		{row.StartsAt, &instance.StartsAt},
		{row.EndsAt, &instance.EndsAt},
		{row.CreatedAt, &instance.CreatedAt},
		{row.UpdatedAt, &instance.UpdatedAt},
	} {
		if *field.target, err = parseTime(field.raw); err != nil {
			return persistence.Instance{}, fmt.Errorf("instance %s: %w", row.ID, err)
		}
	}
	return instance, nil
}
