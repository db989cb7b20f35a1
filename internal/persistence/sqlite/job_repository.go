package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/club-scheduler/internal/persistence"
)

const jobColumns = `id, handler, payload, dedupe_key, run_at, status, attempts, last_error,
	created_at, updated_at, finished_at`

type jobRow struct {
	ID         string  `db:"id"`
	Handler    string  `db:"handler"`
	Payload    []byte  `db:"payload"`
	DedupeKey  string  `db:"dedupe_key"`
	RunAt      string  `db:"run_at"`
	Status     string  `db:"status"`
	Attempts   int     `db:"attempts"`
	LastError  *string `db:"last_error"`
	CreatedAt  string  `db:"created_at"`
	UpdatedAt  string  `db:"updated_at"`
	FinishedAt *string `db:"finished_at"`
}

// CreateJob inserts a job unless a pending job already carries its dedupe key.
func (s *Store) CreateJob(ctx context.Context, job persistence.Job) (persistence.Job, bool, error) {
	var (
		stored  persistence.Job
		created bool
	)
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if job.DedupeKey != "" {
			var row jobRow
			err := tx.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM scheduled_jobs
				WHERE dedupe_key = ? AND status = 'pending'`, job.DedupeKey)
			switch mapped := mapError(err); {
			case mapped == nil:
				stored, err = row.toJob()
				created = false
				return err
			case !errors.Is(mapped, persistence.ErrNotFound):
				return mapped
			}
		}

		payload := job.Payload
		if payload == nil {
			payload = []byte{}
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO scheduled_jobs (`+jobColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ID,
			job.Handler,
			payload,
			job.DedupeKey,
			formatTime(job.RunAt),
			string(job.Status),
			job.Attempts,
			job.LastError,
			formatTime(job.CreatedAt),
			formatTime(job.UpdatedAt),
			formatOptionalTime(job.FinishedAt),
		)
		if err != nil {
			return err
		}
		stored = persistence.CloneJob(job)
		created = true
		return nil
	})
	if err != nil {
		return persistence.Job{}, false, err
	}
	return stored, created, nil
}

// GetJob loads a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (persistence.Job, error) {
	var row jobRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = ?`, id); err != nil {
		return persistence.Job{}, mapError(err)
	}
	return row.toJob()
}

// ListDueJobs returns pending jobs due at or before reference, oldest first.
func (s *Store) ListDueJobs(ctx context.Context, reference time.Time, limit int) ([]persistence.Job, error) {
	if limit <= 0 {
		limit = -1
	}
	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+jobColumns+` FROM scheduled_jobs
		WHERE status = 'pending' AND run_at <= ?
		ORDER BY run_at, created_at, id
		LIMIT ?`, formatTime(reference), limit)
	if err != nil {
		return nil, mapError(err)
	}

	jobs := make([]persistence.Job, 0, len(rows))
	for _, row := range rows {
		job, err := row.toJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// MutateJob loads, modifies and rewrites a job inside one transaction.
func (s *Store) MutateJob(ctx context.Context, id string, fn func(*persistence.Job) error) (persistence.Job, error) {
	var result persistence.Job
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var row jobRow
		if err := tx.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = ?`, id); err != nil {
			return mapError(err)
		}
		job, err := row.toJob()
		if err != nil {
			return err
		}
		if err := fn(&job); err != nil {
			return err
		}
		job.ID = id

		_, err = tx.ExecContext(ctx, `UPDATE scheduled_jobs SET
				run_at = ?, status = ?, attempts = ?, last_error = ?, updated_at = ?, finished_at = ?
			WHERE id = ?`,
			formatTime(job.RunAt),
			string(job.Status),
			job.Attempts,
			job.LastError,
			formatTime(job.UpdatedAt),
			formatOptionalTime(job.FinishedAt),
			id,
		)
		if err != nil {
			return err
		}
		result = job
		return nil
	})
	if err != nil {
		return persistence.Job{}, err
	}
	return result, nil
}

func (row jobRow) toJob() (persistence.Job, error) {
	runAt, err := parseTime(row.RunAt)
	if err != nil {
		return persistence.Job{}, fmt.Errorf("job %s: %w", row.ID, err)
	}
	createdAt, err := parseTime(row.CreatedAt)
	if err != nil {
		return persistence.Job{}, fmt.Errorf("job %s: %w", row.ID, err)
	}
	updatedAt, err := parseTime(row.UpdatedAt)
	if err != nil {
		return persistence.Job{}, fmt.Errorf("job %s: %w", row.ID, err)
	}
	finishedAt, err := parseOptionalTime(row.FinishedAt)
	if err != nil {
		return persistence.Job{}, fmt.Errorf("job %s: %w", row.ID, err)
	}

	return persistence.Job{
		ID:         row.ID,
		Handler:    row.Handler,
		Payload:    row.Payload,
		DedupeKey:  row.DedupeKey,
		RunAt:      runAt,
		Status:     persistence.JobStatus(row.Status),
		Attempts:   row.Attempts,
		LastError:  row.LastError,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
		FinishedAt: finishedAt,
	}, nil
}
