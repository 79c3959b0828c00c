package cron

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobStore persists job definitions in the cron_jobs table.
type JobStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewJobStore creates a job store over an already migrated database.
func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db, now: time.Now}
}

const jobColumns = `name, schedule, session_id, message, enabled, last_run, created_at, updated_at`

// Create inserts a new job. A duplicate name reports ErrJobExists.
func (s *JobStore) Create(create *JobCreate) (*Job, error) {
	if err := create.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	job := &Job{
		Name:      create.Name,
		Schedule:  create.Schedule,
		SessionID: create.SessionID,
		Message:   create.Message,
		Enabled:   create.Enabled,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.Exec(`INSERT INTO cron_jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, NULL, ?, ?)`,
		job.Name, job.Schedule, job.SessionID, job.Message, job.Enabled, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, fmt.Errorf("%w: %s", ErrJobExists, job.Name)
		}
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// Upsert creates the job or overwrites its definition, keeping last_run.
func (s *JobStore) Upsert(create *JobCreate) (*Job, error) {
	if err := create.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UnixMilli()
	_, err := s.db.Exec(`
		INSERT INTO cron_jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, NULL, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			schedule = excluded.schedule,
			session_id = excluded.session_id,
			message = excluded.message,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`,
		create.Name, create.Schedule, create.SessionID, create.Message, create.Enabled, now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert job: %w", err)
	}
	return s.Get(create.Name)
}

// Get retrieves a job by name.
func (s *JobStore) Get(name string) (*Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM cron_jobs WHERE name = ?`, name)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

// Update applies patch to an existing job.
func (s *JobStore) Update(name string, patch *JobPatch) (*Job, error) {
	existing, err := s.Get(name)
	if err != nil {
		return nil, err
	}

	if patch.Schedule != nil {
		if err := ValidateSchedule(*patch.Schedule); err != nil {
			return nil, err
		}
		existing.Schedule = *patch.Schedule
	}
	if patch.SessionID != nil {
		existing.SessionID = *patch.SessionID
	}
	if patch.Message != nil {
		existing.Message = *patch.Message
	}
	if patch.Enabled != nil {
		existing.Enabled = *patch.Enabled
	}
	existing.UpdatedAt = s.now()

	_, err = s.db.Exec(`
		UPDATE cron_jobs
		SET schedule = ?, session_id = ?, message = ?, enabled = ?, updated_at = ?
		WHERE name = ?`,
		existing.Schedule, existing.SessionID, existing.Message, existing.Enabled,
		existing.UpdatedAt.UnixMilli(), name)
	if err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}
	return existing, nil
}

// Delete removes a job by name.
func (s *JobStore) Delete(name string) error {
	result, err := s.db.Exec(`DELETE FROM cron_jobs WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

// List retrieves all jobs ordered by name.
func (s *JobStore) List() ([]*Job, error) {
	return s.query(`SELECT ` + jobColumns + ` FROM cron_jobs ORDER BY name`)
}

// ListEnabled retrieves enabled jobs ordered by name.
func (s *JobStore) ListEnabled() ([]*Job, error) {
	return s.query(`SELECT ` + jobColumns + ` FROM cron_jobs WHERE enabled = 1 ORDER BY name`)
}

// UpdateLastRun stamps the last firing time.
func (s *JobStore) UpdateLastRun(name string, lastRun time.Time) error {
	_, err := s.db.Exec(`UPDATE cron_jobs SET last_run = ? WHERE name = ?`, lastRun.UnixMilli(), name)
	if err != nil {
		return fmt.Errorf("update last run: %w", err)
	}
	return nil
}

func (s *JobStore) query(q string, args ...any) ([]*Job, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (*Job, error) {
	var (
		job              Job
		lastRun          sql.NullInt64
		created, updated int64
	)
	if err := sc.Scan(&job.Name, &job.Schedule, &job.SessionID, &job.Message, &job.Enabled,
		&lastRun, &created, &updated); err != nil {
		return nil, err
	}
	if lastRun.Valid {
		t := time.UnixMilli(lastRun.Int64)
		job.LastRun = &t
	}
	job.CreatedAt = time.UnixMilli(created)
	job.UpdatedAt = time.UnixMilli(updated)
	return &job, nil
}
