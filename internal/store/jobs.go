package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrJobNotFound means no scheduled job exists with the given id or name.
var ErrJobNotFound = errors.New("scheduled job not found")

// AddJob persists a new scheduled job and returns it.
func (s *Store) AddJob(name, schedule, prompt string) (*ScheduledJob, error) {
	j := &ScheduledJob{
		JobID:     uuid.NewString()[:8],
		Name:      name,
		Schedule:  schedule,
		Prompt:    prompt,
		CreatedAt: time.Now().UTC(),
	}
	res, err := s.db.Exec(
		`INSERT INTO scheduled_jobs (job_id, name, schedule, prompt, created_at) VALUES (?, ?, ?, ?, ?)`,
		j.JobID, j.Name, j.Schedule, j.Prompt, j.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert job: %w", err)
	}
	j.ID, _ = res.LastInsertId()
	return j, nil
}

// RemoveJob deletes a job by id or name. Returns ErrJobNotFound when
// nothing matched.
func (s *Store) RemoveJob(idOrName string) error {
	res, err := s.db.Exec(
		`DELETE FROM scheduled_jobs WHERE job_id = ? OR name = ?`, idOrName, idOrName)
	if err != nil {
		return fmt.Errorf("failed to remove job: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// ListJobs returns all scheduled jobs in creation order.
func (s *Store) ListJobs() ([]*ScheduledJob, error) {
	rows, err := s.db.Query(
		`SELECT id, job_id, name, schedule, prompt, last_run_at, run_count, created_at
		 FROM scheduled_jobs ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var out []*ScheduledJob
	for rows.Next() {
		var j ScheduledJob
		var lastRun sql.NullTime
		if err := rows.Scan(&j.ID, &j.JobID, &j.Name, &j.Schedule, &j.Prompt, &lastRun, &j.RunCount, &j.CreatedAt); err != nil {
			return nil, err
		}
		if lastRun.Valid {
			j.LastRunAt = lastRun.Time
		}
		out = append(out, &j)
	}
	return out, rows.Err()
}

// MarkJobRun updates last-run bookkeeping after a job fires.
func (s *Store) MarkJobRun(jobID string) error {
	_, err := s.db.Exec(
		`UPDATE scheduled_jobs SET last_run_at = ?, run_count = run_count + 1 WHERE job_id = ?`,
		time.Now().UTC(), jobID)
	return err
}
