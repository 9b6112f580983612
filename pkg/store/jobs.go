package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const jobColumns = "id, started_at, finished_at, item_count, status"

func scanJob(row rowScanner) (*Job, error) {
	var (
		j        Job
		finished sql.NullTime
		status   string
	)
	if err := row.Scan(&j.ID, &j.StartedAt, &finished, &j.ItemCount, &status); err != nil {
		return nil, err
	}
	j.StartedAt = j.StartedAt.UTC()
	j.FinishedAt = timePtr(finished)
	j.Status = JobStatus(status)
	return &j, nil
}

// CreateJob opens a running job starting now.
func (s *Store) CreateJob(ctx context.Context) (*Job, error) {
	j := &Job{StartedAt: s.timestamp(), Status: JobRunning}
	err := s.queryRow(ctx,
		"INSERT INTO jobs (started_at, item_count, status) VALUES (?, 0, ?) RETURNING id",
		j.StartedAt, string(j.Status),
	).Scan(&j.ID)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return j, nil
}

// UpdateJobCount records the running item count of a job.
func (s *Store) UpdateJobCount(ctx context.Context, id int64, count int) error {
	return s.updateJob(ctx, "UPDATE jobs SET item_count = ? WHERE id = ?", count, id)
}

// FinishJob sets the end timestamp, final count and finished status.
func (s *Store) FinishJob(ctx context.Context, id int64, count int) (time.Time, error) {
	at := s.timestamp()
	err := s.updateJob(ctx,
		"UPDATE jobs SET finished_at = ?, item_count = ?, status = ? WHERE id = ?",
		at, count, string(JobFinished), id)
	return at, err
}

// AbandonJob marks a job abandoned. The end timestamp stays NULL.
func (s *Store) AbandonJob(ctx context.Context, id int64, count int) error {
	return s.updateJob(ctx,
		"UPDATE jobs SET item_count = ?, status = ? WHERE id = ?",
		count, string(JobAbandoned), id)
}

func (s *Store) updateJob(ctx context.Context, q string, args ...interface{}) error {
	res, err := s.exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AbandonStaleJobs marks running jobs started before cutoff abandoned and
// returns how many were changed.
func (s *Store) AbandonStaleJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx,
		"UPDATE jobs SET status = ? WHERE status = ? AND finished_at IS NULL AND started_at < ?",
		string(JobAbandoned), string(JobRunning), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("abandon stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	j, err := scanJob(s.queryRow(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

// ListJobs returns the most recent jobs first. limit <= 0 returns all.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	q := "SELECT " + jobColumns + " FROM jobs ORDER BY id DESC"
	var args []interface{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// RecordJobError stores one account failure for a job.
func (s *Store) RecordJobError(ctx context.Context, e *HarvestError) error {
	e.RecordedAt = s.timestamp()
	err := s.queryRow(ctx, `
		INSERT INTO job_errors (job_id, account_id, detail, error_type, recorded_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`,
		e.JobID, e.AccountID, e.Detail, e.ErrorType, e.RecordedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert job error: %w", err)
	}
	return nil
}

// JobErrors lists a job's errors in the order they were recorded.
func (s *Store) JobErrors(ctx context.Context, jobID int64) ([]*HarvestError, error) {
	rows, err := s.query(ctx, `
		SELECT e.id, e.job_id, e.account_id, a.handle, e.detail, e.error_type, e.recorded_at
		FROM job_errors e
		JOIN accounts a ON a.id = e.account_id
		WHERE e.job_id = ?
		ORDER BY e.id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job errors: %w", err)
	}
	defer rows.Close()

	var out []*HarvestError
	for rows.Next() {
		var e HarvestError
		if err := rows.Scan(&e.ID, &e.JobID, &e.AccountID, &e.Handle, &e.Detail, &e.ErrorType, &e.RecordedAt); err != nil {
			return nil, err
		}
		e.RecordedAt = e.RecordedAt.UTC()
		out = append(out, &e)
	}
	return out, rows.Err()
}
