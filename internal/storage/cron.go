package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const cronColumns = `id, user_id, name, description, schedule, task_type, task, status, last_run, next_run, run_count, last_output, last_error, created_at`

func scanCronJob(scan func(dest ...any) error) (CronJob, error) {
	var j CronJob
	var taskType, createdAt string
	var lastRun, nextRun sql.NullString
	if err := scan(&j.ID, &j.UserID, &j.Name, &j.Description, &j.Schedule, &taskType,
		&j.Task, &j.Status, &lastRun, &nextRun, &j.RunCount, &j.LastOutput,
		&j.LastError, &createdAt); err != nil {
		return CronJob{}, err
	}
	j.TaskType = TaskType(taskType)
	var err error
	if j.LastRun, err = parseNullTime(lastRun); err != nil {
		return CronJob{}, err
	}
	if j.NextRun, err = parseNullTime(nextRun); err != nil {
		return CronJob{}, err
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return CronJob{}, err
	}
	return j, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// InsertCronJob creates a new job row.
func (s *Store) InsertCronJob(ctx context.Context, j CronJob) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cron_jobs (id, user_id, name, description, schedule, task_type, task, status, last_run, next_run, run_count, last_output, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.UserID, j.Name, j.Description, j.Schedule, string(j.TaskType), j.Task,
		j.Status, nullTime(j.LastRun), nullTime(j.NextRun), j.RunCount,
		j.LastOutput, j.LastError, formatTime(j.CreatedAt),
	)
	return wrap("insert cron job", err)
}

// GetCronJob returns a job by id, or ErrNotFound.
func (s *Store) GetCronJob(ctx context.Context, id string) (CronJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cronColumns+` FROM cron_jobs WHERE id = ?`, id)
	j, err := scanCronJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return CronJob{}, ErrNotFound
	}
	if err != nil {
		return CronJob{}, wrap("get cron job", err)
	}
	return j, nil
}

// ListCronJobs returns a user's jobs, optionally filtered by status, newest first.
func (s *Store) ListCronJobs(ctx context.Context, userID, status string) ([]CronJob, error) {
	query := `SELECT ` + cronColumns + ` FROM cron_jobs WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list cron jobs", err)
	}
	defer rows.Close()

	var out []CronJob
	for rows.Next() {
		j, err := scanCronJob(rows.Scan)
		if err != nil {
			return nil, wrap("list cron jobs", err)
		}
		out = append(out, j)
	}
	return out, wrap("list cron jobs", rows.Err())
}

// DueCronJobs returns active jobs whose next_run is NULL or <= now.
func (s *Store) DueCronJobs(ctx context.Context, now time.Time) ([]CronJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cronColumns+` FROM cron_jobs
		WHERE status = ? AND (next_run IS NULL OR next_run <= ?)`,
		CronActive, formatTime(now),
	)
	if err != nil {
		return nil, wrap("due cron jobs", err)
	}
	defer rows.Close()

	var out []CronJob
	for rows.Next() {
		j, err := scanCronJob(rows.Scan)
		if err != nil {
			return nil, wrap("due cron jobs", err)
		}
		out = append(out, j)
	}
	return out, wrap("due cron jobs", rows.Err())
}

// UpdateCronJobStatus sets status and next_run (nil allowed, for paused jobs).
func (s *Store) UpdateCronJobStatus(ctx context.Context, id, status string, nextRun *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cron_jobs SET status = ?, next_run = ? WHERE id = ?`,
		status, nullTime(nextRun), id,
	)
	if err != nil {
		return wrap("update cron job status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("update cron job status", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FinishCronRun records the outcome of one execution on the job row:
// last_run/next_run/run_count plus last_output/last_error and status.
func (s *Store) FinishCronRun(ctx context.Context, id, status string, lastRun time.Time, nextRun *time.Time, output, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cron_jobs
		SET status = ?, last_run = ?, next_run = ?, run_count = run_count + 1,
		    last_output = ?, last_error = ?
		WHERE id = ?`,
		status, formatTime(lastRun), nullTime(nextRun), output, errMsg, id,
	)
	return wrap("finish cron run", err)
}

// DeleteCronJob removes a job; its log rows cascade.
func (s *Store) DeleteCronJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cron_jobs WHERE id = ?`, id)
	if err != nil {
		return wrap("delete cron job", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("delete cron job", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertCronLog writes a log row for an execution attempt.
func (s *Store) InsertCronLog(ctx context.Context, e CronLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cron_log (id, cron_id, user_id, started_at, ended_at, status, output, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CronID, e.UserID, formatTime(e.StartedAt), nullTime(e.EndedAt),
		e.Status, e.Output, e.Error, e.Duration.Milliseconds(),
	)
	return wrap("insert cron log", err)
}

// CloseCronLog completes a running log row with its outcome.
func (s *Store) CloseCronLog(ctx context.Context, id, status string, endedAt time.Time, output, errMsg string, duration time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cron_log SET ended_at = ?, status = ?, output = ?, error = ?, duration_ms = ?
		WHERE id = ?`,
		formatTime(endedAt), status, output, errMsg, duration.Milliseconds(), id,
	)
	return wrap("close cron log", err)
}

// CronLogs returns the most recent limit log rows for a job, newest first.
func (s *Store) CronLogs(ctx context.Context, cronID string, limit int) ([]CronLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cron_id, user_id, started_at, ended_at, status, output, error, duration_ms
		FROM cron_log
		WHERE cron_id = ?
		ORDER BY started_at DESC
		LIMIT ?`,
		cronID, limit,
	)
	if err != nil {
		return nil, wrap("cron logs", err)
	}
	defer rows.Close()

	var out []CronLogEntry
	for rows.Next() {
		var e CronLogEntry
		var startedAt string
		var endedAt sql.NullString
		var durationMS int64
		if err := rows.Scan(&e.ID, &e.CronID, &e.UserID, &startedAt, &endedAt,
			&e.Status, &e.Output, &e.Error, &durationMS); err != nil {
			return nil, wrap("cron logs", err)
		}
		if e.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, wrap("cron logs", err)
		}
		if e.EndedAt, err = parseNullTime(endedAt); err != nil {
			return nil, wrap("cron logs", err)
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, e)
	}
	return out, wrap("cron logs", rows.Err())
}
