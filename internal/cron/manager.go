// Package cron manages per-user scheduled tasks backed by the persistent
// store: CRUD over job definitions, a ticker-driven scheduler that launches
// due jobs, and an execution log per run.
package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openbot/hgr/internal/storage"
)

// ErrValidation marks a rejected job definition.
var ErrValidation = errors.New("invalid cron job")

// CronStore is the subset of storage operations the manager needs.
// Implemented by storage.Store.
type CronStore interface {
	InsertCronJob(ctx context.Context, j storage.CronJob) error
	GetCronJob(ctx context.Context, id string) (storage.CronJob, error)
	ListCronJobs(ctx context.Context, userID, status string) ([]storage.CronJob, error)
	DueCronJobs(ctx context.Context, now time.Time) ([]storage.CronJob, error)
	UpdateCronJobStatus(ctx context.Context, id, status string, nextRun *time.Time) error
	FinishCronRun(ctx context.Context, id, status string, lastRun time.Time, nextRun *time.Time, output, errMsg string) error
	DeleteCronJob(ctx context.Context, id string) error
	InsertCronLog(ctx context.Context, e storage.CronLogEntry) error
	CloseCronLog(ctx context.Context, id, status string, endedAt time.Time, output, errMsg string, duration time.Duration) error
	CronLogs(ctx context.Context, cronID string, limit int) ([]storage.CronLogEntry, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Executor runs one job's payload and returns its textual output. Execution
// errors are recorded on the job and in the log; they never surface to the
// scheduler loop.
type Executor func(ctx context.Context, job storage.CronJob) (string, error)

// Manager owns cron job definitions and the scheduler that fires them.
type Manager struct {
	store    CronStore
	clock    Clock
	executor Executor
	tick     time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup
}

// New creates a Manager. The executor must be set before Start.
func New(store CronStore, tick time.Duration) *Manager {
	return &Manager{
		store:    store,
		clock:    realClock{},
		tick:     tick,
		logger:   slog.Default(),
		inFlight: make(map[string]struct{}),
	}
}

// SetClock replaces the manager's clock (tests only).
func (m *Manager) SetClock(c Clock) { m.clock = c }

// SetExecutor installs the function that runs job payloads.
func (m *Manager) SetExecutor(e Executor) { m.executor = e }

// JobSpec is the caller-facing definition of a new job.
type JobSpec struct {
	UserID      string
	Name        string
	Description string
	Schedule    string
	TaskType    storage.TaskType
	Task        string
}

// Create validates the spec, assigns an id, computes the first next_run and
// stores the job as active.
func (m *Manager) Create(ctx context.Context, spec JobSpec) (storage.CronJob, error) {
	spec.Name = strings.TrimSpace(spec.Name)
	spec.Task = strings.TrimSpace(spec.Task)
	switch {
	case spec.UserID == "":
		return storage.CronJob{}, fmt.Errorf("%w: missing user", ErrValidation)
	case spec.Name == "":
		return storage.CronJob{}, fmt.Errorf("%w: missing name", ErrValidation)
	case spec.Task == "":
		return storage.CronJob{}, fmt.Errorf("%w: missing task", ErrValidation)
	case !storage.ValidTaskType(spec.TaskType):
		return storage.CronJob{}, fmt.Errorf("%w: unknown task type %q", ErrValidation, spec.TaskType)
	}

	now := m.clock.Now()
	next := ParseSchedule(spec.Schedule).Next(now)
	job := storage.CronJob{
		ID:          uuid.NewString(),
		UserID:      spec.UserID,
		Name:        spec.Name,
		Description: spec.Description,
		Schedule:    spec.Schedule,
		TaskType:    spec.TaskType,
		Task:        spec.Task,
		Status:      storage.CronActive,
		NextRun:     &next,
		CreatedAt:   now,
	}
	if err := m.store.InsertCronJob(ctx, job); err != nil {
		return storage.CronJob{}, err
	}
	m.logger.Info("cron job created", "id", job.ID, "user", job.UserID, "name", job.Name, "next_run", next)
	return job, nil
}

// Get returns one job by id.
func (m *Manager) Get(ctx context.Context, id string) (storage.CronJob, error) {
	return m.store.GetCronJob(ctx, id)
}

// List returns a user's jobs, optionally filtered by status.
func (m *Manager) List(ctx context.Context, userID, status string) ([]storage.CronJob, error) {
	return m.store.ListCronJobs(ctx, userID, status)
}

// Toggle flips a job between active and paused. Pausing clears next_run;
// resuming recomputes it from now. A job in the error state resumes like a
// paused one.
func (m *Manager) Toggle(ctx context.Context, id string) (storage.CronJob, error) {
	job, err := m.store.GetCronJob(ctx, id)
	if err != nil {
		return storage.CronJob{}, err
	}
	if job.Status == storage.CronActive {
		if err := m.store.UpdateCronJobStatus(ctx, id, storage.CronPaused, nil); err != nil {
			return storage.CronJob{}, err
		}
	} else {
		next := ParseSchedule(job.Schedule).Next(m.clock.Now())
		if err := m.store.UpdateCronJobStatus(ctx, id, storage.CronActive, &next); err != nil {
			return storage.CronJob{}, err
		}
	}
	return m.store.GetCronJob(ctx, id)
}

// Delete removes a job and, by cascade, its log.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.store.DeleteCronJob(ctx, id)
}

// Logs returns the most recent log entries for a job, newest first.
func (m *Manager) Logs(ctx context.Context, id string, limit int) ([]storage.CronLogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	return m.store.CronLogs(ctx, id, limit)
}

// RunNow executes a job immediately, outside its schedule, and waits for the
// result. The run is logged like a scheduled one.
func (m *Manager) RunNow(ctx context.Context, id string) (storage.CronJob, error) {
	job, err := m.store.GetCronJob(ctx, id)
	if err != nil {
		return storage.CronJob{}, err
	}
	if !m.claim(job.ID) {
		return storage.CronJob{}, fmt.Errorf("job %s is already running", id)
	}
	m.runJob(ctx, job)
	return m.store.GetCronJob(ctx, id)
}

// Start runs the scheduler loop until ctx is cancelled, then waits for any
// in-flight executions to finish.
func (m *Manager) Start(ctx context.Context) error {
	if m.executor == nil {
		return errors.New("cron: no executor installed")
	}
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	m.logger.Info("cron scheduler started", "tick", m.tick)
	for {
		select {
		case <-ctx.Done():
			m.wg.Wait()
			m.logger.Info("cron scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			m.dispatchDue(ctx)
		}
	}
}

func (m *Manager) dispatchDue(ctx context.Context) {
	due, err := m.store.DueCronJobs(ctx, m.clock.Now())
	if err != nil {
		m.logger.Error("querying due jobs", "error", err)
		return
	}
	for _, job := range due {
		if !m.claim(job.ID) {
			continue
		}
		m.wg.Add(1)
		go func(job storage.CronJob) {
			defer m.wg.Done()
			m.runJob(ctx, job)
		}(job)
	}
}

// claim marks a job in flight; returns false if it already is. The claim is
// released by runJob.
func (m *Manager) claim(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, running := m.inFlight[id]; running {
		return false
	}
	m.inFlight[id] = struct{}{}
	return true
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	delete(m.inFlight, id)
	m.mu.Unlock()
}

// runJob executes one job end to end: open a log row, run the payload, close
// the log and record the outcome on the job. On success the next run is
// scheduled; on failure the job goes to the error state and stays there until
// toggled back.
func (m *Manager) runJob(ctx context.Context, job storage.CronJob) {
	defer m.release(job.ID)

	started := m.clock.Now()
	logID := uuid.NewString()
	if err := m.store.InsertCronLog(ctx, storage.CronLogEntry{
		ID:        logID,
		CronID:    job.ID,
		UserID:    job.UserID,
		StartedAt: started,
		Status:    storage.CronLogRunning,
	}); err != nil {
		m.logger.Error("opening cron log", "job", job.ID, "error", err)
	}

	output, runErr := m.executor(ctx, job)
	ended := m.clock.Now()
	duration := ended.Sub(started)

	logStatus := storage.CronLogSuccess
	errMsg := ""
	if runErr != nil {
		logStatus = storage.CronLogError
		errMsg = runErr.Error()
	}
	if err := m.store.CloseCronLog(ctx, logID, logStatus, ended, output, errMsg, duration); err != nil {
		m.logger.Error("closing cron log", "job", job.ID, "error", err)
	}

	jobStatus := storage.CronActive
	var nextRun *time.Time
	if runErr != nil {
		jobStatus = storage.CronError
		m.logger.Error("cron job failed", "job", job.ID, "name", job.Name, "error", runErr)
	} else {
		next := ParseSchedule(job.Schedule).Next(ended)
		nextRun = &next
		m.logger.Info("cron job finished", "job", job.ID, "name", job.Name, "duration", duration, "next_run", next)
	}
	if err := m.store.FinishCronRun(ctx, job.ID, jobStatus, ended, nextRun, output, errMsg); err != nil {
		m.logger.Error("recording cron run", "job", job.ID, "error", err)
	}
}

// FormatNextRun humanizes a job's next execution time relative to now.
func (m *Manager) FormatNextRun(job storage.CronJob) string {
	if job.NextRun == nil {
		return "paused"
	}
	d := job.NextRun.Sub(m.clock.Now())
	switch {
	case d < time.Minute:
		return "in less than a minute"
	case d < time.Hour:
		return fmt.Sprintf("in %dmin", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("in %dh%02dmin", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("in %dd", int(d.Hours()/24))
	}
}
