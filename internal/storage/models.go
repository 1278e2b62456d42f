package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// StorageError wraps a database-level failure. Callers can detect it with
// errors.As; the store never retries on its own.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "storage: " + e.Op + ": " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

// wrap converts a low-level error into a *StorageError, passing through nil
// and the ErrNotFound sentinel unchanged.
func wrap(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// Chat message author roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatMessage struct {
	ID        int64
	UserID    string
	Role      string
	Content   string
	SessionID string
	CreatedAt time.Time
}

type Fact struct {
	ID           int64
	UserID       string
	Key          string
	Value        string
	Importance   float64
	Category     string
	Tags         []string
	AccessCount  int
	LastAccessed time.Time
	CreatedAt    time.Time
}

type ContextStep struct {
	ID         int64
	UserID     string
	SessionID  string
	Query      string
	Thought    string
	Action     string
	Confidence float64
	Importance float64
	ToolUsed   string
	ToolResult string
	Keywords   string // space-joined sorted keyword set, LIKE-matched on retrieval
	CreatedAt  time.Time
}

// TaskType is the closed set of cron payload kinds. The cron manager never
// interprets these; only the injected executor dispatches on them.
type TaskType string

const (
	TaskAgent TaskType = "agent"
	TaskShell TaskType = "shell"
	TaskHTTP  TaskType = "http"
)

// ValidTaskType reports whether t is one of the known task types.
func ValidTaskType(t TaskType) bool {
	switch t {
	case TaskAgent, TaskShell, TaskHTTP:
		return true
	}
	return false
}

// Cron job lifecycle states.
const (
	CronActive = "active"
	CronPaused = "paused"
	CronError  = "error"
)

type CronJob struct {
	ID          string
	UserID      string
	Name        string
	Description string
	Schedule    string
	TaskType    TaskType
	Task        string
	Status      string
	LastRun     *time.Time
	NextRun     *time.Time // nil only while paused
	RunCount    int
	LastOutput  string
	LastError   string
	CreatedAt   time.Time
}

// Cron log row states.
const (
	CronLogRunning = "running"
	CronLogSuccess = "success"
	CronLogError   = "error"
)

type CronLogEntry struct {
	ID        string
	CronID    string
	UserID    string
	StartedAt time.Time
	EndedAt   *time.Time
	Status    string
	Output    string
	Error     string
	Duration  time.Duration
}
