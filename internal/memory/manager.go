// Package memory is the subsystem boundary: one Manager owning the chat
// history, fact, reasoning-step and cron tiers, plus the context block that
// feeds previous knowledge back into the LLM prompt.
package memory

import (
	"context"
	"log/slog"
	"time"

	"github.com/openbot/hgr/internal/config"
	"github.com/openbot/hgr/internal/cron"
	"github.com/openbot/hgr/internal/facts"
	"github.com/openbot/hgr/internal/history"
	"github.com/openbot/hgr/internal/steps"
	"github.com/openbot/hgr/internal/storage"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager is the single entry point other subsystems talk to.
type Manager struct {
	History *history.Manager
	Facts   *facts.Manager
	Steps   *steps.Manager
	Cron    *cron.Manager

	store  *storage.Store
	clock  Clock
	logger *slog.Logger
}

// New wires the four tiers over one store using the memory tunables.
func New(store *storage.Store, cfg config.Config) (*Manager, error) {
	mc := cfg.Memory

	hist, err := history.New(store, mc.MaxChatHistory, mc.ChatHistoryToLLM, mc.MaxCachedUsers)
	if err != nil {
		return nil, err
	}
	fm, err := facts.New(store, mc.FactsMinImportance, mc.FactsMaxInPrompt, mc.MaxCachedUsers)
	if err != nil {
		return nil, err
	}
	sm, err := steps.New(store, mc.ShortTermSize, mc.ImportanceThreshold, mc.MinRelevanceScore, mc.MaxCachedUsers)
	if err != nil {
		return nil, err
	}
	cm := cron.New(store, cfg.Cron.TickInterval)

	return &Manager{
		History: hist,
		Facts:   fm,
		Steps:   sm,
		Cron:    cm,
		store:   store,
		clock:   realClock{},
		logger:  slog.Default(),
	}, nil
}

// SetClock replaces the clock used for session derivation (tests only).
func (m *Manager) SetClock(c Clock) { m.clock = c }

// Session returns the current session id for a user.
func (m *Manager) Session(userID string) string {
	return SessionID(userID, m.clock.Now())
}

// AddChatMessage records one dialogue message under the user's current
// session.
func (m *Manager) AddChatMessage(ctx context.Context, userID, role, content string) error {
	return m.History.Add(ctx, userID, role, content, m.Session(userID))
}

// GetChatHistory returns the last n messages in chronological order; n <= 0
// means the configured default.
func (m *Manager) GetChatHistory(ctx context.Context, userID string, n int) ([]history.Message, error) {
	return m.History.Get(ctx, userID, n)
}

// ClearChatHistory drops a user's dialogue, RAM and store, returning how many
// rows were removed.
func (m *Manager) ClearChatHistory(ctx context.Context, userID string) (int64, error) {
	return m.History.Clear(ctx, userID)
}

// RecordStep stores one reasoning step under the user's current session.
func (m *Manager) RecordStep(ctx context.Context, userID string, s steps.Step) (storage.ContextStep, error) {
	return m.Steps.Record(ctx, userID, m.Session(userID), s)
}

// ExtractAndStoreFacts mines one user/assistant exchange for personal facts
// and stores any new ones, returning the newly created keys.
func (m *Manager) ExtractAndStoreFacts(ctx context.Context, userID, userMessage, botReply string) ([]string, error) {
	return m.Facts.ExtractFromExchange(ctx, userID, userMessage, botReply)
}

// BuildSystemContext assembles the prompt preamble for one query: the known
// facts block followed by the relevant previous-session steps. Returns ""
// when both are empty so the caller can skip the preamble entirely.
func (m *Manager) BuildSystemContext(ctx context.Context, userID, query string) (string, error) {
	factsBlock, err := m.Facts.FormatForPrompt(ctx, userID)
	if err != nil {
		return "", err
	}
	stepsBlock, err := m.Steps.FormatForPrompt(ctx, userID, query)
	if err != nil {
		return "", err
	}
	switch {
	case factsBlock == "":
		return stepsBlock, nil
	case stepsBlock == "":
		return factsBlock, nil
	default:
		return factsBlock + "\n\n" + stepsBlock, nil
	}
}

// Stats summarizes one user's footprint across the tiers.
type Stats struct {
	UserID        string `json:"user_id"`
	Session       string `json:"session"`
	ChatMessages  int    `json:"chat_messages"`
	Facts         int    `json:"facts"`
	StepsStored   int    `json:"steps_stored"`
	StepsInMemory int    `json:"steps_in_memory"`
	CronJobs      int    `json:"cron_jobs"`
}

// UserStats gathers counters for one user.
func (m *Manager) UserStats(ctx context.Context, userID string) (Stats, error) {
	chat, err := m.History.Count(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	nfacts, err := m.Facts.Count(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	nsteps, err := m.Steps.Count(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	jobs, err := m.Cron.List(ctx, userID, "")
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		UserID:        userID,
		Session:       m.Session(userID),
		ChatMessages:  chat,
		Facts:         nfacts,
		StepsStored:   nsteps,
		StepsInMemory: m.Steps.ShortTermCount(userID),
		CronJobs:      len(jobs),
	}, nil
}

// CleanupOldSteps sweeps persisted steps past the retention window.
func (m *Manager) CleanupOldSteps(ctx context.Context, days int) (int64, error) {
	n, err := m.Steps.CleanupBefore(ctx, days)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info("retention sweep", "deleted_steps", n, "days", days)
	}
	return n, nil
}
