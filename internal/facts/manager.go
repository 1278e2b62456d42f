// Package facts stores durable key/value beliefs about a user, distinct from
// raw chat history: facts are upserted, carry importance and access
// accounting, and can be extracted automatically from a dialogue exchange.
package facts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/openbot/hgr/internal/relevance"
	"github.com/openbot/hgr/internal/storage"
)

// ErrValidation marks a rejected CRUD call (bad or missing required field).
var ErrValidation = errors.New("validation failed")

// FactStore is the subset of storage operations the manager needs.
// Implemented by storage.Store.
type FactStore interface {
	GetFact(ctx context.Context, userID, key string) (storage.Fact, error)
	InsertFact(ctx context.Context, f storage.Fact) (int64, error)
	UpdateFact(ctx context.Context, f storage.Fact) error
	TouchFact(ctx context.Context, userID, key, when string) error
	ListFacts(ctx context.Context, userID string, minImportance float64) ([]storage.Fact, error)
	SearchFacts(ctx context.Context, userID, term string) ([]storage.Fact, error)
	DeleteFactsByKey(ctx context.Context, userID, key string) (int64, error)
	DeleteFactsByCategory(ctx context.Context, userID, category string) (int64, error)
	DeleteFactByID(ctx context.Context, userID string, id int64) (int64, error)
	DeleteAllFacts(ctx context.Context, userID string) (int64, error)
	CountFacts(ctx context.Context, userID string) (int, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

const (
	DefaultImportance = 0.5
	DefaultCategory   = "general"

	// Category assigned to facts captured by the extraction rules.
	AutoExtractedCategory = "auto_extracted"
)

// Manager is the durable-facts tier. A per-user key->Fact index is loaded
// lazily on first touch and kept consistent with every write; the indexes
// live in an LRU arena bounded by user count.
type Manager struct {
	store         FactStore
	clock         Clock
	minImportance float64 // prompt floor
	maxInPrompt   int

	mu    sync.Mutex
	cache *lru.Cache[string, map[string]storage.Fact]

	logger *slog.Logger
}

// New creates a Manager. minImportance and maxInPrompt bound the rendered
// prompt block; maxUsers bounds the RAM index arena.
func New(store FactStore, minImportance float64, maxInPrompt, maxUsers int) (*Manager, error) {
	cache, err := lru.New[string, map[string]storage.Fact](maxUsers)
	if err != nil {
		return nil, fmt.Errorf("creating facts cache: %w", err)
	}
	return &Manager{
		store:         store,
		clock:         realClock{},
		minImportance: minImportance,
		maxInPrompt:   maxInPrompt,
		cache:         cache,
		logger:        slog.Default(),
	}, nil
}

// SetClock replaces the manager's clock (tests only).
func (m *Manager) SetClock(c Clock) { m.clock = c }

// index returns the user's key->Fact map, loading it from the store on first
// touch. Caller must hold m.mu.
func (m *Manager) index(ctx context.Context, userID string) (map[string]storage.Fact, error) {
	if idx, ok := m.cache.Get(userID); ok {
		return idx, nil
	}
	all, err := m.store.ListFacts(ctx, userID, 0)
	if err != nil {
		return nil, err
	}
	idx := make(map[string]storage.Fact, len(all))
	for _, f := range all {
		idx[f.Key] = f
	}
	m.cache.Add(userID, idx)
	return idx, nil
}

// Store upserts a fact. Returns true when a fresh row was created, false when
// an existing (user, key) row was updated. Callers use the distinction to
// tell the user something new was learned.
func (m *Manager) Store(ctx context.Context, userID, key, value string, importance float64, category string, tags []string) (bool, error) {
	key = strings.TrimSpace(key)
	if userID == "" || key == "" {
		return false, fmt.Errorf("%w: user id and key are required", ErrValidation)
	}
	if category == "" {
		category = DefaultCategory
	}
	importance = relevance.Clamp(importance)
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.index(ctx, userID)
	if err != nil {
		return false, err
	}

	if existing, ok := idx[key]; ok {
		existing.Value = value
		existing.Importance = importance
		existing.Category = category
		existing.Tags = tags
		existing.LastAccessed = now
		if err := m.store.UpdateFact(ctx, existing); err != nil {
			return false, err
		}
		existing.AccessCount++
		idx[key] = existing
		return false, nil
	}

	f := storage.Fact{
		UserID:       userID,
		Key:          key,
		Value:        value,
		Importance:   importance,
		Category:     category,
		Tags:         tags,
		LastAccessed: now,
		CreatedAt:    now,
	}
	id, err := m.store.InsertFact(ctx, f)
	if err != nil {
		return false, err
	}
	f.ID = id
	idx[key] = f
	return true, nil
}

// Get returns one fact and records the access.
func (m *Manager) Get(ctx context.Context, userID, key string) (storage.Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.index(ctx, userID)
	if err != nil {
		return storage.Fact{}, err
	}
	f, ok := idx[key]
	if !ok {
		return storage.Fact{}, storage.ErrNotFound
	}

	now := m.clock.Now()
	if err := m.store.TouchFact(ctx, userID, key, now.UTC().Format(time.RFC3339Nano)); err != nil {
		return storage.Fact{}, err
	}
	f.AccessCount++
	f.LastAccessed = now
	idx[key] = f
	return f, nil
}

// GetAll returns the user's facts with importance >= minImportance, keyed by
// fact key.
func (m *Manager) GetAll(ctx context.Context, userID string, minImportance float64) (map[string]storage.Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.index(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]storage.Fact)
	for k, f := range idx {
		if f.Importance >= minImportance {
			out[k] = f
		}
	}
	return out, nil
}

// Search returns facts whose key or value contains term.
func (m *Manager) Search(ctx context.Context, userID, term string) ([]storage.Fact, error) {
	return m.store.SearchFacts(ctx, userID, term)
}

// DeleteSelector picks which facts Delete removes. Exactly one field must be
// set, or All must be true.
type DeleteSelector struct {
	Key      string
	Category string
	ID       int64
	All      bool
}

// Delete removes facts matching the selector and returns how many went away.
func (m *Manager) Delete(ctx context.Context, userID string, sel DeleteSelector) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrValidation)
	}

	var (
		n   int64
		err error
	)
	switch {
	case sel.Key != "":
		n, err = m.store.DeleteFactsByKey(ctx, userID, sel.Key)
	case sel.Category != "":
		n, err = m.store.DeleteFactsByCategory(ctx, userID, sel.Category)
	case sel.ID != 0:
		n, err = m.store.DeleteFactByID(ctx, userID, sel.ID)
	case sel.All:
		n, err = m.store.DeleteAllFacts(ctx, userID)
	default:
		return 0, fmt.Errorf("%w: delete needs a key, category, id, or all", ErrValidation)
	}
	if err != nil {
		return 0, err
	}

	// The store changed under the index; drop it and reload on next touch.
	m.mu.Lock()
	m.cache.Remove(userID)
	m.mu.Unlock()
	return n, nil
}

// Count returns the number of facts stored for a user.
func (m *Manager) Count(ctx context.Context, userID string) (int, error) {
	return m.store.CountFacts(ctx, userID)
}
