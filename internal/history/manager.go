// Package history maintains the verbatim per-user conversation log: the
// persistent store is the source of truth, fronted by a bounded in-RAM deque
// per user. No relevance scoring happens here — this tier is raw,
// order-preserving dialogue, distinct from the scored reasoning-step tier.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/openbot/hgr/internal/storage"
)

// ChatStore is the subset of storage operations the manager needs.
// Implemented by storage.Store.
type ChatStore interface {
	InsertChatMessage(ctx context.Context, m storage.ChatMessage) (int64, error)
	RecentChatMessages(ctx context.Context, userID string, n int) ([]storage.ChatMessage, error)
	TrimChatMessages(ctx context.Context, userID string, keep int) (int64, error)
	DeleteChatMessages(ctx context.Context, userID string) (int64, error)
	CountChatMessages(ctx context.Context, userID string) (int, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Message is the role/content pair handed to the LLM messages array.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Manager is the chat-history tier. Per-user deques live in an LRU arena
// bounded by user count; evicting a user only drops the RAM copy, the store
// keeps the rows and the deque is rehydrated lazily on next touch.
type Manager struct {
	store    ChatStore
	clock    Clock
	max      int // rows kept per user, both RAM and store
	defaultN int // messages returned when the caller doesn't say

	mu    sync.Mutex
	cache *lru.Cache[string, *userLog]

	logger *slog.Logger
}

type userLog struct {
	msgs []storage.ChatMessage
}

// New creates a Manager keeping at most maxPerUser messages per user and
// caching at most maxUsers users in RAM.
func New(store ChatStore, maxPerUser, defaultN, maxUsers int) (*Manager, error) {
	cache, err := lru.New[string, *userLog](maxUsers)
	if err != nil {
		return nil, fmt.Errorf("creating history cache: %w", err)
	}
	return &Manager{
		store:    store,
		clock:    realClock{},
		max:      maxPerUser,
		defaultN: defaultN,
		cache:    cache,
		logger:   slog.Default(),
	}, nil
}

// SetClock replaces the manager's clock (tests only).
func (m *Manager) SetClock(c Clock) { m.clock = c }

// Add persists one dialogue message, appends it to the user's deque and trims
// the store to the configured cap.
func (m *Manager) Add(ctx context.Context, userID, role, content, sessionID string) error {
	if role != storage.RoleUser && role != storage.RoleAssistant {
		return fmt.Errorf("invalid role %q", role)
	}

	msg := storage.ChatMessage{
		UserID:    userID,
		Role:      role,
		Content:   content,
		SessionID: sessionID,
		CreatedAt: m.clock.Now(),
	}

	id, err := m.store.InsertChatMessage(ctx, msg)
	if err != nil {
		return err
	}
	msg.ID = id

	m.mu.Lock()
	log, ok := m.cache.Get(userID)
	if !ok {
		log = &userLog{}
		m.cache.Add(userID, log)
	}
	log.msgs = append(log.msgs, msg)
	if len(log.msgs) > m.max {
		log.msgs = log.msgs[len(log.msgs)-m.max:]
	}
	m.mu.Unlock()

	if _, err := m.store.TrimChatMessages(ctx, userID, m.max); err != nil {
		return err
	}
	return nil
}

// Get returns the user's last n messages in chronological order, most recent
// last. n <= 0 means the configured default. An empty RAM deque (fresh
// process, or evicted user) is rehydrated from the store first, so history
// survives restarts.
func (m *Manager) Get(ctx context.Context, userID string, n int) ([]Message, error) {
	if n <= 0 {
		n = m.defaultN
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	log, ok := m.cache.Get(userID)
	if !ok || len(log.msgs) == 0 {
		msgs, err := m.store.RecentChatMessages(ctx, userID, m.max)
		if err != nil {
			return nil, err
		}
		log = &userLog{msgs: msgs}
		m.cache.Add(userID, log)
		if len(msgs) > 0 {
			m.logger.Debug("rehydrated chat history", "user", userID, "messages", len(msgs))
		}
	}

	msgs := log.msgs
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]Message, len(msgs))
	for i, msg := range msgs {
		out[i] = Message{Role: msg.Role, Content: msg.Content}
	}
	return out, nil
}

// Clear deletes the user's entire chat log, RAM and store, returning how many
// stored rows were removed.
func (m *Manager) Clear(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	m.cache.Remove(userID)
	m.mu.Unlock()

	return m.store.DeleteChatMessages(ctx, userID)
}

// Count returns the number of persisted messages for the user.
func (m *Manager) Count(ctx context.Context, userID string) (int, error) {
	return m.store.CountChatMessages(ctx, userID)
}
