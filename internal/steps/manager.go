// Package steps records the technical reasoning steps the agent takes and
// retrieves the ones relevant to the current query. Every step lands in a
// per-user RAM ring buffer; only steps above the importance threshold are
// persisted, one way, with their keyword set precomputed for indexed lookup.
package steps

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/openbot/hgr/internal/relevance"
	"github.com/openbot/hgr/internal/storage"
)

// StepStore is the subset of storage operations the manager needs.
// Implemented by storage.Store.
type StepStore interface {
	InsertStep(ctx context.Context, st storage.ContextStep) (int64, error)
	StepsByKeyword(ctx context.Context, userID, keyword string, limit int) ([]storage.ContextStep, error)
	RecentSteps(ctx context.Context, userID string, limit int) ([]storage.ContextStep, error)
	DeleteStepsBefore(ctx context.Context, cutoff string) (int64, error)
	CountSteps(ctx context.Context, userID string) (int, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Step is the agent-supplied payload for one reasoning step.
type Step struct {
	Query      string
	Thought    string
	Action     string
	Confidence float64
	ToolUsed   string
	ToolResult string
}

const (
	defaultMaxItems = 5

	// Ranking weights: recency bonus for ring-buffer hits decays linearly to
	// zero over an hour; persisted hits are boosted by a fraction of their
	// importance; fallback hits get a fixed minimal score.
	recencyBonus     = 0.2
	recencyWindow    = time.Hour
	importanceWeight = 0.2
	fallbackScore    = 0.05

	// Keyword fan-out against the persisted tier.
	maxQueryKeywords = 5
	perKeywordLimit  = 10
	fallbackLimit    = 3
)

// Manager is the reasoning-step tier.
type Manager struct {
	store StepStore
	clock Clock

	ringSize            int
	importanceThreshold float64
	minRelevance        float64

	mu    sync.Mutex
	cache *lru.Cache[string, *ringBuffer]

	logger *slog.Logger
}

// ringBuffer keeps the last ringSize steps for one user, oldest evicted
// silently.
type ringBuffer struct {
	steps []storage.ContextStep
}

func (r *ringBuffer) push(st storage.ContextStep, cap int) {
	r.steps = append(r.steps, st)
	if len(r.steps) > cap {
		r.steps = r.steps[len(r.steps)-cap:]
	}
}

// New creates a Manager with the given ring size, persistence gate and
// retrieval floor; maxUsers bounds the ring-buffer arena.
func New(store StepStore, ringSize int, importanceThreshold, minRelevance float64, maxUsers int) (*Manager, error) {
	cache, err := lru.New[string, *ringBuffer](maxUsers)
	if err != nil {
		return nil, fmt.Errorf("creating steps cache: %w", err)
	}
	return &Manager{
		store:               store,
		clock:               realClock{},
		ringSize:            ringSize,
		importanceThreshold: importanceThreshold,
		minRelevance:        minRelevance,
		cache:               cache,
		logger:              slog.Default(),
	}, nil
}

// SetClock replaces the manager's clock (tests only).
func (m *Manager) SetClock(c Clock) { m.clock = c }

// Record scores and stores one reasoning step: always into the user's ring
// buffer, and into the persistent store iff its computed importance meets the
// threshold. Keywords are computed once, at persistence time.
func (m *Manager) Record(ctx context.Context, userID, sessionID string, s Step) (storage.ContextStep, error) {
	confidence := relevance.Clamp(s.Confidence)
	importance := relevance.Importance(s.Thought, confidence, s.ToolResult != "")

	st := storage.ContextStep{
		UserID:     userID,
		SessionID:  sessionID,
		Query:      s.Query,
		Thought:    s.Thought,
		Action:     s.Action,
		Confidence: confidence,
		Importance: importance,
		ToolUsed:   s.ToolUsed,
		ToolResult: s.ToolResult,
		CreatedAt:  m.clock.Now(),
	}

	m.mu.Lock()
	ring, ok := m.cache.Get(userID)
	if !ok {
		ring = &ringBuffer{}
		m.cache.Add(userID, ring)
	}
	ring.push(st, m.ringSize)
	m.mu.Unlock()

	if importance >= m.importanceThreshold {
		st.Keywords = relevance.JoinKeywords(relevance.Keywords(st.Query + " " + st.Thought))
		id, err := m.store.InsertStep(ctx, st)
		if err != nil {
			return storage.ContextStep{}, err
		}
		st.ID = id
	}
	return st, nil
}

type candidate struct {
	score float64
	step  storage.ContextStep
}

// RetrieveRelevant ranks the user's steps against query and returns at most
// maxItems of them, best first. Candidates come from the RAM ring (similarity
// gate plus a recency bonus) and from the persisted tier (keyword fan-out,
// importance-boosted). When both come up empty the most recent persisted
// steps are returned unconditionally — retrieval never yields nothing merely
// because no lexical overlap exists.
func (m *Manager) RetrieveRelevant(ctx context.Context, userID, query string, maxItems int) ([]storage.ContextStep, error) {
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}
	queryKW := relevance.Keywords(query)
	now := m.clock.Now()

	var candidates []candidate

	// Ring buffer: similarity gate plus linear recency bonus.
	m.mu.Lock()
	if ring, ok := m.cache.Get(userID); ok {
		for _, st := range ring.steps {
			sim := relevance.KeywordSimilarity(queryKW, relevance.Keywords(st.Query+" "+st.Thought))
			if sim < m.minRelevance {
				continue
			}
			age := now.Sub(st.CreatedAt)
			bonus := recencyBonus * (1 - float64(age)/float64(recencyWindow))
			if bonus < 0 {
				bonus = 0
			}
			candidates = append(candidates, candidate{score: sim + bonus, step: st})
		}
	}
	m.mu.Unlock()

	// Persisted tier: fan out over the query's keywords, dedupe across
	// keywords by exact thought text.
	keywords := make([]string, 0, len(queryKW))
	for k := range queryKW {
		keywords = append(keywords, k)
	}
	sort.Strings(keywords)
	if len(keywords) > maxQueryKeywords {
		keywords = keywords[:maxQueryKeywords]
	}

	seenThoughts := make(map[string]struct{})
	for _, kw := range keywords {
		persisted, err := m.store.StepsByKeyword(ctx, userID, kw, perKeywordLimit)
		if err != nil {
			return nil, err
		}
		for _, st := range persisted {
			if _, dup := seenThoughts[st.Thought]; dup {
				continue
			}
			seenThoughts[st.Thought] = struct{}{}
			sim := relevance.KeywordSimilarity(queryKW, relevance.Keywords(st.Query+" "+st.Thought))
			candidates = append(candidates, candidate{score: sim + st.Importance*importanceWeight, step: st})
		}
	}

	// Dynamic fallback: surface the most recent persisted steps rather than
	// presenting the agent with no context at all.
	if len(candidates) == 0 {
		recent, err := m.store.RecentSteps(ctx, userID, fallbackLimit)
		if err != nil {
			return nil, err
		}
		for _, st := range recent {
			candidates = append(candidates, candidate{score: fallbackScore, step: st})
		}
		if len(recent) > 0 {
			m.logger.Debug("retrieval fallback", "user", userID, "steps", len(recent))
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	selected := make([]storage.ContextStep, 0, maxItems)
	seen := make(map[uint64]struct{})
	for _, c := range candidates {
		h := thoughtHash(c.step.Thought)
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		selected = append(selected, c.step)
		if len(selected) >= maxItems {
			break
		}
	}
	return selected, nil
}

func thoughtHash(thought string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(thought))
	return h.Sum64()
}

// FormatForPrompt renders the retrieved steps as the previous-session context
// block, or "" when retrieval is empty.
func (m *Manager) FormatForPrompt(ctx context.Context, userID, query string) (string, error) {
	retrieved, err := m.RetrieveRelevant(ctx, userID, query, defaultMaxItems)
	if err != nil {
		return "", err
	}
	if len(retrieved) == 0 {
		return "", nil
	}

	now := m.clock.Now()
	var b strings.Builder
	b.WriteString("=== Contexto de sessoes anteriores ===")
	for i, st := range retrieved {
		fmt.Fprintf(&b, "\n%d. [%s] Pergunta: %s\n   Contexto: %s\n   Confianca: %.0f%%",
			i+1, ageBucket(now.Sub(st.CreatedAt)), st.Query, truncate(st.Thought, 200), st.Confidence*100)
		if st.ToolResult != "" {
			fmt.Fprintf(&b, "\n   Resultado: %s...", truncate(st.ToolResult, 150))
		}
	}
	b.WriteString("\n======================================")
	return b.String(), nil
}

// ageBucket renders an age as minutes, hours or days ago.
func ageBucket(age time.Duration) string {
	switch {
	case age < time.Hour:
		return fmt.Sprintf("%dmin atras", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh atras", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd atras", int(age.Hours()/24))
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// CleanupBefore deletes persisted steps older than the given number of days,
// returning how many were removed. RAM rings are left alone; they age out on
// their own.
func (m *Manager) CleanupBefore(ctx context.Context, days int) (int64, error) {
	cutoff := m.clock.Now().AddDate(0, 0, -days)
	return m.store.DeleteStepsBefore(ctx, cutoff.UTC().Format(time.RFC3339Nano))
}

// Count returns the number of persisted steps for a user.
func (m *Manager) Count(ctx context.Context, userID string) (int, error) {
	return m.store.CountSteps(ctx, userID)
}

// ShortTermCount returns how many steps the user's RAM ring currently holds.
func (m *Manager) ShortTermCount(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ring, ok := m.cache.Get(userID); ok {
		return len(ring.steps)
	}
	return 0
}
