package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/openbot/hgr/internal/storage"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestManager(t *testing.T, maxPerUser, defaultN int) (*Manager, *storage.Store, *fakeClock) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	m, err := New(store, maxPerUser, defaultN, 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	m.SetClock(clock)
	return m, store, clock
}

func TestAddAndGetChronological(t *testing.T) {
	m, _, clock := newTestManager(t, 100, 40)
	ctx := context.Background()

	exchanges := []struct{ role, content string }{
		{storage.RoleUser, "ola"},
		{storage.RoleAssistant, "ola! como posso ajudar?"},
		{storage.RoleUser, "qual o meu nome?"},
	}
	for _, e := range exchanges {
		if err := m.Add(ctx, "u1", e.role, e.content, "sess"); err != nil {
			t.Fatalf("Add: %v", err)
		}
		clock.advance(time.Second)
	}

	msgs, err := m.Get(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "ola" || msgs[2].Content != "qual o meu nome?" {
		t.Errorf("messages out of order: %+v", msgs)
	}
}

func TestAddRejectsUnknownRole(t *testing.T) {
	m, _, _ := newTestManager(t, 100, 40)

	if err := m.Add(context.Background(), "u1", "system", "nope", "sess"); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestHistoryCappedPerUser(t *testing.T) {
	const max = 10
	m, store, clock := newTestManager(t, max, 40)
	ctx := context.Background()

	for i := 0; i < max+7; i++ {
		if err := m.Add(ctx, "u1", storage.RoleUser, fmt.Sprintf("msg %d", i), "sess"); err != nil {
			t.Fatalf("Add: %v", err)
		}
		clock.advance(time.Second)
	}

	msgs, err := m.Get(ctx, "u1", max+7)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(msgs) != max {
		t.Errorf("expected %d messages in RAM, got %d", max, len(msgs))
	}
	if msgs[0].Content != "msg 7" {
		t.Errorf("oldest surviving message should be msg 7, got %q", msgs[0].Content)
	}

	count, err := store.CountChatMessages(ctx, "u1")
	if err != nil {
		t.Fatalf("CountChatMessages: %v", err)
	}
	if count != max {
		t.Errorf("store should also be trimmed to %d, has %d", max, count)
	}
}

func TestGetDefaultN(t *testing.T) {
	m, _, clock := newTestManager(t, 100, 2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := m.Add(ctx, "u1", storage.RoleUser, fmt.Sprintf("msg %d", i), "sess"); err != nil {
			t.Fatalf("Add: %v", err)
		}
		clock.advance(time.Second)
	}

	msgs, err := m.Get(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("n<=0 should use default of 2, got %d", len(msgs))
	}
	if msgs[1].Content != "msg 4" {
		t.Errorf("expected newest message last, got %q", msgs[1].Content)
	}
}

// TestRehydrateAfterRestart simulates a process restart by building a second
// manager over the same store and reading with a cold cache.
func TestRehydrateAfterRestart(t *testing.T) {
	m, store, clock := newTestManager(t, 100, 40)
	ctx := context.Background()

	if err := m.Add(ctx, "u1", storage.RoleUser, "antes do restart", "sess"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	m2, err := New(store, 100, 40, 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m2.SetClock(clock)

	msgs, err := m2.Get(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("Get after restart: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "antes do restart" {
		t.Errorf("expected rehydrated message, got %+v", msgs)
	}
}

func TestClear(t *testing.T) {
	m, _, _ := newTestManager(t, 100, 40)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := m.Add(ctx, "u1", storage.RoleUser, "msg", "sess"); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	n, err := m.Clear(ctx, "u1")
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 deleted, got %d", n)
	}

	msgs, err := m.Get(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected empty history after clear, got %d", len(msgs))
	}
}
