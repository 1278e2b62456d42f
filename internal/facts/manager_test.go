package facts

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/openbot/hgr/internal/storage"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestManager(t *testing.T) (*Manager, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	m, err := New(store, 0.3, 20, 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.SetClock(&fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)})
	return m, store
}

func TestStoreCreatesAndUpdates(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	created, err := m.Store(ctx, "u1", "nome", "Carlos", 0.9, "", nil)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if !created {
		t.Error("first store should report created")
	}

	created, err = m.Store(ctx, "u1", "nome", "Ana", 0.9, "", nil)
	if err != nil {
		t.Fatalf("Store (update): %v", err)
	}
	if created {
		t.Error("second store of same key should report updated")
	}

	f, err := m.Get(ctx, "u1", "nome")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if f.Value != "Ana" {
		t.Errorf("expected overwritten value Ana, got %q", f.Value)
	}
	if f.Category != DefaultCategory {
		t.Errorf("empty category should default to %q, got %q", DefaultCategory, f.Category)
	}
}

func TestStoreValidation(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Store(ctx, "u1", "   ", "v", 0.5, "", nil); !errors.Is(err, ErrValidation) {
		t.Errorf("blank key should fail validation, got %v", err)
	}
	if _, err := m.Store(ctx, "", "k", "v", 0.5, "", nil); !errors.Is(err, ErrValidation) {
		t.Errorf("missing user should fail validation, got %v", err)
	}

	// Out-of-range importance is clamped, not rejected.
	if _, err := m.Store(ctx, "u1", "k", "v", 7.5, "", nil); err != nil {
		t.Fatalf("Store: %v", err)
	}
	f, err := m.Get(ctx, "u1", "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if f.Importance != 1 {
		t.Errorf("importance should clamp to 1, got %f", f.Importance)
	}
}

func TestGetRecordsAccess(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Store(ctx, "u1", "nome", "Ana", 0.9, "", nil); err != nil {
		t.Fatalf("Store: %v", err)
	}

	var last storage.Fact
	for i := 0; i < 3; i++ {
		f, err := m.Get(ctx, "u1", "nome")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		last = f
	}
	if last.AccessCount != 3 {
		t.Errorf("expected access count 3, got %d", last.AccessCount)
	}

	if _, err := m.Get(ctx, "u1", "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetAllFiltersByImportance(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	facts := []struct {
		key        string
		importance float64
	}{
		{"nome", 0.9},
		{"cafe_preferido", 0.2},
		{"projeto_atual", 0.8},
	}
	for _, f := range facts {
		if _, err := m.Store(ctx, "u1", f.key, "x", f.importance, "", nil); err != nil {
			t.Fatalf("Store(%s): %v", f.key, err)
		}
	}

	all, err := m.GetAll(ctx, "u1", 0.5)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 facts above 0.5, got %d", len(all))
	}
	if _, ok := all["cafe_preferido"]; ok {
		t.Error("low-importance fact should be filtered out")
	}
}

func TestDeleteSelectors(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	for _, f := range []struct{ key, category string }{
		{"nome", "general"},
		{"email", "contact"},
		{"telefone", "contact"},
	} {
		if _, err := m.Store(ctx, "u1", f.key, "x", 0.5, f.category, nil); err != nil {
			t.Fatalf("Store(%s): %v", f.key, err)
		}
	}

	n, err := m.Delete(ctx, "u1", DeleteSelector{Key: "nome"})
	if err != nil || n != 1 {
		t.Fatalf("Delete by key: n=%d err=%v", n, err)
	}
	n, err = m.Delete(ctx, "u1", DeleteSelector{Category: "contact"})
	if err != nil || n != 2 {
		t.Fatalf("Delete by category: n=%d err=%v", n, err)
	}

	if _, err := m.Delete(ctx, "u1", DeleteSelector{}); !errors.Is(err, ErrValidation) {
		t.Errorf("empty selector should fail validation, got %v", err)
	}

	count, err := m.Count(ctx, "u1")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 0 {
		t.Errorf("expected no facts left, got %d", count)
	}
}

func TestFormatForPrompt(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	block, err := m.FormatForPrompt(ctx, "u1")
	if err != nil {
		t.Fatalf("FormatForPrompt: %v", err)
	}
	if block != "" {
		t.Errorf("no facts should render empty block, got %q", block)
	}

	if _, err := m.Store(ctx, "u1", "nome", "Carlos", 0.9, "", nil); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, err := m.Store(ctx, "u1", "rumor", "x", 0.1, "", nil); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, err := m.Store(ctx, "u1", "nome", "Ana", 0.9, "", nil); err != nil {
		t.Fatalf("Store (overwrite): %v", err)
	}

	block, err = m.FormatForPrompt(ctx, "u1")
	if err != nil {
		t.Fatalf("FormatForPrompt: %v", err)
	}
	if !strings.Contains(block, "=== Factos conhecidos sobre o utilizador ===") {
		t.Errorf("missing header: %q", block)
	}
	if !strings.Contains(block, "- nome: Ana") {
		t.Errorf("expected overwritten value in block: %q", block)
	}
	if strings.Contains(block, "Carlos") {
		t.Errorf("stale value leaked into block: %q", block)
	}
	if strings.Contains(block, "rumor") {
		t.Errorf("fact below importance floor leaked into block: %q", block)
	}
}
