package storage

import (
	"context"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{
		"idx_chat_user_created",
		"idx_facts_user_importance",
		"idx_facts_user_category",
		"idx_steps_user_importance",
		"idx_steps_keywords",
		"idx_cron_status_next",
		"idx_cron_log_cron_started",
	}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestChatMessageRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for i, content := range []string{"oi", "ola, tudo bem?", "sim"} {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		_, err := s.InsertChatMessage(ctx, ChatMessage{
			UserID:    "u1",
			Role:      role,
			Content:   content,
			SessionID: "sess",
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("InsertChatMessage: %v", err)
		}
	}

	msgs, err := s.RecentChatMessages(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("RecentChatMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	// Chronological order: last two messages.
	if msgs[0].Content != "ola, tudo bem?" || msgs[1].Content != "sim" {
		t.Errorf("unexpected order: %q, %q", msgs[0].Content, msgs[1].Content)
	}

	deleted, err := s.DeleteChatMessages(ctx, "u1")
	if err != nil {
		t.Fatalf("DeleteChatMessages: %v", err)
	}
	if deleted != 3 {
		t.Errorf("expected 3 deleted, got %d", deleted)
	}
}

func TestTrimChatMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for i := 0; i < 10; i++ {
		_, err := s.InsertChatMessage(ctx, ChatMessage{
			UserID:    "u1",
			Role:      RoleUser,
			Content:   "msg",
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("InsertChatMessage: %v", err)
		}
	}

	if _, err := s.TrimChatMessages(ctx, "u1", 4); err != nil {
		t.Fatalf("TrimChatMessages: %v", err)
	}
	count, err := s.CountChatMessages(ctx, "u1")
	if err != nil {
		t.Fatalf("CountChatMessages: %v", err)
	}
	if count != 4 {
		t.Errorf("expected 4 messages after trim, got %d", count)
	}
}

func TestFactUpsertAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	f := Fact{
		UserID:       "u1",
		Key:          "nome",
		Value:        "Carlos",
		Importance:   0.9,
		Category:     "general",
		Tags:         []string{"pessoal"},
		LastAccessed: now,
		CreatedAt:    now,
	}
	if _, err := s.InsertFact(ctx, f); err != nil {
		t.Fatalf("InsertFact: %v", err)
	}

	got, err := s.GetFact(ctx, "u1", "nome")
	if err != nil {
		t.Fatalf("GetFact: %v", err)
	}
	if got.Value != "Carlos" || got.Importance != 0.9 {
		t.Errorf("unexpected fact: %+v", got)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "pessoal" {
		t.Errorf("tags not preserved: %v", got.Tags)
	}

	f.Value = "Ana"
	if err := s.UpdateFact(ctx, f); err != nil {
		t.Fatalf("UpdateFact: %v", err)
	}
	got, err = s.GetFact(ctx, "u1", "nome")
	if err != nil {
		t.Fatalf("GetFact after update: %v", err)
	}
	if got.Value != "Ana" {
		t.Errorf("expected updated value Ana, got %q", got.Value)
	}
	if got.AccessCount != 1 {
		t.Errorf("update should bump access count, got %d", got.AccessCount)
	}

	if _, err := s.GetFact(ctx, "u1", "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFactDeletion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for _, kv := range []struct{ key, category string }{
		{"nome", "general"},
		{"email", "contact"},
		{"projeto_atual", "auto_extracted"},
	} {
		_, err := s.InsertFact(ctx, Fact{
			UserID: "u1", Key: kv.key, Value: "x", Importance: 0.5,
			Category: kv.category, LastAccessed: now, CreatedAt: now,
		})
		if err != nil {
			t.Fatalf("InsertFact(%s): %v", kv.key, err)
		}
	}

	n, err := s.DeleteFactsByKey(ctx, "u1", "nome")
	if err != nil || n != 1 {
		t.Fatalf("DeleteFactsByKey: n=%d err=%v", n, err)
	}
	n, err = s.DeleteFactsByCategory(ctx, "u1", "contact")
	if err != nil || n != 1 {
		t.Fatalf("DeleteFactsByCategory: n=%d err=%v", n, err)
	}
	n, err = s.DeleteAllFacts(ctx, "u1")
	if err != nil || n != 1 {
		t.Fatalf("DeleteAllFacts: n=%d err=%v", n, err)
	}
}

func TestStepsByKeyword(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	steps := []ContextStep{
		{UserID: "u1", Query: "como configurar docker", Thought: "verificar compose", Confidence: 0.8, Importance: 0.7, Keywords: "compose configurar docker", CreatedAt: now},
		{UserID: "u1", Query: "erro no deploy", Thought: "logs do servidor", Confidence: 0.6, Importance: 0.9, Keywords: "deploy erro logs servidor", CreatedAt: now},
		{UserID: "u2", Query: "docker networking", Thought: "bridge mode", Confidence: 0.5, Importance: 0.5, Keywords: "bridge docker networking", CreatedAt: now},
	}
	for _, st := range steps {
		if _, err := s.InsertStep(ctx, st); err != nil {
			t.Fatalf("InsertStep: %v", err)
		}
	}

	found, err := s.StepsByKeyword(ctx, "u1", "docker", 10)
	if err != nil {
		t.Fatalf("StepsByKeyword: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected 1 step for u1/docker, got %d", len(found))
	}
	if found[0].Query != "como configurar docker" {
		t.Errorf("unexpected step: %+v", found[0])
	}

	recent, err := s.RecentSteps(ctx, "u1", 5)
	if err != nil {
		t.Fatalf("RecentSteps: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("expected 2 recent steps, got %d", len(recent))
	}
}

func TestDeleteStepsBefore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	old := now.AddDate(0, 0, -60)
	for _, at := range []time.Time{old, now} {
		_, err := s.InsertStep(ctx, ContextStep{
			UserID: "u1", Query: "q", Thought: "t", Confidence: 0.5, Importance: 0.5, CreatedAt: at,
		})
		if err != nil {
			t.Fatalf("InsertStep: %v", err)
		}
	}

	cutoff := now.AddDate(0, 0, -30).Format(time.RFC3339Nano)
	deleted, err := s.DeleteStepsBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("DeleteStepsBefore: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
}

func TestCronJobLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	next := now.Add(time.Hour)
	job := CronJob{
		ID:       "job-1",
		UserID:   "u1",
		Name:     "backup",
		Schedule: "every:1h",
		TaskType: TaskShell,
		Task:     "echo ok",
		Status:   CronActive,
		NextRun:  &next,
		CreatedAt: now,
	}
	if err := s.InsertCronJob(ctx, job); err != nil {
		t.Fatalf("InsertCronJob: %v", err)
	}

	due, err := s.DueCronJobs(ctx, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("DueCronJobs: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected 1 due job, got %d", len(due))
	}

	due, err = s.DueCronJobs(ctx, now)
	if err != nil {
		t.Fatalf("DueCronJobs: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("job should not be due yet, got %d", len(due))
	}

	// Pause: status change with nil next_run.
	if err := s.UpdateCronJobStatus(ctx, "job-1", CronPaused, nil); err != nil {
		t.Fatalf("UpdateCronJobStatus: %v", err)
	}
	got, err := s.GetCronJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetCronJob: %v", err)
	}
	if got.Status != CronPaused || got.NextRun != nil {
		t.Errorf("expected paused with nil next_run, got %+v", got)
	}

	// Record a successful run.
	ran := now.Add(time.Hour)
	nextAfter := ran.Add(time.Hour)
	if err := s.FinishCronRun(ctx, "job-1", CronActive, ran, &nextAfter, "done", ""); err != nil {
		t.Fatalf("FinishCronRun: %v", err)
	}
	got, err = s.GetCronJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetCronJob: %v", err)
	}
	if got.RunCount != 1 || got.LastOutput != "done" || got.LastRun == nil {
		t.Errorf("run not recorded: %+v", got)
	}

	if err := s.DeleteCronJob(ctx, "job-1"); err != nil {
		t.Fatalf("DeleteCronJob: %v", err)
	}
	if _, err := s.GetCronJob(ctx, "job-1"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestCronLogCascade(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	job := CronJob{
		ID: "job-1", UserID: "u1", Name: "n", Schedule: "every:1h",
		TaskType: TaskShell, Task: "echo", Status: CronActive, CreatedAt: now,
	}
	if err := s.InsertCronJob(ctx, job); err != nil {
		t.Fatalf("InsertCronJob: %v", err)
	}

	entry := CronLogEntry{
		ID: "log-1", CronID: "job-1", UserID: "u1",
		StartedAt: now, Status: CronLogRunning,
	}
	if err := s.InsertCronLog(ctx, entry); err != nil {
		t.Fatalf("InsertCronLog: %v", err)
	}
	ended := now.Add(time.Second)
	if err := s.CloseCronLog(ctx, "log-1", CronLogSuccess, ended, "ok", "", time.Second); err != nil {
		t.Fatalf("CloseCronLog: %v", err)
	}

	logs, err := s.CronLogs(ctx, "job-1", 10)
	if err != nil {
		t.Fatalf("CronLogs: %v", err)
	}
	if len(logs) != 1 || logs[0].Status != CronLogSuccess || logs[0].Duration != time.Second {
		t.Fatalf("unexpected logs: %+v", logs)
	}

	if err := s.DeleteCronJob(ctx, "job-1"); err != nil {
		t.Fatalf("DeleteCronJob: %v", err)
	}
	logs, err = s.CronLogs(ctx, "job-1", 10)
	if err != nil {
		t.Fatalf("CronLogs after delete: %v", err)
	}
	if len(logs) != 0 {
		t.Errorf("expected logs cascade-deleted, got %d", len(logs))
	}
}
