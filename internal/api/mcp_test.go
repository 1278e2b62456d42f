package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) MCPDeps {
	t.Helper()
	_, mem := setupAppHandler(t, "")
	return MCPDeps{Memory: mem, DefaultUser: "local"}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// --- tests ---

func TestMCPTool_RememberFact(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpRememberFact(deps)

	req := makeCallToolRequest("remember_fact", map[string]interface{}{
		"key":   "nome",
		"value": "Ana",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if text := toolText(t, result); text != "Remembered nome = Ana" {
		t.Fatalf("unexpected response: %s", text)
	}

	// Same key again is an update, not a new fact.
	req = makeCallToolRequest("remember_fact", map[string]interface{}{
		"key":   "nome",
		"value": "Ana Maria",
	})
	result, err = handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text := toolText(t, result); text != "Updated nome = Ana Maria" {
		t.Fatalf("unexpected response: %s", text)
	}

	fact, err := deps.Memory.Facts.Get(context.Background(), "local", "nome")
	if err != nil {
		t.Fatalf("getting fact: %v", err)
	}
	if fact.Value != "Ana Maria" {
		t.Fatalf("expected updated value, got %s", fact.Value)
	}
}

func TestMCPTool_RememberFact_MissingKey(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpRememberFact(deps)

	req := makeCallToolRequest("remember_fact", map[string]interface{}{
		"value": "Ana",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
}

func TestMCPTool_RecallFacts_Empty(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpRecallFacts(deps)

	req := makeCallToolRequest("recall_facts", map[string]interface{}{})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if text := toolText(t, result); text != "[]" {
		t.Fatalf("expected empty array, got: %s", text)
	}
}

func TestMCPTool_RecallFacts_QueryFilter(t *testing.T) {
	deps := newTestMCPDeps(t)
	ctx := context.Background()

	if _, err := deps.Memory.Facts.Store(ctx, "local", "nome", "Ana", 0.9, "", nil); err != nil {
		t.Fatalf("storing fact: %v", err)
	}
	if _, err := deps.Memory.Facts.Store(ctx, "local", "localizacao", "Lisboa", 0.6, "", nil); err != nil {
		t.Fatalf("storing fact: %v", err)
	}

	handler := mcpRecallFacts(deps)

	req := makeCallToolRequest("recall_facts", map[string]interface{}{})
	result, err := handler(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var all []json.RawMessage
	if err := json.Unmarshal([]byte(toolText(t, result)), &all); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 facts, got %d", len(all))
	}

	req = makeCallToolRequest("recall_facts", map[string]interface{}{
		"query": "Lisboa",
	})
	result, err = handler(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var filtered []json.RawMessage
	if err := json.Unmarshal([]byte(toolText(t, result)), &filtered); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(filtered) != 1 {
		t.Fatalf("expected 1 fact, got %d", len(filtered))
	}
}

func TestMCPTool_GetContext_NoData(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpGetContext(deps)

	req := makeCallToolRequest("get_context", map[string]interface{}{
		"query": "qual o meu nome",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if text := toolText(t, result); text != "No stored context for this query." {
		t.Fatalf("unexpected response: %s", text)
	}
}

func TestMCPTool_GetContext_IncludesFacts(t *testing.T) {
	deps := newTestMCPDeps(t)
	ctx := context.Background()

	if _, err := deps.Memory.Facts.Store(ctx, "local", "nome", "Ana", 0.9, "", nil); err != nil {
		t.Fatalf("storing fact: %v", err)
	}

	handler := mcpGetContext(deps)
	req := makeCallToolRequest("get_context", map[string]interface{}{
		"query": "qual o meu nome",
	})

	result, err := handler(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := toolText(t, result)
	if !strings.Contains(text, "nome: Ana") {
		t.Fatalf("expected fact in context block, got: %s", text)
	}
}

func TestMCPTool_RecordStep(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpRecordStep(deps)

	req := makeCallToolRequest("record_step", map[string]interface{}{
		"query":       "erro no deploy do servico",
		"thought":     "solucao: reiniciar o container",
		"confidence":  0.9,
		"tool_result": "container ok",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if text := toolText(t, result); !strings.Contains(text, "persisted") {
		t.Fatalf("high-confidence step should persist, got: %s", text)
	}

	req = makeCallToolRequest("record_step", map[string]interface{}{
		"query":      "pergunta qualquer",
		"thought":    "nada de especial",
		"confidence": 0.1,
	})
	result, err = handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text := toolText(t, result); !strings.Contains(text, "short-term only") {
		t.Fatalf("low-confidence step should stay short-term, got: %s", text)
	}
}

func TestMCPTool_RecordStep_MissingThought(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpRecordStep(deps)

	req := makeCallToolRequest("record_step", map[string]interface{}{
		"query": "sem pensamento",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
}
