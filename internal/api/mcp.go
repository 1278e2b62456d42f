package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/openbot/hgr/internal/facts"
	"github.com/openbot/hgr/internal/memory"
	"github.com/openbot/hgr/internal/steps"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Memory *memory.Manager
	// DefaultUser is the user id attributed to MCP calls that carry none.
	DefaultUser string
}

// NewMCPServer creates an MCP server exposing the memory tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"hgr",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("hgr — persistent conversational memory: facts about the user, past reasoning steps, and scheduled tasks."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("remember_fact",
			mcp.WithDescription("Store a durable fact about the user for later recall."),
			mcp.WithString("key", mcp.Description("Short identifier, e.g. nome or linguagem_preferida"), mcp.Required()),
			mcp.WithString("value", mcp.Description("The fact's value"), mcp.Required()),
			mcp.WithNumber("importance", mcp.Description("0..1, defaults to 0.5")),
			mcp.WithString("category", mcp.Description("Grouping label, defaults to general")),
			mcp.WithString("user", mcp.Description("User id; defaults to the configured user")),
		),
		mcpRememberFact(deps),
	)

	s.AddTool(
		mcp.NewTool("recall_facts",
			mcp.WithDescription("Return the stored facts about a user, most important first."),
			mcp.WithString("query", mcp.Description("Optional substring filter over keys and values")),
			mcp.WithString("user", mcp.Description("User id; defaults to the configured user")),
		),
		mcpRecallFacts(deps),
	)

	s.AddTool(
		mcp.NewTool("get_context",
			mcp.WithDescription("Build the prompt context block for a query: known facts plus relevant past reasoning."),
			mcp.WithString("query", mcp.Description("The user's current question"), mcp.Required()),
			mcp.WithString("user", mcp.Description("User id; defaults to the configured user")),
		),
		mcpGetContext(deps),
	)

	s.AddTool(
		mcp.NewTool("record_step",
			mcp.WithDescription("Record one reasoning step so future sessions can retrieve it."),
			mcp.WithString("query", mcp.Description("The question that triggered the step"), mcp.Required()),
			mcp.WithString("thought", mcp.Description("The reasoning text"), mcp.Required()),
			mcp.WithString("action", mcp.Description("What was done")),
			mcp.WithNumber("confidence", mcp.Description("0..1 confidence in the step")),
			mcp.WithString("tool_result", mcp.Description("Output of any tool the step used")),
			mcp.WithString("user", mcp.Description("User id; defaults to the configured user")),
		),
		mcpRecordStep(deps),
	)

	return s
}

func (d MCPDeps) user(req mcp.CallToolRequest) string {
	return req.GetString("user", d.DefaultUser)
}

func mcpRememberFact(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}
		importance := req.GetFloat("importance", facts.DefaultImportance)
		category := req.GetString("category", facts.DefaultCategory)

		created, err := deps.Memory.Facts.Store(ctx, deps.user(req), key, value, importance, category, nil)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to store fact: %v", err)), nil
		}
		if created {
			return mcpText(fmt.Sprintf("Remembered %s = %s", key, value)), nil
		}
		return mcpText(fmt.Sprintf("Updated %s = %s", key, value)), nil
	}
}

func mcpRecallFacts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		user := deps.user(req)

		type factResult struct {
			Key        string  `json:"key"`
			Value      string  `json:"value"`
			Importance float64 `json:"importance"`
			Category   string  `json:"category"`
		}
		var results []factResult

		if query := req.GetString("query", ""); query != "" {
			found, err := deps.Memory.Facts.Search(ctx, user, query)
			if err != nil {
				return mcpError(fmt.Sprintf("recall failed: %v", err)), nil
			}
			for _, f := range found {
				results = append(results, factResult{f.Key, f.Value, f.Importance, f.Category})
			}
		} else {
			all, err := deps.Memory.Facts.GetAll(ctx, user, 0)
			if err != nil {
				return mcpError(fmt.Sprintf("recall failed: %v", err)), nil
			}
			for _, f := range all {
				results = append(results, factResult{f.Key, f.Value, f.Importance, f.Category})
			}
		}

		if len(results) == 0 {
			return mcpText("[]"), nil
		}
		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetContext(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		block, err := deps.Memory.BuildSystemContext(ctx, deps.user(req), query)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to build context: %v", err)), nil
		}
		if block == "" {
			return mcpText("No stored context for this query."), nil
		}
		return mcpText(block), nil
	}
}

func mcpRecordStep(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		thought, err := req.RequireString("thought")
		if err != nil {
			return mcpError("thought is required"), nil
		}

		st, err := deps.Memory.RecordStep(ctx, deps.user(req), steps.Step{
			Query:      query,
			Thought:    thought,
			Action:     req.GetString("action", ""),
			Confidence: req.GetFloat("confidence", 0.5),
			ToolResult: req.GetString("tool_result", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to record step: %v", err)), nil
		}
		if st.ID != 0 {
			return mcpText(fmt.Sprintf("Recorded (importance %.2f, persisted)", st.Importance)), nil
		}
		return mcpText(fmt.Sprintf("Recorded (importance %.2f, short-term only)", st.Importance)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
