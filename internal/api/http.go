// Package api exposes the memory subsystem over two surfaces: a small JSON
// HTTP API for the agent process and an MCP server for tool-calling clients.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openbot/hgr/internal/cron"
	"github.com/openbot/hgr/internal/facts"
	"github.com/openbot/hgr/internal/history"
	"github.com/openbot/hgr/internal/memory"
	"github.com/openbot/hgr/internal/steps"
	"github.com/openbot/hgr/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// AppDeps holds dependencies for the HTTP surface.
type AppDeps struct {
	Memory *memory.Manager
	Token  string
}

// NewAppHandler builds the HTTP router.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Route("/users/{user}", func(r chi.Router) {
			r.Post("/messages", handleAddMessage(deps))
			r.Get("/messages", handleGetHistory(deps))
			r.Delete("/messages", handleClearHistory(deps))

			r.Post("/facts", handleStoreFact(deps))
			r.Get("/facts", handleListFacts(deps))
			r.Delete("/facts", handleDeleteFacts(deps))
			r.Get("/facts/export", handleExportFacts(deps))
			r.Post("/facts/extract", handleExtractFacts(deps))

			r.Post("/steps", handleRecordStep(deps))
			r.Get("/context", handleGetContext(deps))
			r.Get("/stats", handleStats(deps))

			r.Post("/cron", handleCreateCron(deps))
			r.Get("/cron", handleListCron(deps))
		})

		r.Route("/cron/{id}", func(r chi.Router) {
			r.Get("/", handleGetCron(deps))
			r.Delete("/", handleDeleteCron(deps))
			r.Post("/toggle", handleToggleCron(deps))
			r.Post("/run", handleRunCron(deps))
			r.Get("/logs", handleCronLogs(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

type addMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func handleAddMessage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := chi.URLParam(r, "user")
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req addMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}

		if err := deps.Memory.AddChatMessage(r.Context(), user, req.Role, req.Content); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "stored"})
	}
}

func handleGetHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := chi.URLParam(r, "user")
		n := parseIntParam(r, "n", 0, 1000)

		msgs, err := deps.Memory.GetChatHistory(r.Context(), user, n)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get history: %v", err)
			return
		}
		if msgs == nil {
			msgs = []history.Message{}
		}
		writeJSON(w, msgs)
	}
}

func handleClearHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := chi.URLParam(r, "user")
		n, err := deps.Memory.ClearChatHistory(r.Context(), user)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear history: %v", err)
			return
		}
		writeJSON(w, map[string]int64{"deleted": n})
	}
}

type storeFactRequest struct {
	Key        string   `json:"key"`
	Value      string   `json:"value"`
	Importance *float64 `json:"importance"`
	Category   string   `json:"category"`
	Tags       []string `json:"tags"`
}

type factResponse struct {
	Key          string    `json:"key"`
	Value        string    `json:"value"`
	Importance   float64   `json:"importance"`
	Category     string    `json:"category"`
	Tags         []string  `json:"tags,omitempty"`
	AccessCount  int       `json:"access_count"`
	LastAccessed time.Time `json:"last_accessed"`
	CreatedAt    time.Time `json:"created_at"`
}

func toFactResponse(f storage.Fact) factResponse {
	return factResponse{
		Key:          f.Key,
		Value:        f.Value,
		Importance:   f.Importance,
		Category:     f.Category,
		Tags:         f.Tags,
		AccessCount:  f.AccessCount,
		LastAccessed: f.LastAccessed,
		CreatedAt:    f.CreatedAt,
	}
}

func handleStoreFact(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := chi.URLParam(r, "user")
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req storeFactRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		importance := facts.DefaultImportance
		if req.Importance != nil {
			importance = *req.Importance
		}

		created, err := deps.Memory.Facts.Store(r.Context(), user, req.Key, req.Value, importance, req.Category, req.Tags)
		if errors.Is(err, facts.ErrValidation) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store fact: %v", err)
			return
		}
		status := "updated"
		if created {
			status = "created"
		}
		writeJSON(w, map[string]string{"status": status})
	}
}

func handleListFacts(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := chi.URLParam(r, "user")

		var list []storage.Fact
		if q := r.URL.Query().Get("q"); q != "" {
			found, err := deps.Memory.Facts.Search(r.Context(), user, q)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to search facts: %v", err)
				return
			}
			list = found
		} else {
			minImportance := parseFloatParam(r, "min_importance", 0)
			all, err := deps.Memory.Facts.GetAll(r.Context(), user, minImportance)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to list facts: %v", err)
				return
			}
			for _, f := range all {
				list = append(list, f)
			}
		}

		out := make([]factResponse, len(list))
		for i, f := range list {
			out[i] = toFactResponse(f)
		}
		writeJSON(w, out)
	}
}

func handleDeleteFacts(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := chi.URLParam(r, "user")
		q := r.URL.Query()

		sel := facts.DeleteSelector{
			Key:      q.Get("key"),
			Category: q.Get("category"),
			All:      q.Get("all") == "true",
		}
		if raw := q.Get("id"); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid id")
				return
			}
			sel.ID = id
		}

		n, err := deps.Memory.Facts.Delete(r.Context(), user, sel)
		if errors.Is(err, facts.ErrValidation) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete facts: %v", err)
			return
		}
		writeJSON(w, map[string]int64{"deleted": n})
	}
}

func handleExportFacts(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := chi.URLParam(r, "user")
		b, err := deps.Memory.Facts.ExportJSON(r.Context(), user)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to export facts: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(b)
	}
}

type extractFactsRequest struct {
	UserMessage string `json:"user_message"`
	BotReply    string `json:"bot_reply"`
}

func handleExtractFacts(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := chi.URLParam(r, "user")
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req extractFactsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		keys, err := deps.Memory.ExtractAndStoreFacts(r.Context(), user, req.UserMessage, req.BotReply)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "extraction failed: %v", err)
			return
		}
		if keys == nil {
			keys = []string{}
		}
		writeJSON(w, map[string]any{"extracted": keys})
	}
}

type recordStepRequest struct {
	Query      string  `json:"query"`
	Thought    string  `json:"thought"`
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	ToolUsed   string  `json:"tool_used"`
	ToolResult string  `json:"tool_result"`
}

func handleRecordStep(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := chi.URLParam(r, "user")
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req recordStepRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		st, err := deps.Memory.RecordStep(r.Context(), user, steps.Step{
			Query:      req.Query,
			Thought:    req.Thought,
			Action:     req.Action,
			Confidence: req.Confidence,
			ToolUsed:   req.ToolUsed,
			ToolResult: req.ToolResult,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to record step: %v", err)
			return
		}
		writeJSON(w, map[string]any{
			"importance": st.Importance,
			"persisted":  st.ID != 0,
		})
	}
}

func handleGetContext(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := chi.URLParam(r, "user")
		query := r.URL.Query().Get("query")

		block, err := deps.Memory.BuildSystemContext(r.Context(), user, query)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to build context: %v", err)
			return
		}
		writeJSON(w, map[string]string{"context": block})
	}
}

func handleStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := chi.URLParam(r, "user")
		stats, err := deps.Memory.UserStats(r.Context(), user)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to gather stats: %v", err)
			return
		}
		writeJSON(w, stats)
	}
}

type createCronRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Schedule    string `json:"schedule"`
	TaskType    string `json:"task_type"`
	Task        string `json:"task"`
}

type cronJobResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Schedule    string     `json:"schedule"`
	TaskType    string     `json:"task_type"`
	Task        string     `json:"task"`
	Status      string     `json:"status"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	NextRun     *time.Time `json:"next_run,omitempty"`
	NextRunIn   string     `json:"next_run_in"`
	RunCount    int        `json:"run_count"`
	LastOutput  string     `json:"last_output,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toCronResponse(cm *cron.Manager, j storage.CronJob) cronJobResponse {
	return cronJobResponse{
		ID:          j.ID,
		Name:        j.Name,
		Description: j.Description,
		Schedule:    j.Schedule,
		TaskType:    string(j.TaskType),
		Task:        j.Task,
		Status:      j.Status,
		LastRun:     j.LastRun,
		NextRun:     j.NextRun,
		NextRunIn:   cm.FormatNextRun(j),
		RunCount:    j.RunCount,
		LastOutput:  j.LastOutput,
		LastError:   j.LastError,
		CreatedAt:   j.CreatedAt,
	}
}

func handleCreateCron(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := chi.URLParam(r, "user")
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req createCronRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		job, err := deps.Memory.Cron.Create(r.Context(), cron.JobSpec{
			UserID:      user,
			Name:        req.Name,
			Description: req.Description,
			Schedule:    req.Schedule,
			TaskType:    storage.TaskType(req.TaskType),
			Task:        req.Task,
		})
		if errors.Is(err, cron.ErrValidation) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create job: %v", err)
			return
		}
		writeJSON(w, toCronResponse(deps.Memory.Cron, job))
	}
}

func handleListCron(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := chi.URLParam(r, "user")
		jobs, err := deps.Memory.Cron.List(r.Context(), user, r.URL.Query().Get("status"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list jobs: %v", err)
			return
		}
		out := make([]cronJobResponse, len(jobs))
		for i, j := range jobs {
			out[i] = toCronResponse(deps.Memory.Cron, j)
		}
		writeJSON(w, out)
	}
}

func handleGetCron(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Memory.Cron.Get(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}
		writeJSON(w, toCronResponse(deps.Memory.Cron, job))
	}
}

func handleDeleteCron(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Memory.Cron.Delete(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete job: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func handleToggleCron(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Memory.Cron.Toggle(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to toggle job: %v", err)
			return
		}
		writeJSON(w, toCronResponse(deps.Memory.Cron, job))
	}
}

func handleRunCron(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Memory.Cron.RunNow(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusConflict, "api_error", "%v", err)
			return
		}
		writeJSON(w, toCronResponse(deps.Memory.Cron, job))
	}
}

type cronLogResponse struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Status     string     `json:"status"`
	Output     string     `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	DurationMS int64      `json:"duration_ms"`
}

func handleCronLogs(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		entries, err := deps.Memory.Cron.Logs(r.Context(), chi.URLParam(r, "id"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get logs: %v", err)
			return
		}
		out := make([]cronLogResponse, len(entries))
		for i, e := range entries {
			out[i] = cronLogResponse{
				ID:         e.ID,
				StartedAt:  e.StartedAt,
				EndedAt:    e.EndedAt,
				Status:     e.Status,
				Output:     e.Output,
				Error:      e.Error,
				DurationMS: e.Duration.Milliseconds(),
			}
		}
		writeJSON(w, out)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func parseFloatParam(r *http.Request, key string, defaultVal float64) float64 {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return defaultVal
	}
	return v
}
