package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/openbot/hgr/internal/cron"
	"github.com/openbot/hgr/internal/memory"
	"github.com/openbot/hgr/internal/storage"
)

const (
	taskTimeout      = 2 * time.Minute
	maxHTTPTaskBody  = 1 << 20 // 1MB
	maxTaskOutputLen = 4000
)

// CompleteFunc produces an LLM answer for a prompt. Agent tasks are wired to
// the embedding process's completion function; when none is installed, agent
// tasks fail cleanly instead of silently doing nothing.
type CompleteFunc func(ctx context.Context, systemContext, prompt string) (string, error)

// newTaskExecutor builds the cron executor. Shell tasks run through the shell,
// http tasks fetch a URL, agent tasks re-enter the memory subsystem to build
// their context before asking the model.
func newTaskExecutor(mem *memory.Manager, complete CompleteFunc) cron.Executor {
	httpClient := &http.Client{Timeout: taskTimeout}

	return func(ctx context.Context, job storage.CronJob) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, taskTimeout)
		defer cancel()

		switch job.TaskType {
		case storage.TaskShell:
			return runShellTask(ctx, job.Task)
		case storage.TaskHTTP:
			return runHTTPTask(ctx, httpClient, job.Task)
		case storage.TaskAgent:
			if complete == nil {
				return "", fmt.Errorf("no completion backend configured for agent tasks")
			}
			sysCtx, err := mem.BuildSystemContext(ctx, job.UserID, job.Task)
			if err != nil {
				return "", fmt.Errorf("building context: %w", err)
			}
			answer, err := complete(ctx, sysCtx, job.Task)
			if err != nil {
				return "", err
			}
			return clipOutput(answer), nil
		default:
			return "", fmt.Errorf("unknown task type %q", job.TaskType)
		}
	}
}

func runShellTask(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return clipOutput(string(out)), fmt.Errorf("command failed: %w", err)
	}
	return clipOutput(string(out)), nil
}

func runHTTPTask(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPTaskBody))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return clipOutput(string(body)), fmt.Errorf("url returned status %d", resp.StatusCode)
	}
	return clipOutput(string(body)), nil
}

func clipOutput(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxTaskOutputLen {
		return s[:maxTaskOutputLen] + "..."
	}
	return s
}
