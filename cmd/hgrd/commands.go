package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

const defaultUser = "local"

func userFlag(cmd *cobra.Command) string {
	user, _ := cmd.Flags().GetString("user")
	if user == "" {
		return defaultUser
	}
	return user
}

// --- facts ---

var factsCmd = &cobra.Command{
	Use:   "facts",
	Short: "Manage stored facts about a user",
}

var factsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored facts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/users/%s/facts", url.PathEscape(userFlag(cmd)))
		if q, _ := cmd.Flags().GetString("search"); q != "" {
			path += "?q=" + url.QueryEscape(q)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var results []struct {
			Key        string  `json:"key"`
			Value      string  `json:"value"`
			Importance float64 `json:"importance"`
			Category   string  `json:"category"`
		}
		if err := decodeJSON(resp, &results); err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Println("No facts stored.")
			return nil
		}
		for _, f := range results {
			fmt.Printf("%s  %s = %s  [%s, %.2f]\n",
				colorize(colorCyan, "•"),
				colorize(colorBold, f.Key),
				f.Value, f.Category, f.Importance,
			)
		}
		return nil
	},
}

var factsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store or update a fact",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		importance, _ := cmd.Flags().GetFloat64("importance")
		category, _ := cmd.Flags().GetString("category")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{
			"key":        key,
			"value":      value,
			"importance": importance,
		}
		if category != "" {
			body["category"] = category
		}
		resp, err := client.post(cmd.Context(), fmt.Sprintf("/users/%s/facts", url.PathEscape(userFlag(cmd))), body)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("%s %s = %s", result["status"], key, value)
		return nil
	},
}

var factsDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete facts by key, category, or all",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, _ := cmd.Flags().GetString("key")
		category, _ := cmd.Flags().GetString("category")
		all, _ := cmd.Flags().GetBool("all")

		if key == "" && category == "" && !all {
			return fmt.Errorf("one of --key, --category, or --all is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		if key != "" {
			q.Set("key", key)
		}
		if category != "" {
			q.Set("category", category)
		}
		if all {
			q.Set("all", "true")
		}
		path := fmt.Sprintf("/users/%s/facts?%s", url.PathEscape(userFlag(cmd)), q.Encode())

		resp, err := client.delete(cmd.Context(), path)
		if err != nil {
			return err
		}
		var result map[string]int64
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted %d fact(s)", result["deleted"])
		return nil
	},
}

var factsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export facts as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/users/%s/facts/export", url.PathEscape(userFlag(cmd))))
		if err != nil {
			return err
		}
		var export any
		if err := decodeJSON(resp, &export); err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(export)
	},
}

func init() {
	factsCmd.PersistentFlags().String("user", defaultUser, "user id")
	factsListCmd.Flags().String("search", "", "substring filter over keys and values")
	factsSetCmd.Flags().Float64("importance", 0.5, "importance 0..1")
	factsSetCmd.Flags().String("category", "", "category label")
	factsDeleteCmd.Flags().String("key", "", "delete the fact with this key")
	factsDeleteCmd.Flags().String("category", "", "delete all facts in this category")
	factsDeleteCmd.Flags().Bool("all", false, "delete all facts for the user")

	factsCmd.AddCommand(factsListCmd)
	factsCmd.AddCommand(factsSetCmd)
	factsCmd.AddCommand(factsDeleteCmd)
	factsCmd.AddCommand(factsExportCmd)
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect or clear chat history",
}

var historyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show recent chat messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("n")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/users/%s/messages?n=%d", url.PathEscape(userFlag(cmd)), n))
		if err != nil {
			return err
		}
		var msgs []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}
		if err := decodeJSON(resp, &msgs); err != nil {
			return err
		}
		if len(msgs) == 0 {
			fmt.Println("No messages.")
			return nil
		}
		for _, m := range msgs {
			fmt.Printf("%s %s\n", colorize(colorBold, "["+m.Role+"]"), m.Content)
		}
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all chat history for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete the user's chat history. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), fmt.Sprintf("/users/%s/messages", url.PathEscape(userFlag(cmd))))
		if err != nil {
			return err
		}
		var result map[string]int64
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted %d message(s)", result["deleted"])
		return nil
	},
}

func init() {
	historyCmd.PersistentFlags().String("user", defaultUser, "user id")
	historyShowCmd.Flags().Int("n", 0, "number of messages (0 = server default)")
	historyClearCmd.Flags().Bool("confirm", false, "confirm deletion")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyClearCmd)
}

// --- context ---

var contextCmd = &cobra.Command{
	Use:   "context <query>",
	Short: "Build the prompt context block for a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/users/%s/context?query=%s", url.PathEscape(userFlag(cmd)), url.QueryEscape(query))
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if result["context"] == "" {
			fmt.Println("No stored context for this query.")
			return nil
		}
		fmt.Println(result["context"])
		return nil
	},
}

func init() {
	contextCmd.Flags().String("user", defaultUser, "user id")
}

// --- cron ---

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Manage scheduled tasks",
}

var cronAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a scheduled task",
	Long: `Create a scheduled task.

Examples:
  hgrd cron add backup --schedule "every:1d" --type shell --task "sh backup.sh"
  hgrd cron add morning-brief --schedule "cron:0 8 * * *" --type agent --task "Resume as noticias de hoje"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		schedule, _ := cmd.Flags().GetString("schedule")
		taskType, _ := cmd.Flags().GetString("type")
		task, _ := cmd.Flags().GetString("task")
		description, _ := cmd.Flags().GetString("description")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{
			"name":        args[0],
			"description": description,
			"schedule":    schedule,
			"task_type":   taskType,
			"task":        task,
		}
		resp, err := client.post(cmd.Context(), fmt.Sprintf("/users/%s/cron", url.PathEscape(userFlag(cmd))), body)
		if err != nil {
			return err
		}
		var job struct {
			ID        string `json:"id"`
			NextRunIn string `json:"next_run_in"`
		}
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		printSuccess("Created job %s (next run %s)", job.ID, job.NextRunIn)
		return nil
	},
}

var cronListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/users/%s/cron", url.PathEscape(userFlag(cmd))))
		if err != nil {
			return err
		}
		var jobs []struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			Schedule  string `json:"schedule"`
			TaskType  string `json:"task_type"`
			Status    string `json:"status"`
			NextRunIn string `json:"next_run_in"`
			RunCount  int    `json:"run_count"`
			LastError string `json:"last_error"`
		}
		if err := decodeJSON(resp, &jobs); err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No scheduled tasks.")
			return nil
		}
		for _, j := range jobs {
			status := j.Status
			if j.Status == "error" {
				status = colorize(colorRed, j.Status)
			}
			fmt.Printf("%s  %s  [%s/%s]  %s, runs: %d, next: %s\n",
				colorize(colorCyan, j.ID[:8]),
				colorize(colorBold, j.Name),
				j.TaskType, j.Schedule,
				status, j.RunCount, j.NextRunIn,
			)
			if j.LastError != "" {
				fmt.Printf("          last error: %s\n", j.LastError)
			}
		}
		return nil
	},
}

var cronToggleCmd = &cobra.Command{
	Use:   "toggle <id>",
	Short: "Pause or resume a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/cron/"+url.PathEscape(args[0])+"/toggle", nil)
		if err != nil {
			return err
		}
		var job struct {
			Status    string `json:"status"`
			NextRunIn string `json:"next_run_in"`
		}
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		printSuccess("Job is now %s (next run %s)", job.Status, job.NextRunIn)
		return nil
	},
}

var cronRunCmd = &cobra.Command{
	Use:   "run <id>",
	Short: "Run a task immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/cron/"+url.PathEscape(args[0])+"/run", nil)
		if err != nil {
			return err
		}
		var job struct {
			Status     string `json:"status"`
			LastOutput string `json:"last_output"`
			LastError  string `json:"last_error"`
		}
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		if job.LastError != "" {
			printError("Run failed: %s", job.LastError)
			return nil
		}
		printSuccess("Run finished")
		if job.LastOutput != "" {
			fmt.Println(job.LastOutput)
		}
		return nil
	},
}

var cronLogsCmd = &cobra.Command{
	Use:   "logs <id>",
	Short: "Show recent runs of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/cron/%s/logs?limit=%d", url.PathEscape(args[0]), limit))
		if err != nil {
			return err
		}
		var entries []struct {
			StartedAt  string `json:"started_at"`
			Status     string `json:"status"`
			Error      string `json:"error"`
			DurationMS int64  `json:"duration_ms"`
		}
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No runs yet.")
			return nil
		}
		for _, e := range entries {
			line := fmt.Sprintf("%s  %s  %dms", e.StartedAt, e.Status, e.DurationMS)
			if e.Error != "" {
				line += "  " + e.Error
			}
			fmt.Println(line)
		}
		return nil
	},
}

var cronDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a task and its run log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/cron/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Job deleted")
		return nil
	},
}

func init() {
	cronCmd.PersistentFlags().String("user", defaultUser, "user id")
	cronAddCmd.Flags().String("schedule", "every:1h", `schedule: "every:<N><s|m|h|d>" or "cron:<min> <hour> <dom> <month> <dow>"`)
	cronAddCmd.Flags().String("type", "agent", "task type: agent, shell, or http")
	cronAddCmd.Flags().String("task", "", "task payload: prompt, command, or URL")
	cronAddCmd.Flags().String("description", "", "human description")
	cronLogsCmd.Flags().Int("limit", 20, "maximum number of log entries")

	cronCmd.AddCommand(cronAddCmd)
	cronCmd.AddCommand(cronListCmd)
	cronCmd.AddCommand(cronToggleCmd)
	cronCmd.AddCommand(cronRunCmd)
	cronCmd.AddCommand(cronLogsCmd)
	cronCmd.AddCommand(cronDeleteCmd)
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show a user's memory footprint",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/users/%s/stats", url.PathEscape(userFlag(cmd))))
		if err != nil {
			return err
		}
		var stats struct {
			UserID        string `json:"user_id"`
			Session       string `json:"session"`
			ChatMessages  int    `json:"chat_messages"`
			Facts         int    `json:"facts"`
			StepsStored   int    `json:"steps_stored"`
			StepsInMemory int    `json:"steps_in_memory"`
			CronJobs      int    `json:"cron_jobs"`
		}
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		printStatus("User", "%s", stats.UserID)
		printStatus("Session", "%s", stats.Session)
		printStatus("Chat messages", "%d", stats.ChatMessages)
		printStatus("Facts", "%d", stats.Facts)
		printStatus("Steps stored", "%d", stats.StepsStored)
		printStatus("Steps in memory", "%d", stats.StepsInMemory)
		printStatus("Cron jobs", "%d", stats.CronJobs)
		return nil
	},
}

func init() {
	statsCmd.Flags().String("user", defaultUser, "user id")
}
