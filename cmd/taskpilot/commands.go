package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/taskpilot/internal/config"
)

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send a message to the assistant",
	Long: `Send a message to the assistant and stream the turn's progress.

Examples:
  taskpilot chat "create a project called Apollo"
  taskpilot chat "add a task 'write docs' to Apollo"
  taskpilot chat "what's left in Apollo?" --thread 4f1c...`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		message := strings.Join(args, " ")
		threadID, _ := cmd.Flags().GetString("thread")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{"message": message}
		if threadID != "" {
			body["thread_id"] = threadID
		}

		resp, err := client.stream("/v1/chat", body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			var apiErr struct {
				Error struct {
					Message string `json:"message"`
				} `json:"error"`
			}
			if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error.Message != "" {
				return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error.Message)
			}
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}

		if tid := resp.Header.Get("X-Thread-ID"); tid != "" && threadID == "" {
			printStep("thread %s", tid)
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		return consumeSSE(scanner, renderEvent)
	},
}

// renderEvent prints one turn event in terminal form.
func renderEvent(eventType string, data json.RawMessage) {
	var ev struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}

	var payload struct {
		Message        string `json:"message"`
		OverallThought string `json:"overall_thought"`
		Steps          []struct {
			Title string `json:"title"`
		} `json:"steps"`
		Step struct {
			Title string `json:"title"`
		} `json:"step"`
		Result struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"result"`
	}
	if len(ev.Payload) > 0 {
		json.Unmarshal(ev.Payload, &payload)
	}

	switch eventType {
	case "thinking":
		printStep("thinking...")
	case "plan":
		if payload.OverallThought != "" {
			printStep("%s", payload.OverallThought)
		}
		for _, s := range payload.Steps {
			fmt.Fprintf(os.Stderr, "    - %s\n", s.Title)
		}
	case "step_started":
		printStep("%s", payload.Step.Title)
	case "step_result":
		switch payload.Result.Status {
		case "error":
			printError("%s", payload.Result.Message)
		default:
			fmt.Fprintf(os.Stderr, "  %s\n", payload.Result.Message)
		}
	case "error":
		printError("%s", payload.Message)
	case "done":
		if payload.Message != "" {
			fmt.Println(payload.Message)
		}
	}
}

func init() {
	chatCmd.Flags().String("thread", "", "conversation thread to continue")
}

// --- conversations ---

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "Manage conversation threads",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(fmt.Sprintf("/conversations?limit=%d", limit))
		if err != nil {
			return err
		}

		var out struct {
			Conversations []struct {
				ThreadID  string `json:"thread_id"`
				State     string `json:"state"`
				UpdatedAt string `json:"updated_at"`
			} `json:"conversations"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		if len(out.Conversations) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}
		for _, c := range out.Conversations {
			fmt.Printf("%s  %-18s  %s\n",
				colorize(colorCyan, shortID(c.ThreadID)),
				c.State,
				c.UpdatedAt,
			)
		}
		return nil
	},
}

var conversationsShowCmd = &cobra.Command{
	Use:   "show <thread-id>",
	Short: "Show a conversation's full state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/conversations/" + args[0])
		if err != nil {
			return err
		}

		var conv any
		if err := decodeJSON(resp, &conv); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(conv)
	},
}

var conversationsDeleteCmd = &cobra.Command{
	Use:   "delete <thread-id>",
	Short: "Delete a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete("/conversations/" + args[0])
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}
		printSuccess("Deleted conversation %s", args[0])
		return nil
	},
}

func init() {
	conversationsListCmd.Flags().Int("limit", 20, "maximum number of conversations to list")
	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsShowCmd)
	conversationsCmd.AddCommand(conversationsDeleteCmd)
}

// --- feedback ---

var feedbackCmd = &cobra.Command{
	Use:   "feedback <record-id>",
	Short: "Grade an intent classification",
	Long: `Grade a past intent classification so the assistant learns from it.

Examples:
  taskpilot feedback 7a2e... --correct
  taskpilot feedback 7a2e... --intent CREATE_TASK`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		correct, _ := cmd.Flags().GetBool("correct")
		corrected, _ := cmd.Flags().GetString("intent")

		if !correct && corrected == "" {
			return fmt.Errorf("pass --correct, or --intent with the right label")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{
			"record_id":   args[0],
			"was_correct": correct,
		}
		if corrected != "" {
			body["was_correct"] = false
			body["corrected_intent"] = corrected
		}

		resp, err := client.post("/feedback", body)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Feedback queued (job %s)", result["job_id"])
		return nil
	},
}

func init() {
	feedbackCmd.Flags().Bool("correct", false, "mark the classification correct")
	feedbackCmd.Flags().String("intent", "", "the intent that should have been chosen")
}

// --- projects / tasks ---

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/projects")
		if err != nil {
			return err
		}

		var out struct {
			Projects []struct {
				ID     string `json:"ID"`
				Name   string `json:"Name"`
				Status string `json:"Status"`
			} `json:"projects"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		if len(out.Projects) == 0 {
			fmt.Println("No projects found.")
			return nil
		}
		for _, p := range out.Projects {
			fmt.Printf("%s  %-10s  %s\n", colorize(colorCyan, shortID(p.ID)), p.Status, p.Name)
		}
		return nil
	},
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		assignee, _ := cmd.Flags().GetString("assignee")
		status, _ := cmd.Flags().GetString("status")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/tasks"
		sep := "?"
		if assignee != "" {
			path += sep + "assignee=" + assignee
			sep = "&"
		}
		if status != "" {
			path += sep + "status=" + status
		}

		resp, err := client.get(path)
		if err != nil {
			return err
		}

		var out struct {
			Tasks []struct {
				ID       string `json:"ID"`
				Title    string `json:"Title"`
				Status   string `json:"Status"`
				Assignee string `json:"Assignee"`
			} `json:"tasks"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		if len(out.Tasks) == 0 {
			fmt.Println("No tasks found.")
			return nil
		}
		for _, t := range out.Tasks {
			line := fmt.Sprintf("%s  %-12s  %s", colorize(colorCyan, shortID(t.ID)), t.Status, t.Title)
			if t.Assignee != "" {
				line += fmt.Sprintf("  (%s)", t.Assignee)
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	tasksCmd.Flags().String("assignee", "", "filter by assignee")
	tasksCmd.Flags().String("status", "", "filter by status (todo, in_progress, done)")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// consumeSSE reads an SSE body, decoding each data line into an event and
// handing it to render.
func consumeSSE(body *bufio.Scanner, render func(eventType string, data json.RawMessage)) error {
	var eventType string
	for body.Scan() {
		line := body.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			render(eventType, json.RawMessage(strings.TrimPrefix(line, "data: ")))
		}
	}
	return body.Err()
}
