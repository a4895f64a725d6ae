package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/taskpilot/internal/feedback"
	"github.com/kalambet/taskpilot/internal/storage"
	"github.com/kalambet/taskpilot/internal/stream"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     *storage.Store
	Processor TurnProcessor
}

// NewMCPServer creates an MCP server exposing the assistant to MCP clients:
// a synchronous send_message tool, feedback submission, and read access to
// conversations and projects.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"taskpilot",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("taskpilot — conversational project management: send natural-language messages to create and track projects, tasks, and sprints."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("send_message",
			mcp.WithDescription("Send a message to the assistant and get the full turn transcript back."),
			mcp.WithString("message", mcp.Description("The message to process"), mcp.Required()),
			mcp.WithString("thread_id", mcp.Description("Conversation thread to continue; omit to start a new one")),
		),
		mcpSendMessage(deps),
	)

	s.AddTool(
		mcp.NewTool("record_feedback",
			mcp.WithDescription("Grade a past intent classification so the assistant learns from it."),
			mcp.WithString("record_id", mcp.Description("Classification record ID"), mcp.Required()),
			mcp.WithBoolean("was_correct", mcp.Description("Whether the classified intent was right"), mcp.Required()),
			mcp.WithString("corrected_intent", mcp.Description("The right intent, when was_correct is false")),
		),
		mcpRecordFeedback(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"taskpilot://conversations",
			"Recent Conversations",
			mcp.WithResourceDescription("Last 10 conversation threads with their states"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceConversations(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"taskpilot://projects",
			"Projects",
			mcp.WithResourceDescription("All projects as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProjects(deps),
	)

	return s
}

func mcpSendMessage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}
		threadID := req.GetString("thread_id", "")
		if threadID == "" {
			threadID = uuid.New().String()
		}

		recorder := stream.NewRecorder()
		if err := deps.Processor.ProcessTurn(ctx, threadID, message, recorder); err != nil {
			return mcpError(fmt.Sprintf("turn failed: %v", err)), nil
		}

		type turnEvent struct {
			Type    string `json:"type"`
			Payload any    `json:"payload,omitempty"`
		}
		events := recorder.Events()
		out := struct {
			ThreadID string      `json:"thread_id"`
			Events   []turnEvent `json:"events"`
		}{ThreadID: threadID, Events: make([]turnEvent, len(events))}
		for i, ev := range events {
			out.Events[i] = turnEvent{Type: string(ev.Type), Payload: ev.Payload}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal transcript: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRecordFeedback(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		recordID, err := req.RequireString("record_id")
		if err != nil {
			return mcpError("record_id is required"), nil
		}
		wasCorrect, err := req.RequireBool("was_correct")
		if err != nil {
			return mcpError("was_correct is required"), nil
		}
		correctedIntent := req.GetString("corrected_intent", "")
		if !wasCorrect && correctedIntent == "" {
			return mcpError("corrected_intent is required when was_correct is false"), nil
		}

		jobID, err := feedback.Enqueue(deps.Store, feedback.Payload{
			RecordID:        recordID,
			WasCorrect:      wasCorrect,
			CorrectedIntent: correctedIntent,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to queue feedback: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Feedback queued as job %s", jobID)), nil
	}
}

func mcpResourceConversations(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		convs, err := deps.Store.ListConversations(10, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list conversations: %w", err)
		}

		type convSummary struct {
			ThreadID  string `json:"thread_id"`
			State     string `json:"state"`
			UpdatedAt string `json:"updated_at"`
			Preview   string `json:"preview,omitempty"`
		}

		summaries := make([]convSummary, len(convs))
		for i, c := range convs {
			preview := c.SnapshotJSON
			if utf8.RuneCountInString(preview) > 200 {
				runes := []rune(preview)
				preview = string(runes[:200]) + "..."
			}
			summaries[i] = convSummary{
				ThreadID:  c.ThreadID,
				State:     c.State,
				UpdatedAt: c.UpdatedAt.Format(time.RFC3339),
				Preview:   preview,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal conversations: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceProjects(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		projects, err := deps.Store.ListProjects(100, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list projects: %w", err)
		}

		b, err := json.Marshal(projects)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal projects: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
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
