// Package mcp exports the dispatcher's operation set over the Model
// Context Protocol. Each tool carries a typed input struct whose schema is
// inferred with jsonschema-go; handlers forward to the dispatcher and
// render its envelope inline.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/engramkit/engram/internal/dispatch"
)

// clientID identifies MCP-originated calls in the telemetry log.
const clientID = "mcp"

// Server wraps the MCP SDK server around the dispatcher.
type Server struct {
	mcpServer  *mcp.Server
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

// Config holds MCP server configuration.
type Config struct {
	Name    string
	Version string
}

// NewServer creates an MCP server exposing every dispatcher tool.
func NewServer(cfg Config, dispatcher *dispatch.Dispatcher, logger *slog.Logger) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("server version is required")
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	s := &Server{
		mcpServer:  mcpServer,
		dispatcher: dispatcher,
		logger:     logger.With("component", "mcp"),
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Run starts the MCP server on the given transport. Blocks until the
// context is cancelled or the transport closes.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.mcpServer.Run(ctx, transport)
}

// CreateMemoryInput is the input schema for create_memory / store_memory.
type CreateMemoryInput struct {
	Content              string   `json:"content" jsonschema:"The memory content to store"`
	MemoryType           string   `json:"memory_type,omitempty" jsonschema:"Category of the memory (fact, preference, instruction, ...)"`
	ImportanceLevel      int      `json:"importance_level,omitempty" jsonschema:"Importance from 1 to 10, default 5"`
	Tags                 []string `json:"tags,omitempty" jsonschema:"Free-form tags"`
	SourceConversationID string   `json:"source_conversation_id,omitempty" jsonschema:"Conversation this memory was extracted from"`
}

// SearchMemoriesInput is the input schema for search_memories.
type SearchMemoriesInput struct {
	Query         string `json:"query" jsonschema:"Words to match against memory content"`
	Limit         int    `json:"limit,omitempty" jsonschema:"Maximum results, default 10"`
	MemoryType    string `json:"memory_type,omitempty" jsonschema:"Restrict to one memory category"`
	MinImportance int    `json:"min_importance,omitempty" jsonschema:"Minimum importance level"`
}

// StoreConversationInput is the input schema for store_conversation.
type StoreConversationInput struct {
	UserMessage       string         `json:"user_message" jsonschema:"The user's message"`
	AssistantResponse string         `json:"assistant_response,omitempty" jsonschema:"The assistant's reply, stored in the same session"`
	SessionID         string         `json:"session_id,omitempty" jsonschema:"Existing session id; a new session is created when omitted"`
	Metadata          map[string]any `json:"metadata,omitempty" jsonschema:"Arbitrary metadata stored with the message"`
}

// GetRecentContextInput is the input schema for get_recent_context.
type GetRecentContextInput struct {
	Limit     int    `json:"limit,omitempty" jsonschema:"Maximum messages, default 5"`
	SessionID string `json:"session_id,omitempty" jsonschema:"Restrict to one session"`
}

// CreateAppointmentInput is the input schema for create_appointment.
type CreateAppointmentInput struct {
	Title                string `json:"title" jsonschema:"Appointment title"`
	ScheduledDatetime    string `json:"scheduled_datetime" jsonschema:"When the appointment happens (RFC3339)"`
	Description          string `json:"description,omitempty" jsonschema:"Longer description"`
	Location             string `json:"location,omitempty" jsonschema:"Where the appointment happens"`
	SourceConversationID string `json:"source_conversation_id,omitempty" jsonschema:"Conversation this appointment came from"`
}

// CreateReminderInput is the input schema for create_reminder.
type CreateReminderInput struct {
	Content              string `json:"content" jsonschema:"What to be reminded of"`
	DueDatetime          string `json:"due_datetime" jsonschema:"When the reminder is due (RFC3339)"`
	PriorityLevel        int    `json:"priority_level,omitempty" jsonschema:"Priority from 1 to 10, default 5"`
	SourceConversationID string `json:"source_conversation_id,omitempty" jsonschema:"Conversation this reminder came from"`
}

// CompleteReminderInput is the input schema for complete_reminder.
type CompleteReminderInput struct {
	ReminderID string `json:"reminder_id" jsonschema:"Id of the reminder to mark completed"`
}

// GetUpcomingScheduleInput is the input schema for get_upcoming_schedule.
type GetUpcomingScheduleInput struct {
	DaysAhead int `json:"days_ahead,omitempty" jsonschema:"How many days ahead to look, default 7"`
}

// SaveDevelopmentSessionInput is the input schema for save_development_session.
type SaveDevelopmentSessionInput struct {
	WorkspacePath  string   `json:"workspace_path" jsonschema:"Absolute path of the workspace"`
	ActiveFiles    []string `json:"active_files,omitempty" jsonschema:"Files open during the session"`
	GitBranch      string   `json:"git_branch,omitempty" jsonschema:"Checked-out git branch"`
	SessionSummary string   `json:"session_summary,omitempty" jsonschema:"What happened in the session"`
}

// StoreProjectInsightInput is the input schema for store_project_insight.
type StoreProjectInsightInput struct {
	Content              string   `json:"content" jsonschema:"The insight text"`
	InsightType          string   `json:"insight_type,omitempty" jsonschema:"Category of the insight"`
	RelatedFiles         []string `json:"related_files,omitempty" jsonschema:"Files the insight refers to"`
	ImportanceLevel      int      `json:"importance_level,omitempty" jsonschema:"Importance from 1 to 10, default 5"`
	SourceConversationID string   `json:"source_conversation_id,omitempty" jsonschema:"Conversation this insight came from"`
}

// GetToolUsageSummaryInput is the input schema for get_tool_usage_summary.
type GetToolUsageSummaryInput struct {
	Days int `json:"days,omitempty" jsonschema:"How many days back to aggregate, default 7"`
}

// GetToolCallHistoryInput is the input schema for get_tool_call_history.
type GetToolCallHistoryInput struct {
	ToolName string `json:"tool_name,omitempty" jsonschema:"Restrict history to one tool"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum entries, default 50"`
}

// GetSystemHealthInput is the input schema for get_system_health.
type GetSystemHealthInput struct{}

func (s *Server) registerTools() error {
	if err := register[CreateMemoryInput](s, dispatch.ToolCreateMemory,
		"Store a curated long-term memory. Identical content with the same type and source returns the existing memory."); err != nil {
		return err
	}
	if err := register[CreateMemoryInput](s, dispatch.ToolStoreMemory,
		"Alias of create_memory."); err != nil {
		return err
	}
	if err := register[SearchMemoriesInput](s, dispatch.ToolSearchMemories,
		"Search stored memories by words, ranked by importance then recency."); err != nil {
		return err
	}
	if err := register[StoreConversationInput](s, dispatch.ToolStoreConversation,
		"Store a dialogue turn (and optionally the assistant's reply). Repeats within an hour are deduplicated."); err != nil {
		return err
	}
	if err := register[GetRecentContextInput](s, dispatch.ToolGetRecentContext,
		"Fetch the most recent stored messages, newest first."); err != nil {
		return err
	}
	if err := register[CreateAppointmentInput](s, dispatch.ToolCreateAppointment,
		"Create an appointment. Identical title, time, location and source return the existing one."); err != nil {
		return err
	}
	if err := register[CreateReminderInput](s, dispatch.ToolCreateReminder,
		"Create a reminder. Identical content, due time and source return the existing one."); err != nil {
		return err
	}
	if err := register[CompleteReminderInput](s, dispatch.ToolCompleteReminder,
		"Mark a reminder completed."); err != nil {
		return err
	}
	if err := register[GetUpcomingScheduleInput](s, dispatch.ToolGetUpcomingSchedule,
		"List upcoming appointments and all incomplete reminders."); err != nil {
		return err
	}
	if err := register[SaveDevelopmentSessionInput](s, dispatch.ToolSaveDevSession,
		"Record an editor development session with its workspace context."); err != nil {
		return err
	}
	if err := register[StoreProjectInsightInput](s, dispatch.ToolStoreProjectInsight,
		"Store an insight about a project or codebase."); err != nil {
		return err
	}
	if err := register[GetToolUsageSummaryInput](s, dispatch.ToolGetToolUsageSummary,
		"Aggregate recent tool usage: per-status counts, daily stats and most-used tools."); err != nil {
		return err
	}
	if err := register[GetToolCallHistoryInput](s, dispatch.ToolGetToolCallHistory,
		"List recorded tool calls, newest first."); err != nil {
		return err
	}
	if err := register[GetSystemHealthInput](s, dispatch.ToolGetSystemHealth,
		"Report per-store row counts and overall system status."); err != nil {
		return err
	}
	return nil
}

// register wires one dispatcher tool into the MCP server. The typed input
// is flattened into the dispatcher's parameter map through a JSON round
// trip so both surfaces share one parameter vocabulary.
func register[In any](s *Server, name, description string) error {
	inputSchema, err := jsonschema.For[In](nil)
	if err != nil {
		return fmt.Errorf("failed to create input schema for %s: %w", name, err)
	}

	tool := &mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: inputSchema,
	}

	mcp.AddTool(s.mcpServer, tool, func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		parameters, err := toParameterMap(in)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decode input: %w", err)
		}

		resp := s.dispatcher.Dispatch(ctx, dispatch.Request{
			Tool:       name,
			Parameters: parameters,
			ClientID:   clientID,
		})

		if resp.Status != "success" {
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: resp.Error}},
				IsError: true,
			}, nil, nil
		}

		text, err := json.MarshalIndent(resp.Result, "", "  ")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode result: %w", err)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(text)}},
		}, nil, nil
	})

	return nil
}

func toParameterMap(in any) (map[string]any, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
