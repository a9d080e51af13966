// Package dispatch routes named external requests to the memory system and
// wraps every outcome in a uniform success/error envelope. Each executed
// operation is recorded in the telemetry store with its measured execution
// time; telemetry failures are logged and never surface in the envelope.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/engramkit/engram/internal/conversation"
	"github.com/engramkit/engram/internal/memory"
	"github.com/engramkit/engram/internal/project"
	"github.com/engramkit/engram/internal/schedule"
	"github.com/engramkit/engram/internal/system"
	"github.com/engramkit/engram/internal/telemetry"
)

// ErrUnknownTool marks a request for a tool outside the closed set.
var ErrUnknownTool = errors.New("unknown tool")

// Tool names understood by the dispatcher. The set is closed: anything else
// produces the unknown-tool envelope and no telemetry.
const (
	ToolCreateMemory        = "create_memory"
	ToolStoreMemory         = "store_memory" // alias of create_memory
	ToolSearchMemories      = "search_memories"
	ToolStoreConversation   = "store_conversation"
	ToolGetRecentContext    = "get_recent_context"
	ToolCreateAppointment   = "create_appointment"
	ToolCreateReminder      = "create_reminder"
	ToolCompleteReminder    = "complete_reminder"
	ToolGetUpcomingSchedule = "get_upcoming_schedule"
	ToolSaveDevSession      = "save_development_session"
	ToolStoreProjectInsight = "store_project_insight"
	ToolGetToolUsageSummary = "get_tool_usage_summary"
	ToolGetToolCallHistory  = "get_tool_call_history"
	ToolGetSystemHealth     = "get_system_health"
)

// Tools lists every tool name the dispatcher accepts.
var Tools = []string{
	ToolCreateMemory,
	ToolStoreMemory,
	ToolSearchMemories,
	ToolStoreConversation,
	ToolGetRecentContext,
	ToolCreateAppointment,
	ToolCreateReminder,
	ToolCompleteReminder,
	ToolGetUpcomingSchedule,
	ToolSaveDevSession,
	ToolStoreProjectInsight,
	ToolGetToolUsageSummary,
	ToolGetToolCallHistory,
	ToolGetSystemHealth,
}

// Request is one named operation with its raw parameters.
type Request struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
	ClientID   string         `json:"client_id,omitempty"`
}

// Response is the uniform envelope returned for every request.
type Response struct {
	Status string `json:"status"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Dispatcher routes requests to the system's stores.
type Dispatcher struct {
	sys    *system.System
	logger *slog.Logger
}

// New creates a dispatcher over sys.
func New(sys *system.System, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{sys: sys, logger: logger.With("component", "dispatch")}
}

// Dispatch executes one request. Known tools are always recorded in the
// telemetry store, success or failure; unknown tools are rejected without a
// telemetry write.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	if !known(req.Tool) {
		return Response{Status: "error", Error: fmt.Sprintf("Unknown tool: %s", req.Tool)}
	}

	start := time.Now()
	result, err := d.execute(ctx, req)
	elapsed := time.Since(start).Milliseconds()

	d.record(ctx, req, result, err, elapsed)

	if err != nil {
		return Response{Status: "error", Error: err.Error()}
	}
	return Response{Status: "success", Result: result}
}

func known(tool string) bool {
	for _, t := range Tools {
		if t == tool {
			return true
		}
	}
	return false
}

func (d *Dispatcher) execute(ctx context.Context, req Request) (any, error) {
	p := params(req.Parameters)

	switch req.Tool {
	case ToolCreateMemory, ToolStoreMemory:
		content := p.str("content", "")
		if content == "" {
			return nil, errors.New("content is required")
		}
		id, duplicate, err := d.sys.Memories.Create(ctx, memory.CreateParams{
			Content:              content,
			MemoryType:           p.str("memory_type", ""),
			ImportanceLevel:      p.num("importance_level", 5),
			Tags:                 p.strs("tags"),
			SourceConversationID: p.str("source_conversation_id", ""),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"memory_id": id, "duplicate": duplicate}, nil

	case ToolSearchMemories:
		results, err := d.sys.Memories.Search(ctx, memory.SearchParams{
			Query:         p.str("query", ""),
			Limit:         p.num("limit", 10),
			MemoryType:    p.str("memory_type", ""),
			MinImportance: p.num("min_importance", 0),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"results": results, "count": len(results)}, nil

	case ToolStoreConversation:
		userMessage := p.str("user_message", "")
		if userMessage == "" {
			userMessage = p.str("content", "")
		}
		if userMessage == "" {
			return nil, errors.New("user_message is required")
		}
		res, err := d.sys.Conversations.StoreTurn(ctx, conversation.Turn{
			Content:   userMessage,
			Role:      "user",
			SessionID: p.str("session_id", ""),
			Metadata:  p.obj("metadata"),
		})
		if err != nil {
			return nil, err
		}
		if assistant := p.str("assistant_response", ""); assistant != "" {
			if _, err := d.sys.Conversations.StoreTurn(ctx, conversation.Turn{
				Content:        assistant,
				Role:           "assistant",
				SessionID:      res.SessionID,
				ConversationID: res.ConversationID,
				Metadata:       p.obj("metadata"),
			}); err != nil {
				return nil, err
			}
		}
		return map[string]any{
			"conversation_id": res.ConversationID,
			"session_id":      res.SessionID,
			"message_id":      res.MessageID,
			"duplicate":       res.Duplicate,
		}, nil

	case ToolGetRecentContext:
		messages, err := d.sys.Conversations.RecentMessages(ctx, p.num("limit", 5), p.str("session_id", ""))
		if err != nil {
			return nil, err
		}
		return map[string]any{"messages": messages, "count": len(messages)}, nil

	case ToolCreateAppointment:
		id, duplicate, err := d.sys.Schedule.CreateAppointment(ctx, schedule.AppointmentParams{
			Title:                p.str("title", ""),
			ScheduledDatetime:    p.str("scheduled_datetime", ""),
			Description:          p.str("description", ""),
			Location:             p.str("location", ""),
			SourceConversationID: p.str("source_conversation_id", ""),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"appointment_id": id, "duplicate": duplicate}, nil

	case ToolCreateReminder:
		id, duplicate, err := d.sys.Schedule.CreateReminder(ctx, schedule.ReminderParams{
			Content:              p.str("content", ""),
			DueDatetime:          p.str("due_datetime", ""),
			PriorityLevel:        p.num("priority_level", 5),
			SourceConversationID: p.str("source_conversation_id", ""),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"reminder_id": id, "duplicate": duplicate}, nil

	case ToolCompleteReminder:
		reminderID := p.str("reminder_id", "")
		if reminderID == "" {
			return nil, errors.New("reminder_id is required")
		}
		if err := d.sys.Schedule.CompleteReminder(ctx, reminderID); err != nil {
			return nil, err
		}
		return map[string]any{"completed": true, "reminder_id": reminderID}, nil

	case ToolGetUpcomingSchedule:
		days := p.num("days_ahead", 7)
		appointments, err := d.sys.Schedule.UpcomingAppointments(ctx, days)
		if err != nil {
			return nil, err
		}
		reminders, err := d.sys.Schedule.ActiveReminders(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"appointments":     appointments,
			"active_reminders": reminders,
			"period_days":      days,
		}, nil

	case ToolSaveDevSession:
		id, err := d.sys.Projects.SaveSession(ctx, project.SessionParams{
			WorkspacePath:  p.str("workspace_path", ""),
			ActiveFiles:    p.strs("active_files"),
			GitBranch:      p.str("git_branch", ""),
			SessionSummary: p.str("session_summary", ""),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"session_id": id}, nil

	case ToolStoreProjectInsight:
		id, err := d.sys.Projects.StoreInsight(ctx, project.InsightParams{
			Content:              p.str("content", ""),
			InsightType:          p.str("insight_type", ""),
			RelatedFiles:         p.strs("related_files"),
			ImportanceLevel:      p.num("importance_level", 5),
			SourceConversationID: p.str("source_conversation_id", ""),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"insight_id": id}, nil

	case ToolGetToolUsageSummary:
		return d.sys.Telemetry.UsageSummary(ctx, p.num("days", 7))

	case ToolGetToolCallHistory:
		history, err := d.sys.Telemetry.History(ctx, p.str("tool_name", ""), p.num("limit", 50))
		if err != nil {
			return nil, err
		}
		return map[string]any{"history": history, "count": len(history)}, nil

	case ToolGetSystemHealth:
		return d.sys.Health(ctx), nil
	}

	// Unreachable: Dispatch filters unknown tools before execute.
	return nil, fmt.Errorf("%w: %s", ErrUnknownTool, req.Tool)
}

// record writes the call to the telemetry store. Failures are logged at
// Warn; they never change the primary outcome.
func (d *Dispatcher) record(ctx context.Context, req Request, result any, execErr error, elapsedMs int64) {
	call := telemetry.Call{
		ClientID:        req.ClientID,
		ToolName:        req.Tool,
		Status:          telemetry.StatusSuccess,
		ExecutionTimeMs: elapsedMs,
	}
	if execErr != nil {
		call.Status = telemetry.StatusFailure
		call.ErrorMessage = execErr.Error()
	}
	if len(req.Parameters) > 0 {
		if b, err := json.Marshal(req.Parameters); err == nil {
			call.Parameters = string(b)
		}
	}
	if result != nil {
		if b, err := json.Marshal(result); err == nil {
			call.Result = string(b)
		}
	}

	if _, err := d.sys.Telemetry.LogCall(ctx, call); err != nil {
		d.logger.Warn("failed to record tool call", "tool", req.Tool, "error", err)
	}
}

// params wraps the raw parameter map with typed accessors. JSON decoding
// yields float64 for every number and []any for every array.
type params map[string]any

func (p params) str(key, fallback string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func (p params) num(key string, fallback int) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return fallback
}

func (p params) strs(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (p params) obj(key string) map[string]any {
	if v, ok := p[key].(map[string]any); ok {
		return v
	}
	return nil
}
