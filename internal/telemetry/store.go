// Package telemetry records every executed tool call in an append-only log
// and maintains a per-tool daily aggregate alongside it.
package telemetry

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/engramkit/engram/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Call statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Call is one recorded tool invocation.
type Call struct {
	CallID          string `json:"call_id"`
	Timestamp       string `json:"timestamp"`
	ClientID        string `json:"client_id,omitempty"`
	ToolName        string `json:"tool_name"`
	Parameters      string `json:"parameters,omitempty"`
	Result          string `json:"result,omitempty"`
	Status          string `json:"status"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
	ErrorMessage    string `json:"error_message,omitempty"`
}

// DailyStat is one (tool, day) aggregate row.
type DailyStat struct {
	ToolName     string `json:"tool_name"`
	Date         string `json:"date"`
	CallCount    int64  `json:"call_count"`
	SuccessCount int64  `json:"success_count"`
	FailureCount int64  `json:"failure_count"`
}

// Summary aggregates recent tool usage.
type Summary struct {
	PeriodDays  int              `json:"period_days"`
	RecentCalls []RecentToolRow  `json:"recent_calls"`
	DailyStats  []DailyStat      `json:"daily_stats"`
	MostUsed    []ToolUsageTotal `json:"most_used"`
}

// RecentToolRow counts calls per (tool, status) within the summary period.
type RecentToolRow struct {
	ToolName string `json:"tool_name"`
	Status   string `json:"status"`
	Count    int64  `json:"count"`
}

// ToolUsageTotal is a tool's total call count within the summary period.
type ToolUsageTotal struct {
	ToolName string `json:"tool_name"`
	Count    int64  `json:"count"`
}

// Store is the telemetry database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens the telemetry database at path and applies its migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry store: %w", err)
	}
	if err := store.Migrate(db, migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate telemetry store: %w", err)
	}
	return &Store{db: db, logger: logger.With("component", "telemetry")}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// LogCall appends one call record and bumps the daily aggregate in the same
// transaction, so call_count = success_count + failure_count holds at every
// commit point.
func (s *Store) LogCall(ctx context.Context, call Call) (string, error) {
	if call.ToolName == "" {
		return "", fmt.Errorf("tool name must not be empty")
	}
	if call.Status != StatusSuccess && call.Status != StatusFailure {
		return "", fmt.Errorf("invalid call status %q", call.Status)
	}

	callID := uuid.NewString()
	now := time.Now()
	success, failure := 0, 0
	if call.Status == StatusSuccess {
		success = 1
	} else {
		failure = 1
	}

	err := store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tool_calls
				(call_id, timestamp, client_id, tool_name, parameters, result, status, execution_time_ms, error_message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			callID, store.FormatTime(now), nullable(call.ClientID), call.ToolName,
			nullable(call.Parameters), nullable(call.Result), call.Status,
			call.ExecutionTimeMs, nullable(call.ErrorMessage),
		); err != nil {
			return fmt.Errorf("failed to insert tool call: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tool_usage_stats (stat_id, tool_name, date, call_count, success_count, failure_count)
			VALUES (?, ?, ?, 1, ?, ?)
			ON CONFLICT(tool_name, date) DO UPDATE SET
				call_count = call_count + 1,
				success_count = success_count + excluded.success_count,
				failure_count = failure_count + excluded.failure_count`,
			uuid.NewString(), call.ToolName, now.UTC().Format("2006-01-02"), success, failure,
		); err != nil {
			return fmt.Errorf("failed to update usage stats: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return callID, nil
}

// UsageSummary aggregates the last `days` days of tool usage.
func (s *Store) UsageSummary(ctx context.Context, days int) (*Summary, error) {
	if days <= 0 {
		days = 7
	}
	since := store.FormatTime(time.Now().AddDate(0, 0, -days))
	sinceDate := since[:10]

	summary := &Summary{PeriodDays: days}

	rows, err := s.db.QueryContext(ctx, `
		SELECT tool_name, status, COUNT(*)
		FROM tool_calls
		WHERE timestamp >= ?
		GROUP BY tool_name, status
		ORDER BY COUNT(*) DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent calls: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r RecentToolRow
		if err := rows.Scan(&r.ToolName, &r.Status, &r.Count); err != nil {
			return nil, fmt.Errorf("failed to scan recent call row: %w", err)
		}
		summary.RecentCalls = append(summary.RecentCalls, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recent calls: %w", err)
	}

	statRows, err := s.db.QueryContext(ctx, `
		SELECT tool_name, date, call_count, success_count, failure_count
		FROM tool_usage_stats
		WHERE date >= ?
		ORDER BY date DESC, tool_name ASC`, sinceDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	defer statRows.Close()
	for statRows.Next() {
		var d DailyStat
		if err := statRows.Scan(&d.ToolName, &d.Date, &d.CallCount, &d.SuccessCount, &d.FailureCount); err != nil {
			return nil, fmt.Errorf("failed to scan daily stat: %w", err)
		}
		summary.DailyStats = append(summary.DailyStats, d)
	}
	if err := statRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate daily stats: %w", err)
	}

	topRows, err := s.db.QueryContext(ctx, `
		SELECT tool_name, COUNT(*)
		FROM tool_calls
		WHERE timestamp >= ?
		GROUP BY tool_name
		ORDER BY COUNT(*) DESC
		LIMIT 10`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query most used tools: %w", err)
	}
	defer topRows.Close()
	for topRows.Next() {
		var t ToolUsageTotal
		if err := topRows.Scan(&t.ToolName, &t.Count); err != nil {
			return nil, fmt.Errorf("failed to scan tool total: %w", err)
		}
		summary.MostUsed = append(summary.MostUsed, t)
	}
	if err := topRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tool totals: %w", err)
	}

	return summary, nil
}

// History returns recorded calls newest first, optionally filtered by tool.
func (s *Store) History(ctx context.Context, toolName string, limit int) ([]Call, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT call_id, timestamp, client_id, tool_name, parameters, result, status, execution_time_ms, error_message
		FROM tool_calls`
	args := []any{}
	if toolName != "" {
		query += ` WHERE tool_name = ?`
		args = append(args, toolName)
	}
	query += `
		ORDER BY timestamp DESC
		LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query call history: %w", err)
	}
	defer rows.Close()

	var calls []Call
	for rows.Next() {
		var c Call
		var client, params, result, errMsg sql.NullString
		var execMs sql.NullInt64
		if err := rows.Scan(&c.CallID, &c.Timestamp, &client, &c.ToolName, &params, &result, &c.Status, &execMs, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		c.ClientID = client.String
		c.Parameters = params.String
		c.Result = result.String
		c.ExecutionTimeMs = execMs.Int64
		c.ErrorMessage = errMsg.String
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate calls: %w", err)
	}
	return calls, nil
}

// Count reports the number of recorded calls for the health check.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tool_calls`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tool calls: %w", err)
	}
	return n, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
