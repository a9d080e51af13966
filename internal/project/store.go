// Package project persists development sessions and project insights
// captured from an editor workspace.
package project

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/engramkit/engram/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SessionParams describes a development session to save.
type SessionParams struct {
	WorkspacePath  string
	ActiveFiles    []string
	GitBranch      string
	SessionSummary string
}

// InsightParams describes a project insight to store.
type InsightParams struct {
	Content              string
	InsightType          string
	RelatedFiles         []string
	ImportanceLevel      int
	SourceConversationID string
}

// Store is the project database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens the project database at path and applies its migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open project store: %w", err)
	}
	if err := store.Migrate(db, migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate project store: %w", err)
	}
	return &Store{db: db, logger: logger.With("component", "project")}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSession records one development session and returns its id.
func (s *Store) SaveSession(ctx context.Context, p SessionParams) (string, error) {
	if p.WorkspacePath == "" {
		return "", fmt.Errorf("workspace_path must not be empty")
	}

	files, err := marshalList(p.ActiveFiles)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	now := store.FormatTime(time.Now())
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO project_sessions
			(session_id, start_timestamp, workspace_path, active_files, git_branch, session_summary)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, now, p.WorkspacePath, files, nullable(p.GitBranch), nullable(p.SessionSummary),
	); err != nil {
		return "", fmt.Errorf("failed to insert project session: %w", err)
	}
	return id, nil
}

// StoreInsight records one project insight and returns its id.
func (s *Store) StoreInsight(ctx context.Context, p InsightParams) (string, error) {
	if p.Content == "" {
		return "", fmt.Errorf("insight content must not be empty")
	}
	if p.ImportanceLevel == 0 {
		p.ImportanceLevel = 5
	}

	files, err := marshalList(p.RelatedFiles)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	now := store.FormatTime(time.Now())
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO project_insights
			(insight_id, created_at, updated_at, insight_type, content, related_files, source_conversation_id, importance_level)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, now, now, nullable(p.InsightType), p.Content, files,
		nullable(p.SourceConversationID), p.ImportanceLevel,
	); err != nil {
		return "", fmt.Errorf("failed to insert project insight: %w", err)
	}
	return id, nil
}

// Counts reports table sizes for the health check.
func (s *Store) Counts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, 2)
	for _, table := range []string{"project_sessions", "project_insights"} {
		var n int64
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

func marshalList(items []string) (sql.NullString, error) {
	if len(items) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal file list: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
