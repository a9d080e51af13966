// Package memory persists curated long-term memories with exact-match
// duplicate detection and ranked text search.
package memory

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/engramkit/engram/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Memory is one curated memory entry.
type Memory struct {
	MemoryID             string   `json:"memory_id"`
	CreatedAt            string   `json:"created_at"`
	UpdatedAt            string   `json:"updated_at"`
	SourceConversationID string   `json:"source_conversation_id,omitempty"`
	MemoryType           string   `json:"memory_type,omitempty"`
	Content              string   `json:"content"`
	ImportanceLevel      int      `json:"importance_level"`
	Tags                 []string `json:"tags,omitempty"`
}

// CreateParams describes a memory to store.
type CreateParams struct {
	Content              string
	MemoryType           string
	ImportanceLevel      int
	Tags                 []string
	SourceConversationID string
}

// SearchParams filters a memory search.
type SearchParams struct {
	Query         string
	Limit         int
	MemoryType    string
	MinImportance int
}

// Store is the curated-memory database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens the memory database at path and applies its migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}
	if err := store.Migrate(db, migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate memory store: %w", err)
	}
	return &Store{db: db, logger: logger.With("component", "memory")}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create stores a memory, deduplicating on (content, memory_type,
// source_conversation_id). A hit returns the existing id with duplicate
// true and writes nothing; there is no time window.
func (s *Store) Create(ctx context.Context, p CreateParams) (id string, duplicate bool, err error) {
	if p.Content == "" {
		return "", false, fmt.Errorf("memory content must not be empty")
	}
	if p.ImportanceLevel == 0 {
		p.ImportanceLevel = 5
	}

	err = store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		// IS ? keeps NULL memory_type / source ids inside the dedup key;
		// plain = would never match a NULL column.
		var existingID string
		qErr := tx.QueryRowContext(ctx, `
			SELECT memory_id FROM curated_memories
			WHERE content = ? AND memory_type IS ? AND source_conversation_id IS ?
			LIMIT 1`,
			p.Content, nullable(p.MemoryType), nullable(p.SourceConversationID),
		).Scan(&existingID)
		switch {
		case qErr == nil:
			id = existingID
			duplicate = true
			return nil
		case qErr != sql.ErrNoRows:
			return fmt.Errorf("failed to check for duplicate memory: %w", qErr)
		}

		tags, mErr := marshalTags(p.Tags)
		if mErr != nil {
			return mErr
		}

		id = uuid.NewString()
		now := store.FormatTime(time.Now())
		if _, iErr := tx.ExecContext(ctx, `
			INSERT INTO curated_memories
				(memory_id, created_at, updated_at, source_conversation_id, memory_type, content, importance_level, tags)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, now, now, nullable(p.SourceConversationID), nullable(p.MemoryType),
			p.Content, p.ImportanceLevel, tags,
		); iErr != nil {
			return fmt.Errorf("failed to insert memory: %w", iErr)
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}

	if duplicate {
		s.logger.Debug("duplicate memory skipped", "memory_id", id)
	}
	return id, duplicate, nil
}

// Search returns memories matching every word of the query as a substring,
// ordered by importance then recency. An empty query matches nothing.
func (s *Store) Search(ctx context.Context, p SearchParams) ([]Memory, error) {
	words := strings.Fields(strings.ToLower(p.Query))
	if len(words) == 0 {
		return nil, nil
	}
	if p.Limit <= 0 {
		p.Limit = 10
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT memory_id, created_at, updated_at, source_conversation_id, memory_type, content, importance_level, tags
		FROM curated_memories
		WHERE 1=1`)
	var args []any
	for _, w := range words {
		sb.WriteString(" AND LOWER(content) LIKE ?")
		args = append(args, "%"+w+"%")
	}
	if p.MemoryType != "" {
		sb.WriteString(" AND memory_type = ?")
		args = append(args, p.MemoryType)
	}
	if p.MinImportance > 0 {
		sb.WriteString(" AND importance_level >= ?")
		args = append(args, p.MinImportance)
	}
	sb.WriteString(`
		ORDER BY importance_level DESC, created_at DESC
		LIMIT ?`)
	args = append(args, p.Limit)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}
	defer rows.Close()

	return s.scanMemories(rows)
}

func (s *Store) scanMemories(rows *sql.Rows) ([]Memory, error) {
	var memories []Memory
	for rows.Next() {
		var m Memory
		var source, mtype, tags sql.NullString
		if err := rows.Scan(&m.MemoryID, &m.CreatedAt, &m.UpdatedAt, &source, &mtype, &m.Content, &m.ImportanceLevel, &tags); err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		m.SourceConversationID = source.String
		m.MemoryType = mtype.String
		if tags.Valid && tags.String != "" {
			if err := json.Unmarshal([]byte(tags.String), &m.Tags); err != nil {
				s.logger.Warn("invalid memory tags", "memory_id", m.MemoryID, "error", err)
			}
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memories: %w", err)
	}
	return memories, nil
}

// Count reports the number of stored memories for the health check.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM curated_memories`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count memories: %w", err)
	}
	return n, nil
}

func marshalTags(tags []string) (sql.NullString, error) {
	if len(tags) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal tags: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
