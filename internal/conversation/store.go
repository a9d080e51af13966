// Package conversation persists dialogue turns: sessions, conversations
// and individual messages, with recency-windowed duplicate detection.
package conversation

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

// dedupWindow is how far back a matching message still counts as a
// duplicate. Older identical messages are treated as legitimate repeats.
const dedupWindow = time.Hour

// Turn is one dialogue message to store.
type Turn struct {
	Content        string
	Role           string
	SessionID      string // optional; generated when empty
	ConversationID string // optional; generated when empty
	Metadata       map[string]any
}

// StoreResult reports where a turn ended up.
type StoreResult struct {
	MessageID      string
	ConversationID string
	SessionID      string
	Duplicate      bool
}

// Message is a stored dialogue message.
type Message struct {
	MessageID      string         `json:"message_id"`
	ConversationID string         `json:"conversation_id"`
	Timestamp      string         `json:"timestamp"`
	Role           string         `json:"role"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Store is the conversation database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens the conversation database at path and applies its migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation store: %w", err)
	}
	if err := store.Migrate(db, migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate conversation store: %w", err)
	}
	return &Store{db: db, logger: logger.With("component", "conversation")}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// StoreTurn persists one message, deduplicating against identical
// (content, role, session) messages stored within the last hour. On a
// duplicate hit the existing message id is returned and nothing is written.
// Missing session or conversation ids are generated and their rows created
// lazily.
func (s *Store) StoreTurn(ctx context.Context, turn Turn) (StoreResult, error) {
	if turn.Content == "" {
		return StoreResult{}, fmt.Errorf("message content must not be empty")
	}
	if turn.Role == "" {
		return StoreResult{}, fmt.Errorf("message role must not be empty")
	}

	now := time.Now()
	cutoff := store.FormatTime(now.Add(-dedupWindow))

	var result StoreResult
	err := store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		sessionID, err := s.ensureSession(ctx, tx, turn.SessionID, now)
		if err != nil {
			return err
		}

		// Duplicate check is scoped to the session so identical turns in
		// different sessions are kept independent.
		var existingID string
		err = tx.QueryRowContext(ctx, `
			SELECT m.message_id
			FROM messages m
			JOIN conversations c ON c.conversation_id = m.conversation_id
			WHERE m.content = ? AND m.role = ? AND c.session_id = ?
			  AND m.timestamp >= ?
			ORDER BY m.timestamp DESC
			LIMIT 1`,
			turn.Content, turn.Role, sessionID, cutoff,
		).Scan(&existingID)
		switch {
		case err == nil:
			convID, err := s.conversationOf(ctx, tx, existingID)
			if err != nil {
				return err
			}
			result = StoreResult{
				MessageID:      existingID,
				ConversationID: convID,
				SessionID:      sessionID,
				Duplicate:      true,
			}
			return nil
		case err != sql.ErrNoRows:
			return fmt.Errorf("failed to check for duplicate message: %w", err)
		}

		conversationID, err := s.ensureConversation(ctx, tx, turn.ConversationID, sessionID, now)
		if err != nil {
			return err
		}

		messageID := uuid.NewString()
		metadata, err := marshalMetadata(turn.Metadata)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (message_id, conversation_id, timestamp, role, content, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			messageID, conversationID, store.FormatTime(now), turn.Role, turn.Content,
			metadata, store.FormatTime(now),
		); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}

		result = StoreResult{
			MessageID:      messageID,
			ConversationID: conversationID,
			SessionID:      sessionID,
		}
		return nil
	})
	if err != nil {
		return StoreResult{}, err
	}

	if result.Duplicate {
		s.logger.Debug("duplicate message skipped",
			"message_id", result.MessageID, "session_id", result.SessionID)
	}
	return result, nil
}

// ensureSession returns an existing session id, creating the session row
// when the id is new or empty.
func (s *Store) ensureSession(ctx context.Context, tx *sql.Tx, sessionID string, now time.Time) (string, error) {
	sessionContext := "imported-session"
	if sessionID == "" {
		sessionID = uuid.NewString()
		sessionContext = "auto-created"
	} else {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM sessions WHERE session_id = ?`, sessionID).Scan(&exists)
		if err == nil {
			return sessionID, nil
		}
		if err != sql.ErrNoRows {
			return "", fmt.Errorf("failed to look up session: %w", err)
		}
	}

	ts := store.FormatTime(now)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, start_timestamp, context, created_at)
		VALUES (?, ?, ?, ?)`,
		sessionID, ts, sessionContext, ts,
	); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return sessionID, nil
}

// ensureConversation returns an existing conversation id, creating the row
// when the id is new or empty.
func (s *Store) ensureConversation(ctx context.Context, tx *sql.Tx, conversationID, sessionID string, now time.Time) (string, error) {
	if conversationID != "" {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM conversations WHERE conversation_id = ?`, conversationID).Scan(&exists)
		if err == nil {
			return conversationID, nil
		}
		if err != sql.ErrNoRows {
			return "", fmt.Errorf("failed to look up conversation: %w", err)
		}
	} else {
		conversationID = uuid.NewString()
	}

	ts := store.FormatTime(now)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (conversation_id, session_id, start_timestamp, created_at)
		VALUES (?, ?, ?, ?)`,
		conversationID, sessionID, ts, ts,
	); err != nil {
		return "", fmt.Errorf("failed to create conversation: %w", err)
	}
	return conversationID, nil
}

func (s *Store) conversationOf(ctx context.Context, tx *sql.Tx, messageID string) (string, error) {
	var convID string
	err := tx.QueryRowContext(ctx,
		`SELECT conversation_id FROM messages WHERE message_id = ?`, messageID).Scan(&convID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve conversation of message: %w", err)
	}
	return convID, nil
}

// RecentMessages returns the newest messages, newest first, optionally
// restricted to one session.
func (s *Store) RecentMessages(ctx context.Context, limit int, sessionID string) ([]Message, error) {
	if limit <= 0 {
		limit = 5
	}

	query := `
		SELECT m.message_id, m.conversation_id, m.timestamp, m.role, m.content, m.metadata
		FROM messages m`
	args := []any{}
	if sessionID != "" {
		query += `
		JOIN conversations c ON c.conversation_id = m.conversation_id
		WHERE c.session_id = ?`
		args = append(args, sessionID)
	}
	query += `
		ORDER BY m.timestamp DESC
		LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var metadata sql.NullString
		if err := rows.Scan(&m.MessageID, &m.ConversationID, &m.Timestamp, &m.Role, &m.Content, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
				s.logger.Warn("invalid message metadata", "message_id", m.MessageID, "error", err)
			}
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

// Stats reports row counts for the health check.
func (s *Store) Stats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64, 3)
	for _, table := range []string{"sessions", "conversations", "messages"} {
		var n int64
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		stats[table] = n
	}
	return stats, nil
}

func marshalMetadata(m map[string]any) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
