package conversation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/engramkit/engram/internal/log"
	"github.com/engramkit/engram/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "conversations.db"), log.NewNop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreTurnCreatesSessionAndConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.StoreTurn(ctx, Turn{Content: "hello", Role: "user"})
	if err != nil {
		t.Fatalf("StoreTurn() error = %v", err)
	}

	if res.MessageID == "" || res.ConversationID == "" || res.SessionID == "" {
		t.Fatalf("StoreTurn() returned empty ids: %+v", res)
	}
	if res.Duplicate {
		t.Error("first store reported duplicate")
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	for _, table := range []string{"sessions", "conversations", "messages"} {
		if stats[table] != 1 {
			t.Errorf("%s count = %d, want 1", table, stats[table])
		}
	}
}

func TestStoreTurnValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		turn Turn
	}{
		{"empty content", Turn{Role: "user"}},
		{"empty role", Turn{Content: "hello"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.StoreTurn(ctx, tt.turn); err == nil {
				t.Error("StoreTurn() expected error, got nil")
			}
		})
	}
}

func TestStoreTurnDeduplicatesWithinWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.StoreTurn(ctx, Turn{Content: "same words", Role: "user"})
	if err != nil {
		t.Fatalf("StoreTurn() error = %v", err)
	}

	second, err := s.StoreTurn(ctx, Turn{
		Content:   "same words",
		Role:      "user",
		SessionID: first.SessionID,
	})
	if err != nil {
		t.Fatalf("StoreTurn() error = %v", err)
	}

	if !second.Duplicate {
		t.Fatal("repeat within the window not reported as duplicate")
	}
	if second.MessageID != first.MessageID {
		t.Errorf("duplicate returned id %s, want existing %s", second.MessageID, first.MessageID)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats["messages"] != 1 {
		t.Errorf("messages count = %d, want 1", stats["messages"])
	}
}

func TestStoreTurnDuplicateExpiresAfterWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.StoreTurn(ctx, Turn{Content: "old news", Role: "user"})
	if err != nil {
		t.Fatalf("StoreTurn() error = %v", err)
	}

	// Backdate the stored message beyond the dedup window.
	old := store.FormatTime(time.Now().Add(-2 * time.Hour))
	if _, err := s.db.Exec(
		`UPDATE messages SET timestamp = ? WHERE message_id = ?`, old, first.MessageID); err != nil {
		t.Fatalf("failed to backdate message: %v", err)
	}

	second, err := s.StoreTurn(ctx, Turn{
		Content:   "old news",
		Role:      "user",
		SessionID: first.SessionID,
	})
	if err != nil {
		t.Fatalf("StoreTurn() error = %v", err)
	}

	if second.Duplicate {
		t.Error("message outside the window still reported as duplicate")
	}
	if second.MessageID == first.MessageID {
		t.Error("expired duplicate reused the old message id")
	}
}

func TestStoreTurnDifferentSessionsAreIndependent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.StoreTurn(ctx, Turn{Content: "shared text", Role: "user"})
	if err != nil {
		t.Fatalf("StoreTurn() error = %v", err)
	}

	second, err := s.StoreTurn(ctx, Turn{Content: "shared text", Role: "user"})
	if err != nil {
		t.Fatalf("StoreTurn() error = %v", err)
	}

	if second.Duplicate {
		t.Error("identical content in a different session reported as duplicate")
	}
	if second.SessionID == first.SessionID {
		t.Error("second turn without session id landed in the first session")
	}
}

func TestRecentMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var sessionID string
	for _, content := range []string{"one", "two", "three"} {
		res, err := s.StoreTurn(ctx, Turn{Content: content, Role: "user", SessionID: sessionID})
		if err != nil {
			t.Fatalf("StoreTurn(%q) error = %v", content, err)
		}
		sessionID = res.SessionID
		time.Sleep(2 * time.Millisecond) // distinct timestamps
	}
	if _, err := s.StoreTurn(ctx, Turn{Content: "other session", Role: "user"}); err != nil {
		t.Fatalf("StoreTurn() error = %v", err)
	}

	t.Run("newest first with limit", func(t *testing.T) {
		messages, err := s.RecentMessages(ctx, 2, "")
		if err != nil {
			t.Fatalf("RecentMessages() error = %v", err)
		}
		if len(messages) != 2 {
			t.Fatalf("got %d messages, want 2", len(messages))
		}
		if messages[0].Content != "other session" {
			t.Errorf("newest message = %q, want %q", messages[0].Content, "other session")
		}
	})

	t.Run("session filter", func(t *testing.T) {
		messages, err := s.RecentMessages(ctx, 10, sessionID)
		if err != nil {
			t.Fatalf("RecentMessages() error = %v", err)
		}
		if len(messages) != 3 {
			t.Fatalf("got %d messages, want 3", len(messages))
		}
		if messages[0].Content != "three" {
			t.Errorf("newest in session = %q, want %q", messages[0].Content, "three")
		}
	})
}

func TestStoreTurnMetadataRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.StoreTurn(ctx, Turn{
		Content:  "with metadata",
		Role:     "assistant",
		Metadata: map[string]any{"source_file": "chat.json"},
	})
	if err != nil {
		t.Fatalf("StoreTurn() error = %v", err)
	}

	messages, err := s.RecentMessages(ctx, 1, res.SessionID)
	if err != nil {
		t.Fatalf("RecentMessages() error = %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(messages))
	}
	if got := messages[0].Metadata["source_file"]; got != "chat.json" {
		t.Errorf("metadata source_file = %v, want chat.json", got)
	}
}
