package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestOpenCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "test.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestOpenEnablesForeignKeys(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	var enabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&enabled); err != nil {
		t.Fatalf("failed to read pragma: %v", err)
	}
	if enabled != 1 {
		t.Errorf("foreign_keys = %d, want 1", enabled)
	}
}

func TestWithTx(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE items (id TEXT PRIMARY KEY)`); err != nil {
		t.Fatalf("failed to create table: %v", err)
	}

	ctx := context.Background()
	sentinel := errors.New("boom")

	tests := []struct {
		name     string
		fn       func(tx *sql.Tx) error
		wantErr  error
		wantRows int
	}{
		{
			name: "commit on success",
			fn: func(tx *sql.Tx) error {
				_, err := tx.Exec(`INSERT INTO items (id) VALUES ('a')`)
				return err
			},
			wantRows: 1,
		},
		{
			name: "rollback on error",
			fn: func(tx *sql.Tx) error {
				if _, err := tx.Exec(`INSERT INTO items (id) VALUES ('b')`); err != nil {
					return err
				}
				return sentinel
			},
			wantErr:  sentinel,
			wantRows: 1, // only the committed row survives
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WithTx(ctx, db, tt.fn)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("WithTx() error = %v, want %v", err, tt.wantErr)
			}

			var n int
			if err := db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
				t.Fatalf("failed to count rows: %v", err)
			}
			if n != tt.wantRows {
				t.Errorf("rows = %d, want %d", n, tt.wantRows)
			}
		})
	}
}

func TestTimeFormatRoundTrip(t *testing.T) {
	now := time.Now()

	got, err := ParseTime(FormatTime(now))
	if err != nil {
		t.Fatalf("ParseTime() error = %v", err)
	}
	if !got.Equal(now) {
		t.Errorf("round trip changed time: got %v, want %v", got, now)
	}
}

func TestTimeFormatLexicalOrder(t *testing.T) {
	// Range and window queries compare stored timestamps as strings, so
	// lexical order must track chronological order. The fractional cases
	// are exactly where RFC3339Nano's trailing-zero trimming would break.
	base := time.Date(2026, 3, 9, 23, 59, 59, 0, time.UTC)

	tests := []struct {
		name    string
		earlier time.Time
		later   time.Time
	}{
		{"second rollover", base.Add(999999999 * time.Nanosecond), base.Add(time.Second)},
		{"trailing zero fraction", base.Add(100 * time.Millisecond), base.Add(110 * time.Millisecond)},
		{"whole second vs fraction", base, base.Add(time.Nanosecond)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if FormatTime(tt.earlier) >= FormatTime(tt.later) {
				t.Errorf("lexical order broken: %q >= %q", FormatTime(tt.earlier), FormatTime(tt.later))
			}
		})
	}
}
