// Package watch imports conversation transcripts dropped into watched
// directories. Supported formats are JSON arrays of {role, content}
// objects and plain text with role-prefixed lines.
package watch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/engramkit/engram/internal/system"
)

// watchedExtensions are the transcript file types the monitor imports.
var watchedExtensions = map[string]bool{
	".json": true,
	".txt":  true,
	".md":   true,
	".log":  true,
}

// Monitor watches directories for transcript files and pushes their turns
// into the memory system.
type Monitor struct {
	sys    *system.System
	dirs   []string
	logger *slog.Logger

	mu   sync.Mutex
	seen map[string]bool // content hashes already imported
}

// NewMonitor creates a monitor over dirs.
func NewMonitor(sys *system.System, dirs []string, logger *slog.Logger) *Monitor {
	return &Monitor{
		sys:    sys,
		dirs:   dirs,
		logger: logger.With("component", "watch"),
		seen:   make(map[string]bool),
	}
}

// Run watches until the context is cancelled. Parse and store failures are
// logged and skipped; they never stop the loop.
func (m *Monitor) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	for _, dir := range m.dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		m.logger.Info("watching directory", "dir", dir)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !watchedExtensions[strings.ToLower(filepath.Ext(event.Name))] {
				continue
			}
			if err := m.importFile(ctx, event.Name); err != nil {
				m.logger.Warn("failed to import transcript", "file", event.Name, "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("watcher error", "error", err)
		}
	}
}

// importFile parses one transcript and stores its turns. A file whose
// content was already imported (by hash) is skipped.
func (m *Monitor) importFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	m.mu.Lock()
	if m.seen[hash] {
		m.mu.Unlock()
		return nil
	}
	m.seen[hash] = true
	m.mu.Unlock()

	turns, err := ParseTranscript(data)
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}

	// One session per imported file so its turns stay grouped.
	sessionID := ""
	stored := 0
	for _, turn := range turns {
		turn.SessionID = sessionID
		turn.Metadata = map[string]any{"source_file": filepath.Base(path)}
		res, err := m.sys.Conversations.StoreTurn(ctx, turn)
		if err != nil {
			return fmt.Errorf("failed to store imported turn: %w", err)
		}
		sessionID = res.SessionID
		if !res.Duplicate {
			stored++
		}
	}

	m.logger.Info("imported transcript", "file", path, "turns", len(turns), "stored", stored)
	return nil
}
