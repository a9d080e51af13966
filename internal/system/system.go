// Package system composes the five domain stores under one data directory
// and exposes one method per high-level operation. A file lock on the data
// directory keeps a second process from sharing the stores.
package system

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/engramkit/engram/internal/conversation"
	"github.com/engramkit/engram/internal/memory"
	"github.com/engramkit/engram/internal/project"
	"github.com/engramkit/engram/internal/schedule"
	"github.com/engramkit/engram/internal/telemetry"
)

// System owns the five stores. Construct with New, release with Close.
type System struct {
	dataDir string
	lock    *flock.Flock
	logger  *slog.Logger

	Conversations *conversation.Store
	Memories      *memory.Store
	Schedule      *schedule.Store
	Projects      *project.Store
	Telemetry     *telemetry.Store
}

// New opens every store under dataDir. It fails when another process
// already holds the directory lock.
func New(dataDir string, logger *slog.Logger) (*System, error) {
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	lock := flock.New(filepath.Join(dataDir, "engram.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire data directory lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("data directory %s is locked by another process", dataDir)
	}

	s := &System{dataDir: dataDir, lock: lock, logger: logger.With("component", "system")}

	open := func() error {
		var err error
		if s.Conversations, err = conversation.Open(filepath.Join(dataDir, "conversations.db"), logger); err != nil {
			return err
		}
		if s.Memories, err = memory.Open(filepath.Join(dataDir, "memories.db"), logger); err != nil {
			return err
		}
		if s.Schedule, err = schedule.Open(filepath.Join(dataDir, "schedule.db"), logger); err != nil {
			return err
		}
		if s.Projects, err = project.Open(filepath.Join(dataDir, "project.db"), logger); err != nil {
			return err
		}
		if s.Telemetry, err = telemetry.Open(filepath.Join(dataDir, "toolcalls.db"), logger); err != nil {
			return err
		}
		return nil
	}
	if err := open(); err != nil {
		s.Close()
		return nil, err
	}

	s.logger.Info("memory system ready", "data_dir", dataDir)
	return s, nil
}

// Close closes every store and releases the directory lock. Safe to call
// after a partially failed New.
func (s *System) Close() error {
	var firstErr error
	closeStore := func(name string, c interface{ Close() error }) {
		if c == nil {
			return
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close %s store: %w", name, err)
		}
	}

	if s.Conversations != nil {
		closeStore("conversation", s.Conversations)
	}
	if s.Memories != nil {
		closeStore("memory", s.Memories)
	}
	if s.Schedule != nil {
		closeStore("schedule", s.Schedule)
	}
	if s.Projects != nil {
		closeStore("project", s.Projects)
	}
	if s.Telemetry != nil {
		closeStore("telemetry", s.Telemetry)
	}

	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to release data directory lock: %w", err)
		}
	}
	return firstErr
}

// Health reports per-store row counts and overall status. A store error is
// reported inside the map rather than failing the whole check.
func (s *System) Health(ctx context.Context) map[string]any {
	health := map[string]any{
		"status":   "healthy",
		"data_dir": s.dataDir,
	}
	databases := make(map[string]any, 5)

	if stats, err := s.Conversations.Stats(ctx); err != nil {
		databases["conversations"] = map[string]any{"error": err.Error()}
		health["status"] = "degraded"
	} else {
		databases["conversations"] = stats
	}

	if n, err := s.Memories.Count(ctx); err != nil {
		databases["memories"] = map[string]any{"error": err.Error()}
		health["status"] = "degraded"
	} else {
		databases["memories"] = map[string]int64{"curated_memories": n}
	}

	if counts, err := s.Schedule.Counts(ctx); err != nil {
		databases["schedule"] = map[string]any{"error": err.Error()}
		health["status"] = "degraded"
	} else {
		databases["schedule"] = counts
	}

	if counts, err := s.Projects.Counts(ctx); err != nil {
		databases["project"] = map[string]any{"error": err.Error()}
		health["status"] = "degraded"
	} else {
		databases["project"] = counts
	}

	if n, err := s.Telemetry.Count(ctx); err != nil {
		databases["telemetry"] = map[string]any{"error": err.Error()}
		health["status"] = "degraded"
	} else {
		databases["telemetry"] = map[string]int64{"tool_calls": n}
	}

	health["databases"] = databases
	return health
}
