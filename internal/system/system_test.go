package system

import (
	"context"
	"testing"

	"github.com/engramkit/engram/internal/log"
)

func TestNewOpensAllStores(t *testing.T) {
	sys, err := New(t.TempDir(), log.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer sys.Close()

	if sys.Conversations == nil || sys.Memories == nil || sys.Schedule == nil ||
		sys.Projects == nil || sys.Telemetry == nil {
		t.Fatal("New() left a store nil")
	}
}

func TestNewRefusesLockedDataDir(t *testing.T) {
	dir := t.TempDir()

	first, err := New(dir, log.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer first.Close()

	if _, err := New(dir, log.NewNop()); err == nil {
		t.Fatal("second New() on the same data dir succeeded, want lock error")
	}
}

func TestCloseReleasesLock(t *testing.T) {
	dir := t.TempDir()

	first, err := New(dir, log.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second, err := New(dir, log.NewNop())
	if err != nil {
		t.Fatalf("New() after Close() error = %v", err)
	}
	second.Close()
}

func TestHealth(t *testing.T) {
	sys, err := New(t.TempDir(), log.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer sys.Close()

	health := sys.Health(context.Background())

	if health["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", health["status"])
	}

	databases, ok := health["databases"].(map[string]any)
	if !ok {
		t.Fatalf("databases missing from health report: %v", health)
	}
	for _, name := range []string{"conversations", "memories", "schedule", "project", "telemetry"} {
		if _, ok := databases[name]; !ok {
			t.Errorf("health report missing %s", name)
		}
	}
}
