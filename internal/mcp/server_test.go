package mcp

import (
	"testing"

	"github.com/engramkit/engram/internal/dispatch"
	"github.com/engramkit/engram/internal/log"
	"github.com/engramkit/engram/internal/system"
)

func newTestDispatcher(t *testing.T) *dispatch.Dispatcher {
	t.Helper()
	sys, err := system.New(t.TempDir(), log.NewNop())
	if err != nil {
		t.Fatalf("system.New() error = %v", err)
	}
	t.Cleanup(func() { sys.Close() })
	return dispatch.New(sys, log.NewNop())
}

func TestNewServer(t *testing.T) {
	d := newTestDispatcher(t)

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Name: "engram", Version: "1.0.0"}, false},
		{"missing name", Config{Version: "1.0.0"}, true},
		{"missing version", Config{Name: "engram"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewServer(tt.cfg, d, log.NewNop())
			if (err != nil) != tt.wantErr {
				t.Errorf("NewServer() error = %v, wantErr %t", err, tt.wantErr)
			}
		})
	}
}

func TestToParameterMap(t *testing.T) {
	in := CreateMemoryInput{
		Content:         "remember this",
		MemoryType:      "fact",
		ImportanceLevel: 7,
		Tags:            []string{"a"},
	}

	m, err := toParameterMap(in)
	if err != nil {
		t.Fatalf("toParameterMap() error = %v", err)
	}

	if m["content"] != "remember this" {
		t.Errorf("content = %v", m["content"])
	}
	// JSON round trip turns numbers into float64, matching what the
	// dispatcher's accessors expect.
	if m["importance_level"] != float64(7) {
		t.Errorf("importance_level = %v (%T), want float64(7)", m["importance_level"], m["importance_level"])
	}
	if _, ok := m["source_conversation_id"]; ok {
		t.Error("omitempty field leaked into the parameter map")
	}
}
