package watch

import (
	"testing"
)

func TestParseTranscriptJSON(t *testing.T) {
	data := []byte(`[
		{"role": "user", "content": "hello"},
		{"role": "assistant", "content": "hi there"},
		{"role": "system", "content": "ignored"},
		{"role": "human", "content": "normalized role"},
		{"role": "user", "content": ""}
	]`)

	turns, err := ParseTranscript(data)
	if err != nil {
		t.Fatalf("ParseTranscript() error = %v", err)
	}

	if len(turns) != 3 {
		t.Fatalf("got %d turns, want 3", len(turns))
	}
	if turns[0].Role != "user" || turns[0].Content != "hello" {
		t.Errorf("turn 0 = %+v", turns[0])
	}
	if turns[1].Role != "assistant" {
		t.Errorf("turn 1 role = %q, want assistant", turns[1].Role)
	}
	if turns[2].Role != "user" || turns[2].Content != "normalized role" {
		t.Errorf("human role not normalized: %+v", turns[2])
	}
}

func TestParseTranscriptText(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantTurns int
		wantLast  string
	}{
		{
			name:      "role prefixed lines",
			input:     "user: question\nassistant: answer",
			wantTurns: 2,
			wantLast:  "answer",
		},
		{
			name:      "alternate role names",
			input:     "me: hi\nai: hey\nhuman: again\nbot: sure",
			wantTurns: 4,
			wantLast:  "sure",
		},
		{
			name:      "continuation lines joined to previous turn",
			input:     "user: first line\nsecond line\nassistant: done",
			wantTurns: 2,
			wantLast:  "done",
		},
		{
			name:      "unknown prefixes before any turn are dropped",
			input:     "note: preamble\nuser: real content",
			wantTurns: 1,
			wantLast:  "real content",
		},
		{
			name:      "blank input",
			input:     "\n\n",
			wantTurns: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			turns, err := ParseTranscript([]byte(tt.input))
			if err != nil {
				t.Fatalf("ParseTranscript() error = %v", err)
			}
			if len(turns) != tt.wantTurns {
				t.Fatalf("got %d turns, want %d", len(turns), tt.wantTurns)
			}
			if tt.wantTurns > 0 && turns[len(turns)-1].Content != tt.wantLast {
				t.Errorf("last turn = %q, want %q", turns[len(turns)-1].Content, tt.wantLast)
			}
		})
	}
}

func TestParseTranscriptContinuation(t *testing.T) {
	turns, err := ParseTranscript([]byte("user: first line\nsecond line"))
	if err != nil {
		t.Fatalf("ParseTranscript() error = %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("got %d turns, want 1", len(turns))
	}
	if turns[0].Content != "first line\nsecond line" {
		t.Errorf("content = %q, want continuation appended", turns[0].Content)
	}
}
