package watch

import (
	"encoding/json"
	"strings"

	"github.com/engramkit/engram/internal/conversation"
)

// rolePrefixes maps transcript line prefixes to canonical roles.
var rolePrefixes = map[string]string{
	"user":      "user",
	"human":     "user",
	"me":        "user",
	"assistant": "assistant",
	"ai":        "assistant",
	"bot":       "assistant",
}

type jsonTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ParseTranscript extracts dialogue turns from raw transcript content.
// JSON arrays of {role, content} objects are tried first; everything else
// is treated as text with "role: content" lines. Lines without a known
// role prefix continue the previous turn.
func ParseTranscript(data []byte) ([]conversation.Turn, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var raw []jsonTurn
		if err := json.Unmarshal([]byte(trimmed), &raw); err == nil {
			var turns []conversation.Turn
			for _, t := range raw {
				if t.Content == "" {
					continue
				}
				role := strings.ToLower(t.Role)
				if canonical, ok := rolePrefixes[role]; ok {
					role = canonical
				}
				if role != "user" && role != "assistant" {
					continue
				}
				turns = append(turns, conversation.Turn{Role: role, Content: t.Content})
			}
			return turns, nil
		}
	}

	return parseTextTranscript(trimmed), nil
}

func parseTextTranscript(text string) []conversation.Turn {
	var turns []conversation.Turn
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		prefix, rest, found := strings.Cut(line, ":")
		role, known := rolePrefixes[strings.ToLower(strings.TrimSpace(prefix))]
		if found && known {
			content := strings.TrimSpace(rest)
			if content != "" {
				turns = append(turns, conversation.Turn{Role: role, Content: content})
			}
			continue
		}

		// Continuation line: append to the previous turn.
		if len(turns) > 0 {
			turns[len(turns)-1].Content += "\n" + line
		}
	}
	return turns
}
