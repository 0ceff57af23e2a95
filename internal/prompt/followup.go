package prompt

import "github.com/song-pt/TongAI/internal/ai"

const (
	DefaultContextLimit = 5
	MaxContextLimit     = 20
)

// ClampContextLimit keeps the follow-up window in [1, 20]; non-positive means the default.
func ClampContextLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultContextLimit
	case n > MaxContextLimit:
		return MaxContextLimit
	}
	return n
}

// FollowUp builds [system, last `limit` non-system history messages, new user message].
// There is no token budget: a long message is sent as-is.
func FollowUp(history []ai.Message, newText string, limit int) []ai.Message {
	limit = ClampContextLimit(limit)

	kept := make([]ai.Message, 0, len(history))
	for _, m := range history {
		if m.Role == ai.RoleSystem {
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) > limit {
		kept = kept[len(kept)-limit:]
	}

	out := make([]ai.Message, 0, len(kept)+2)
	out = append(out, ai.Message{Role: ai.RoleSystem, Content: SystemPrompt})
	out = append(out, kept...)
	out = append(out, ai.Message{Role: ai.RoleUser, Content: newText})
	return out
}
