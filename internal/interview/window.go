package interview

import (
	"time"

	"github.com/ent0n29/rafiki/internal/llm"
	"github.com/ent0n29/rafiki/internal/store"
)

// GenerationWindow caps how many transcript entries feed the reply prompt.
const GenerationWindow = 20

// ForGeneration returns the most recent limit messages as prompt entries,
// oldest first. This window is only for reply generation; completeness
// evaluation uses SinceLastTransition, and the two must never be swapped.
func ForGeneration(msgs []store.Message, limit int) []llm.Message {
	if limit <= 0 {
		limit = GenerationWindow
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// SinceLastTransition returns the messages created at or after the last
// stage-transition timestamp. A nil boundary means no transition has been
// recorded yet and the whole transcript is evidence.
func SinceLastTransition(msgs []store.Message, lastTransition *time.Time) []store.Message {
	if lastTransition == nil {
		out := make([]store.Message, len(msgs))
		copy(out, msgs)
		return out
	}
	var out []store.Message
	for _, m := range msgs {
		if !m.CreatedAt.Before(*lastTransition) {
			out = append(out, m)
		}
	}
	return out
}
