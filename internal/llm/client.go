package llm

import "context"

// Roles used in chat transcripts.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of an ordered chat transcript.
type Message struct {
	Role    string
	Content string
}

// Client generates a completion for an ordered transcript. Implementations
// must honor context cancellation; callers impose their own deadlines.
type Client interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}
