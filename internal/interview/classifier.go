package interview

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ent0n29/rafiki/internal/llm"
)

// GateOutcome records how a message fared against each completion gate.
// Relevant is only meaningful when SemanticChecked is true; the cheap gates
// short-circuit the LLM call.
type GateOutcome struct {
	Keyword         bool `json:"keyword"`
	Length          bool `json:"length"`
	Relevant        bool `json:"relevant"`
	SemanticChecked bool `json:"semantic_checked"`
}

// Satisfied reports whether all three gates passed.
func (o GateOutcome) Satisfied() bool {
	return o.Keyword && o.Length && o.Relevant
}

// Classifier decides whether one message satisfies a stage's requirements.
// It is stateless per call; any semantic-gate failure counts as not relevant.
type Classifier struct {
	llm     llm.Client
	timeout time.Duration
}

func NewClassifier(client llm.Client, timeout time.Duration) *Classifier {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Classifier{llm: client, timeout: timeout}
}

// Evaluate runs the lexical, length and semantic gates in that order. The
// semantic gate is never consulted when a cheaper gate already failed, and is
// skipped entirely for stages without a policy.
func (c *Classifier) Evaluate(ctx context.Context, stage Stage, message string) GateOutcome {
	pol, ok := stage.Policy()
	if !ok {
		return GateOutcome{Keyword: true, Length: true, Relevant: true}
	}

	lowered := strings.ToLower(message)

	var out GateOutcome
	for _, kw := range pol.Keywords {
		if strings.Contains(lowered, kw) {
			out.Keyword = true
			break
		}
	}
	out.Length = utf8.RuneCountInString(lowered) >= pol.MinLength
	if !out.Keyword || !out.Length {
		return out
	}

	out.SemanticChecked = true
	// The semantic gate judges the same lowered text the lexical gate saw.
	out.Relevant = c.relevant(ctx, stage, lowered)
	return out
}

func (c *Classifier) relevant(ctx context.Context, stage Stage, message string) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reply, err := c.llm.Generate(ctx, []llm.Message{
		{
			Role:    llm.RoleSystem,
			Content: fmt.Sprintf(`Analyze if the following message is relevant for the '%s' stage. Respond ONLY with "true" or "false" with no punctuation.`, stage),
		},
		{Role: llm.RoleUser, Content: message},
	})
	if err != nil {
		// Fail closed: an inconclusive judgment never advances a stage.
		return false
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(reply)), "true")
}
