package interview

import (
	"fmt"
	"testing"
	"time"

	"github.com/ent0n29/rafiki/internal/store"
)

func makeMessages(n int, start time.Time) []store.Message {
	msgs := make([]store.Message, 0, n)
	for i := 0; i < n; i++ {
		msgs = append(msgs, store.Message{
			Role:      "user",
			Content:   fmt.Sprintf("message %d", i),
			CreatedAt: start.Add(time.Duration(i) * time.Minute),
		})
	}
	return msgs
}

func TestForGenerationCapsAtWindow(t *testing.T) {
	msgs := makeMessages(50, time.Now().UTC())
	out := ForGeneration(msgs, GenerationWindow)
	if len(out) != GenerationWindow {
		t.Fatalf("len = %d, want %d", len(out), GenerationWindow)
	}
	if out[0].Content != "message 30" {
		t.Fatalf("window start = %q, want the 30th message", out[0].Content)
	}
	if out[len(out)-1].Content != "message 49" {
		t.Fatalf("window end = %q, want the latest message", out[len(out)-1].Content)
	}
}

func TestForGenerationShorterTranscript(t *testing.T) {
	msgs := makeMessages(3, time.Now().UTC())
	out := ForGeneration(msgs, GenerationWindow)
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}
	if out[0].Content != "message 0" {
		t.Fatalf("window should stay oldest-first, got %q first", out[0].Content)
	}
}

func TestSinceLastTransitionBoundaryInclusive(t *testing.T) {
	start := time.Now().UTC()
	msgs := makeMessages(10, start)
	boundary := start.Add(5 * time.Minute)

	out := SinceLastTransition(msgs, &boundary)
	if len(out) != 5 {
		t.Fatalf("len = %d, want 5", len(out))
	}
	if out[0].Content != "message 5" {
		t.Fatalf("boundary message excluded: first = %q", out[0].Content)
	}
	for _, m := range out {
		if m.CreatedAt.Before(boundary) {
			t.Fatalf("evidence window includes pre-transition message %q", m.Content)
		}
	}
}

func TestSinceLastTransitionNoBoundary(t *testing.T) {
	msgs := makeMessages(4, time.Now().UTC())
	out := SinceLastTransition(msgs, nil)
	if len(out) != 4 {
		t.Fatalf("len = %d, want all 4", len(out))
	}
}
