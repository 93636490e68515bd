package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestConversationLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	conv, err := s.CreateConversation(ctx, "whatsapp:+15550001111", "seed prompt")
	if err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	if conv.ID == "" || !conv.Active {
		t.Fatalf("unexpected conversation: %+v", conv)
	}

	msgs, err := s.Messages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != "system" || msgs[0].Content != "seed prompt" {
		t.Fatalf("new conversation should hold exactly the seed message: %+v", msgs)
	}

	found, err := s.FindActiveConversation(ctx, conv.Sender, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("FindActiveConversation() error = %v", err)
	}
	if found.ID != conv.ID {
		t.Fatalf("found ID = %q, want %q", found.ID, conv.ID)
	}
}

func TestDeactivateStale(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	conv, err := s.CreateConversation(ctx, "sender-1", "seed")
	if err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	stale := time.Now().UTC().Add(-25 * time.Hour)
	if err := s.TouchConversation(ctx, conv.ID, stale); err != nil {
		t.Fatalf("TouchConversation() error = %v", err)
	}

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	if err := s.DeactivateStale(ctx, "sender-1", cutoff); err != nil {
		t.Fatalf("DeactivateStale() error = %v", err)
	}

	if _, err := s.FindActiveConversation(ctx, "sender-1", time.Time{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stale conversation still findable, err = %v", err)
	}
}

func TestAppendMessageOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	conv, _ := s.CreateConversation(ctx, "sender-1", "seed")
	for _, content := range []string{"one", "two", "three"} {
		if _, err := s.AppendMessage(ctx, Message{ConversationID: conv.ID, Role: "user", Content: content}); err != nil {
			t.Fatalf("AppendMessage(%q) error = %v", content, err)
		}
	}

	msgs, err := s.Messages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("len = %d, want seed + 3", len(msgs))
	}
	if msgs[1].Content != "one" || msgs[3].Content != "three" {
		t.Fatalf("messages out of order: %+v", msgs)
	}
	if msgs[1].ID == "" || msgs[1].CreatedAt.IsZero() {
		t.Fatalf("AppendMessage should fill ID and CreatedAt: %+v", msgs[1])
	}
}

func TestAppendMessageUnknownConversation(t *testing.T) {
	s := NewInMemoryStore()
	if _, err := s.AppendMessage(context.Background(), Message{ConversationID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveStateOptimisticVersioning(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	conv, _ := s.CreateConversation(ctx, "sender-1", "seed")

	rec, err := s.SaveState(ctx, StateRecord{ConversationID: conv.ID, Data: []byte(`{"v":1}`)})
	if err != nil {
		t.Fatalf("first SaveState() error = %v", err)
	}
	if rec.Version != 1 {
		t.Fatalf("Version = %d, want 1", rec.Version)
	}

	// A writer holding a stale version must conflict.
	if _, err := s.SaveState(ctx, StateRecord{ConversationID: conv.ID, Data: []byte(`{"v":2}`), Version: 0}); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale write err = %v, want ErrVersionConflict", err)
	}

	rec, err = s.SaveState(ctx, StateRecord{ConversationID: conv.ID, Data: []byte(`{"v":2}`), Version: rec.Version})
	if err != nil {
		t.Fatalf("second SaveState() error = %v", err)
	}
	if rec.Version != 2 {
		t.Fatalf("Version = %d, want 2", rec.Version)
	}

	loaded, err := s.LoadState(ctx, conv.ID)
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if string(loaded.Data) != `{"v":2}` || loaded.Version != 2 {
		t.Fatalf("loaded = %+v, want latest write", loaded)
	}
}

func TestTransitionLog(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	conv, _ := s.CreateConversation(ctx, "sender-1", "seed")

	if _, err := s.LastTransition(ctx, conv.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LastTransition() on empty log err = %v, want ErrNotFound", err)
	}

	first := time.Now().UTC().Add(-time.Minute)
	second := time.Now().UTC()
	if err := s.AppendTransition(ctx, Transition{ConversationID: conv.ID, FromStage: "initial", ToStage: "interests", At: first}); err != nil {
		t.Fatalf("AppendTransition() error = %v", err)
	}
	if err := s.AppendTransition(ctx, Transition{ConversationID: conv.ID, FromStage: "interests", ToStage: "skills", At: second}); err != nil {
		t.Fatalf("AppendTransition() error = %v", err)
	}

	last, err := s.LastTransition(ctx, conv.ID)
	if err != nil {
		t.Fatalf("LastTransition() error = %v", err)
	}
	if last.ToStage != "skills" || !last.At.Equal(second) {
		t.Fatalf("last transition = %+v, want the most recent entry", last)
	}
}
