package counselor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ent0n29/rafiki/internal/interview"
	"github.com/ent0n29/rafiki/internal/llm"
	"github.com/ent0n29/rafiki/internal/observability"
	"github.com/ent0n29/rafiki/internal/session"
	"github.com/ent0n29/rafiki/internal/store"
)

// routingLLM answers classifier probes and generation requests separately.
// Classifier probes are recognized by their fixed system instruction.
type routingLLM struct {
	classifierReply string
	classifierErr   error
	genReply        string
	genErr          error

	semanticCalls int
	genCalls      int
}

func (f *routingLLM) Generate(_ context.Context, msgs []llm.Message) (string, error) {
	if len(msgs) > 0 && strings.HasPrefix(msgs[0].Content, "Analyze if") {
		f.semanticCalls++
		return f.classifierReply, f.classifierErr
	}
	f.genCalls++
	return f.genReply, f.genErr
}

func newTestService(t *testing.T, st store.Store, client llm.Client) *Service {
	t.Helper()
	namespace := fmt.Sprintf("test_counselor_%d", time.Now().UnixNano())
	metrics := observability.NewMetrics(namespace)
	sessions := session.NewManager(st, session.DefaultWindow)
	machine := interview.NewMachine(interview.NewClassifier(client, time.Second))
	return New(st, sessions, machine, client, metrics, 5*time.Second)
}

func TestHandleMessageAdvancesThroughEarlyStages(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	client := &routingLLM{classifierReply: "true", genReply: "Nice to meet you!"}
	svc := newTestService(t, st, client)

	reply := svc.HandleMessage(ctx, "sender-1", "hi")
	if !strings.Contains(reply, "Nice to meet you!") {
		t.Fatalf("reply = %q, want generated text", reply)
	}
	if !strings.Contains(reply, interview.Handoff(interview.StageInterests)) {
		t.Fatalf("reply missing interests handoff: %q", reply)
	}

	snap, err := svc.Snapshot(ctx, "sender-1")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.CurrentStage != "interests" {
		t.Fatalf("stage = %q, want interests", snap.CurrentStage)
	}
	if !snap.Records[interview.StageInitial].Completed {
		t.Fatalf("initial stage not recorded as completed")
	}

	reply = svc.HandleMessage(ctx, "sender-1", "I really enjoy painting and creative work")
	if !strings.Contains(reply, interview.Handoff(interview.StageSkills)) {
		t.Fatalf("reply missing skills handoff: %q", reply)
	}
	snap, err = svc.Snapshot(ctx, "sender-1")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.CurrentStage != "skills" {
		t.Fatalf("stage = %q, want skills", snap.CurrentStage)
	}
}

func TestHandleMessageIncompleteAnswerStays(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	client := &routingLLM{classifierReply: "true", genReply: "Tell me more."}
	svc := newTestService(t, st, client)

	svc.HandleMessage(ctx, "sender-1", "hi")
	semanticBefore := client.semanticCalls

	// "ok" fails both cheap gates for the interests stage, so the semantic
	// probe must never fire.
	reply := svc.HandleMessage(ctx, "sender-1", "ok")
	if strings.Contains(reply, interview.Handoff(interview.StageSkills)) {
		t.Fatalf("incomplete answer advanced the stage: %q", reply)
	}
	if client.semanticCalls != semanticBefore {
		t.Fatalf("semantic gate consulted despite failed cheap gates")
	}

	snap, err := svc.Snapshot(ctx, "sender-1")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.CurrentStage != "interests" {
		t.Fatalf("stage = %q, want interests", snap.CurrentStage)
	}
}

func TestHandleMessageGenerationFailure(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	client := &routingLLM{classifierReply: "true", genErr: errors.New("upstream unavailable")}
	svc := newTestService(t, st, client)

	reply := svc.HandleMessage(ctx, "sender-1", "hi")
	if reply != Apology {
		t.Fatalf("reply = %q, want the apology", reply)
	}

	// The inbound message survives; no assistant message is recorded.
	conv, err := st.FindActiveConversation(ctx, "sender-1", time.Time{})
	if err != nil {
		t.Fatalf("FindActiveConversation() error = %v", err)
	}
	msgs, err := st.Messages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	var users, assistants int
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleUser:
			users++
		case llm.RoleAssistant:
			assistants++
		}
	}
	if users != 1 || assistants != 0 {
		t.Fatalf("users = %d assistants = %d, want 1 and 0", users, assistants)
	}

	// The apology is never stored, so recovery picks up cleanly.
	client.genErr = nil
	client.genReply = "Welcome back!"
	if got := svc.HandleMessage(ctx, "sender-1", "hello again"); !strings.Contains(got, "Welcome back!") {
		t.Fatalf("recovery reply = %q", got)
	}
}

func TestHandleMessageClassifierFailureHoldsStage(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	client := &routingLLM{classifierErr: errors.New("timeout"), genReply: "Hello there!"}
	svc := newTestService(t, st, client)

	reply := svc.HandleMessage(ctx, "sender-1", "hi")
	if reply == Apology {
		t.Fatalf("classifier failure should degrade to a normal reply, got apology")
	}
	snap, err := svc.Snapshot(ctx, "sender-1")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.CurrentStage != "initial" {
		t.Fatalf("stage = %q, want initial after a failed semantic gate", snap.CurrentStage)
	}
}

// conflictingStore fails the first SaveState with a version conflict to
// exercise the optimistic retry loop.
type conflictingStore struct {
	store.Store
	conflicts atomic.Int64
	remaining atomic.Int64
}

func (c *conflictingStore) SaveState(ctx context.Context, rec store.StateRecord) (store.StateRecord, error) {
	if c.remaining.Add(-1) >= 0 {
		c.conflicts.Add(1)
		return store.StateRecord{}, store.ErrVersionConflict
	}
	return c.Store.SaveState(ctx, rec)
}

func TestHandleMessageRetriesVersionConflict(t *testing.T) {
	ctx := context.Background()
	wrapped := &conflictingStore{Store: store.NewInMemoryStore()}
	wrapped.remaining.Store(1)
	client := &routingLLM{classifierReply: "true", genReply: "Welcome!"}
	svc := newTestService(t, wrapped, client)

	reply := svc.HandleMessage(ctx, "sender-1", "hi")
	if reply == Apology {
		t.Fatalf("a single conflict should be retried, got apology")
	}
	if got := wrapped.conflicts.Load(); got != 1 {
		t.Fatalf("conflicts = %d, want 1", got)
	}

	snap, err := svc.Snapshot(ctx, "sender-1")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.CurrentStage != "interests" {
		t.Fatalf("stage = %q, want interests after retry", snap.CurrentStage)
	}
}

func TestHandleMessageExhaustedConflictsApologize(t *testing.T) {
	ctx := context.Background()
	wrapped := &conflictingStore{Store: store.NewInMemoryStore()}
	wrapped.remaining.Store(int64(maxStateAttempts))
	client := &routingLLM{classifierReply: "true", genReply: "Welcome!"}
	svc := newTestService(t, wrapped, client)

	if reply := svc.HandleMessage(ctx, "sender-1", "hi"); reply != Apology {
		t.Fatalf("reply = %q, want the apology after exhausted retries", reply)
	}
}

// slowStore widens the find-then-create window so an unserialized resolve
// would let concurrent first-contact turns each miss and create.
type slowStore struct {
	store.Store
	creates atomic.Int64
}

func (s *slowStore) FindActiveConversation(ctx context.Context, sender string, activeSince time.Time) (store.Conversation, error) {
	conv, err := s.Store.FindActiveConversation(ctx, sender, activeSince)
	time.Sleep(20 * time.Millisecond)
	return conv, err
}

func (s *slowStore) CreateConversation(ctx context.Context, sender, seedPrompt string) (store.Conversation, error) {
	s.creates.Add(1)
	return s.Store.CreateConversation(ctx, sender, seedPrompt)
}

func TestConcurrentFirstContactCreatesOneConversation(t *testing.T) {
	ctx := context.Background()
	wrapped := &slowStore{Store: store.NewInMemoryStore()}
	client := &routingLLM{classifierReply: "true", genReply: "Welcome!"}
	svc := newTestService(t, wrapped, client)

	const turns = 4
	done := make(chan struct{})
	for i := 0; i < turns; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			if reply := svc.HandleMessage(ctx, "sender-1", "hi"); reply == Apology {
				t.Errorf("concurrent turn failed")
			}
		}()
	}
	for i := 0; i < turns; i++ {
		<-done
	}

	if got := wrapped.creates.Load(); got != 1 {
		t.Fatalf("conversations created = %d, want 1 for a single sender", got)
	}
}

func TestSenderLocksEvicted(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	client := &routingLLM{classifierReply: "true", genReply: "Hello!"}
	svc := newTestService(t, st, client)

	svc.HandleMessage(ctx, "sender-1", "hi")
	svc.HandleMessage(ctx, "sender-2", "hi")

	svc.mu.Lock()
	n := len(svc.locks)
	svc.mu.Unlock()
	if n != 0 {
		t.Fatalf("lock entries = %d, want 0 after turns complete", n)
	}
}

// transitionCountingStore records every transition-log append.
type transitionCountingStore struct {
	store.Store
	appends atomic.Int64
}

func (c *transitionCountingStore) AppendTransition(ctx context.Context, tr store.Transition) error {
	c.appends.Add(1)
	return c.Store.AppendTransition(ctx, tr)
}

func TestAdvancingTurnAppendsExactlyOneTransition(t *testing.T) {
	ctx := context.Background()
	wrapped := &transitionCountingStore{Store: store.NewInMemoryStore()}
	client := &routingLLM{classifierReply: "true", genReply: "Welcome!"}
	svc := newTestService(t, wrapped, client)

	if reply := svc.HandleMessage(ctx, "sender-1", "hi"); reply == Apology {
		t.Fatalf("advancing turn failed")
	}
	if got := wrapped.appends.Load(); got != 1 {
		t.Fatalf("transition appends = %d, want exactly 1 for an advancing turn", got)
	}

	// A held turn must log nothing.
	if reply := svc.HandleMessage(ctx, "sender-1", "ok"); reply == Apology {
		t.Fatalf("held turn failed")
	}
	if got := wrapped.appends.Load(); got != 1 {
		t.Fatalf("transition appends = %d, want no new entry for a held turn", got)
	}
}

func TestSnapshotWithoutConversation(t *testing.T) {
	st := store.NewInMemoryStore()
	svc := newTestService(t, st, &routingLLM{})

	if _, err := svc.Snapshot(context.Background(), "nobody"); !errors.Is(err, ErrNoConversation) {
		t.Fatalf("err = %v, want ErrNoConversation", err)
	}
}

func TestTerminalStageInvitesRecommendations(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	client := &routingLLM{classifierReply: "true", genReply: "Thanks for sharing."}
	svc := newTestService(t, st, client)

	turns := []string{
		"hi",
		"I really enjoy painting and creative work",
		"I am good at organizing people and explaining ideas",
		"The most difficult part for me is public speaking",
		"In the future I want to lead a design team",
	}
	var last string
	for _, text := range turns {
		last = svc.HandleMessage(ctx, "sender-1", text)
		if last == Apology {
			t.Fatalf("turn %q failed", text)
		}
	}
	if !strings.Contains(last, interview.TerminalInvite) {
		t.Fatalf("final reply missing recommendations invite: %q", last)
	}

	snap, err := svc.Snapshot(ctx, "sender-1")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.CurrentStage != "recommendations" {
		t.Fatalf("stage = %q, want recommendations", snap.CurrentStage)
	}

	// Terminal turns still answer, but no further transition exists.
	semanticBefore := client.semanticCalls
	svc.HandleMessage(ctx, "sender-1", "yes please, tell me everything")
	if client.semanticCalls != semanticBefore {
		t.Fatalf("terminal stage consulted the semantic gate")
	}
}
