package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process store for local/dev use and tests.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	messages      map[string][]Message
	states        map[string]StateRecord
	transitions   map[string][]Transition
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]Message),
		states:        make(map[string]StateRecord),
		transitions:   make(map[string][]Transition),
	}
}

func (s *InMemoryStore) FindActiveConversation(_ context.Context, sender string, activeSince time.Time) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conversations {
		if c.Sender == sender && c.Active && !c.LastMessageAt.Before(activeSince) {
			return *c, nil
		}
	}
	return Conversation{}, ErrNotFound
}

func (s *InMemoryStore) CreateConversation(_ context.Context, sender, seedPrompt string) (Conversation, error) {
	now := time.Now().UTC()
	conv := Conversation{
		ID:            uuid.NewString(),
		Sender:        sender,
		Active:        true,
		LastMessageAt: now,
		CreatedAt:     now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = &conv
	s.messages[conv.ID] = append(s.messages[conv.ID], Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           "system",
		Content:        seedPrompt,
		CreatedAt:      now,
	})
	return conv, nil
}

func (s *InMemoryStore) DeactivateStale(_ context.Context, sender string, cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conversations {
		if c.Sender == sender && c.Active && c.LastMessageAt.Before(cutoff) {
			c.Active = false
		}
	}
	return nil
}

func (s *InMemoryStore) TouchConversation(_ context.Context, conversationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	c.LastMessageAt = at
	return nil
}

func (s *InMemoryStore) AppendMessage(_ context.Context, msg Message) (Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return Message{}, ErrNotFound
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return msg, nil
}

func (s *InMemoryStore) Messages(_ context.Context, conversationID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *InMemoryStore) LoadState(_ context.Context, conversationID string) (StateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.states[conversationID]
	if !ok {
		return StateRecord{}, ErrNotFound
	}
	data := make([]byte, len(rec.Data))
	copy(data, rec.Data)
	rec.Data = data
	return rec, nil
}

func (s *InMemoryStore) SaveState(_ context.Context, rec StateRecord) (StateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.states[rec.ConversationID]
	if ok && current.Version != rec.Version {
		return StateRecord{}, ErrVersionConflict
	}
	if !ok && rec.Version != 0 {
		return StateRecord{}, ErrVersionConflict
	}
	rec.Version++
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	data := make([]byte, len(rec.Data))
	copy(data, rec.Data)
	stored := rec
	stored.Data = data
	s.states[rec.ConversationID] = stored
	return rec, nil
}

func (s *InMemoryStore) AppendTransition(_ context.Context, tr Transition) error {
	if tr.At.IsZero() {
		tr.At = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions[tr.ConversationID] = append(s.transitions[tr.ConversationID], tr)
	return nil
}

func (s *InMemoryStore) LastTransition(_ context.Context, conversationID string) (Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trs := s.transitions[conversationID]
	if len(trs) == 0 {
		return Transition{}, ErrNotFound
	}
	return trs[len(trs)-1], nil
}

func (s *InMemoryStore) Close() error { return nil }
