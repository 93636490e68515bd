package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ent0n29/rafiki/internal/interview"
	"github.com/ent0n29/rafiki/internal/store"
)

// DefaultWindow is how long a conversation stays reusable after its last
// activity. A sender silent for longer always gets a fresh conversation.
const DefaultWindow = 24 * time.Hour

// Manager resolves, expires and creates the conversation session for a
// sender. Expiry deactivates conversations; it never deletes them.
type Manager struct {
	store  store.Store
	window time.Duration
	now    func() time.Time
}

func NewManager(st store.Store, window time.Duration) *Manager {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Manager{
		store:  st,
		window: window,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Window returns the configured session window.
func (m *Manager) Window() time.Duration { return m.window }

// Resolve returns the sender's live conversation, deactivating stale ones
// first. When none survives it creates a new conversation seeded with the
// persona system message; created reports that case, so no stage progress
// ever carries over across the window.
func (m *Manager) Resolve(ctx context.Context, sender string) (store.Conversation, bool, error) {
	cutoff := m.now().Add(-m.window)

	if err := m.store.DeactivateStale(ctx, sender, cutoff); err != nil {
		return store.Conversation{}, false, fmt.Errorf("deactivate stale conversations: %w", err)
	}

	conv, err := m.store.FindActiveConversation(ctx, sender, cutoff)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Conversation{}, false, fmt.Errorf("find active conversation: %w", err)
	}

	conv, err = m.store.CreateConversation(ctx, sender, interview.SeedPrompt)
	if err != nil {
		return store.Conversation{}, false, fmt.Errorf("create conversation: %w", err)
	}
	return conv, true, nil
}

// Peek returns the sender's live conversation without expiring or creating
// anything; used by read-only surfaces.
func (m *Manager) Peek(ctx context.Context, sender string) (store.Conversation, error) {
	return m.store.FindActiveConversation(ctx, sender, m.now().Add(-m.window))
}

// Touch updates the conversation's last-activity timestamp. Called once per
// completed turn, unconditionally.
func (m *Manager) Touch(ctx context.Context, conversationID string) error {
	if err := m.store.TouchConversation(ctx, conversationID, m.now()); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}
