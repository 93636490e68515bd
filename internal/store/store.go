package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record matches the lookup.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned by SaveState when the stored state was
	// modified since the caller loaded it.
	ErrVersionConflict = errors.New("state version conflict")
)

// Store persists conversations, their transcripts, interview state and the
// stage transition log. All operations are keyed by conversation or sender
// identity; no cross-conversation queries exist.
type Store interface {
	// FindActiveConversation returns the sender's active conversation with
	// activity at or after activeSince, or ErrNotFound.
	FindActiveConversation(ctx context.Context, sender string, activeSince time.Time) (Conversation, error)
	// CreateConversation creates an active conversation seeded with one
	// system-role message carrying the assistant persona.
	CreateConversation(ctx context.Context, sender, seedPrompt string) (Conversation, error)
	// DeactivateStale marks the sender's active conversations inactive when
	// their last activity predates cutoff.
	DeactivateStale(ctx context.Context, sender string, cutoff time.Time) error
	// TouchConversation updates the conversation's last-activity timestamp.
	TouchConversation(ctx context.Context, conversationID string, at time.Time) error

	// AppendMessage appends one transcript entry, filling ID and CreatedAt
	// when unset, and returns the stored message.
	AppendMessage(ctx context.Context, msg Message) (Message, error)
	// Messages returns the full transcript in chronological order.
	Messages(ctx context.Context, conversationID string) ([]Message, error)

	// LoadState returns the stored state record, or ErrNotFound.
	LoadState(ctx context.Context, conversationID string) (StateRecord, error)
	// SaveState writes rec if the stored version still equals rec.Version
	// (0 for a first write) and returns the record with its new version.
	// Returns ErrVersionConflict otherwise.
	SaveState(ctx context.Context, rec StateRecord) (StateRecord, error)

	// AppendTransition appends one stage transition record.
	AppendTransition(ctx context.Context, tr Transition) error
	// LastTransition returns the most recent transition, or ErrNotFound.
	LastTransition(ctx context.Context, conversationID string) (Transition, error)

	Close() error
}
