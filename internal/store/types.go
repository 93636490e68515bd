package store

import "time"

// Conversation is one continuous session with a sender. At most one active
// conversation exists per sender at any instant; expiry flips Active to false
// and never deletes the row.
type Conversation struct {
	ID            string    `json:"id"`
	Sender        string    `json:"sender"`
	Active        bool      `json:"active"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// Message is one append-only transcript entry belonging to a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Transition is one append-only stage-change record. Its timestamp doubles as
// the boundary for the completeness evidence window.
type Transition struct {
	ConversationID string    `json:"conversation_id"`
	FromStage      string    `json:"from_stage"`
	ToStage        string    `json:"to_stage"`
	At             time.Time `json:"at"`
}

// StateRecord holds the serialized interview state for one conversation.
// Version is an optimistic concurrency token: SaveState only succeeds when the
// stored version still matches the one the caller loaded.
type StateRecord struct {
	ConversationID string    `json:"conversation_id"`
	Data           []byte    `json:"data"`
	Version        int64     `json:"version"`
	UpdatedAt      time.Time `json:"updated_at"`
}
