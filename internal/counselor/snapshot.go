package counselor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ent0n29/rafiki/internal/interview"
	"github.com/ent0n29/rafiki/internal/store"
)

// StateSnapshot is a read-only view of a sender's live interview position.
type StateSnapshot struct {
	ConversationID string                                    `json:"conversation_id"`
	Sender         string                                    `json:"sender"`
	CurrentStage   string                                    `json:"current_stage"`
	Records        map[interview.Stage]interview.StageRecord `json:"stage_records"`
	LastMessageAt  time.Time                                 `json:"last_message_at"`
	CreatedAt      time.Time                                 `json:"created_at"`
}

// ErrNoConversation is returned by Snapshot when the sender has no live
// conversation inside the session window.
var ErrNoConversation = errors.New("no active conversation")

// Snapshot reports the sender's current stage and completion records without
// creating or expiring anything.
func (s *Service) Snapshot(ctx context.Context, sender string) (StateSnapshot, error) {
	conv, err := s.sessions.Peek(ctx, sender)
	if errors.Is(err, store.ErrNotFound) {
		return StateSnapshot{}, ErrNoConversation
	}
	if err != nil {
		return StateSnapshot{}, fmt.Errorf("peek conversation: %w", err)
	}

	st := interview.NewState(time.Now().UTC())
	rec, err := s.store.LoadState(ctx, conv.ID)
	if err == nil {
		if err := json.Unmarshal(rec.Data, &st); err != nil {
			return StateSnapshot{}, fmt.Errorf("decode state: %w", err)
		}
		st = st.Normalize(time.Now().UTC())
	} else if !errors.Is(err, store.ErrNotFound) {
		return StateSnapshot{}, fmt.Errorf("load state: %w", err)
	}

	return StateSnapshot{
		ConversationID: conv.ID,
		Sender:         conv.Sender,
		CurrentStage:   st.Current.String(),
		Records:        st.Records,
		LastMessageAt:  conv.LastMessageAt,
		CreatedAt:      conv.CreatedAt,
	}, nil
}
