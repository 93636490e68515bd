package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists conversations, transcripts and interview state in
// PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			sender TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			last_message_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_sender_active ON conversations (sender, active, last_message_at DESC);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages (conversation_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS conversation_states (
			conversation_id TEXT PRIMARY KEY REFERENCES conversations(id) ON DELETE CASCADE,
			data JSONB NOT NULL,
			version BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS state_transitions (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			from_stage TEXT NOT NULL,
			to_stage TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_state_transitions_conversation_occurred ON state_transitions (conversation_id, occurred_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) FindActiveConversation(ctx context.Context, sender string, activeSince time.Time) (Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, sender, active, last_message_at, created_at
		   FROM conversations
		  WHERE sender=$1 AND active AND last_message_at >= $2
		  ORDER BY last_message_at DESC
		  LIMIT 1`,
		sender, activeSince,
	)
	var c Conversation
	if err := row.Scan(&c.ID, &c.Sender, &c.Active, &c.LastMessageAt, &c.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, fmt.Errorf("find active conversation: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) CreateConversation(ctx context.Context, sender, seedPrompt string) (Conversation, error) {
	now := time.Now().UTC()
	conv := Conversation{
		ID:            uuid.NewString(),
		Sender:        sender,
		Active:        true,
		LastMessageAt: now,
		CreatedAt:     now,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Conversation{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO conversations (id, sender, active, last_message_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		conv.ID, conv.Sender, conv.Active, conv.LastMessageAt, conv.CreatedAt,
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), conv.ID, "system", seedPrompt, now,
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("insert seed message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Conversation{}, fmt.Errorf("commit tx: %w", err)
	}
	return conv, nil
}

func (s *PostgresStore) DeactivateStale(ctx context.Context, sender string, cutoff time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE conversations SET active=FALSE
		  WHERE sender=$1 AND active AND last_message_at < $2`,
		sender, cutoff,
	)
	if err != nil {
		return fmt.Errorf("deactivate stale conversations: %w", err)
	}
	return nil
}

func (s *PostgresStore) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET last_message_at=$2 WHERE id=$1`,
		conversationID, at,
	)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg Message) (Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt,
	)
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, role, content, created_at
		   FROM messages WHERE conversation_id=$1 ORDER BY created_at ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) LoadState(ctx context.Context, conversationID string) (StateRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT conversation_id, data, version, updated_at
		   FROM conversation_states WHERE conversation_id=$1`,
		conversationID,
	)
	var rec StateRecord
	if err := row.Scan(&rec.ConversationID, &rec.Data, &rec.Version, &rec.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return StateRecord{}, ErrNotFound
		}
		return StateRecord{}, fmt.Errorf("load state: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) SaveState(ctx context.Context, rec StateRecord) (StateRecord, error) {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	if rec.Version == 0 {
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO conversation_states (conversation_id, data, version, updated_at)
			 VALUES ($1, $2, 1, $3)
			 ON CONFLICT (conversation_id) DO NOTHING`,
			rec.ConversationID, rec.Data, rec.UpdatedAt,
		)
		if err != nil {
			return StateRecord{}, fmt.Errorf("insert state: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return StateRecord{}, ErrVersionConflict
		}
		rec.Version = 1
		return rec, nil
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE conversation_states SET data=$2, version=version+1, updated_at=$3
		  WHERE conversation_id=$1 AND version=$4`,
		rec.ConversationID, rec.Data, rec.UpdatedAt, rec.Version,
	)
	if err != nil {
		return StateRecord{}, fmt.Errorf("update state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return StateRecord{}, ErrVersionConflict
	}
	rec.Version++
	return rec, nil
}

func (s *PostgresStore) AppendTransition(ctx context.Context, tr Transition) error {
	if tr.At.IsZero() {
		tr.At = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO state_transitions (id, conversation_id, from_stage, to_stage, occurred_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), tr.ConversationID, tr.FromStage, tr.ToStage, tr.At,
	)
	if err != nil {
		return fmt.Errorf("append transition: %w", err)
	}
	return nil
}

func (s *PostgresStore) LastTransition(ctx context.Context, conversationID string) (Transition, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT conversation_id, from_stage, to_stage, occurred_at
		   FROM state_transitions WHERE conversation_id=$1
		  ORDER BY occurred_at DESC LIMIT 1`,
		conversationID,
	)
	var tr Transition
	if err := row.Scan(&tr.ConversationID, &tr.FromStage, &tr.ToStage, &tr.At); err != nil {
		if err == pgx.ErrNoRows {
			return Transition{}, ErrNotFound
		}
		return Transition{}, fmt.Errorf("last transition: %w", err)
	}
	return tr, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
