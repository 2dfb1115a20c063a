package store

import (
	"context"
	"fmt"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleUser is a message sent by the advisor operating the platform.
	RoleUser Role = "user"
	// RoleAssistant is a message produced by the generation model.
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a conversation.
type Message struct {
	// Role is the author of the message.
	Role Role
	// Content is the text of the message.
	Content string
	// CreatedAt is when the message was persisted.
	CreatedAt time.Time
}

// HistoryStore persists and retrieves conversation history keyed by
// conversation ID. Implementations must be safe for concurrent use.
type HistoryStore interface {
	// AppendMessage persists a single message for the given conversation.
	AppendMessage(ctx context.Context, conversationID string, role Role, content string) error
	// RecentMessages returns the most recent n messages for the conversation,
	// ordered oldest-first so they can be prepended to the model message
	// slice directly. If fewer than n messages exist, all are returned.
	RecentMessages(ctx context.Context, conversationID string, n int) ([]Message, error)
}

// AppendMessage persists a single message for the given conversation.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID string, role Role, content string) error {
	const q = `INSERT INTO messages (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, conversationID, string(role), content, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: append message: %w", err)
	}
	return nil
}

// RecentMessages returns the most recent n messages for the conversation,
// ordered oldest-first. Uses a subquery to select the tail then re-order for
// prompt injection.
func (s *SQLiteStore) RecentMessages(ctx context.Context, conversationID string, n int) ([]Message, error) {
	const q = `
SELECT role, content, created_at FROM (
    SELECT id, role, content, created_at
    FROM   messages
    WHERE  conversation_id = ?
    ORDER  BY created_at DESC, id DESC
    LIMIT  ?
) ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var ts int64
		var role string
		if err := rows.Scan(&role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		m.Role = Role(role)
		m.CreatedAt = time.Unix(ts, 0)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent rows: %w", err)
	}
	return msgs, nil
}
