// Package chat provides the per-client AI assistant: message history
// persistence and model-backed answers grounded in the client's inventory.
package chat

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one stored chat turn
type Message struct {
	ID        int64     `json:"id"`
	ClientID  int64     `json:"client_id"`
	UserID    int64     `json:"user_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists chat history per client
type Store struct {
	db *sql.DB
}

// NewStore creates a chat store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save appends one message and returns it with its assigned ID
func (s *Store) Save(ctx context.Context, m *Message) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO chat_messages (client_id, user_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		m.ClientID, m.UserID, m.Role, m.Content, m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

// History returns a client's messages oldest first, capped at limit
func (s *Store) History(ctx context.Context, clientID int64, limit int) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id, user_id, role, content, created_at
		FROM chat_messages
		WHERE client_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat history: %w", err)
	}
	defer rows.Close()

	newest := []*Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ClientID, &m.UserID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		newest = append(newest, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order
	messages := make([]*Message, len(newest))
	for i, m := range newest {
		messages[len(newest)-1-i] = m
	}
	return messages, nil
}

// Clear deletes a client's history and reports how many messages were removed
func (s *Store) Clear(ctx context.Context, clientID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_messages WHERE client_id = $1`, clientID)
	if err != nil {
		return 0, fmt.Errorf("clear chat history: %w", err)
	}
	return result.RowsAffected()
}
