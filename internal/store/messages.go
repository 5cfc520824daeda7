package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

const messageColumns = "id, conversation_id, role, content, created_at"

// ListMessages returns a page of the conversation's messages in chronological order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]Message, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryMessages(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE conversation_id = ? ORDER BY seq ASC LIMIT ? OFFSET ?",
		conversationID, limit, offset)
}

// History returns the last limit messages in chronological order; limit <= 0
// returns all of them.
func (s *SQLiteStore) History(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		return s.ListMessages(ctx, conversationID, 0, 0)
	}
	msgs, err := s.queryMessages(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE conversation_id = ? ORDER BY seq DESC LIMIT ?",
		conversationID, limit)
	if err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

// AppendExchange records a user turn and the assistant's answer to it, and
// advances the conversation's updated_at, in a single transaction.
func (s *SQLiteStore) AppendExchange(ctx context.Context, conversationID, userID, prompt, answer string) ([]Message, error) {
	var out []Message
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		c, err := getConversation(ctx, tx, conversationID, userID)
		if err != nil {
			return err
		}

		last, err := latestMessageTime(ctx, tx, conversationID)
		if err != nil {
			return err
		}

		at := after(last, s.now())
		out = []Message{
			{ID: uuid.NewString(), ConversationID: conversationID, Role: RoleUser, Content: prompt, CreatedAt: at},
			{ID: uuid.NewString(), ConversationID: conversationID, Role: RoleAssistant, Content: answer, CreatedAt: at.Add(time.Microsecond)},
		}
		for _, m := range out {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)",
				m.ID, m.ConversationID, m.Role, m.Content, m.CreatedAt); err != nil {
				return fmt.Errorf("failed to insert message: %w", err)
			}
		}

		return touch(ctx, tx, c.ID, after(c.UpdatedAt, out[1].CreatedAt))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func latestMessageTime(ctx context.Context, tx *sql.Tx, conversationID string) (time.Time, error) {
	var last time.Time
	err := tx.QueryRowContext(ctx,
		"SELECT created_at FROM messages WHERE conversation_id = ? ORDER BY seq DESC LIMIT 1", conversationID).
		Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("failed to read latest message: %w", err)
	}
	return last, nil
}
