package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const conversationColumns = "id, user_id, title, created_at, updated_at"

func (s *SQLiteStore) CreateConversation(ctx context.Context, userID, title string) (*Conversation, error) {
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	now := s.now()
	c := &Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO conversations (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		c.ID, c.UserID, c.Title, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert conversation: %w", err)
	}
	return c, nil
}

// GetConversation returns the conversation only when userID owns it.
func (s *SQLiteStore) GetConversation(ctx context.Context, id, userID string) (*Conversation, error) {
	return getConversation(ctx, s.db, id, userID)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getConversation(ctx context.Context, q queryRower, id, userID string) (*Conversation, error) {
	var c Conversation
	err := q.QueryRowContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE id = ? AND user_id = ?", id, userID).
		Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &c, nil
}

// ListConversations returns the user's conversations, most recently updated first.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string, f ConversationFilter) ([]Conversation, error) {
	query := "SELECT " + conversationColumns + " FROM conversations WHERE user_id = ?"
	args := []any{userID}
	if f.Query != "" {
		query += ` AND LOWER(title) LIKE '%' || LOWER(?) || '%' ESCAPE '\'`
		args = append(args, escapeLike(f.Query))
	}
	query += " ORDER BY updated_at DESC, created_at DESC LIMIT ? OFFSET ?"
	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	conversations := []Conversation{}
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}
	return conversations, nil
}

func (s *SQLiteStore) RenameConversation(ctx context.Context, id, userID, title string) (*Conversation, error) {
	var out *Conversation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		c, err := getConversation(ctx, tx, id, userID)
		if err != nil {
			return err
		}
		c.Title = title
		c.UpdatedAt = after(c.UpdatedAt, s.now())
		if _, err := tx.ExecContext(ctx,
			"UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?", c.Title, c.UpdatedAt, c.ID); err != nil {
			return fmt.Errorf("failed to rename conversation: %w", err)
		}
		out = c
		return nil
	})
	return out, err
}

// ReplaceDefaultTitle sets title only while the conversation still has
// DefaultTitle, and reports whether it did.
func (s *SQLiteStore) ReplaceDefaultTitle(ctx context.Context, id, userID, title string) (bool, error) {
	var renamed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		c, err := getConversation(ctx, tx, id, userID)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			"UPDATE conversations SET title = ?, updated_at = ? WHERE id = ? AND title = ?",
			title, after(c.UpdatedAt, s.now()), c.ID, DefaultTitle)
		if err != nil {
			return fmt.Errorf("failed to set conversation title: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to set conversation title: %w", err)
		}
		renamed = affected > 0
		return nil
	})
	return renamed, err
}

// DeleteConversation removes the conversation and, by cascade, its messages.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return nil
}

// TouchConversation advances updated_at, e.g. after a document upload.
func (s *SQLiteStore) TouchConversation(ctx context.Context, id, userID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		c, err := getConversation(ctx, tx, id, userID)
		if err != nil {
			return err
		}
		return touch(ctx, tx, c.ID, after(c.UpdatedAt, s.now()))
	})
}

func touch(ctx context.Context, tx *sql.Tx, id string, at time.Time) error {
	if _, err := tx.ExecContext(ctx, "UPDATE conversations SET updated_at = ? WHERE id = ?", at, id); err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
