package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// SaveConversation inserts or replaces a conversation snapshot.
func (s *Store) SaveConversation(c Conversation) error {
	updatedAt := c.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO conversations (thread_id, state, snapshot_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			state = excluded.state,
			snapshot_json = excluded.snapshot_json,
			updated_at = excluded.updated_at`,
		c.ThreadID, c.State, c.SnapshotJSON, updatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetConversation(threadID string) (Conversation, error) {
	var c Conversation
	var updatedAt string
	err := s.db.QueryRow(`
		SELECT thread_id, state, snapshot_json, updated_at
		FROM conversations WHERE thread_id = ?`, threadID,
	).Scan(&c.ThreadID, &c.State, &c.SnapshotJSON, &updatedAt)
	if err == sql.ErrNoRows {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	c.UpdatedAt = t
	return c, nil
}

func (s *Store) ListConversations(limit, offset int) ([]Conversation, error) {
	rows, err := s.db.Query(`
		SELECT thread_id, state, snapshot_json, updated_at
		FROM conversations ORDER BY updated_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Conversation
	for rows.Next() {
		var c Conversation
		var updatedAt string
		if err := rows.Scan(&c.ThreadID, &c.State, &c.SnapshotJSON, &updatedAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		c.UpdatedAt = t
		results = append(results, c)
	}
	return results, rows.Err()
}

func (s *Store) DeleteConversation(threadID string) error {
	res, err := s.db.Exec(`DELETE FROM conversations WHERE thread_id = ?`, threadID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
