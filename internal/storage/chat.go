package storage

import (
	"context"
)

// InsertChatMessage appends one message to a user's chat log.
func (s *Store) InsertChatMessage(ctx context.Context, m ChatMessage) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (user_id, role, content, session_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.UserID, m.Role, m.Content, m.SessionID, formatTime(m.CreatedAt),
	)
	if err != nil {
		return 0, wrap("insert chat message", err)
	}
	id, err := res.LastInsertId()
	return id, wrap("insert chat message", err)
}

// RecentChatMessages returns the most recent n messages for a user in
// chronological order (oldest first).
func (s *Store) RecentChatMessages(ctx context.Context, userID string, n int) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, role, content, session_id, created_at
		FROM (
			SELECT id, user_id, role, content, session_id, created_at
			FROM chat_messages
			WHERE user_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		) ORDER BY created_at ASC, id ASC`,
		userID, n,
	)
	if err != nil {
		return nil, wrap("recent chat messages", err)
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var createdAt string
		if err := rows.Scan(&m.ID, &m.UserID, &m.Role, &m.Content, &m.SessionID, &createdAt); err != nil {
			return nil, wrap("recent chat messages", err)
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, wrap("recent chat messages", err)
		}
		out = append(out, m)
	}
	return out, wrap("recent chat messages", rows.Err())
}

// TrimChatMessages deletes every row for the user outside the keep most
// recent ones. Returns the number of rows removed.
func (s *Store) TrimChatMessages(ctx context.Context, userID string, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM chat_messages
		WHERE user_id = ? AND id NOT IN (
			SELECT id FROM chat_messages
			WHERE user_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)`,
		userID, userID, keep,
	)
	if err != nil {
		return 0, wrap("trim chat messages", err)
	}
	n, err := res.RowsAffected()
	return n, wrap("trim chat messages", err)
}

// DeleteChatMessages removes the full chat log for a user and returns how
// many rows were deleted.
func (s *Store) DeleteChatMessages(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE user_id = ?`, userID)
	if err != nil {
		return 0, wrap("delete chat messages", err)
	}
	n, err := res.RowsAffected()
	return n, wrap("delete chat messages", err)
}

// CountChatMessages returns the number of stored messages for a user.
func (s *Store) CountChatMessages(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_messages WHERE user_id = ?`, userID,
	).Scan(&n)
	return n, wrap("count chat messages", err)
}
