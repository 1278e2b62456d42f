package storage

import (
	"context"
	"database/sql"
)

const stepColumns = `id, user_id, session_id, query, thought, action, confidence, importance, tool_used, tool_result, keywords, created_at`

func scanSteps(rows *sql.Rows) ([]ContextStep, error) {
	var out []ContextStep
	for rows.Next() {
		var st ContextStep
		var createdAt string
		if err := rows.Scan(&st.ID, &st.UserID, &st.SessionID, &st.Query, &st.Thought,
			&st.Action, &st.Confidence, &st.Importance, &st.ToolUsed, &st.ToolResult,
			&st.Keywords, &createdAt); err != nil {
			return nil, err
		}
		var err error
		if st.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// InsertStep persists a context step. Keywords must already be computed.
func (s *Store) InsertStep(ctx context.Context, st ContextStep) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO context_steps (user_id, session_id, query, thought, action, confidence, importance, tool_used, tool_result, keywords, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.UserID, st.SessionID, st.Query, st.Thought, st.Action, st.Confidence,
		st.Importance, st.ToolUsed, st.ToolResult, st.Keywords, formatTime(st.CreatedAt),
	)
	if err != nil {
		return 0, wrap("insert step", err)
	}
	id, err := res.LastInsertId()
	return id, wrap("insert step", err)
}

// StepsByKeyword returns up to limit persisted steps for the user whose stored
// keyword string contains keyword, ordered by importance then recency.
func (s *Store) StepsByKeyword(ctx context.Context, userID, keyword string, limit int) ([]ContextStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stepColumns+` FROM context_steps
		WHERE user_id = ? AND keywords LIKE ?
		ORDER BY importance DESC, created_at DESC
		LIMIT ?`,
		userID, "%"+keyword+"%", limit,
	)
	if err != nil {
		return nil, wrap("steps by keyword", err)
	}
	defer rows.Close()
	out, err := scanSteps(rows)
	return out, wrap("steps by keyword", err)
}

// RecentSteps returns the limit most recent persisted steps for the user,
// newest first. This is the retrieval fallback when no keyword overlaps.
func (s *Store) RecentSteps(ctx context.Context, userID string, limit int) ([]ContextStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stepColumns+` FROM context_steps
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, wrap("recent steps", err)
	}
	defer rows.Close()
	out, err := scanSteps(rows)
	return out, wrap("recent steps", err)
}

// DeleteStepsBefore removes persisted steps older than cutoff and returns the
// number removed. Used by the retention sweep.
func (s *Store) DeleteStepsBefore(ctx context.Context, cutoff string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM context_steps WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, wrap("delete steps before", err)
	}
	n, err := res.RowsAffected()
	return n, wrap("delete steps before", err)
}

// CountSteps returns the number of persisted steps for a user.
func (s *Store) CountSteps(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM context_steps WHERE user_id = ?`, userID,
	).Scan(&n)
	return n, wrap("count steps", err)
}
