package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

func marshalTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("marshalling tags: %w", err)
	}
	return string(b), nil
}

func scanFact(scan func(dest ...any) error) (Fact, error) {
	var f Fact
	var tags, lastAccessed, createdAt string
	if err := scan(&f.ID, &f.UserID, &f.Key, &f.Value, &f.Importance, &f.Category,
		&tags, &f.AccessCount, &lastAccessed, &createdAt); err != nil {
		return Fact{}, err
	}
	if err := json.Unmarshal([]byte(tags), &f.Tags); err != nil {
		return Fact{}, fmt.Errorf("unmarshalling tags: %w", err)
	}
	var err error
	if f.LastAccessed, err = parseTime(lastAccessed); err != nil {
		return Fact{}, err
	}
	if f.CreatedAt, err = parseTime(createdAt); err != nil {
		return Fact{}, err
	}
	return f, nil
}

const factColumns = `id, user_id, key, value, importance, category, tags, access_count, last_accessed, created_at`

// GetFact returns the fact stored under (userID, key), or ErrNotFound.
func (s *Store) GetFact(ctx context.Context, userID, key string) (Fact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+factColumns+` FROM facts WHERE user_id = ? AND key = ?`, userID, key)
	f, err := scanFact(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Fact{}, ErrNotFound
	}
	if err != nil {
		return Fact{}, wrap("get fact", err)
	}
	return f, nil
}

// InsertFact creates a fresh fact row. Fails if (user_id, key) already exists.
func (s *Store) InsertFact(ctx context.Context, f Fact) (int64, error) {
	tags, err := marshalTags(f.Tags)
	if err != nil {
		return 0, wrap("insert fact", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO facts (user_id, key, value, importance, category, tags, access_count, last_accessed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.UserID, f.Key, f.Value, f.Importance, f.Category, tags,
		f.AccessCount, formatTime(f.LastAccessed), formatTime(f.CreatedAt),
	)
	if err != nil {
		return 0, wrap("insert fact", err)
	}
	id, err := res.LastInsertId()
	return id, wrap("insert fact", err)
}

// UpdateFact replaces value, importance, category and tags of an existing
// (user_id, key) row, bumps access_count and refreshes last_accessed.
func (s *Store) UpdateFact(ctx context.Context, f Fact) error {
	tags, err := marshalTags(f.Tags)
	if err != nil {
		return wrap("update fact", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE facts
		SET value = ?, importance = ?, category = ?, tags = ?,
		    access_count = access_count + 1, last_accessed = ?
		WHERE user_id = ? AND key = ?`,
		f.Value, f.Importance, f.Category, tags, formatTime(f.LastAccessed),
		f.UserID, f.Key,
	)
	if err != nil {
		return wrap("update fact", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("update fact", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchFact records a read: access_count is incremented and last_accessed refreshed.
func (s *Store) TouchFact(ctx context.Context, userID, key, when string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE facts SET access_count = access_count + 1, last_accessed = ?
		WHERE user_id = ? AND key = ?`,
		when, userID, key,
	)
	return wrap("touch fact", err)
}

// ListFacts returns every fact for a user with importance >= minImportance,
// ordered by importance descending.
func (s *Store) ListFacts(ctx context.Context, userID string, minImportance float64) ([]Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+factColumns+` FROM facts
		WHERE user_id = ? AND importance >= ?
		ORDER BY importance DESC, key ASC`,
		userID, minImportance,
	)
	if err != nil {
		return nil, wrap("list facts", err)
	}
	defer rows.Close()

	var out []Fact
	for rows.Next() {
		f, err := scanFact(rows.Scan)
		if err != nil {
			return nil, wrap("list facts", err)
		}
		out = append(out, f)
	}
	return out, wrap("list facts", rows.Err())
}

// SearchFacts finds facts for a user where key or value matches term (LIKE %term%).
func (s *Store) SearchFacts(ctx context.Context, userID, term string) ([]Fact, error) {
	wildcard := "%" + term + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+factColumns+` FROM facts
		WHERE user_id = ? AND (key LIKE ? OR value LIKE ?)
		ORDER BY importance DESC, key ASC`,
		userID, wildcard, wildcard,
	)
	if err != nil {
		return nil, wrap("search facts", err)
	}
	defer rows.Close()

	var out []Fact
	for rows.Next() {
		f, err := scanFact(rows.Scan)
		if err != nil {
			return nil, wrap("search facts", err)
		}
		out = append(out, f)
	}
	return out, wrap("search facts", rows.Err())
}

// DeleteFactsByKey removes a single fact. Returns rows removed (0 or 1).
func (s *Store) DeleteFactsByKey(ctx context.Context, userID, key string) (int64, error) {
	return s.deleteFacts(ctx, `DELETE FROM facts WHERE user_id = ? AND key = ?`, userID, key)
}

// DeleteFactsByCategory removes every fact in a category for the user.
func (s *Store) DeleteFactsByCategory(ctx context.Context, userID, category string) (int64, error) {
	return s.deleteFacts(ctx, `DELETE FROM facts WHERE user_id = ? AND category = ?`, userID, category)
}

// DeleteFactByID removes a fact by row id, scoped to the user.
func (s *Store) DeleteFactByID(ctx context.Context, userID string, id int64) (int64, error) {
	return s.deleteFacts(ctx, `DELETE FROM facts WHERE user_id = ? AND id = ?`, userID, id)
}

// DeleteAllFacts removes every fact for the user.
func (s *Store) DeleteAllFacts(ctx context.Context, userID string) (int64, error) {
	return s.deleteFacts(ctx, `DELETE FROM facts WHERE user_id = ?`, userID)
}

func (s *Store) deleteFacts(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, wrap("delete facts", err)
	}
	n, err := res.RowsAffected()
	return n, wrap("delete facts", err)
}

// CountFacts returns the number of facts stored for a user.
func (s *Store) CountFacts(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM facts WHERE user_id = ?`, userID,
	).Scan(&n)
	return n, wrap("count facts", err)
}
