package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// --- User requests ---

func (s *Store) RecordRequest(ctx context.Context, r UserRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_requests (id, session_id, request_type, topic, date_requested, request_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.RequestType, r.Topic, r.DateRequested, r.RequestHash, formatTime(r.CreatedAt),
	)
	return err
}

// CountRequests returns how many requests the session made at or after since.
func (s *Store) CountRequests(ctx context.Context, sessionID string, since time.Time) (int, error) {
	query, args, err := sq.Select("COUNT(*)").
		From("user_requests").
		Where(sq.Eq{"session_id": sessionID}).
		Where(sq.GtOrEq{"created_at": formatTime(since)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count query: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// HasRequestHash reports whether a request with the given fingerprint was
// recorded at or after since.
func (s *Store) HasRequestHash(ctx context.Context, hash string, since time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM user_requests WHERE request_hash = ? AND created_at >= ?`,
		hash, formatTime(since),
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListRequests returns a session's request history, newest first.
func (s *Store) ListRequests(ctx context.Context, sessionID string, limit, offset int) ([]UserRequest, error) {
	b := sq.Select("id", "session_id", "request_type", "topic", "date_requested", "request_hash", "created_at").
		From("user_requests").
		Where(sq.Eq{"session_id": sessionID}).
		OrderBy("created_at DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	if offset > 0 {
		b = b.Offset(uint64(offset))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building history query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []UserRequest{}
	for rows.Next() {
		var r UserRequest
		var createdAt string
		if err := rows.Scan(&r.ID, &r.SessionID, &r.RequestType, &r.Topic, &r.DateRequested, &r.RequestHash, &createdAt); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// PurgeRequests deletes request rows older than before.
func (s *Store) PurgeRequests(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_requests WHERE created_at < ?`, formatTime(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
