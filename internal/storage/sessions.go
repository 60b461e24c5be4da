package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// --- Sessions ---

func (s *Store) CreateSession(ctx context.Context, sess Session) error {
	prefs, err := json.Marshal(sess.Preferences)
	if err != nil {
		return fmt.Errorf("encoding preferences: %w", err)
	}
	lastActive := sess.LastActive
	if lastActive.IsZero() {
		lastActive = sess.CreatedAt
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, created_at, last_active, preferences)
		VALUES (?, ?, ?, ?)`,
		sess.ID, formatTime(sess.CreatedAt), formatTime(lastActive), string(prefs),
	)
	return err
}

func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	var sess Session
	var createdAt, lastActive, prefs string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, last_active, preferences FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &createdAt, &lastActive, &prefs)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return Session{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if sess.LastActive, err = parseTime(lastActive); err != nil {
		return Session{}, fmt.Errorf("parsing last_active: %w", err)
	}
	if err := json.Unmarshal([]byte(prefs), &sess.Preferences); err != nil {
		return Session{}, fmt.Errorf("decoding preferences: %w", err)
	}
	return sess, nil
}

// TouchSession sets last_active for an existing session.
func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_active = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *Store) UpdatePreferences(ctx context.Context, id string, prefs Preferences) error {
	raw, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("encoding preferences: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET preferences = ? WHERE id = ?`, string(raw), id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// DeleteSession removes a session together with its posts and request history.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM generated_posts WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("deleting posts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_requests WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("deleting requests: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if err := expectOne(res); err != nil {
		return err
	}
	return tx.Commit()
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
