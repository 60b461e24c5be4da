package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// --- Generated posts ---

var postColumns = []string{
	"id", "session_id", "post_type", "content", "char_count", "hashtags",
	"edited", "edited_content", "edited_char_count", "model_used",
	"workflow_id", "news_workflow_id", "articles_count", "topic", "created_at", "updated_at",
}

// SavePost inserts a post. Posts are unique on (workflow id, platform): when
// a row already exists for the same session it is returned unchanged and
// created is false. A row owned by another session yields ErrWorkflowOwned.
func (s *Store) SavePost(ctx context.Context, p GeneratedPost) (post GeneratedPost, created bool, err error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO generated_posts (id, session_id, post_type, content, char_count, hashtags,
			edited, edited_content, edited_char_count, model_used,
			workflow_id, news_workflow_id, articles_count, topic, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workflow_id, post_type) DO NOTHING`,
		p.ID, p.SessionID, p.Platform, p.Content, p.CharCount, encodeList(p.Hashtags),
		boolToInt(p.Edited), p.EditedContent, p.EditedCharCount, p.ModelUsed,
		p.WorkflowID, p.NewsWorkflowID, p.ArticlesCount, p.Topic, formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return GeneratedPost{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return GeneratedPost{}, false, err
	}
	if n > 0 {
		return p, true, nil
	}

	existing, err := s.queryPost(ctx, sq.Eq{"workflow_id": p.WorkflowID, "post_type": p.Platform})
	if err != nil {
		return GeneratedPost{}, false, fmt.Errorf("loading existing post: %w", err)
	}
	if existing.SessionID != p.SessionID {
		return GeneratedPost{}, false, ErrWorkflowOwned
	}
	return existing, false, nil
}

// WorkflowOwner returns the session that saved posts under workflowID, or ""
// when none exist.
func (s *Store) WorkflowOwner(ctx context.Context, workflowID string) (string, error) {
	var owner string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id FROM generated_posts WHERE workflow_id = ? ORDER BY created_at LIMIT 1`, workflowID,
	).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return owner, err
}

func (s *Store) GetPost(ctx context.Context, id string) (GeneratedPost, error) {
	return s.queryPost(ctx, sq.Eq{"id": id})
}

// UpdatePostContent records a user edit. The generated content is kept; the
// edit is stored alongside it.
func (s *Store) UpdatePostContent(ctx context.Context, id, content string, charCount int, at time.Time) (GeneratedPost, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE generated_posts
		SET edited = 1, edited_content = ?, edited_char_count = ?, updated_at = ?
		WHERE id = ?`,
		content, charCount, formatTime(at), id,
	)
	if err != nil {
		return GeneratedPost{}, err
	}
	if err := expectOne(res); err != nil {
		return GeneratedPost{}, err
	}
	return s.GetPost(ctx, id)
}

func (s *Store) DeletePost(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM generated_posts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// ListPosts returns posts for a session, newest first.
func (s *Store) ListPosts(ctx context.Context, f PostFilter) ([]GeneratedPost, error) {
	b := sq.Select(postColumns...).
		From("generated_posts").
		Where(sq.Eq{"session_id": f.SessionID}).
		OrderBy("created_at DESC", "post_type ASC")
	if f.Platform != "" {
		b = b.Where(sq.Eq{"post_type": f.Platform})
	}
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		b = b.Offset(uint64(f.Offset))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building posts query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []GeneratedPost{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

func (s *Store) queryPost(ctx context.Context, where sq.Eq) (GeneratedPost, error) {
	query, args, err := sq.Select(postColumns...).From("generated_posts").Where(where).Limit(1).ToSql()
	if err != nil {
		return GeneratedPost{}, fmt.Errorf("building post query: %w", err)
	}
	p, err := scanPost(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return GeneratedPost{}, ErrNotFound
	}
	return p, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(r rowScanner) (GeneratedPost, error) {
	var p GeneratedPost
	var hashtags, createdAt, updatedAt string
	var edited int
	err := r.Scan(&p.ID, &p.SessionID, &p.Platform, &p.Content, &p.CharCount, &hashtags,
		&edited, &p.EditedContent, &p.EditedCharCount, &p.ModelUsed,
		&p.WorkflowID, &p.NewsWorkflowID, &p.ArticlesCount, &p.Topic, &createdAt, &updatedAt)
	if err != nil {
		return GeneratedPost{}, err
	}
	p.Edited = edited != 0
	if p.Hashtags, err = decodeList(hashtags); err != nil {
		return GeneratedPost{}, fmt.Errorf("decoding hashtags: %w", err)
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return GeneratedPost{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return GeneratedPost{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return p, nil
}
