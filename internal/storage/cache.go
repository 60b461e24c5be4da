package storage

import (
	"context"
	"fmt"
	"time"
)

// --- News cache ---

// CacheArticles stores summarized articles. Rows that already exist for the
// same (topic, date, content hash) are left untouched. It returns the number
// of new rows.
func (s *Store) CacheArticles(ctx context.Context, articles []CachedArticle) (int, error) {
	if len(articles) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning cache transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO news_cache (topic, date_fetched, source, title, url, summary, snippet, published_at, image_url, relevance_score, content_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(topic, date_fetched, content_hash) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("preparing cache insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, a := range articles {
		res, err := stmt.ExecContext(ctx,
			a.Topic, a.DateFetched, a.Source, a.Title, a.URL, a.Summary, a.Snippet,
			formatTime(a.PublishedAt), a.ImageURL, a.RelevanceScore, a.ContentHash, formatTime(a.CreatedAt),
		)
		if err != nil {
			return 0, fmt.Errorf("caching article %s: %w", a.ContentHash, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing cache: %w", err)
	}
	return inserted, nil
}

// CachedArticles returns articles cached for (topic, date) at or after since,
// best score first.
func (s *Store) CachedArticles(ctx context.Context, topic, date string, since time.Time, limit int) ([]CachedArticle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topic, date_fetched, source, title, url, summary, snippet, published_at, image_url, relevance_score, content_hash, created_at
		FROM news_cache
		WHERE topic = ? AND date_fetched = ? AND created_at >= ?
		ORDER BY relevance_score DESC, published_at DESC, id ASC
		LIMIT ?`,
		topic, date, formatTime(since), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CachedArticle
	for rows.Next() {
		var a CachedArticle
		var publishedAt, createdAt string
		if err := rows.Scan(&a.ID, &a.Topic, &a.DateFetched, &a.Source, &a.Title, &a.URL, &a.Summary, &a.Snippet,
			&publishedAt, &a.ImageURL, &a.RelevanceScore, &a.ContentHash, &createdAt); err != nil {
			return nil, err
		}
		if a.PublishedAt, err = parseTime(publishedAt); err != nil {
			return nil, fmt.Errorf("parsing published_at: %w", err)
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

// PurgeCache deletes cache rows created before before.
func (s *Store) PurgeCache(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM news_cache WHERE created_at < ?`, formatTime(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
