package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// --- Topic configs ---

func (s *Store) ListTopics(ctx context.Context, activeOnly bool) ([]TopicConfig, error) {
	query := `SELECT name, display_name, keywords, trusted_sources, priority_weight, active FROM topic_configs`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY priority_weight DESC, name ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []TopicConfig
	for rows.Next() {
		tc, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, tc)
	}
	return results, rows.Err()
}

// GetTopic looks a topic config up by name, case-insensitively. Only active
// topics are returned.
func (s *Store) GetTopic(ctx context.Context, name string) (TopicConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, display_name, keywords, trusted_sources, priority_weight, active
		FROM topic_configs WHERE name = ? AND active = 1`,
		strings.ToLower(strings.TrimSpace(name)),
	)
	tc, err := scanTopic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TopicConfig{}, ErrNotFound
	}
	return tc, err
}

// UpsertTopic creates or replaces a topic config.
func (s *Store) UpsertTopic(ctx context.Context, tc TopicConfig) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO topic_configs (name, display_name, keywords, trusted_sources, priority_weight, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			display_name = excluded.display_name,
			keywords = excluded.keywords,
			trusted_sources = excluded.trusted_sources,
			priority_weight = excluded.priority_weight,
			active = excluded.active,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`,
		strings.ToLower(tc.Name), tc.DisplayName, encodeList(tc.Keywords), encodeList(tc.TrustedSources),
		tc.PriorityWeight, boolToInt(tc.Active),
	)
	return err
}

func scanTopic(r rowScanner) (TopicConfig, error) {
	var tc TopicConfig
	var keywords, sources string
	var active int
	if err := r.Scan(&tc.Name, &tc.DisplayName, &keywords, &sources, &tc.PriorityWeight, &active); err != nil {
		return TopicConfig{}, err
	}
	tc.Active = active != 0
	var err error
	if tc.Keywords, err = decodeList(keywords); err != nil {
		return TopicConfig{}, fmt.Errorf("decoding keywords for %s: %w", tc.Name, err)
	}
	if tc.TrustedSources, err = decodeList(sources); err != nil {
		return TopicConfig{}, fmt.Errorf("decoding trusted sources for %s: %w", tc.Name, err)
	}
	return tc, nil
}
