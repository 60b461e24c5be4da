// Package news turns raw search results into ranked, summarized articles.
package news

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"github.com/kalambet/newsposter/internal/storage"
)

// Article is a filtered, scored article as returned to clients and passed to
// post generation.
type Article struct {
	Title          string     `json:"title"`
	URL            string     `json:"url"`
	Source         string     `json:"source"`
	Summary        string     `json:"summary"`
	Snippet        string     `json:"snippet,omitempty"`
	PublishedAt    *time.Time `json:"publishedAt,omitempty"`
	ImageURL       string     `json:"imageUrl,omitempty"`
	RelevanceScore float64    `json:"relevanceScore"`
	TrustedSource  bool       `json:"trustedSource,omitempty"`
	ContentHash    string     `json:"contentHash"`
	Position       int        `json:"position,omitempty"`
}

// ContentHash is the hex MD5 of title followed by url.
func ContentHash(title, rawURL string) string {
	sum := md5.Sum([]byte(title + rawURL))
	return hex.EncodeToString(sum[:])
}

// Domain returns the lowercased URL host without a leading "www.", or "" when
// rawURL has no http(s) host.
func Domain(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// ToCached converts articles to news_cache rows for (topic, date).
func ToCached(topic, date string, articles []Article, at time.Time) []storage.CachedArticle {
	out := make([]storage.CachedArticle, 0, len(articles))
	for _, a := range articles {
		c := storage.CachedArticle{
			Topic:          topic,
			DateFetched:    date,
			Source:         a.Source,
			Title:          a.Title,
			URL:            a.URL,
			Summary:        a.Summary,
			Snippet:        a.Snippet,
			ImageURL:       a.ImageURL,
			RelevanceScore: a.RelevanceScore,
			ContentHash:    a.ContentHash,
			CreatedAt:      at,
		}
		if a.PublishedAt != nil {
			c.PublishedAt = *a.PublishedAt
		}
		out = append(out, c)
	}
	return out
}

// FromCached converts cache rows back to articles.
func FromCached(rows []storage.CachedArticle) []Article {
	out := make([]Article, 0, len(rows))
	for i, r := range rows {
		a := Article{
			Title:          r.Title,
			URL:            r.URL,
			Source:         r.Source,
			Summary:        r.Summary,
			Snippet:        r.Snippet,
			ImageURL:       r.ImageURL,
			RelevanceScore: r.RelevanceScore,
			ContentHash:    r.ContentHash,
			Position:       i + 1,
		}
		if !r.PublishedAt.IsZero() {
			t := r.PublishedAt
			a.PublishedAt = &t
		}
		out = append(out, a)
	}
	return out
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return strings.TrimSpace(string(r[:n-3])) + "..."
}
