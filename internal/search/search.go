// Package search fetches candidate news articles for a topic.
package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/newsposter/internal/apperr"
)

// Result is one article returned by a search backend.
type Result struct {
	Title       string
	Link        string
	Snippet     string
	Source      string
	Date        string
	ImageURL    string
	Position    int
	PublishedAt *time.Time
}

// Query describes a news search. Date is YYYY-MM-DD and bounds results to
// articles published on or after that day.
type Query struct {
	Topic string
	Date  string
	Num   int
}

// Searcher returns news results for a query.
type Searcher interface {
	Name() string
	Search(ctx context.Context, q Query) ([]Result, error)
}

// MaxResults is the largest page any backend is asked for.
const MaxResults = 20

// ResultCount returns how many raw results to request for topN articles:
// twice topN to leave room for filtering, at least 10, at most MaxResults.
func ResultCount(topN int) int {
	return min(max(topN*2, 10), MaxResults)
}

// Chain tries each searcher in order and returns the first successful
// result set. An empty result set counts as success.
type Chain struct {
	searchers []Searcher
	logger    *slog.Logger
}

func NewChain(logger *slog.Logger, searchers ...Searcher) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{searchers: searchers, logger: logger}
}

func (c *Chain) Name() string {
	names := make([]string, len(c.searchers))
	for i, s := range c.searchers {
		names[i] = s.Name()
	}
	return strings.Join(names, ",")
}

func (c *Chain) Search(ctx context.Context, q Query) ([]Result, error) {
	if len(c.searchers) == 0 {
		return nil, apperr.Upstream("news search", errors.New("no search backend configured"))
	}

	var errs []error
	for _, s := range c.searchers {
		results, err := s.Search(ctx, q)
		if err == nil {
			return results, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("news search backend failed", "backend", s.Name(), "topic", q.Topic, "error", err)
		errs = append(errs, err)
	}
	return nil, apperr.Upstream("news search", errors.Join(errs...)).With("backends", c.Name())
}
