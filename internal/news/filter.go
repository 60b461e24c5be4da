package news

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/newsposter/internal/search"
	"github.com/kalambet/newsposter/internal/storage"
)

const (
	minTitleLen   = 10
	minSnippetLen = 20

	// Score used for every article when the topic has no configuration.
	neutralScore = 0.5
)

type candidate struct {
	search.Result
	domain    string
	published *time.Time
	score     float64
	trusted   bool
}

// Rank applies the quality filter, removes duplicates, scores the remaining
// results against topic, and returns the best topN. topic may be nil.
func Rank(results []search.Result, topic *storage.TopicConfig, topN int, now time.Time) []Article {
	cands := dedupe(qualityFilter(results))
	for i := range cands {
		c := &cands[i]
		c.published = c.PublishedAt
		if c.published == nil {
			c.published = ParseDate(c.Date, now)
		}
		c.score, c.trusted = score(c, topic)
	}

	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.score != b.score {
			return a.score > b.score
		}
		switch {
		case a.published != nil && b.published != nil && !a.published.Equal(*b.published):
			return a.published.After(*b.published)
		case a.published != nil && b.published == nil:
			return true
		case a.published == nil && b.published != nil:
			return false
		}
		return a.Position < b.Position
	})

	if topN > 0 && len(cands) > topN {
		cands = cands[:topN]
	}

	out := make([]Article, 0, len(cands))
	for _, c := range cands {
		out = append(out, Article{
			Title:          c.Title,
			URL:            c.Link,
			Source:         c.domain,
			Snippet:        c.Snippet,
			PublishedAt:    c.published,
			ImageURL:       c.ImageURL,
			RelevanceScore: c.score,
			TrustedSource:  c.trusted,
			ContentHash:    ContentHash(c.Title, c.Link),
			Position:       c.Position,
		})
	}
	return out
}

func qualityFilter(results []search.Result) []candidate {
	out := make([]candidate, 0, len(results))
	for _, r := range results {
		r.Title = strings.TrimSpace(r.Title)
		r.Snippet = strings.TrimSpace(r.Snippet)
		if len([]rune(r.Title)) < minTitleLen || len([]rune(r.Snippet)) < minSnippetLen {
			continue
		}
		d := Domain(r.Link)
		if d == "" {
			continue
		}
		out = append(out, candidate{Result: r, domain: d})
	}
	return out
}

func dedupe(cands []candidate) []candidate {
	seenURL := make(map[string]bool, len(cands))
	seenTitle := make(map[string]bool, len(cands))
	out := cands[:0]
	for _, c := range cands {
		u := strings.TrimRight(strings.ToLower(c.Link), "/")
		t := titleHash(c.Title)
		if seenURL[u] || seenTitle[t] {
			continue
		}
		seenURL[u] = true
		seenTitle[t] = true
		out = append(out, c)
	}
	return out
}

func titleHash(title string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(title)), " ")
	sum := md5.Sum([]byte(norm))
	return hex.EncodeToString(sum[:])
}

func score(c *candidate, topic *storage.TopicConfig) (float64, bool) {
	if topic == nil || len(topic.Keywords) == 0 {
		return neutralScore, false
	}

	title := strings.ToLower(c.Title)
	snippet := strings.ToLower(c.Snippet)
	source := strings.ToLower(c.Source)

	var s float64
	for _, kw := range topic.Keywords {
		kw = strings.ToLower(kw)
		if strings.Contains(title, kw) {
			s += 0.4
		}
		if strings.Contains(snippet, kw) {
			s += 0.2
		}
		if strings.Contains(source, kw) {
			s += 0.1
		}
	}
	s = min(s/float64(len(topic.Keywords)), 1)

	for _, ts := range topic.TrustedSources {
		ts = strings.ToLower(strings.TrimSpace(ts))
		if ts != "" && strings.Contains(c.domain, ts) {
			weight := topic.PriorityWeight
			if weight <= 0 {
				weight = 1
			}
			return min(s*weight, 1), true
		}
	}
	return s, false
}

var relativeDate = regexp.MustCompile(`^(\d+|an?)\s+(second|sec|minute|min|hour|hr|day|week|month|year)s?\s+ago$`)

var dateLayouts = []string{
	time.RFC3339,
	time.RFC1123,
	time.RFC1123Z,
	"2006-01-02",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"Jan 2, 2006 3:04 PM",
}

// ParseDate parses the date strings search providers return, both relative
// ("3 hours ago") and absolute. It returns nil when s is not recognised.
func ParseDate(s string, now time.Time) *time.Time {
	raw := strings.TrimSpace(s)
	s = strings.ToLower(raw)
	if s == "" {
		return nil
	}
	switch s {
	case "just now", "now":
		return &now
	case "yesterday":
		t := now.AddDate(0, 0, -1)
		return &t
	}

	if m := relativeDate.FindStringSubmatch(s); m != nil {
		n := 1
		if m[1] != "a" && m[1] != "an" {
			n, _ = strconv.Atoi(m[1])
		}
		var t time.Time
		switch m[2] {
		case "second", "sec":
			t = now.Add(-time.Duration(n) * time.Second)
		case "minute", "min":
			t = now.Add(-time.Duration(n) * time.Minute)
		case "hour", "hr":
			t = now.Add(-time.Duration(n) * time.Hour)
		case "day":
			t = now.AddDate(0, 0, -n)
		case "week":
			t = now.AddDate(0, 0, -7*n)
		case "month":
			t = now.AddDate(0, -n, 0)
		case "year":
			t = now.AddDate(-n, 0, 0)
		}
		return &t
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}
