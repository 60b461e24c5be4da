package search

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
)

const googleNewsBaseURL = "https://news.google.com"

// GoogleNewsRSS searches the public Google News RSS feed. It needs no API
// key and is used as the fallback backend.
type GoogleNewsRSS struct {
	baseURL    string
	httpClient *http.Client
	policy     *bluemonday.Policy
}

func NewGoogleNewsRSS(client *http.Client) *GoogleNewsRSS {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &GoogleNewsRSS{
		baseURL:    googleNewsBaseURL,
		httpClient: client,
		policy:     bluemonday.StrictPolicy(),
	}
}

// NewGoogleNewsRSSWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewGoogleNewsRSSWithBaseURL(client *http.Client, baseURL string) *GoogleNewsRSS {
	g := NewGoogleNewsRSS(client)
	g.baseURL = strings.TrimRight(baseURL, "/")
	return g
}

func (g *GoogleNewsRSS) Name() string { return "google_news_rss" }

func (g *GoogleNewsRSS) feedURL(q Query) string {
	query := q.Topic
	if q.Date != "" {
		query += " after:" + q.Date
	}
	v := url.Values{}
	v.Set("q", query)
	v.Set("hl", "en-US")
	v.Set("gl", "US")
	v.Set("ceid", "US:en")
	return g.baseURL + "/rss/search?" + v.Encode()
}

func (g *GoogleNewsRSS) Search(ctx context.Context, q Query) ([]Result, error) {
	fp := gofeed.NewParser()
	fp.Client = g.httpClient
	feed, err := fp.ParseURLWithContext(g.feedURL(q), ctx)
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}

	limit := q.Num
	if limit <= 0 || limit > MaxResults {
		limit = MaxResults
	}

	results := make([]Result, 0, min(len(feed.Items), limit))
	for _, item := range feed.Items {
		if len(results) == limit {
			break
		}
		if item.Title == "" || item.Link == "" {
			continue
		}
		title, source := splitSource(item.Title, sourceFromDescription(item.Description))
		r := Result{
			Title:       title,
			Link:        item.Link,
			Snippet:     g.plainText(item.Description),
			Source:      source,
			Date:        item.Published,
			Position:    len(results) + 1,
			PublishedAt: item.PublishedParsed,
		}
		results = append(results, r)
	}
	return results, nil
}

// sourceFromDescription reads the publisher name Google News puts in a
// <font> element at the end of each description.
func sourceFromDescription(desc string) string {
	if desc == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(desc))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("font").Last().Text())
}

// splitSource strips the " - Publisher" suffix Google News appends to
// titles. When source is empty the suffix becomes the source.
func splitSource(title, source string) (string, string) {
	idx := strings.LastIndex(title, " - ")
	if idx <= 0 {
		return title, source
	}
	suffix := strings.TrimSpace(title[idx+3:])
	if source == "" {
		return strings.TrimSpace(title[:idx]), suffix
	}
	if strings.EqualFold(suffix, source) {
		return strings.TrimSpace(title[:idx]), source
	}
	return title, source
}

func (g *GoogleNewsRSS) plainText(desc string) string {
	text := html.UnescapeString(g.policy.Sanitize(desc))
	return strings.Join(strings.Fields(text), " ")
}
