package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	serperBaseURL  = "https://google.serper.dev"
	defaultTimeout = 30 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
)

// Serper queries the serper.dev Google News endpoint.
type Serper struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	backoff    time.Duration
}

func NewSerper(apiKey string) *Serper {
	return &Serper{
		apiKey:  apiKey,
		baseURL: serperBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		backoff: initialBackoff,
	}
}

// NewSerperWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewSerperWithBaseURL(apiKey, baseURL string) *Serper {
	s := NewSerper(apiKey)
	s.baseURL = strings.TrimRight(baseURL, "/")
	s.backoff = 10 * time.Millisecond
	return s
}

func (s *Serper) Name() string { return "serper" }

type serperRequest struct {
	Q   string `json:"q"`
	Num int    `json:"num"`
	HL  string `json:"hl"`
	GL  string `json:"gl"`
}

type serperResponse struct {
	News []struct {
		Title    string `json:"title"`
		Link     string `json:"link"`
		Snippet  string `json:"snippet"`
		Date     string `json:"date"`
		Source   string `json:"source"`
		ImageURL string `json:"imageUrl"`
		Position int    `json:"position"`
	} `json:"news"`
}

func (s *Serper) Search(ctx context.Context, q Query) ([]Result, error) {
	num := q.Num
	if num <= 0 || num > MaxResults {
		num = MaxResults
	}
	query := q.Topic
	if q.Date != "" {
		query += " after:" + q.Date
	}
	body, err := json.Marshal(serperRequest{Q: query, Num: num, HL: "en", GL: "us"})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := range maxRetries {
		results, err := s.doSearch(ctx, body)
		if err == nil {
			return results, nil
		}

		if !isRateLimit(err) {
			return nil, err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(s.backoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

// rateLimitError is returned on HTTP 429.
type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func isRateLimit(err error) bool {
	_, ok := err.(*rateLimitError)
	return ok
}

func (s *Serper) doSearch(ctx context.Context, body []byte) ([]Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/news", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &rateLimitError{status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	results := make([]Result, 0, len(parsed.News))
	for i, n := range parsed.News {
		if n.Title == "" || n.Link == "" {
			continue
		}
		pos := n.Position
		if pos == 0 {
			pos = i + 1
		}
		results = append(results, Result{
			Title:    n.Title,
			Link:     n.Link,
			Snippet:  n.Snippet,
			Source:   n.Source,
			Date:     n.Date,
			ImageURL: n.ImageURL,
			Position: pos,
		})
	}
	return results, nil
}
