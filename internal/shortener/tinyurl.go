// Package shortener shortens links for length-limited posts.
package shortener

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.tinyurl.com"
	defaultTimeout = 5 * time.Second
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("tinyurl: API key not configured")

// TinyURL calls the TinyURL create endpoint.
type TinyURL struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewTinyURL(apiKey string) *TinyURL {
	return &TinyURL{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// NewTinyURLWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewTinyURLWithBaseURL(apiKey, baseURL string) *TinyURL {
	c := NewTinyURL(apiKey)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// Enabled reports whether an API key is configured.
func (c *TinyURL) Enabled() bool { return c != nil && c.apiKey != "" }

type createRequest struct {
	URL    string `json:"url"`
	Domain string `json:"domain"`
}

type createResponse struct {
	Data struct {
		TinyURL string `json:"tiny_url"`
	} `json:"data"`
}

// Shorten returns the short form of rawURL.
func (c *TinyURL) Shorten(ctx context.Context, rawURL string) (string, error) {
	if !c.Enabled() {
		return "", ErrNotConfigured
	}
	body, err := json.Marshal(createRequest{URL: rawURL, Domain: "tinyurl.com"})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/create", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed createResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if parsed.Data.TinyURL == "" {
		return "", errors.New("tinyurl: empty tiny_url in response")
	}
	return parsed.Data.TinyURL, nil
}
