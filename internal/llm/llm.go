// Package llm wraps the hosted LLM providers behind one interface and routes
// completions across them with ordered fallback.
package llm

import (
	"context"
	"errors"
)

// Model ids accepted from clients, in fallback priority order.
const (
	ModelClaude = "claude-3-5-sonnet"
	ModelGPT    = "gpt-4-turbo"
	ModelGemini = "gemini-pro"
)

// DefaultOrder is the fixed fallback order after the preferred model.
var DefaultOrder = []string{ModelClaude, ModelGPT, ModelGemini}

// ErrEmptyCompletion is returned when a provider answers with no text.
var ErrEmptyCompletion = errors.New("provider returned an empty completion")

// Request is a single-turn completion request.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Provider sends a prompt to one hosted model.
type Provider interface {
	// Name is the client-facing model id, e.g. "claude-3-5-sonnet".
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// ModelInfo describes one catalog entry.
type ModelInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	UpstreamModel string `json:"upstreamModel"`
	Available     bool   `json:"available"`
}

var catalog = []ModelInfo{
	{ID: ModelClaude, Name: "Claude 3.5 Sonnet", Provider: "anthropic", UpstreamModel: "claude-3-5-sonnet-20241022"},
	{ID: ModelGPT, Name: "GPT-4 Turbo", Provider: "openai", UpstreamModel: "gpt-4-turbo-preview"},
	{ID: ModelGemini, Name: "Gemini Pro", Provider: "google", UpstreamModel: "gemini-pro"},
}

// KnownModel reports whether id is in the catalog.
func KnownModel(id string) bool {
	for _, m := range catalog {
		if m.ID == id {
			return true
		}
	}
	return false
}

func upstreamModel(id string) string {
	for _, m := range catalog {
		if m.ID == id {
			return m.UpstreamModel
		}
	}
	return id
}
