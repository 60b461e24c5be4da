package news

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/newsposter/internal/llm"
)

// SummaryMaxLen bounds each article summary, in characters.
const SummaryMaxLen = 200

const summarySystemPrompt = "You are a news editor who writes concise, factual summaries for professional social media audiences."

// Completer routes a completion to an LLM provider with fallback.
type Completer interface {
	Complete(ctx context.Context, preferred string, req llm.Request) (llm.Result, error)
}

// Summarizer writes one summary per article with a single LLM call per batch.
type Summarizer struct {
	llm         Completer
	maxTokens   int
	temperature float64
	logger      *slog.Logger
}

func NewSummarizer(c Completer, maxTokens int, temperature float64, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{llm: c, maxTokens: maxTokens, temperature: temperature, logger: logger}
}

type summaryEntry struct {
	Index   int    `json:"index"`
	Summary string `json:"summary"`
}

// Summarize returns copies of articles with Summary filled in. Entries the
// model omits or garbles fall back to the snippet. The error is non-nil only
// when every provider failed.
func (s *Summarizer) Summarize(ctx context.Context, topic, model string, articles []Article) ([]Article, llm.Result, error) {
	out := make([]Article, len(articles))
	copy(out, articles)
	if len(out) == 0 {
		return out, llm.Result{}, nil
	}

	res, err := s.llm.Complete(ctx, model, llm.Request{
		System:      summarySystemPrompt,
		Prompt:      buildSummaryPrompt(topic, out),
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	})
	if err != nil {
		return nil, res, err
	}

	summaries, perr := parseSummaries(res.Text)
	if perr != nil {
		s.logger.Warn("could not parse summaries, using snippets", "provider", res.Provider, "error", perr)
	}

	fallbacks := 0
	for i := range out {
		text := strings.TrimSpace(summaries[i+1])
		if text == "" {
			text = fallbackSummary(out[i])
			fallbacks++
		}
		out[i].Summary = truncateRunes(text, SummaryMaxLen)
	}
	if fallbacks > 0 {
		s.logger.Debug("summary fallbacks applied", "provider", res.Provider, "count", fallbacks)
	}
	return out, res, nil
}

func fallbackSummary(a Article) string {
	if a.Summary != "" {
		return a.Summary
	}
	if a.Snippet != "" {
		return a.Snippet
	}
	return a.Title
}

func buildSummaryPrompt(topic string, articles []Article) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summarize each of the following %d news articles about %s for LinkedIn sharing.\n\n", len(articles), topic)
	for i, a := range articles {
		fmt.Fprintf(&b, "Article %d:\nTitle: %s\nSource: %s\nSnippet: %s\n\n", i+1, a.Title, a.Source, a.Snippet)
	}
	fmt.Fprintf(&b, `Requirements:
- At most %d characters per summary
- Lead with the most important fact
- Professional, neutral tone

Respond with only a JSON array, one object per article, in this form:
[{"index": 1, "summary": "..."}]`, SummaryMaxLen)
	return b.String()
}

// parseSummaries extracts the JSON array from a completion and maps 1-based
// article index to summary. The map is never nil.
func parseSummaries(text string) (map[int]string, error) {
	out := make(map[int]string)
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return out, fmt.Errorf("no JSON array in completion")
	}

	var entries []summaryEntry
	if err := json.Unmarshal([]byte(text[start:end+1]), &entries); err != nil {
		return out, fmt.Errorf("decoding summaries: %w", err)
	}
	for _, e := range entries {
		if e.Index > 0 {
			out[e.Index] = e.Summary
		}
	}
	return out, nil
}
