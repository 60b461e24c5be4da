package news

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/newsposter/internal/apperr"
	"github.com/kalambet/newsposter/internal/llm"
	"github.com/kalambet/newsposter/internal/search"
	"github.com/kalambet/newsposter/internal/storage"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func result(title, link, snippet string, pos int) search.Result {
	return search.Result{Title: title, Link: link, Snippet: snippet, Position: pos}
}

func TestRank_QualityFilter(t *testing.T) {
	results := []search.Result{
		result("Short", "https://a.com/1", "A snippet that is long enough", 1),
		result("A perfectly fine title", "https://a.com/2", "too short", 2),
		result("A perfectly fine title", "ftp://a.com/3", "A snippet that is long enough", 3),
		result("A perfectly fine title", "not a url", "A snippet that is long enough", 4),
		result("A perfectly fine title", "https://www.a.com/5", "A snippet that is long enough", 5),
	}
	got := Rank(results, nil, 10, now)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].Source != "a.com" {
		t.Errorf("Source = %q, want a.com", got[0].Source)
	}
	if got[0].ContentHash != ContentHash("A perfectly fine title", "https://www.a.com/5") {
		t.Errorf("ContentHash = %q", got[0].ContentHash)
	}
	if got[0].RelevanceScore != 0.5 {
		t.Errorf("score without topic config = %v, want 0.5", got[0].RelevanceScore)
	}
}

func TestRank_Dedupe(t *testing.T) {
	snip := "A snippet that is long enough"
	results := []search.Result{
		result("OpenAI releases a model", "https://a.com/x", snip, 1),
		result("Different headline here", "https://A.com/x/", snip, 2),
		result("openai   RELEASES a model", "https://b.com/y", snip, 3),
		result("Something else entirely", "https://c.com/z", snip, 4),
	}
	got := Rank(results, nil, 10, now)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 after URL and title dedupe", len(got))
	}
	if got[0].URL != "https://a.com/x" || got[1].URL != "https://c.com/z" {
		t.Errorf("kept %s and %s", got[0].URL, got[1].URL)
	}
}

func TestRank_ScoringAndTrustedBoost(t *testing.T) {
	topic := &storage.TopicConfig{
		Name:           "ai",
		Keywords:       []string{"ai", "model"},
		TrustedSources: []string{"reuters.com"},
		PriorityWeight: 1.5,
	}
	results := []search.Result{
		// title "ai" + snippet "ai" = 0.6, /2 = 0.3
		result("Big AI news this week", "https://blog.example.com/1", "AI is everywhere these days", 1),
		// title ai+model (0.8) + snippet ai+model (0.4) = 1.2, /2 = 0.6, x1.5 = 0.9
		result("AI model beats benchmark", "https://www.reuters.com/2", "The new AI model scores high", 2),
		result("Unrelated gardening tips", "https://garden.org/3", "Plant tomatoes in the spring", 3),
	}
	got := Rank(results, topic, 10, now)
	if len(got) != 3 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].Source != "reuters.com" || !got[0].TrustedSource {
		t.Errorf("first = %+v, want trusted reuters", got[0])
	}
	if diff := got[0].RelevanceScore - 0.9; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("trusted score = %v, want 0.9", got[0].RelevanceScore)
	}
	if diff := got[1].RelevanceScore - 0.3; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("second score = %v, want 0.3", got[1].RelevanceScore)
	}
	if got[2].RelevanceScore != 0 {
		t.Errorf("unrelated score = %v", got[2].RelevanceScore)
	}
}

func TestRank_ScoreCappedAtOne(t *testing.T) {
	topic := &storage.TopicConfig{Keywords: []string{"ai"}, TrustedSources: []string{"a.com"}, PriorityWeight: 3}
	got := Rank([]search.Result{result("AI wins again today", "https://a.com/1", "AI is the headline story", 1)}, topic, 1, now)
	if got[0].RelevanceScore != 1 {
		t.Errorf("score = %v, want capped 1", got[0].RelevanceScore)
	}
}

func TestRank_TiesBrokenByRecencyThenPosition(t *testing.T) {
	snip := "A snippet that is long enough"
	results := []search.Result{
		{Title: "Old but first position", Link: "https://a.com/1", Snippet: snip, Position: 1, Date: "3 days ago"},
		{Title: "No date at all here", Link: "https://b.com/2", Snippet: snip, Position: 2},
		{Title: "Fresh story of today", Link: "https://c.com/3", Snippet: snip, Position: 3, Date: "2 hours ago"},
		{Title: "Another undated story", Link: "https://d.com/4", Snippet: snip, Position: 4},
	}
	got := Rank(results, nil, 3, now)
	var order []string
	for _, a := range got {
		order = append(order, a.Source)
	}
	if strings.Join(order, ",") != "c.com,a.com,b.com" {
		t.Errorf("order = %v", order)
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"3 hours ago", now.Add(-3 * time.Hour)},
		{"1 day ago", now.AddDate(0, 0, -1)},
		{"an hour ago", now.Add(-time.Hour)},
		{"15 mins ago", now.Add(-15 * time.Minute)},
		{"2 weeks ago", now.AddDate(0, 0, -14)},
		{"yesterday", now.AddDate(0, 0, -1)},
		{"2025-03-01", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"Mar 5, 2025", time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"Mon, 10 Mar 2025 09:00:00 GMT", time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got := ParseDate(tt.in, now)
		if got == nil || !got.Equal(tt.want) {
			t.Errorf("ParseDate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if ParseDate("sometime soon", now) != nil {
		t.Error("unrecognised date should parse to nil")
	}
}

type fakeCompleter struct {
	text    string
	err     error
	prompts []string
}

func (f *fakeCompleter) Complete(_ context.Context, preferred string, req llm.Request) (llm.Result, error) {
	f.prompts = append(f.prompts, req.Prompt)
	if f.err != nil {
		return llm.Result{}, f.err
	}
	return llm.Result{Text: f.text, Provider: preferred}, nil
}

func testArticles() []Article {
	return []Article{
		{Title: "First", URL: "https://a.com/1", Snippet: "First snippet text"},
		{Title: "Second", URL: "https://b.com/2", Snippet: strings.Repeat("long snippet ", 30)},
		{Title: "Third", URL: "https://c.com/3", Snippet: "Third snippet text"},
	}
}

func TestSummarize_OneCallPerBatch(t *testing.T) {
	fc := &fakeCompleter{text: "Here you go:\n```json\n[{\"index\":1,\"summary\":\"One.\"},{\"index\":3,\"summary\":\"Three.\"}]\n```"}
	s := NewSummarizer(fc, 1000, 0.3, nil)

	in := testArticles()
	out, res, err := s.Summarize(context.Background(), "AI", llm.ModelClaude, in)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(fc.prompts) != 1 {
		t.Errorf("LLM calls = %d, want 1", len(fc.prompts))
	}
	if res.Provider != llm.ModelClaude {
		t.Errorf("provider = %q", res.Provider)
	}
	if out[0].Summary != "One." || out[2].Summary != "Three." {
		t.Errorf("summaries = %q, %q", out[0].Summary, out[2].Summary)
	}
	// Missing index 2 falls back to the snippet, truncated.
	if n := len([]rune(out[1].Summary)); n > SummaryMaxLen || !strings.HasSuffix(out[1].Summary, "...") {
		t.Errorf("fallback summary (%d chars) = %q", n, out[1].Summary)
	}
	if in[0].Summary != "" {
		t.Error("input articles must not be mutated")
	}
	for i := 1; i <= 3; i++ {
		if !strings.Contains(fc.prompts[0], "Article "+string(rune('0'+i))) {
			t.Errorf("prompt missing article %d", i)
		}
	}
}

func TestSummarize_GarbledResponseFallsBack(t *testing.T) {
	s := NewSummarizer(&fakeCompleter{text: "I cannot do that"}, 1000, 0.3, nil)
	out, _, err := s.Summarize(context.Background(), "AI", llm.ModelClaude, testArticles())
	if err != nil {
		t.Fatal(err)
	}
	if out[0].Summary != "First snippet text" {
		t.Errorf("summary = %q, want snippet", out[0].Summary)
	}
}

func TestSummarize_ProviderFailure(t *testing.T) {
	s := NewSummarizer(&fakeCompleter{err: apperr.LLMProvider([]string{"claude-3-5-sonnet"}, nil)}, 1000, 0.3, nil)
	_, _, err := s.Summarize(context.Background(), "AI", llm.ModelClaude, testArticles())
	if !apperr.Is(err, apperr.KindLLMProvider) {
		t.Errorf("err = %v, want LLM provider error", err)
	}
}

func TestSummarize_NoArticles(t *testing.T) {
	fc := &fakeCompleter{}
	out, _, err := NewSummarizer(fc, 1000, 0.3, nil).Summarize(context.Background(), "AI", llm.ModelClaude, nil)
	if err != nil || len(out) != 0 {
		t.Fatalf("out = %v, err = %v", out, err)
	}
	if len(fc.prompts) != 0 {
		t.Error("no LLM call expected for zero articles")
	}
}

func TestCachedRoundTrip(t *testing.T) {
	pub := now.Add(-time.Hour)
	in := []Article{{Title: "T", URL: "https://a.com", Source: "a.com", Summary: "S", PublishedAt: &pub, ContentHash: "h"}, {Title: "U", URL: "https://b.com"}}
	rows := ToCached("ai", "2025-03-10", in, now)
	if rows[0].Topic != "ai" || !rows[0].PublishedAt.Equal(pub) || !rows[1].PublishedAt.IsZero() {
		t.Errorf("rows = %+v", rows)
	}
	back := FromCached(rows)
	if back[0].PublishedAt == nil || back[1].PublishedAt != nil || back[1].Position != 2 {
		t.Errorf("back = %+v", back)
	}
}
