package social

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/newsposter/internal/llm"
	"github.com/kalambet/newsposter/internal/news"
	"github.com/kalambet/newsposter/internal/storage"
)

const (
	linkedInSystemPrompt = "You are a professional social media writer who creates LinkedIn posts about technology and business news."
	xSystemPrompt        = "You are a social media writer who creates short, engaging X posts about technology and business news."
)

// Completer routes a completion to an LLM provider with fallback.
type Completer interface {
	Complete(ctx context.Context, preferred string, req llm.Request) (llm.Result, error)
}

// Shortener shortens a URL.
type Shortener interface {
	Enabled() bool
	Shorten(ctx context.Context, rawURL string) (string, error)
}

// Generator writes platform posts. A nil Shortener disables link shortening.
type Generator struct {
	llm         Completer
	short       Shortener
	maxTokens   int
	temperature float64
	logger      *slog.Logger
}

func NewGenerator(c Completer, s Shortener, maxTokens int, temperature float64, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{llm: c, short: s, maxTokens: maxTokens, temperature: temperature, logger: logger}
}

// GenericLinkedIn is the topic-only LinkedIn post used when there are no
// articles.
func GenericLinkedIn(topic string) Post {
	content := fmt.Sprintf("📢 Stay tuned for the latest updates on %s! 🚀\n\n"+
		"No specific news items are available right now, but there is always something new happening in this space.\n\n"+
		"#%s #TechNews #Innovation", topic, strings.Join(strings.Fields(topic), ""))
	return finish(storage.PlatformLinkedIn, content, LinkedInLimit, "", true)
}

// GenericX is the topic-only X post used when there are no articles.
func GenericX(topic string) Post {
	content := fmt.Sprintf("📢 Stay tuned for the latest %s news! 🚀 %s", topic, strings.Join(Hashtags(topic), " "))
	return finish(storage.PlatformX, content, XLimit, "", true)
}

func finish(platform, content string, limit int, provider string, generic bool) Post {
	content = ensureWithin(Fit(content, limit), limit)
	return Post{
		Platform:  platform,
		Content:   content,
		CharCount: CharCount(content),
		Hashtags:  ExtractHashtags(content),
		Provider:  provider,
		Generic:   generic,
	}
}

// LinkedIn writes a LinkedIn post covering every article, with a source link
// for each. Zero articles produce GenericLinkedIn without an LLM call.
func (g *Generator) LinkedIn(ctx context.Context, topic, model string, articles []news.Article) (Post, error) {
	if len(articles) == 0 {
		return GenericLinkedIn(topic), nil
	}

	res, err := g.llm.Complete(ctx, model, llm.Request{
		System:      linkedInSystemPrompt,
		Prompt:      linkedInPrompt(topic, articles, LinkedInBudget(len(articles))),
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	})
	if err != nil {
		return Post{}, err
	}

	content := appendSources(strings.TrimSpace(res.Text), articles, LinkedInLimit)
	p := finish(storage.PlatformLinkedIn, content, LinkedInLimit, res.Provider, false)
	p.Attempts = res.Attempts
	return p, nil
}

// appendSources adds a Sources block listing article URLs missing from
// text, as many as fit. When text has no article URL at all, the first one
// is always added and Fit later makes room for it.
func appendSources(text string, articles []news.Article, limit int) string {
	var missing []string
	found := 0
	for _, a := range articles {
		if a.URL == "" {
			continue
		}
		if strings.Contains(text, a.URL) {
			found++
		} else {
			missing = append(missing, a.URL)
		}
	}
	if len(missing) == 0 {
		return text
	}

	block := "\n\nSources:"
	used := CharCount(text) + CharCount(block)
	added := 0
	for _, u := range missing {
		line := "\n" + u
		if used+CharCount(line) > limit && (added > 0 || found > 0) {
			break
		}
		block += line
		used += CharCount(line)
		added++
	}
	if added == 0 {
		return text
	}
	return text + block
}

func linkedInPrompt(topic string, articles []news.Article, b Budget) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Write a LinkedIn post covering %d news items about %s for tech leaders, founders and professionals.\n\n", len(articles), topic)
	fmt.Fprintf(&sb, "Length budget:\n- Whole post: under %d characters\n- About %d characters per item\n- Headline: about %d characters\n- Summary: about %d characters\n\n",
		LinkedInLimit, b.PerArticle, b.Headline, b.Summary)
	sb.WriteString("Articles:\n")
	writeArticles(&sb, articles)
	sb.WriteString(`For each item write a short headline, a summary of the key point, the source in parentheses, and the article URL exactly as given.
Open with one engaging line, separate items with blank lines, and close with a question for readers.
Return only the post text.`)
	return sb.String()
}

func writeArticles(sb *strings.Builder, articles []news.Article) {
	for i, a := range articles {
		summary := a.Summary
		if summary == "" {
			summary = a.Snippet
		}
		fmt.Fprintf(sb, "%d. %s (%s)\n   %s\n   %s\n", i+1, a.Title, a.Source, summary, a.URL)
	}
	sb.WriteString("\n")
}

// X writes an X post drawing on every article, with topic hashtags and at
// most one link. Zero articles produce GenericX without an LLM call.
func (g *Generator) X(ctx context.Context, topic, model string, articles []news.Article) (Post, error) {
	if len(articles) == 0 {
		return GenericX(topic), nil
	}

	tags := Hashtags(topic)
	res, err := g.llm.Complete(ctx, model, llm.Request{
		System:      xSystemPrompt,
		Prompt:      xPrompt(topic, articles, tags),
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	})
	if err != nil {
		return Post{}, err
	}

	content := strings.TrimSpace(res.Text)
	shortened := map[string]string{}

	if urls := extractURLs(content); len(urls) > 0 {
		first := urls[0]
		link, ok := g.shorten(ctx, first)
		switch {
		case ok:
			shortened[first] = link
			content = strings.Replace(content, first, link, 1)
		case XLimit-CharCount(first)-1 < minXText:
			content = collapseSpaces(strings.Replace(content, first, "", 1))
		}
	} else if top := articles[0].URL; top != "" {
		link, ok := g.shorten(ctx, top)
		if ok {
			shortened[top] = link
		}
		if ok || XLimit-CharCount(link)-1 >= minXText {
			content = insertBeforeHashtags(content, link)
		}
	}

	if len(ExtractHashtags(content)) == 0 {
		content += " " + strings.Join(tags, " ")
	}

	p := finish(storage.PlatformX, content, XLimit, res.Provider, false)
	if len(p.Hashtags) == 0 {
		p = finish(storage.PlatformX, p.Content+" "+tags[0], XLimit, res.Provider, false)
	}
	p.Attempts = res.Attempts
	if len(shortened) > 0 {
		p.ShortenedURLs = shortened
	}
	return p, nil
}

// shorten returns the short link, or rawURL and false when shortening is
// unavailable or fails.
func (g *Generator) shorten(ctx context.Context, rawURL string) (string, bool) {
	if g.short == nil || !g.short.Enabled() {
		return rawURL, false
	}
	s, err := g.short.Shorten(ctx, rawURL)
	if err != nil {
		g.logger.Warn("url shortening failed, using original", "url", rawURL, "error", err)
		return rawURL, false
	}
	return s, true
}

// insertBeforeHashtags places link ahead of any trailing hashtags so the
// hashtags stay last.
func insertBeforeHashtags(content, link string) string {
	body, sep, tail := splitTail(content)
	if tail == "" {
		return content + " " + link
	}
	if body == "" {
		return link + " " + tail
	}
	return body + " " + link + sep + tail
}

func xPrompt(topic string, articles []news.Article, tags []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Write one X post about today's %s news that draws on all %d articles below.\n\n", topic, len(articles))
	sb.WriteString("Articles:\n")
	writeArticles(&sb, articles)
	fmt.Fprintf(&sb, `Rules:
- At most %d characters including spaces
- Start with a strong hook and mention the common thread across all articles
- End with 1-2 hashtags such as %s
- Include at most one link, to the most important article
Return only the post text.`, XLimit, strings.Join(tags, " "))
	return sb.String()
}
