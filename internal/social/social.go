// Package social builds LinkedIn and X posts from summarized articles and
// keeps them inside each platform's character limit.
package social

import (
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kalambet/newsposter/internal/llm"
)

// Platform character limits, counted in code points.
const (
	LinkedInLimit = 3000
	XLimit        = 250

	// Opening line, transitions and call to action.
	linkedInOverhead = 200

	// An X post keeps its link only if at least this much text remains.
	minXText = 80
)

// Post is a generated post ready to return or persist.
type Post struct {
	Platform      string            `json:"platform"`
	Content       string            `json:"content"`
	CharCount     int               `json:"charCount"`
	Hashtags      []string          `json:"hashtags"`
	ShortenedURLs map[string]string `json:"shortenedUrls,omitempty"`
	Provider      string            `json:"provider,omitempty"`
	Generic       bool              `json:"generic,omitempty"`

	// Attempts is the provider attempt log of the LLM call, if any.
	Attempts []llm.Attempt `json:"-"`
}

// CharCount counts code points, which is how both platforms measure length.
func CharCount(s string) int {
	return utf8.RuneCountInString(s)
}

// Budget is the LinkedIn character allocation for a number of articles.
type Budget struct {
	Articles   int
	PerArticle int
	Headline   int
	Formatting int
	Summary    int
}

// LinkedInBudget splits the LinkedIn limit across n articles. Zero articles
// yields the zero Budget.
func LinkedInBudget(n int) Budget {
	if n <= 0 {
		return Budget{}
	}
	b := Budget{Articles: n, PerArticle: (LinkedInLimit - linkedInOverhead) / n}
	switch {
	case n <= 3:
		b.Headline, b.Formatting = 100, 50
	case n <= 6:
		b.Headline, b.Formatting = 80, 40
	default:
		b.Headline, b.Formatting = 60, 30
	}
	b.Summary = max(b.PerArticle-b.Headline-b.Formatting, 0)
	return b
}

var topicHashtags = []struct {
	key  string
	tags []string
}{
	{"AI", []string{"#AI", "#ArtificialIntelligence"}},
	{"Finance", []string{"#FinTech", "#Finance"}},
	{"Healthcare", []string{"#HealthTech", "#Healthcare"}},
	{"Technology", []string{"#Tech", "#Innovation"}},
	{"Business", []string{"#Business", "#Startups"}},
	{"Crypto", []string{"#Crypto", "#Blockchain"}},
	{"Climate", []string{"#ClimateChange", "#Sustainability"}},
	{"Education", []string{"#EdTech", "#Education"}},
	{"Security", []string{"#CyberSecurity", "#InfoSec"}},
	{"Data", []string{"#DataScience", "#BigData"}},
}

// Hashtags returns the hashtags for a topic, or #Tech #News when no entry
// of the topic map matches.
func Hashtags(topic string) []string {
	lower := strings.ToLower(topic)
	for _, e := range topicHashtags {
		if strings.Contains(lower, strings.ToLower(e.key)) {
			return append([]string(nil), e.tags...)
		}
	}
	return []string{"#Tech", "#News"}
}

var (
	hashtagPattern = regexp.MustCompile(`#\w+`)
	urlPattern     = regexp.MustCompile(`https?://[^\s<>"')\]]+`)
)

// ExtractHashtags returns the distinct hashtags in content, in order of
// first appearance. The result is never nil.
func ExtractHashtags(content string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, h := range hashtagPattern.FindAllString(content, -1) {
		if !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	return out
}

func extractURLs(content string) []string {
	return urlPattern.FindAllString(content, -1)
}

func isHashtag(tok string) bool {
	return len(tok) > 1 && tok[0] == '#' && hashtagPattern.FindString(tok) == tok
}

func isURL(tok string) bool {
	return urlPattern.FindString(tok) == tok
}

// Fit shortens text to at most limit code points. The trailing run of
// hashtags and URLs is kept whole. When that run holds no URL, the first URL
// in the text is moved into it; when it holds no hashtag, the first hashtag
// is, leaving its word in place. The rest is cut at a word boundary and
// marked with "...". If the trailing run alone does not fit, whole tokens
// are dropped: extra hashtags first, then URLs, then the last hashtag.
func Fit(text string, limit int) string {
	text = strings.TrimSpace(text)
	if CharCount(text) <= limit {
		return text
	}

	body, sep, tail := splitTail(text)

	if len(extractURLs(tail)) == 0 {
		if u := urlPattern.FindString(body); u != "" {
			body = collapseSpaces(strings.Replace(body, u, "", 1))
			tail = strings.TrimSpace(u + " " + tail)
		}
	}
	if len(ExtractHashtags(tail)) == 0 {
		if h := firstHashtag(body); h != "" {
			body = strings.Replace(body, h, strings.TrimPrefix(h, "#"), 1)
			tail = strings.TrimSpace(tail + " " + h)
		}
	}
	if sep == "" {
		sep = " "
	}

	const ellipsis = "..."
	fits := func(tail string) bool {
		return CharCount(tail)+CharCount(sep)+len(ellipsis) < limit
	}
	if tail != "" && !fits(tail) {
		tail = shrinkTail(tail, fits)
	}
	if tail == "" {
		if CharCount(body) <= limit {
			return body
		}
		return cutWords(body, limit-len(ellipsis)) + ellipsis
	}

	if body == "" {
		return tail
	}
	room := limit - CharCount(tail) - CharCount(sep)
	if CharCount(body) <= room {
		return body + sep + tail
	}
	cut := cutWords(body, room-len(ellipsis))
	if cut == "" {
		return tail
	}
	return cut + ellipsis + sep + tail
}

// firstHashtag returns the first hashtag that starts a token of s.
func firstHashtag(s string) string {
	for _, tok := range strings.Fields(s) {
		if strings.HasPrefix(tok, "#") {
			if h := hashtagPattern.FindString(tok); h != "" && strings.HasPrefix(tok, h) {
				return h
			}
		}
	}
	return ""
}

// splitTail separates the trailing run of hashtag and URL tokens from the
// body. sep is the whitespace that stood between them.
func splitTail(text string) (body, sep, tail string) {
	end := len(text)
	start := end
	for {
		i := strings.LastIndexFunc(text[:start], func(r rune) bool { return !unicode.IsSpace(r) })
		if i < 0 {
			break
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		stop := i + size
		tokStart := 0
		if j := strings.LastIndexFunc(text[:stop], unicode.IsSpace); j >= 0 {
			_, sp := utf8.DecodeRuneInString(text[j:])
			tokStart = j + sp
		}
		tok := text[tokStart:stop]
		if !isHashtag(tok) && !isURL(tok) {
			break
		}
		start = tokStart
	}
	if start == end {
		return text, "", ""
	}
	body = strings.TrimRightFunc(text[:start], unicode.IsSpace)
	return body, text[len(body):start], text[start:end]
}

// shrinkTail drops whole tokens from tail until it fits: hashtags beyond the
// first, then URLs, then the remaining hashtag. It returns "" when nothing
// fits.
func shrinkTail(tail string, fits func(string) bool) string {
	tokens := strings.Fields(tail)
	for !fits(strings.Join(tokens, " ")) {
		tags := 0
		last := -1
		for i, tok := range tokens {
			if isHashtag(tok) {
				tags++
				last = i
			}
		}
		if tags <= 1 {
			break
		}
		tokens = slices.Delete(tokens, last, last+1)
	}
	if !fits(strings.Join(tokens, " ")) {
		tokens = slices.DeleteFunc(tokens, isURL)
	}
	if !fits(strings.Join(tokens, " ")) {
		return ""
	}
	return strings.Join(tokens, " ")
}

// cutWords returns the longest prefix of s with at most n code points that
// ends at a word boundary, without trailing punctuation or space.
func cutWords(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	cut := string(r[:n])
	if !unicode.IsSpace(r[n]) {
		i := strings.LastIndexFunc(cut, unicode.IsSpace)
		if i <= 0 {
			// A single token longer than n is dropped rather than split.
			return ""
		}
		cut = cut[:i]
	}
	return strings.TrimRightFunc(cut, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
}

func collapseSpaces(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.Join(strings.Fields(l), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// ensureWithin trims a post that is still over limit after Fit. It only
// matters for pathological inputs.
func ensureWithin(s string, limit int) string {
	if CharCount(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
