package pipeline

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/newsposter/internal/apperr"
	"github.com/kalambet/newsposter/internal/llm"
	"github.com/kalambet/newsposter/internal/session"
	"github.com/kalambet/newsposter/internal/storage"
)

const (
	DateLayout = "2006-01-02"

	minTopicLen = 2
	maxTopicLen = 100

	// How far back a news date may reach.
	maxDateAge = 365 * 24 * time.Hour
)

const forbiddenTopicChars = `<>"'&;`

// CheckTopic rejects empty, overlong and markup-bearing topics.
func CheckTopic(topic string) error {
	t := strings.TrimSpace(topic)
	switch n := utf8.RuneCountInString(t); {
	case n == 0:
		return apperr.Validation("topic", topic, "topic is required")
	case n < minTopicLen:
		return apperr.Validation("topic", topic, fmt.Sprintf("must be at least %d characters", minTopicLen))
	case n > maxTopicLen:
		return apperr.Validation("topic", topic, fmt.Sprintf("must be at most %d characters", maxTopicLen))
	}
	if strings.ContainsAny(t, forbiddenTopicChars) {
		return apperr.Validation("topic", topic, "contains forbidden characters")
	}
	return nil
}

// CheckDate requires YYYY-MM-DD within the last year. Dates one day past
// now's UTC date are accepted for clients ahead of UTC.
func CheckDate(date string, now time.Time) error {
	if date == "" {
		return apperr.Validation("date", date, "date is required")
	}
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return apperr.Validation("date", date, "must be in YYYY-MM-DD format")
	}
	today := now.UTC().Truncate(24 * time.Hour)
	if d.After(today.AddDate(0, 0, 1)) {
		return apperr.Validation("date", date, "cannot be in the future")
	}
	if today.Sub(d) > maxDateAge {
		return apperr.Validation("date", date, "cannot be more than one year ago")
	}
	return nil
}

// CheckTopN bounds the number of articles requested.
func CheckTopN(n, maxArticles int) error {
	if n < 1 {
		return apperr.Validation("topN", n, "must be at least 1")
	}
	if n > maxArticles {
		return apperr.Validation("topN", n, fmt.Sprintf("cannot exceed %d", maxArticles))
	}
	return nil
}

// CheckModel requires one of the catalog model ids.
func CheckModel(model string) error {
	if model == "" {
		return apperr.Validation("model", model, "model is required")
	}
	if !llm.KnownModel(model) {
		return apperr.Validation("model", model, "must be one of: "+strings.Join(llm.DefaultOrder, ", "))
	}
	return nil
}

// CheckPlatforms accepts linkedin and x, each at most once.
func CheckPlatforms(platforms []string) error {
	if len(platforms) == 0 {
		return apperr.Validation("platforms", platforms, "at least one platform is required")
	}
	seen := map[string]bool{}
	for _, p := range platforms {
		if p != storage.PlatformLinkedIn && p != storage.PlatformX {
			return apperr.Validation("platforms", p, fmt.Sprintf("must be %q or %q", storage.PlatformLinkedIn, storage.PlatformX))
		}
		if seen[p] {
			return apperr.Validation("platforms", p, "listed twice")
		}
		seen[p] = true
	}
	return nil
}

func checkSession(id string) error {
	return session.CheckID(id)
}
