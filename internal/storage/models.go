package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrWorkflowOwned is returned when a workflow id already holds posts saved
// by a different session.
var ErrWorkflowOwned = errors.New("workflow belongs to another session")

// Platforms a post can be generated for.
const (
	PlatformLinkedIn = "linkedin"
	PlatformX        = "x"
)

type Preferences struct {
	DefaultTopic string   `json:"defaultTopic,omitempty"`
	DefaultModel string   `json:"defaultModel,omitempty"`
	ArticleCount int      `json:"articleCount,omitempty"`
	Platforms    []string `json:"platforms,omitempty"`
}

type Session struct {
	ID          string      `json:"id"`
	CreatedAt   time.Time   `json:"createdAt"`
	LastActive  time.Time   `json:"lastActive"`
	Preferences Preferences `json:"preferences"`
}

// UserRequest is one admitted pipeline request. Quota counters are derived
// from these rows.
type UserRequest struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"sessionId"`
	RequestType   string    `json:"requestType"`
	Topic         string    `json:"topic"`
	DateRequested string    `json:"dateRequested"`
	RequestHash   string    `json:"requestHash"`
	CreatedAt     time.Time `json:"createdAt"`
}

type CachedArticle struct {
	ID             int64
	Topic          string
	DateFetched    string
	Source         string
	Title          string
	URL            string
	Summary        string
	Snippet        string
	PublishedAt    time.Time
	ImageURL       string
	RelevanceScore float64
	ContentHash    string
	CreatedAt      time.Time
}

type GeneratedPost struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"sessionId"`
	Platform        string    `json:"platform"`
	Content         string    `json:"content"`
	CharCount       int       `json:"charCount"`
	Hashtags        []string  `json:"hashtags"`
	Edited          bool      `json:"edited"`
	EditedContent   string    `json:"editedContent,omitempty"`
	EditedCharCount int       `json:"editedCharCount,omitempty"`
	ModelUsed       string    `json:"modelUsed"`
	WorkflowID      string    `json:"workflowId"`
	NewsWorkflowID  string    `json:"newsWorkflowId,omitempty"`
	ArticlesCount   int       `json:"articlesCount"`
	Topic           string    `json:"topic"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// PostFilter selects posts for a session. Platform is optional.
type PostFilter struct {
	SessionID string
	Platform  string
	Limit     int
	Offset    int
}

type TopicConfig struct {
	Name           string   `json:"name"`
	DisplayName    string   `json:"displayName"`
	Keywords       []string `json:"keywords"`
	TrustedSources []string `json:"trustedSources"`
	PriorityWeight float64  `json:"priorityWeight"`
	Active         bool     `json:"active"`
}
