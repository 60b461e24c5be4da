// Package pipeline defines the news and post workflows and runs them with
// the workflow executor.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/newsposter/internal/apperr"
	"github.com/kalambet/newsposter/internal/news"
	"github.com/kalambet/newsposter/internal/quota"
	"github.com/kalambet/newsposter/internal/search"
	"github.com/kalambet/newsposter/internal/social"
	"github.com/kalambet/newsposter/internal/storage"
	"github.com/kalambet/newsposter/internal/workflow"
)

// Sessions marks a session active, creating it on first use.
type Sessions interface {
	Ensure(ctx context.Context, id string) (storage.Session, error)
}

// Deps are the components the pipelines call into.
type Deps struct {
	Store      *storage.Store
	Gate       *quota.Gate
	Sessions   Sessions
	Search     search.Searcher
	Summarizer *news.Summarizer
	Generator  *social.Generator
}

// Settings tune request defaults and bounds.
type Settings struct {
	DefaultModel    string
	DefaultArticles int
	MaxArticles     int
	CacheTTL        time.Duration
}

type Option func(*Service)

// WithObserver reports every step's duration and outcome, e.g. to metrics.
func WithObserver(fn workflow.Observer) Option {
	return func(s *Service) { s.observe = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source for validation, caching and step logs.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service runs the news and post pipelines. It is safe for concurrent use;
// every call runs against its own state.
type Service struct {
	deps     Deps
	settings Settings
	observe  workflow.Observer
	logger   *slog.Logger
	now      func() time.Time

	news  *workflow.Pipeline[NewsState]
	posts *workflow.Pipeline[PostState]
}

// New builds both pipelines and validates their step graphs.
func New(deps Deps, settings Settings, opts ...Option) (*Service, error) {
	if settings.MaxArticles <= 0 {
		settings.MaxArticles = 12
	}
	if settings.DefaultArticles <= 0 || settings.DefaultArticles > settings.MaxArticles {
		settings.DefaultArticles = min(5, settings.MaxArticles)
	}
	s := &Service{
		deps:     deps,
		settings: settings,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	if s.news, err = s.newsPipeline(); err != nil {
		return nil, fmt.Errorf("building news pipeline: %w", err)
	}
	if s.posts, err = s.postPipeline(); err != nil {
		return nil, fmt.Errorf("building post pipeline: %w", err)
	}
	return s, nil
}

func (s *Service) Settings() Settings { return s.settings }

func pipelineOpts[S any](s *Service, log func(*S) *[]workflow.StepRecord) []workflow.Option[S] {
	opts := []workflow.Option[S]{
		workflow.WithStepLog(log),
		workflow.WithLogger[S](s.logger),
		workflow.WithClock[S](s.now),
	}
	if s.observe != nil {
		opts = append(opts, workflow.WithObserver[S](s.observe))
	}
	return opts
}

// annotate attaches request identifiers to a classified error.
func annotate(err error, workflowID, sessionID string) error {
	if e, ok := apperr.From(err); ok {
		e.With("workflowId", workflowID)
		if sessionID != "" {
			e.With("sessionId", sessionID)
		}
	}
	return err
}
