package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/newsposter/internal/apperr"
	"github.com/kalambet/newsposter/internal/llm"
	"github.com/kalambet/newsposter/internal/news"
	"github.com/kalambet/newsposter/internal/quota"
	"github.com/kalambet/newsposter/internal/search"
	"github.com/kalambet/newsposter/internal/storage"
	"github.com/kalambet/newsposter/internal/workflow"
)

const requestKindNews = "news"

// NewsState is the state of one news fetch. The first six fields identify
// the request and never change during a run.
type NewsState struct {
	WorkflowID string
	SessionID  string
	Topic      string
	Date       string
	TopN       int
	Model      string

	Usage      quota.Usage
	Cached     []news.Article
	FromCache  bool
	Raw        []search.Result
	TotalFound int
	Articles   []news.Article
	Provider   string
	Attempts   []llm.Attempt
	LLMCalls   int

	Steps []workflow.StepRecord
}

func newsSchema() (*workflow.Schema[NewsState], error) {
	return workflow.NewSchema(
		workflow.Declare("WorkflowID", workflow.KeepFirst, func(s *NewsState) *string { return &s.WorkflowID }).Required(),
		workflow.Declare("SessionID", workflow.KeepFirst, func(s *NewsState) *string { return &s.SessionID }),
		workflow.Declare("Topic", workflow.KeepFirst, func(s *NewsState) *string { return &s.Topic }),
		workflow.Declare("Date", workflow.KeepFirst, func(s *NewsState) *string { return &s.Date }),
		workflow.Declare("TopN", workflow.KeepFirst, func(s *NewsState) *int { return &s.TopN }),
		workflow.Declare("Model", workflow.KeepFirst, func(s *NewsState) *string { return &s.Model }),
		workflow.Declare("Usage", workflow.KeepLatest, func(s *NewsState) *quota.Usage { return &s.Usage }),
		workflow.Declare("Cached", workflow.KeepLatest, func(s *NewsState) *[]news.Article { return &s.Cached }),
		workflow.Declare("FromCache", workflow.KeepLatest, func(s *NewsState) *bool { return &s.FromCache }),
		workflow.Declare("Raw", workflow.KeepLatest, func(s *NewsState) *[]search.Result { return &s.Raw }),
		workflow.Declare("TotalFound", workflow.KeepLatest, func(s *NewsState) *int { return &s.TotalFound }),
		workflow.Declare("Articles", workflow.KeepLatest, func(s *NewsState) *[]news.Article { return &s.Articles }),
		workflow.Declare("Provider", workflow.KeepLatest, func(s *NewsState) *string { return &s.Provider }),
		workflow.Declare("Attempts", workflow.Concat, func(s *NewsState) *[]llm.Attempt { return &s.Attempts }),
		workflow.Declare("LLMCalls", workflow.Sum, func(s *NewsState) *int { return &s.LLMCalls }),
		workflow.Declare("Steps", workflow.Concat, func(s *NewsState) *[]workflow.StepRecord { return &s.Steps }),
	)
}

// NewsRequest asks for the top articles on a topic for a date. Zero values
// take the configured defaults; Date defaults to today in UTC.
type NewsRequest struct {
	WorkflowID string
	SessionID  string
	Topic      string
	Date       string
	TopN       int
	Model      string
}

// ModelUsed is the provider that produced the summaries, or the requested
// model when no LLM call was made.
func (s NewsState) ModelUsed() string {
	if s.Provider != "" {
		return s.Provider
	}
	return s.Model
}

// FetchNews runs the news pipeline.
func (s *Service) FetchNews(ctx context.Context, req NewsRequest) (NewsState, error) {
	initial := NewsState{
		WorkflowID: req.WorkflowID,
		SessionID:  req.SessionID,
		Topic:      strings.TrimSpace(req.Topic),
		Date:       req.Date,
		TopN:       req.TopN,
		Model:      req.Model,
	}
	if initial.WorkflowID == "" {
		initial.WorkflowID = uuid.NewString()
	}
	if initial.Date == "" {
		initial.Date = s.now().UTC().Format(DateLayout)
	}
	if initial.TopN == 0 {
		initial.TopN = s.settings.DefaultArticles
	}
	if initial.Model == "" {
		initial.Model = s.settings.DefaultModel
	}

	logger := s.logger.With("workflow_id", initial.WorkflowID, "session_id", initial.SessionID)
	logger.Info("news workflow started", "topic", initial.Topic, "date", initial.Date, "top_n", initial.TopN, "model", initial.Model)

	start := time.Now()
	out, err := s.news.Run(ctx, initial)
	if err != nil {
		logger.Warn("news workflow failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return out, annotate(err, initial.WorkflowID, initial.SessionID)
	}
	logger.Info("news workflow completed",
		"articles", len(out.Articles), "from_cache", out.FromCache, "provider", out.Provider,
		"duration_ms", time.Since(start).Milliseconds())
	return out, nil
}

func (s *Service) newsPipeline() (*workflow.Pipeline[NewsState], error) {
	schema, err := newsSchema()
	if err != nil {
		return nil, err
	}
	stages := []workflow.Stage[NewsState]{
		workflow.Serial(workflow.Step[NewsState]{
			Name: "validate_input",
			Run:  s.validateNews,
		}),
		workflow.Serial(workflow.Step[NewsState]{
			Name:  "ensure_session",
			Reads: []string{"SessionID"},
			Run: func(ctx context.Context, in NewsState) (NewsState, error) {
				return NewsState{}, s.ensureSession(ctx, in.SessionID)
			},
		}),
		workflow.Serial(workflow.Step[NewsState]{
			Name:   "check_quota",
			Reads:  []string{"SessionID", "Topic", "Date"},
			Writes: []string{"Usage"},
			Run:    s.checkQuota,
		}),
		workflow.Serial(workflow.Step[NewsState]{
			Name:   "check_cache",
			Reads:  []string{"Topic", "Date", "TopN"},
			Writes: []string{"Cached", "FromCache", "TotalFound"},
			Run:    s.checkCache,
		}),
		workflow.Serial(workflow.Step[NewsState]{
			Name:   "fetch_news",
			Reads:  []string{"Topic", "Date", "TopN"},
			Writes: []string{"Raw", "TotalFound"},
			Run:    s.fetchNews,
		}),
		workflow.Serial(workflow.Step[NewsState]{
			Name:   "filter_articles",
			Reads:  []string{"Topic", "TopN"},
			Writes: []string{"Articles"},
			Run:    s.filterArticles,
		}),
		workflow.Serial(workflow.Step[NewsState]{
			Name:   "summarize",
			Reads:  []string{"Topic", "Model"},
			Writes: []string{"Articles", "Provider", "Attempts", "LLMCalls"},
			Run:    s.summarize,
		}),
		workflow.Serial(workflow.Step[NewsState]{
			Name:  "save_results",
			Reads: []string{"Topic", "Date"},
			Run:   s.saveArticles,
		}),
	}
	return workflow.NewPipeline("news", schema, stages, pipelineOpts(s, func(st *NewsState) *[]workflow.StepRecord { return &st.Steps })...)
}

func (s *Service) validateNews(_ context.Context, in NewsState) (NewsState, error) {
	if err := CheckTopic(in.Topic); err != nil {
		return NewsState{}, err
	}
	if err := CheckDate(in.Date, s.now()); err != nil {
		return NewsState{}, err
	}
	if err := CheckTopN(in.TopN, s.settings.MaxArticles); err != nil {
		return NewsState{}, err
	}
	if err := CheckModel(in.Model); err != nil {
		return NewsState{}, err
	}
	return NewsState{}, checkSession(in.SessionID)
}

func (s *Service) ensureSession(ctx context.Context, id string) error {
	if s.deps.Sessions == nil {
		return nil
	}
	_, err := s.deps.Sessions.Ensure(ctx, id)
	return err
}

func (s *Service) checkQuota(ctx context.Context, in NewsState) (NewsState, error) {
	usage, err := s.deps.Gate.Admit(ctx, quota.Request{
		SessionID: in.SessionID,
		Topic:     in.Topic,
		Date:      in.Date,
		Kind:      requestKindNews,
	})
	if err != nil {
		return NewsState{}, err
	}
	return NewsState{Usage: usage}, nil
}

// cacheKey is the topic as stored in news_cache.
func cacheKey(topic string) string {
	return quota.NormalizeTopic(topic)
}

// checkCache serves a repeat request for the same topic and date from the
// news cache when it holds at least TopN fresh articles. Read errors count
// as a miss.
func (s *Service) checkCache(ctx context.Context, in NewsState) (NewsState, error) {
	if s.settings.CacheTTL <= 0 {
		return NewsState{}, nil
	}
	since := s.now().Add(-s.settings.CacheTTL)
	rows, err := s.deps.Store.CachedArticles(ctx, cacheKey(in.Topic), in.Date, since, in.TopN)
	if err != nil {
		s.logger.Warn("news cache lookup failed", "workflow_id", in.WorkflowID, "error", err)
		return NewsState{}, nil
	}
	if len(rows) < in.TopN {
		return NewsState{}, nil
	}
	cached := news.FromCached(rows)
	return NewsState{Cached: cached, FromCache: true, TotalFound: len(cached)}, nil
}

func (s *Service) fetchNews(ctx context.Context, in NewsState) (NewsState, error) {
	if in.FromCache {
		return NewsState{}, nil
	}
	results, err := s.deps.Search.Search(ctx, search.Query{
		Topic: in.Topic,
		Date:  in.Date,
		Num:   search.ResultCount(in.TopN),
	})
	if err != nil {
		return NewsState{}, err
	}
	return NewsState{Raw: results, TotalFound: len(results)}, nil
}

func (s *Service) filterArticles(ctx context.Context, in NewsState) (NewsState, error) {
	if in.FromCache {
		return NewsState{Articles: in.Cached}, nil
	}

	var cfg *storage.TopicConfig
	tc, err := s.deps.Store.GetTopic(ctx, in.Topic)
	switch {
	case err == nil:
		cfg = &tc
	case !errors.Is(err, storage.ErrNotFound):
		s.logger.Warn("topic config lookup failed, using neutral scoring", "workflow_id", in.WorkflowID, "error", err)
	}

	return NewsState{Articles: news.Rank(in.Raw, cfg, in.TopN, s.now())}, nil
}

func (s *Service) summarize(ctx context.Context, in NewsState) (NewsState, error) {
	if in.FromCache || len(in.Articles) == 0 {
		return NewsState{}, nil
	}
	articles, res, err := s.deps.Summarizer.Summarize(ctx, in.Topic, in.Model, in.Articles)
	if err != nil {
		return NewsState{}, err
	}
	return NewsState{
		Articles: articles,
		Provider: res.Provider,
		Attempts: res.Attempts,
		LLMCalls: llm.Calls(res.Attempts),
	}, nil
}

func (s *Service) saveArticles(ctx context.Context, in NewsState) (NewsState, error) {
	if in.FromCache || len(in.Articles) == 0 {
		return NewsState{}, nil
	}
	rows := news.ToCached(cacheKey(in.Topic), in.Date, in.Articles, s.now().UTC())
	if _, err := s.deps.Store.CacheArticles(ctx, rows); err != nil {
		return NewsState{}, apperr.Database("cache articles", err)
	}
	return NewsState{}, nil
}
