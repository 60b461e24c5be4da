package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/newsposter/internal/apperr"
	"github.com/kalambet/newsposter/internal/llm"
	"github.com/kalambet/newsposter/internal/news"
	"github.com/kalambet/newsposter/internal/social"
	"github.com/kalambet/newsposter/internal/storage"
	"github.com/kalambet/newsposter/internal/workflow"
)

// PostState is the state of one post generation run. The identifying fields
// and the input articles never change during a run; the LinkedIn and X steps
// run concurrently and write disjoint fields.
type PostState struct {
	WorkflowID     string
	NewsWorkflowID string
	SessionID      string
	Topic          string
	Model          string
	Articles       []news.Article
	Platforms      []string

	LinkedIn  *social.Post
	X         *social.Post
	Providers []string
	Attempts  []llm.Attempt
	LLMCalls  int
	Saved     []storage.GeneratedPost

	Steps []workflow.StepRecord
}

func postSchema() (*workflow.Schema[PostState], error) {
	return workflow.NewSchema(
		workflow.Declare("WorkflowID", workflow.KeepFirst, func(s *PostState) *string { return &s.WorkflowID }).Required(),
		workflow.Declare("NewsWorkflowID", workflow.KeepFirst, func(s *PostState) *string { return &s.NewsWorkflowID }),
		workflow.Declare("SessionID", workflow.KeepFirst, func(s *PostState) *string { return &s.SessionID }),
		workflow.Declare("Topic", workflow.KeepFirst, func(s *PostState) *string { return &s.Topic }),
		workflow.Declare("Model", workflow.KeepFirst, func(s *PostState) *string { return &s.Model }),
		workflow.Declare("Articles", workflow.KeepFirst, func(s *PostState) *[]news.Article { return &s.Articles }),
		workflow.Declare("Platforms", workflow.KeepFirst, func(s *PostState) *[]string { return &s.Platforms }).Required(),
		workflow.Declare("LinkedIn", workflow.KeepLatest, func(s *PostState) **social.Post { return &s.LinkedIn }),
		workflow.Declare("X", workflow.KeepLatest, func(s *PostState) **social.Post { return &s.X }),
		workflow.Declare("Providers", workflow.Concat, func(s *PostState) *[]string { return &s.Providers }),
		workflow.Declare("Attempts", workflow.Concat, func(s *PostState) *[]llm.Attempt { return &s.Attempts }),
		workflow.Declare("LLMCalls", workflow.Sum, func(s *PostState) *int { return &s.LLMCalls }),
		workflow.Declare("Saved", workflow.Concat, func(s *PostState) *[]storage.GeneratedPost { return &s.Saved }),
		workflow.Declare("Steps", workflow.Concat, func(s *PostState) *[]workflow.StepRecord { return &s.Steps }),
	)
}

// PostRequest asks for posts from a set of summarized articles. An empty
// WorkflowID gets a fresh one; reusing a WorkflowID returns the posts saved
// the first time. Platforms defaults to both.
type PostRequest struct {
	WorkflowID     string
	NewsWorkflowID string
	SessionID      string
	Topic          string
	Model          string
	Articles       []news.Article
	Platforms      []string
}

// ModelUsed is the first provider that produced a post, or the requested
// model when none was called.
func (s PostState) ModelUsed() string {
	for _, p := range s.Providers {
		if p != "" {
			return p
		}
	}
	return s.Model
}

// SavedPost returns the persisted post for a platform.
func (s PostState) SavedPost(platform string) (storage.GeneratedPost, bool) {
	for _, p := range s.Saved {
		if p.Platform == platform {
			return p, true
		}
	}
	return storage.GeneratedPost{}, false
}

// GeneratePosts runs the post pipeline.
func (s *Service) GeneratePosts(ctx context.Context, req PostRequest) (PostState, error) {
	initial := PostState{
		WorkflowID:     req.WorkflowID,
		NewsWorkflowID: req.NewsWorkflowID,
		SessionID:      req.SessionID,
		Topic:          strings.TrimSpace(req.Topic),
		Model:          req.Model,
		Articles:       req.Articles,
		Platforms:      req.Platforms,
	}
	if initial.WorkflowID == "" {
		initial.WorkflowID = uuid.NewString()
	}
	if initial.Model == "" {
		initial.Model = s.settings.DefaultModel
	}
	if len(initial.Platforms) == 0 {
		initial.Platforms = []string{storage.PlatformLinkedIn, storage.PlatformX}
	}

	logger := s.logger.With("workflow_id", initial.WorkflowID, "session_id", initial.SessionID)
	logger.Info("post workflow started", "topic", initial.Topic, "articles", len(initial.Articles), "platforms", initial.Platforms)

	start := time.Now()
	out, err := s.posts.Run(ctx, initial)
	if err != nil {
		logger.Warn("post workflow failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return out, annotate(err, initial.WorkflowID, initial.SessionID)
	}
	logger.Info("post workflow completed", "saved", len(out.Saved), "llm_calls", out.LLMCalls,
		"duration_ms", time.Since(start).Milliseconds())
	return out, nil
}

func (s *Service) postPipeline() (*workflow.Pipeline[PostState], error) {
	schema, err := postSchema()
	if err != nil {
		return nil, err
	}
	stages := []workflow.Stage[PostState]{
		workflow.Serial(workflow.Step[PostState]{
			Name: "validate_input",
			Run:  s.validatePosts,
		}),
		workflow.Serial(workflow.Step[PostState]{
			Name:  "ensure_session",
			Reads: []string{"SessionID"},
			Run: func(ctx context.Context, in PostState) (PostState, error) {
				return PostState{}, s.ensureSession(ctx, in.SessionID)
			},
		}),
		workflow.Serial(workflow.Step[PostState]{
			Name:  "check_workflow_owner",
			Reads: []string{"WorkflowID", "SessionID"},
			Run:   s.checkWorkflowOwner,
		}),
		workflow.Parallel(
			workflow.Step[PostState]{
				Name:   "generate_linkedin",
				Reads:  []string{"Topic", "Model", "Platforms"},
				Writes: []string{"LinkedIn", "Providers", "Attempts", "LLMCalls"},
				Run:    s.generateLinkedIn,
			},
			workflow.Step[PostState]{
				Name:   "generate_x",
				Reads:  []string{"Topic", "Model", "Platforms"},
				Writes: []string{"X", "Providers", "Attempts", "LLMCalls"},
				Run:    s.generateX,
			},
		),
		workflow.Serial(workflow.Step[PostState]{
			Name:   "save_posts",
			Writes: []string{"Saved"},
			Run:    s.savePosts,
		}),
	}
	return workflow.NewPipeline("posts", schema, stages, pipelineOpts(s, func(st *PostState) *[]workflow.StepRecord { return &st.Steps })...)
}

func (s *Service) validatePosts(_ context.Context, in PostState) (PostState, error) {
	if err := CheckTopic(in.Topic); err != nil {
		return PostState{}, err
	}
	if err := CheckModel(in.Model); err != nil {
		return PostState{}, err
	}
	if err := checkSession(in.SessionID); err != nil {
		return PostState{}, err
	}
	if err := CheckPlatforms(in.Platforms); err != nil {
		return PostState{}, err
	}
	if len(in.Articles) > s.settings.MaxArticles {
		return PostState{}, apperr.Validation("articles", len(in.Articles), fmt.Sprintf("at most %d articles are allowed", s.settings.MaxArticles))
	}
	for i, a := range in.Articles {
		if strings.TrimSpace(a.Title) == "" {
			return PostState{}, apperr.Validation(fmt.Sprintf("articles[%d].title", i), a.Title, "title is required")
		}
	}
	return PostState{}, nil
}

// checkWorkflowOwner rejects a workflow id that already holds another
// session's posts, before any LLM call is made.
func (s *Service) checkWorkflowOwner(ctx context.Context, in PostState) (PostState, error) {
	owner, err := s.deps.Store.WorkflowOwner(ctx, in.WorkflowID)
	if err != nil {
		return PostState{}, apperr.Database("check workflow owner", err)
	}
	if owner != "" && owner != in.SessionID {
		return PostState{}, errWorkflowOwned(in.WorkflowID)
	}
	return PostState{}, nil
}

func errWorkflowOwned(workflowID string) error {
	return apperr.Validation("workflowId", workflowID, "workflow id belongs to another session")
}

// postPatch converts a generated post into the patch a generation step returns.
func postPatch(p social.Post) PostState {
	out := PostState{Attempts: p.Attempts, LLMCalls: llm.Calls(p.Attempts)}
	if p.Provider != "" {
		out.Providers = []string{p.Provider}
	}
	return out
}

func (s *Service) generateLinkedIn(ctx context.Context, in PostState) (PostState, error) {
	if !slices.Contains(in.Platforms, storage.PlatformLinkedIn) {
		return PostState{}, nil
	}
	p, err := s.deps.Generator.LinkedIn(ctx, in.Topic, in.Model, in.Articles)
	if err != nil {
		return PostState{}, err
	}
	out := postPatch(p)
	out.LinkedIn = &p
	return out, nil
}

func (s *Service) generateX(ctx context.Context, in PostState) (PostState, error) {
	if !slices.Contains(in.Platforms, storage.PlatformX) {
		return PostState{}, nil
	}
	p, err := s.deps.Generator.X(ctx, in.Topic, in.Model, in.Articles)
	if err != nil {
		return PostState{}, err
	}
	out := postPatch(p)
	out.X = &p
	return out, nil
}

// savePosts writes one row per generated post. Rows are unique on
// (workflow id, platform), so a repeated run returns the rows saved first.
func (s *Service) savePosts(ctx context.Context, in PostState) (PostState, error) {
	if in.SessionID == "" {
		return PostState{}, apperr.Validation("sessionId", in.SessionID, "session id is required to save posts")
	}
	if in.WorkflowID == "" {
		return PostState{}, apperr.Validation("workflowId", in.WorkflowID, "workflow id is required to save posts")
	}

	var out PostState
	for _, p := range []*social.Post{in.LinkedIn, in.X} {
		if p == nil {
			continue
		}
		model := p.Provider
		if model == "" {
			model = in.Model
		}
		saved, created, err := s.deps.Store.SavePost(ctx, storage.GeneratedPost{
			SessionID:      in.SessionID,
			Platform:       p.Platform,
			Content:        p.Content,
			CharCount:      p.CharCount,
			Hashtags:       p.Hashtags,
			ModelUsed:      model,
			WorkflowID:     in.WorkflowID,
			NewsWorkflowID: in.NewsWorkflowID,
			ArticlesCount:  len(in.Articles),
			Topic:          in.Topic,
			CreatedAt:      s.now().UTC(),
		})
		if errors.Is(err, storage.ErrWorkflowOwned) {
			return PostState{}, errWorkflowOwned(in.WorkflowID)
		}
		if err != nil {
			return PostState{}, apperr.Database("save post", err).With("platform", p.Platform)
		}
		if !created {
			s.logger.Info("post already saved for workflow", "workflow_id", in.WorkflowID, "platform", p.Platform, "post_id", saved.ID)
		}
		out.Saved = append(out.Saved, saved)
	}
	return out, nil
}
