package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/newsposter/internal/janitor"
	"github.com/kalambet/newsposter/internal/llm"
	"github.com/kalambet/newsposter/internal/news"
	"github.com/kalambet/newsposter/internal/pipeline"
	"github.com/kalambet/newsposter/internal/quota"
	"github.com/kalambet/newsposter/internal/search"
	"github.com/kalambet/newsposter/internal/session"
	"github.com/kalambet/newsposter/internal/social"
	"github.com/kalambet/newsposter/internal/storage"
)

const (
	testSession = "3f2b8c1e-7d4a-4b6e-9a1f-2c3d4e5f6a7b"
	testDate    = "2025-03-10"
	adminToken  = "s3cret"
)

// --- fakes ---

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type stubSearcher struct {
	block bool
}

func (s *stubSearcher) Name() string { return "stub" }

func (s *stubSearcher) Search(ctx context.Context, _ search.Query) ([]search.Result, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return []search.Result{
		{Title: "Nvidia unveils new AI accelerator chips", Link: "https://techcrunch.com/2025/03/10/ai-chips", Snippet: "The new AI chips double training throughput for large models.", Date: "2 hours ago", Position: 1},
		{Title: "OpenAI ships a faster reasoning model", Link: "https://venturebeat.com/ai/reasoning-model", Snippet: "OpenAI says the model cuts latency in half for most AI workloads.", Date: "5 hours ago", Position: 2},
		{Title: "Anthropic raises new funding round", Link: "https://www.reuters.com/tech/anthropic-funding", Snippet: "The AI startup plans to expand compute and research headcount.", Date: "1 day ago", Position: 3},
	}, nil
}

// cannedProvider answers summary, LinkedIn and X prompts with fixed text.
type cannedProvider struct{}

func (cannedProvider) Name() string { return llm.ModelClaude }

func (cannedProvider) Complete(_ context.Context, req llm.Request) (string, error) {
	switch {
	case strings.Contains(req.System, "news editor"):
		n := strings.Count(req.Prompt, "\nTitle: ")
		entries := make([]map[string]any, 0, n)
		for i := 1; i <= n; i++ {
			entries = append(entries, map[string]any{"index": i, "summary": fmt.Sprintf("Summary number %d.", i)})
		}
		b, _ := json.Marshal(entries)
		return string(b), nil
	case strings.Contains(req.System, "LinkedIn"):
		return "AI moved fast this week.\n\nNew chips, new models and new funding.\n\nWhat are you watching next?", nil
	default:
		return "Three big AI stories today show the pace is only accelerating for builders.", nil
	}
}

type fakeJanitor struct {
	mu   sync.Mutex
	runs int
	err  error
}

func (f *fakeJanitor) RunOnce(context.Context) (janitor.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	return janitor.Report{RequestsPurged: 3, CachePurged: 1}, f.err
}

// --- helpers ---

type testEnv struct {
	handler  http.Handler
	deps     Deps
	store    *storage.Store
	searcher *stubSearcher
	janitor  *fakeJanitor
}

func newTestEnv(t *testing.T, configure ...func(*Deps)) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	clock := fixedClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	gate := quota.NewGate(quota.NewSQLStore(store), quota.Limits{Daily: 10, Monthly: 300, DedupWindow: time.Hour}, quota.WithClock(clock))
	sessions := session.NewManager(store, session.WithClock(clock))
	router := llm.NewRouter([]llm.Provider{cannedProvider{}})
	searcher := &stubSearcher{}

	svc, err := pipeline.New(pipeline.Deps{
		Store:      store,
		Gate:       gate,
		Sessions:   sessions,
		Search:     searcher,
		Summarizer: news.NewSummarizer(router, 1000, 0.3, nil),
		Generator:  social.NewGenerator(router, nil, 1000, 0.7, nil),
	}, pipeline.Settings{
		DefaultModel:    llm.ModelClaude,
		DefaultArticles: 5,
		MaxArticles:     12,
		CacheTTL:        time.Hour,
	}, pipeline.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}

	jan := &fakeJanitor{}
	deps := Deps{
		Store:          store,
		Pipeline:       svc,
		Sessions:       sessions,
		Gate:           gate,
		Models:         router,
		Janitor:        jan,
		AdminToken:     adminToken,
		CORSOrigins:    []string{"http://localhost:3000"},
		RequestTimeout: 5 * time.Second,
	}
	for _, fn := range configure {
		fn(&deps)
	}
	return &testEnv{handler: NewHandler(deps), deps: deps, store: store, searcher: searcher, janitor: jan}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

type errorBody struct {
	Error struct {
		Type    string         `json:"type"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error body %q: %v", w.Body.String(), err)
	}
	return body
}

func fetchBody(topic string, topN int) string {
	return fmt.Sprintf(`{"topic":%q,"date":%q,"topN":%d,"model":"claude-3-5-sonnet","sessionId":%q}`, topic, testDate, topN, testSession)
}

func fetchNews(t *testing.T, env *testEnv) fetchNewsResponse {
	t.Helper()
	w := env.do(t, authReq("POST", "/news/fetch", fetchBody("AI", 3), ""))
	if w.Code != http.StatusOK {
		t.Fatalf("fetch status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp fetchNewsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding fetch response: %v", err)
	}
	return resp
}

// --- news ---

func TestFetchNews_OK(t *testing.T) {
	env := newTestEnv(t)
	resp := fetchNews(t, env)

	if len(resp.Articles) == 0 || len(resp.Articles) > 3 {
		t.Fatalf("got %d articles, want 1..3", len(resp.Articles))
	}
	if resp.WorkflowID == "" {
		t.Error("workflowId is empty")
	}
	if resp.ModelUsed != llm.ModelClaude {
		t.Errorf("modelUsed = %q", resp.ModelUsed)
	}
	if resp.FromCache {
		t.Error("first fetch should not come from cache")
	}
	if resp.QuotaRemaining.Daily != 9 || resp.QuotaRemaining.Monthly != 299 {
		t.Errorf("quotaRemaining = %+v", resp.QuotaRemaining)
	}
	if resp.TotalFound != 3 {
		t.Errorf("totalFound = %d", resp.TotalFound)
	}
}

func TestFetchNews_ValidationError(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, authReq("POST", "/news/fetch", fetchBody("<script>", 3), ""))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	body := decodeError(t, w)
	if body.Error.Type != "validation_error" {
		t.Errorf("type = %q", body.Error.Type)
	}
	if body.Error.Details["field"] != "topic" {
		t.Errorf("details = %v", body.Error.Details)
	}
}

func TestFetchNews_InvalidJSON(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, authReq("POST", "/news/fetch", `{"topic":`, ""))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestFetchNews_DuplicateRejected(t *testing.T) {
	env := newTestEnv(t)
	fetchNews(t, env)

	w := env.do(t, authReq("POST", "/news/fetch", fetchBody("AI", 3), ""))
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	body := decodeError(t, w)
	if body.Error.Type != "duplicate_request" {
		t.Errorf("type = %q", body.Error.Type)
	}
	if body.Error.Details["sessionId"] != testSession {
		t.Errorf("details = %v", body.Error.Details)
	}
}

func TestFetchNews_Timeout(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.RequestTimeout = 50 * time.Millisecond })
	env.searcher.block = true

	w := env.do(t, authReq("POST", "/news/fetch", fetchBody("AI", 3), ""))
	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504, body = %s", w.Code, w.Body.String())
	}
}

func TestTopicsAndModels(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, authReq("GET", "/news/topics", "", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("topics status = %d", w.Code)
	}
	var topics []storage.TopicConfig
	json.Unmarshal(w.Body.Bytes(), &topics)
	if len(topics) == 0 {
		t.Error("expected seeded topics")
	}

	w = env.do(t, authReq("GET", "/news/models", "", ""))
	var models struct {
		Models  []llm.ModelInfo `json:"models"`
		Default string          `json:"default"`
	}
	json.Unmarshal(w.Body.Bytes(), &models)
	if models.Default != llm.ModelClaude {
		t.Errorf("default = %q", models.Default)
	}
	for _, m := range models.Models {
		if want := m.ID == llm.ModelClaude; m.Available != want {
			t.Errorf("model %s available = %v", m.ID, m.Available)
		}
	}
}

// --- posts ---

func generate(t *testing.T, env *testEnv, news fetchNewsResponse, platforms ...string) generatePostsResponse {
	t.Helper()
	b, _ := json.Marshal(generatePostsRequest{
		Articles:       news.Articles,
		Topic:          "AI",
		Model:          llm.ModelClaude,
		SessionID:      testSession,
		NewsWorkflowID: news.WorkflowID,
		Platforms:      platforms,
	})
	w := env.do(t, authReq("POST", "/posts/generate", string(b), ""))
	if w.Code != http.StatusOK {
		t.Fatalf("generate status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp generatePostsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding generate response: %v", err)
	}
	return resp
}

func TestGeneratePosts_BothPlatforms(t *testing.T) {
	env := newTestEnv(t)
	resp := generate(t, env, fetchNews(t, env))

	li, ok := resp.Posts[storage.PlatformLinkedIn]
	if !ok || li.ID == "" {
		t.Fatalf("missing linkedin post: %+v", resp.Posts)
	}
	x, ok := resp.Posts[storage.PlatformX]
	if !ok || x.ID == "" {
		t.Fatalf("missing x post: %+v", resp.Posts)
	}
	if x.CharCount > social.XLimit || li.CharCount > social.LinkedInLimit {
		t.Errorf("posts over limit: linkedin=%d x=%d", li.CharCount, x.CharCount)
	}
	if len(x.Hashtags) == 0 {
		t.Error("x post has no hashtags")
	}
	if resp.ModelUsed != llm.ModelClaude || resp.WorkflowID == "" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestGeneratePosts_SinglePlatform(t *testing.T) {
	env := newTestEnv(t)
	resp := generate(t, env, fetchNews(t, env), storage.PlatformX)
	if len(resp.Posts) != 1 {
		t.Fatalf("posts = %+v, want only x", resp.Posts)
	}
	if _, ok := resp.Posts[storage.PlatformX]; !ok {
		t.Errorf("posts = %+v", resp.Posts)
	}
}

func TestGeneratePosts_InvalidPlatform(t *testing.T) {
	env := newTestEnv(t)
	body := fmt.Sprintf(`{"articles":[{"title":"A","url":"https://a.com"}],"topic":"AI","sessionId":%q,"platforms":["myspace"]}`, testSession)
	w := env.do(t, authReq("POST", "/posts/generate", body, ""))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestGeneratePosts_ForeignWorkflowID(t *testing.T) {
	env := newTestEnv(t)
	resp := generate(t, env, fetchNews(t, env))

	other := "8c6d1f0a-2b3e-4c5d-8e9f-0a1b2c3d4e5f"
	body := fmt.Sprintf(`{"articles":[{"title":"Rates hold steady","url":"https://b.com/1"}],"topic":"Finance","sessionId":%q,"workflowId":%q}`, other, resp.WorkflowID)
	w := env.do(t, authReq("POST", "/posts/generate", body, ""))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body = %s", w.Code, w.Body.String())
	}
	if e := decodeError(t, w); e.Error.Type != "validation_error" {
		t.Errorf("type = %q", e.Error.Type)
	}
	if strings.Contains(w.Body.String(), resp.Posts[storage.PlatformX].ID) {
		t.Error("response leaked another session's post id")
	}
}

func TestPosts_ListShowEditDelete(t *testing.T) {
	env := newTestEnv(t)
	resp := generate(t, env, fetchNews(t, env))
	liID := resp.Posts[storage.PlatformLinkedIn].ID
	xID := resp.Posts[storage.PlatformX].ID

	// list
	w := env.do(t, authReq("GET", "/posts/session/"+testSession, "", ""))
	var posts []storage.GeneratedPost
	json.Unmarshal(w.Body.Bytes(), &posts)
	if len(posts) != 2 {
		t.Fatalf("listed %d posts, want 2", len(posts))
	}
	w = env.do(t, authReq("GET", "/posts/session/"+testSession+"?platform=x", "", ""))
	json.Unmarshal(w.Body.Bytes(), &posts)
	if len(posts) != 1 || posts[0].ID != xID {
		t.Errorf("filtered posts = %+v", posts)
	}

	// show
	w = env.do(t, authReq("GET", "/posts/"+liID, "", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("show status = %d", w.Code)
	}

	// edit strips markup
	w = env.do(t, authReq("PUT", "/posts/"+liID, `{"content":"<b>Edited</b> post &amp; more"}`, ""))
	if w.Code != http.StatusOK {
		t.Fatalf("edit status = %d, body = %s", w.Code, w.Body.String())
	}
	var edited storage.GeneratedPost
	json.Unmarshal(w.Body.Bytes(), &edited)
	if !edited.Edited || edited.EditedContent != "Edited post & more" {
		t.Errorf("edited = %+v", edited)
	}
	if edited.EditedCharCount != social.CharCount("Edited post & more") {
		t.Errorf("editedCharCount = %d", edited.EditedCharCount)
	}

	// X limit enforced
	long, _ := json.Marshal(map[string]string{"content": strings.Repeat("é", social.XLimit+1)})
	w = env.do(t, authReq("PUT", "/posts/"+xID, string(long), ""))
	if w.Code != http.StatusBadRequest {
		t.Errorf("over-limit edit status = %d, want 400", w.Code)
	}

	// empty after sanitizing
	w = env.do(t, authReq("PUT", "/posts/"+xID, `{"content":"<p></p>"}`, ""))
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty edit status = %d, want 400", w.Code)
	}

	// delete
	w = env.do(t, authReq("DELETE", "/posts/"+liID, "", ""))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"deleted"`) {
		t.Fatalf("delete status = %d, body = %s", w.Code, w.Body.String())
	}
	w = env.do(t, authReq("GET", "/posts/"+liID, "", ""))
	if w.Code != http.StatusNotFound {
		t.Errorf("show after delete status = %d, want 404", w.Code)
	}
	w = env.do(t, authReq("DELETE", "/posts/"+liID, "", ""))
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
}

func TestListPosts_InvalidSession(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, authReq("GET", "/posts/session/not-a-uuid", "", ""))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	w = env.do(t, authReq("GET", "/posts/session/"+testSession+"?platform=fax", "", ""))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

// --- sessions ---

func TestSessions_Lifecycle(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, authReq("POST", "/sessions", `{"preferences":{"defaultTopic":"AI","platforms":["x"]}}`, ""))
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var sess storage.Session
	json.Unmarshal(w.Body.Bytes(), &sess)
	if !session.ValidID(sess.ID) || sess.Preferences.DefaultTopic != "AI" {
		t.Fatalf("session = %+v", sess)
	}

	w = env.do(t, authReq("GET", "/sessions/"+sess.ID, "", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}

	w = env.do(t, authReq("PUT", "/sessions/"+sess.ID+"/preferences", `{"articleCount":7,"platforms":["linkedin"]}`, ""))
	if w.Code != http.StatusOK {
		t.Fatalf("preferences status = %d, body = %s", w.Code, w.Body.String())
	}
	json.Unmarshal(w.Body.Bytes(), &sess)
	if sess.Preferences.ArticleCount != 7 {
		t.Errorf("preferences = %+v", sess.Preferences)
	}

	w = env.do(t, authReq("PUT", "/sessions/"+sess.ID+"/preferences", `{"platforms":["myspace"]}`, ""))
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid preferences status = %d, want 400", w.Code)
	}

	w = env.do(t, authReq("DELETE", "/sessions/"+sess.ID, "", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = env.do(t, authReq("GET", "/sessions/"+sess.ID, "", ""))
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", w.Code)
	}
}

func TestSessions_CreateWithoutBody(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, authReq("POST", "/sessions", "", ""))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestSessions_QuotaAndHistory(t *testing.T) {
	env := newTestEnv(t)
	fetchNews(t, env)

	w := env.do(t, authReq("GET", "/sessions/"+testSession+"/quota", "", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("quota status = %d", w.Code)
	}
	var usage quota.Usage
	json.Unmarshal(w.Body.Bytes(), &usage)
	if usage.DailyUsed != 1 || usage.DailyLimit != 10 || usage.MonthlyRemaining != 299 {
		t.Errorf("usage = %+v", usage)
	}

	w = env.do(t, authReq("GET", "/sessions/"+testSession+"/history", "", ""))
	var history []storage.UserRequest
	json.Unmarshal(w.Body.Bytes(), &history)
	if len(history) != 1 || history[0].Topic != "ai" {
		t.Errorf("history = %+v", history)
	}
}

func TestSessions_InvalidID(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/sessions/abc", "/sessions/abc/quota", "/sessions/abc/history"} {
		w := env.do(t, authReq("GET", path, "", ""))
		if w.Code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", path, w.Code)
		}
	}
}

// --- admin, health, middleware ---

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, authReq("GET", "/health", "", ""))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("health = %d %s", w.Code, w.Body.String())
	}
}

func TestCleanup_Auth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, authReq("POST", "/admin/cleanup", "", ""))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", w.Code)
	}
	w = env.do(t, authReq("POST", "/admin/cleanup", "", "wrong"))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want 401", w.Code)
	}
	w = env.do(t, authReq("POST", "/admin/cleanup", "", adminToken))
	if w.Code != http.StatusOK {
		t.Fatalf("valid token status = %d", w.Code)
	}
	var rep janitor.Report
	json.Unmarshal(w.Body.Bytes(), &rep)
	if rep.RequestsPurged != 3 || env.janitor.runs != 1 {
		t.Errorf("report = %+v, runs = %d", rep, env.janitor.runs)
	}
}

func TestCleanup_Disabled(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.AdminToken = "" })
	w := env.do(t, authReq("POST", "/admin/cleanup", "", adminToken))
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestCleanup_Error(t *testing.T) {
	env := newTestEnv(t)
	env.janitor.err = errors.New("disk full")
	w := env.do(t, authReq("POST", "/admin/cleanup", "", adminToken))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

func TestTrustedHosts(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.TrustedHosts = []string{"localhost", "*.example.org"} })

	req := authReq("GET", "/health", "", "")
	req.Host = "evil.com"
	if w := env.do(t, req); w.Code != http.StatusBadRequest {
		t.Errorf("untrusted host status = %d, want 400", w.Code)
	}

	req = authReq("GET", "/health", "", "")
	req.Host = "localhost:8000"
	if w := env.do(t, req); w.Code != http.StatusOK {
		t.Errorf("trusted host status = %d", w.Code)
	}

	req = authReq("GET", "/health", "", "")
	req.Host = "api.example.org"
	if w := env.do(t, req); w.Code != http.StatusOK {
		t.Errorf("wildcard host status = %d", w.Code)
	}
}

func TestHostAllowed(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"localhost", true},
		{"LOCALHOST:8000", true},
		{"[::1]:8000", true},
		{"a.example.org", true},
		{"example.org", false},
		{"evil.com", false},
	}
	hosts := []string{"localhost", "::1", "*.example.org"}
	for _, tt := range tests {
		if got := hostAllowed(tt.host, hosts); got != tt.want {
			t.Errorf("hostAllowed(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("OPTIONS", "/news/fetch", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := env.do(t, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allowed origin header = %q", got)
	}

	req = httptest.NewRequest("OPTIONS", "/news/fetch", nil)
	req.Header.Set("Origin", "http://evil.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w = env.do(t, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("disallowed origin got header %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, authReq("GET", "/health", "", ""))

	w := env.do(t, authReq("GET", "/metrics", "", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `newsposter_http_requests_total{method="GET",route="/health",status="200"}`) {
		t.Error("request metric for /health not exported")
	}
}

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 20},
		{"limit=5", 5},
		{"limit=-1", 20},
		{"limit=abc", 20},
		{"limit=500", 100},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/x?"+tt.query, nil)
		if got := parseIntParam(req, "limit", 20, 100); got != tt.want {
			t.Errorf("parseIntParam(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}
