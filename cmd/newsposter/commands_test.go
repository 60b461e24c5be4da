package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/newsposter/internal/config"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})
		ts.mu.Unlock()

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

const sessionID = "3f2b8c1e-7d4a-4b6e-9a1f-2c3d4e5f6a7b"

func TestFetchNews_SendsRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /news/fetch": `{"articles":[{"title":"AI chips","url":"https://a.com/1","source":"a.com","summary":"Fast."}],"totalFound":7,"processingTimeSeconds":1.5,"quotaRemaining":{"daily":9,"monthly":299},"workflowId":"wf-1","modelUsed":"claude-3-5-sonnet","fromCache":false}`,
	})

	res, err := fetchNews(ctx, ts.client(), map[string]any{
		"topic":     "AI",
		"topN":      3,
		"sessionId": sessionID,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Articles) != 1 || res.WorkflowID != "wf-1" || res.QuotaRemaining.Daily != 9 {
		t.Errorf("result = %+v", res)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Method != "POST" || r.Path != "/news/fetch" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["topic"] != "AI" || body["sessionId"] != sessionID || body["topN"] != float64(3) {
		t.Errorf("body = %v", body)
	}

	var out bytes.Buffer
	printArticles(&out, res)
	if !strings.Contains(out.String(), "AI chips") || !strings.Contains(out.String(), "wf-1") {
		t.Errorf("printed = %q", out.String())
	}
}

func TestFetchNews_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"daily request limit reached (10/10)","type":"quota_exceeded","details":{"period":"daily"}}}`))
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, httpClient: ts.Client()}
	_, err := fetchNews(ctx, client, map[string]any{"topic": "AI"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "429") || !strings.Contains(err.Error(), "quota_exceeded") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestResolveSession(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /sessions": `{"id":"` + sessionID + `"}`,
	})
	client := ts.client()

	sid, err := resolveSession(ctx, client, "given")
	if err != nil || sid != "given" {
		t.Fatalf("resolveSession(given) = %q, %v", sid, err)
	}
	if len(ts.requests) != 0 {
		t.Errorf("unexpected requests: %+v", ts.requests)
	}

	sid, err = resolveSession(ctx, client, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sid != sessionID {
		t.Errorf("sid = %q", sid)
	}
}

func TestGeneratePosts(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /posts/generate": `{"workflowId":"wf-2","modelUsed":"claude-3-5-sonnet","posts":{"linkedin":{"id":"p1","content":"Hello","charCount":5,"hashtags":[]},"x":{"id":"p2","content":"Hi #AI","charCount":6,"hashtags":["#AI"]}}}`,
	})

	res, err := generatePosts(ctx, ts.client(), map[string]any{"topic": "AI", "sessionId": sessionID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Posts["x"].ID != "p2" || res.Posts["linkedin"].Content != "Hello" {
		t.Errorf("posts = %+v", res.Posts)
	}
}

func TestListPosts_QueryEncoding(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /posts/session/" + sessionID: `[{"id":"0123456789ab","platform":"x","content":"Original","edited":true,"editedContent":"Edited text"}]`,
	})

	posts, err := listPosts(ctx, ts.client(), sessionID, "x", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(posts))
	}
	if got := ts.requests[0].Path; got != "/posts/session/"+sessionID+"?limit=5&platform=x" {
		t.Errorf("path = %q", got)
	}

	old := noColor
	defer func() { noColor = old }()
	noColor = true
	line := postLine(posts[0])
	if !strings.HasPrefix(line, "01234567 ") || !strings.Contains(line, "Edited text") || !strings.Contains(line, "*") {
		t.Errorf("line = %q", line)
	}
}

func TestPostLine_Truncates(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true

	line := postLine(savedPost{ID: "p", Platform: "linkedin", Content: strings.Repeat("word ", 40)})
	if !strings.HasSuffix(line, "...") {
		t.Errorf("line = %q", line)
	}
}

func TestEditAndDeletePost(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PUT /posts/p1":    `{"id":"p1","edited":true,"editedCharCount":9}`,
		"DELETE /posts/p1": `{"status":"deleted"}`,
	})
	client := ts.client()

	resp, err := client.put(ctx, "/posts/p1", map[string]string{"content": "New text!"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var updated map[string]any
	if err := decodeJSON(resp, &updated); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if updated["edited"] != true {
		t.Errorf("updated = %v", updated)
	}
	if !strings.Contains(ts.requests[0].Body, `"content":"New text!"`) {
		t.Errorf("body = %q", ts.requests[0].Body)
	}

	resp, err = client.delete(ctx, "/posts/p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["status"] != "deleted" {
		t.Errorf("status = %q", result["status"])
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNewsFetch_MissingTopic(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"news", "fetch"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing topic")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}

func TestAPIClientAuth(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	client.token = "my-secret-token"
	if _, err := client.get(ctx, "/health"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	client.token = ""
	if _, err := client.get(ctx, "/health"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ts.requests[0].Auth != "Bearer my-secret-token" {
		t.Errorf("auth = %q, want 'Bearer my-secret-token'", ts.requests[0].Auth)
	}
	if ts.requests[1].Auth != "" {
		t.Errorf("auth without token = %q", ts.requests[1].Auth)
	}
}

func TestDecodeJSON_NonJSONError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(502)
		w.Write([]byte(`bad gateway`))
	}))
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = decodeJSON(resp, &struct{}{})
	if err == nil || !strings.Contains(err.Error(), "502: bad gateway") {
		t.Errorf("error = %v", err)
	}
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"127.0.0.1", "http://127.0.0.1:8000"},
		{"0.0.0.0", "http://127.0.0.1:8000"},
		{"", "http://127.0.0.1:8000"},
		{"::1", "http://[::1]:8000"},
		{"news.internal", "http://news.internal:8000"},
	}
	for _, tt := range tests {
		cfg := config.Config{Server: config.ServerConfig{Host: tt.host, Port: 8000}}
		if got := baseURL(cfg); got != tt.want {
			t.Errorf("baseURL(%q) = %q, want %q", tt.host, got, tt.want)
		}
	}
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info logged at warn level")
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("output = %q", out)
	}
}

func TestConfiguredKeys(t *testing.T) {
	if got := configuredKeys(config.LLMConfig{}); got != "none" {
		t.Errorf("got %q", got)
	}
	if got := configuredKeys(config.LLMConfig{AnthropicAPIKey: "a", GoogleAPIKey: "g"}); got != "anthropic, google" {
		t.Errorf("got %q", got)
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestModelRowsTable(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true

	rows := modelRows("claude-3-5-sonnet", []modelInfo{
		{ID: "claude-3-5-sonnet", Name: "Claude 3.5 Sonnet", Available: true},
		{ID: "gemini-pro", Name: "Gemini Pro"},
	})
	if rows[0][2] != "available" || rows[0][3] != "default" {
		t.Errorf("row 0 = %v", rows[0])
	}
	if rows[1][2] != "unavailable" || rows[1][3] != "" {
		t.Errorf("row 1 = %v", rows[1])
	}

	var buf bytes.Buffer
	if err := renderTable(&buf, []string{"id", "name", "status", ""}, rows); err != nil {
		t.Fatalf("renderTable: %v", err)
	}
	if !strings.Contains(buf.String(), "gemini-pro") || !strings.Contains(buf.String(), "Claude 3.5 Sonnet") {
		t.Errorf("table = %q", buf.String())
	}
}
