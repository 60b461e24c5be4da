package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/newsposter/internal/apperr"
	"github.com/kalambet/newsposter/internal/news"
	"github.com/kalambet/newsposter/internal/pipeline"
	"github.com/kalambet/newsposter/internal/quota"
	"github.com/kalambet/newsposter/internal/session"
	"github.com/kalambet/newsposter/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Pipeline *pipeline.Service
	Gate     *quota.Gate
	Models   ModelCatalog
	Version  string
}

// NewMCPServer creates an MCP server with the newsposter tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"newsposter",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("newsposter fetches news for a topic, summarizes it and drafts LinkedIn and X posts. Use one UUID session_id per user; quotas apply per session."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("fetch_news",
			mcp.WithDescription("Fetch, rank and summarize the top news articles for a topic and date."),
			mcp.WithString("topic", mcp.Description("News topic, 2 to 100 characters"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Session UUID"), mcp.Required()),
			mcp.WithString("date", mcp.Description("Date as YYYY-MM-DD (default today, UTC)")),
			mcp.WithNumber("top_n", mcp.Description("Number of articles to return (default 5)")),
			mcp.WithString("model", mcp.Description("Preferred model: claude-3-5-sonnet, gpt-4-turbo or gemini-pro")),
		),
		mcpFetchNews(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_posts",
			mcp.WithDescription("Generate LinkedIn and X posts from summarized articles and save them to the session."),
			mcp.WithString("session_id", mcp.Description("Session UUID"), mcp.Required()),
			mcp.WithString("topic", mcp.Description("Topic the articles cover"), mcp.Required()),
			mcp.WithString("articles_json", mcp.Description("JSON array of articles as returned by fetch_news"), mcp.Required()),
			mcp.WithString("model", mcp.Description("Preferred model")),
			mcp.WithString("news_workflow_id", mcp.Description("workflowId returned by fetch_news")),
			mcp.WithArray("platforms", mcp.Description("Platforms to generate for: linkedin, x (default both)")),
		),
		mcpGeneratePosts(deps),
	)

	s.AddTool(
		mcp.NewTool("list_posts",
			mcp.WithDescription("List saved posts for a session, newest first."),
			mcp.WithString("session_id", mcp.Description("Session UUID"), mcp.Required()),
			mcp.WithString("platform", mcp.Description("Optional platform filter: linkedin or x")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of posts (default 20)")),
		),
		mcpListPosts(deps),
	)

	s.AddTool(
		mcp.NewTool("get_quota",
			mcp.WithDescription("Show the session's daily and monthly request usage."),
			mcp.WithString("session_id", mcp.Description("Session UUID"), mcp.Required()),
		),
		mcpGetQuota(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"news://topics",
			"News Topics",
			mcp.WithResourceDescription("Active topic configurations with keywords and trusted sources"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceTopics(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"news://models",
			"LLM Models",
			mcp.WithResourceDescription("Known LLM models and whether they are configured"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceModels(deps),
	)

	return s
}

func mcpFetchNews(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		topic, err := req.RequireString("topic")
		if err != nil {
			return mcpError("topic is required"), nil
		}
		sid, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}

		st, err := deps.Pipeline.FetchNews(ctx, pipeline.NewsRequest{
			SessionID: sid,
			Topic:     topic,
			Date:      req.GetString("date", ""),
			TopN:      req.GetInt("top_n", 0),
			Model:     req.GetString("model", ""),
		})
		if err != nil {
			return mcpFailure(err), nil
		}

		articles := st.Articles
		if articles == nil {
			articles = []news.Article{}
		}
		return mcpJSON(map[string]any{
			"workflowId": st.WorkflowID,
			"modelUsed":  st.ModelUsed(),
			"fromCache":  st.FromCache,
			"totalFound": st.TotalFound,
			"articles":   articles,
			"quotaRemaining": quotaRemaining{
				Daily:   st.Usage.DailyRemaining,
				Monthly: st.Usage.MonthlyRemaining,
			},
		})
	}
}

func mcpGeneratePosts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sid, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		topic, err := req.RequireString("topic")
		if err != nil {
			return mcpError("topic is required"), nil
		}
		raw, err := req.RequireString("articles_json")
		if err != nil {
			return mcpError("articles_json is required"), nil
		}

		var articles []news.Article
		if err := json.Unmarshal([]byte(raw), &articles); err != nil {
			return mcpError(fmt.Sprintf("invalid articles_json: %v", err)), nil
		}

		st, err := deps.Pipeline.GeneratePosts(ctx, pipeline.PostRequest{
			SessionID:      sid,
			Topic:          topic,
			Model:          req.GetString("model", ""),
			NewsWorkflowID: req.GetString("news_workflow_id", ""),
			Articles:       articles,
			Platforms:      req.GetStringSlice("platforms", nil),
		})
		if err != nil {
			return mcpFailure(err), nil
		}

		posts := make(map[string]postBody, len(st.Saved))
		for _, p := range st.Saved {
			posts[p.Platform] = postBody{ID: p.ID, Content: p.Content, CharCount: p.CharCount, Hashtags: p.Hashtags}
		}
		return mcpJSON(map[string]any{
			"workflowId": st.WorkflowID,
			"modelUsed":  st.ModelUsed(),
			"posts":      posts,
		})
	}
}

func mcpListPosts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sid, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		if err := session.CheckID(sid); err != nil {
			return mcpFailure(err), nil
		}

		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}

		posts, err := deps.Store.ListPosts(ctx, storage.PostFilter{
			SessionID: sid,
			Platform:  req.GetString("platform", ""),
			Limit:     limit,
		})
		if err != nil {
			return mcpFailure(apperr.Database("list posts", err)), nil
		}
		if posts == nil {
			posts = []storage.GeneratedPost{}
		}
		return mcpJSON(posts)
	}
}

func mcpGetQuota(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sid, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		if err := session.CheckID(sid); err != nil {
			return mcpFailure(err), nil
		}
		usage, err := deps.Gate.Usage(ctx, sid)
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpJSON(usage)
	}
}

func mcpResourceTopics(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		topics, err := deps.Store.ListTopics(ctx, true)
		if err != nil {
			return nil, fmt.Errorf("failed to list topics: %w", err)
		}
		return jsonResource(req.Params.URI, topics)
	}
}

func mcpResourceModels(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return jsonResource(req.Params.URI, deps.Models.Catalog())
	}
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

// mcpFailure reports a classified error as a tool error. Database causes are
// not exposed.
func mcpFailure(err error) *mcp.CallToolResult {
	e, ok := apperr.From(err)
	if !ok {
		return mcpError(fmt.Sprintf("%s: %v", apperr.KindInternal, err))
	}
	if e.Kind == apperr.KindDatabase {
		return mcpError(fmt.Sprintf("%s: internal database error occurred", e.Kind))
	}
	return mcpError(fmt.Sprintf("%s: %s", e.Kind, e.Message))
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
