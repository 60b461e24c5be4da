package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/kalambet/newsposter/internal/config"
)

// --- wire types ---

type article struct {
	Title          string  `json:"title"`
	URL            string  `json:"url"`
	Source         string  `json:"source"`
	Summary        string  `json:"summary"`
	RelevanceScore float64 `json:"relevanceScore"`
}

type newsResult struct {
	Articles              []article `json:"articles"`
	TotalFound            int       `json:"totalFound"`
	ProcessingTimeSeconds float64   `json:"processingTimeSeconds"`
	QuotaRemaining        struct {
		Daily   int `json:"daily"`
		Monthly int `json:"monthly"`
	} `json:"quotaRemaining"`
	WorkflowID string `json:"workflowId"`
	ModelUsed  string `json:"modelUsed"`
	FromCache  bool   `json:"fromCache"`
}

type generatedPost struct {
	ID        string   `json:"id"`
	Content   string   `json:"content"`
	CharCount int      `json:"charCount"`
	Hashtags  []string `json:"hashtags"`
}

type postsResult struct {
	WorkflowID            string                   `json:"workflowId"`
	ProcessingTimeSeconds float64                  `json:"processingTimeSeconds"`
	ModelUsed             string                   `json:"modelUsed"`
	Posts                 map[string]generatedPost `json:"posts"`
}

type savedPost struct {
	ID            string `json:"id"`
	Platform      string `json:"platform"`
	Content       string `json:"content"`
	CharCount     int    `json:"charCount"`
	Edited        bool   `json:"edited"`
	EditedContent string `json:"editedContent"`
	Topic         string `json:"topic"`
	CreatedAt     string `json:"createdAt"`
}

// Text returns the edited content when present.
func (p savedPost) Text() string {
	if p.Edited && p.EditedContent != "" {
		return p.EditedContent
	}
	return p.Content
}

// --- news ---

var newsCmd = &cobra.Command{
	Use:   "news",
	Short: "Fetch and summarize news",
}

var newsFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch and summarize the top articles for a topic",
	Long: `Fetch and summarize the top articles for a topic.

Examples:
  newsposter news fetch --topic AI --top 3
  newsposter news fetch --topic "climate tech" --date 2025-03-10 --model gpt-4-turbo --posts`,
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, _ := cmd.Flags().GetString("topic")
		date, _ := cmd.Flags().GetString("date")
		top, _ := cmd.Flags().GetInt("top")
		model, _ := cmd.Flags().GetString("model")
		sid, _ := cmd.Flags().GetString("session")
		withPosts, _ := cmd.Flags().GetBool("posts")

		if strings.TrimSpace(topic) == "" {
			return fmt.Errorf("--topic is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		sid, err = resolveSession(ctx, client, sid)
		if err != nil {
			return err
		}

		printStep("Fetching %q news...", topic)
		res, err := fetchNews(ctx, client, map[string]any{
			"topic":     topic,
			"date":      date,
			"topN":      top,
			"model":     model,
			"sessionId": sid,
		})
		if err != nil {
			return err
		}
		printArticles(os.Stdout, res)

		if !withPosts {
			return nil
		}
		if len(res.Articles) == 0 {
			printWarning("No articles to write posts from")
			return nil
		}
		printStep("Generating posts...")
		posts, err := generatePosts(ctx, client, map[string]any{
			"articles":       res.Articles,
			"topic":          topic,
			"model":          model,
			"sessionId":      sid,
			"newsWorkflowId": res.WorkflowID,
		})
		if err != nil {
			return err
		}
		for _, platform := range []string{"linkedin", "x"} {
			if p, ok := posts.Posts[platform]; ok {
				printPost(os.Stdout, platform, p.ID, p.Content, p.CharCount)
			}
		}
		return nil
	},
}

func init() {
	newsFetchCmd.Flags().String("topic", "", "news topic (required)")
	newsFetchCmd.Flags().String("date", "", "date as YYYY-MM-DD (default today, UTC)")
	newsFetchCmd.Flags().Int("top", 0, "number of articles (default from server config)")
	newsFetchCmd.Flags().String("model", "", "preferred model")
	newsFetchCmd.Flags().String("session", os.Getenv("NEWSPOSTER_SESSION"), "session id (default $NEWSPOSTER_SESSION, or a new session)")
	newsFetchCmd.Flags().Bool("posts", false, "also generate LinkedIn and X posts")
	newsCmd.AddCommand(newsFetchCmd)
}

// resolveSession returns sid, or creates a new session when sid is empty.
func resolveSession(ctx context.Context, client *apiClient, sid string) (string, error) {
	if sid != "" {
		return sid, nil
	}
	resp, err := client.post(ctx, "/sessions", map[string]any{})
	if err != nil {
		return "", err
	}
	var sess struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(resp, &sess); err != nil {
		return "", err
	}
	printWarning("Created session %s; export NEWSPOSTER_SESSION=%s to reuse it", sess.ID, sess.ID)
	return sess.ID, nil
}

func fetchNews(ctx context.Context, client *apiClient, req map[string]any) (newsResult, error) {
	var res newsResult
	resp, err := client.post(ctx, "/news/fetch", req)
	if err != nil {
		return res, err
	}
	err = decodeJSON(resp, &res)
	return res, err
}

func generatePosts(ctx context.Context, client *apiClient, req map[string]any) (postsResult, error) {
	var res postsResult
	resp, err := client.post(ctx, "/posts/generate", req)
	if err != nil {
		return res, err
	}
	err = decodeJSON(resp, &res)
	return res, err
}

func printArticles(w io.Writer, res newsResult) {
	source := "fresh"
	if res.FromCache {
		source = "cache"
	}
	fmt.Fprintf(w, "%s  %d articles of %d found (%s, %s, %.1fs)\n",
		colorize(colorBold, "News"), len(res.Articles), res.TotalFound, res.ModelUsed, source, res.ProcessingTimeSeconds)
	for i, a := range res.Articles {
		fmt.Fprintf(w, "\n%s %s\n", colorize(colorCyan, fmt.Sprintf("%d.", i+1)), a.Title)
		fmt.Fprintf(w, "   %s (%s)\n", a.URL, a.Source)
		if a.Summary != "" {
			fmt.Fprintf(w, "   %s\n", a.Summary)
		}
	}
	fmt.Fprintf(w, "\nWorkflow %s, quota left: %d today, %d this month\n",
		res.WorkflowID, res.QuotaRemaining.Daily, res.QuotaRemaining.Monthly)
}

func printPost(w io.Writer, platform, id, content string, chars int) {
	fmt.Fprintf(w, "\n%s  %s (%d chars)\n%s\n", colorize(colorBold, platform), id, chars, content)
}

// --- posts ---

var postsCmd = &cobra.Command{
	Use:   "posts",
	Short: "Manage generated posts",
}

var postsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List posts for a session, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		sid, _ := cmd.Flags().GetString("session")
		platform, _ := cmd.Flags().GetString("platform")
		limit, _ := cmd.Flags().GetInt("limit")
		if sid == "" {
			return fmt.Errorf("--session is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		posts, err := listPosts(cmd.Context(), client, sid, platform, limit)
		if err != nil {
			return err
		}
		if len(posts) == 0 {
			fmt.Println("No posts found.")
			return nil
		}
		for _, p := range posts {
			fmt.Println(postLine(p))
		}
		return nil
	},
}

func listPosts(ctx context.Context, client *apiClient, sid, platform string, limit int) ([]savedPost, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(limit))
	if platform != "" {
		q.Set("platform", platform)
	}
	resp, err := client.get(ctx, "/posts/session/"+url.PathEscape(sid)+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var posts []savedPost
	err = decodeJSON(resp, &posts)
	return posts, err
}

func postLine(p savedPost) string {
	text := strings.Join(strings.Fields(p.Text()), " ")
	if utf8.RuneCountInString(text) > 70 {
		text = string([]rune(text)[:70]) + "..."
	}
	marker := " "
	if p.Edited {
		marker = "*"
	}
	id := p.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s %-8s %s  %s", colorize(colorCyan, id), p.Platform, marker, text)
}

var postsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		post, err := getPost(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(post)
	},
}

func getPost(ctx context.Context, client *apiClient, id string) (savedPost, error) {
	var post savedPost
	resp, err := client.get(ctx, "/posts/"+url.PathEscape(id))
	if err != nil {
		return post, err
	}
	err = decodeJSON(resp, &post)
	return post, err
}

var postsEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit a post's content (opens $EDITOR unless --content is given)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, _ := cmd.Flags().GetString("content")
		id := args[0]

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		if content == "" {
			post, err := getPost(ctx, client, id)
			if err != nil {
				return err
			}
			content, err = editInEditor(post.Text())
			if err != nil {
				return err
			}
		}

		resp, err := client.put(ctx, "/posts/"+url.PathEscape(id), map[string]string{"content": content})
		if err != nil {
			return err
		}
		var updated struct {
			EditedCharCount int `json:"editedCharCount"`
		}
		if err := decodeJSON(resp, &updated); err != nil {
			return err
		}
		printSuccess("Post %s updated (%d chars)", id, updated.EditedCharCount)
		return nil
	},
}

// editInEditor opens text in $EDITOR and returns the saved result.
func editInEditor(text string) (string, error) {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}

	tmpFile, err := os.CreateTemp("", "newsposter-post-*.txt")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.WriteString(text); err != nil {
		tmpFile.Close()
		return "", err
	}
	tmpFile.Close()

	editorCmd := exec.Command(editor, tmpPath)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr
	if err := editorCmd.Run(); err != nil {
		return "", fmt.Errorf("editor exited with error: %w", err)
	}

	edited, err := os.ReadFile(tmpPath)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(edited)), nil
}

var postsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/posts/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted post %s", args[0])
		return nil
	},
}

func init() {
	postsListCmd.Flags().String("session", os.Getenv("NEWSPOSTER_SESSION"), "session id (default $NEWSPOSTER_SESSION)")
	postsListCmd.Flags().String("platform", "", "filter by platform: linkedin or x")
	postsListCmd.Flags().Int("limit", 20, "maximum number of posts to list")
	postsEditCmd.Flags().String("content", "", "new content (skips the editor)")
	postsCmd.AddCommand(postsListCmd, postsShowCmd, postsEditCmd, postsDeleteCmd)
}

// --- session ---

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions",
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session",
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, _ := cmd.Flags().GetString("topic")
		model, _ := cmd.Flags().GetString("model")
		count, _ := cmd.Flags().GetInt("articles")
		platforms, _ := cmd.Flags().GetStringSlice("platforms")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/sessions", map[string]any{
			"preferences": map[string]any{
				"defaultTopic": topic,
				"defaultModel": model,
				"articleCount": count,
				"platforms":    platforms,
			},
		})
		if err != nil {
			return err
		}
		var sess struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &sess); err != nil {
			return err
		}
		fmt.Println(sess.ID)
		return nil
	},
}

var sessionQuotaCmd = &cobra.Command{
	Use:   "quota [id]",
	Short: "Show a session's request usage",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sid := os.Getenv("NEWSPOSTER_SESSION")
		if len(args) == 1 {
			sid = args[0]
		}
		if sid == "" {
			return fmt.Errorf("session id is required (argument or $NEWSPOSTER_SESSION)")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/sessions/"+url.PathEscape(sid)+"/quota")
		if err != nil {
			return err
		}
		var usage struct {
			DailyUsed    int `json:"dailyUsed"`
			DailyLimit   int `json:"dailyLimit"`
			MonthlyUsed  int `json:"monthlyUsed"`
			MonthlyLimit int `json:"monthlyLimit"`
		}
		if err := decodeJSON(resp, &usage); err != nil {
			return err
		}
		printStatus("Today", "%d/%d", usage.DailyUsed, usage.DailyLimit)
		printStatus("This month", "%d/%d", usage.MonthlyUsed, usage.MonthlyLimit)
		return nil
	},
}

func init() {
	sessionCreateCmd.Flags().String("topic", "", "default topic")
	sessionCreateCmd.Flags().String("model", "", "default model")
	sessionCreateCmd.Flags().Int("articles", 0, "default article count")
	sessionCreateCmd.Flags().StringSlice("platforms", nil, "default platforms (linkedin,x)")
	sessionCmd.AddCommand(sessionCreateCmd, sessionQuotaCmd)
}

// --- catalog ---

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List configured news topics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/news/topics")
		if err != nil {
			return err
		}
		var topics []struct {
			Name        string   `json:"name"`
			DisplayName string   `json:"displayName"`
			Keywords    []string `json:"keywords"`
		}
		if err := decodeJSON(resp, &topics); err != nil {
			return err
		}
		rows := make([][]string, 0, len(topics))
		for _, t := range topics {
			rows = append(rows, []string{t.Name, t.DisplayName, strings.Join(t.Keywords, ", ")})
		}
		return renderTable(os.Stdout, []string{"name", "display name", "keywords"}, rows)
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List LLM models and whether they are configured",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/news/models")
		if err != nil {
			return err
		}
		var res struct {
			Default string `json:"default"`
			Models  []modelInfo `json:"models"`
		}
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		return renderTable(os.Stdout, []string{"id", "name", "status", ""}, modelRows(res.Default, res.Models))
	},
}

type modelInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

func modelRows(defaultID string, models []modelInfo) [][]string {
	rows := make([][]string, 0, len(models))
	for _, m := range models {
		state := colorize(colorRed, "unavailable")
		if m.Available {
			state = colorize(colorGreen, "available")
		}
		def := ""
		if m.ID == defaultID {
			def = "default"
		}
		rows = append(rows, []string{m.ID, m.Name, state, def})
	}
	return rows
}

// --- cleanup ---

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge expired request history and cache rows now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if client.token == "" {
			return fmt.Errorf("NEWSPOSTER_ADMIN_TOKEN is required for cleanup")
		}
		resp, err := client.post(cmd.Context(), "/admin/cleanup", nil)
		if err != nil {
			return err
		}
		var rep struct {
			RequestsPurged int64 `json:"requestsPurged"`
			CachePurged    int64 `json:"cachePurged"`
		}
		if err := decodeJSON(resp, &rep); err != nil {
			return err
		}
		printSuccess("Purged %d requests and %d cached articles", rep.RequestsPurged, rep.CachePurged)
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		fmt.Printf("  %s\n", colorize(colorCyan, config.ConfigFilePath()))
		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value in the config file. Valid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
