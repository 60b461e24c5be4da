package api

import (
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"

	"github.com/kalambet/newsposter/internal/apperr"
	"github.com/kalambet/newsposter/internal/metrics"
	"github.com/kalambet/newsposter/internal/news"
	"github.com/kalambet/newsposter/internal/pipeline"
	"github.com/kalambet/newsposter/internal/session"
	"github.com/kalambet/newsposter/internal/social"
	"github.com/kalambet/newsposter/internal/storage"
)

// Edited content is plain text; any markup is stripped.
var editPolicy = bluemonday.StrictPolicy()

type generatePostsRequest struct {
	Articles       []news.Article `json:"articles"`
	Topic          string         `json:"topic"`
	Model          string         `json:"model"`
	SessionID      string         `json:"sessionId"`
	NewsWorkflowID string         `json:"newsWorkflowId"`
	WorkflowID     string         `json:"workflowId,omitempty"`
	Platforms      []string       `json:"platforms,omitempty"`
}

type postBody struct {
	ID        string   `json:"id"`
	Content   string   `json:"content"`
	CharCount int      `json:"charCount"`
	Hashtags  []string `json:"hashtags"`
}

type generatePostsResponse struct {
	WorkflowID            string              `json:"workflowId"`
	ProcessingTimeSeconds float64             `json:"processingTimeSeconds"`
	ModelUsed             string              `json:"modelUsed"`
	Posts                 map[string]postBody `json:"posts"`
}

func handleGeneratePosts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		var req generatePostsRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		st, err := deps.Pipeline.GeneratePosts(r.Context(), pipeline.PostRequest{
			WorkflowID:     req.WorkflowID,
			NewsWorkflowID: req.NewsWorkflowID,
			SessionID:      req.SessionID,
			Topic:          req.Topic,
			Model:          req.Model,
			Articles:       req.Articles,
			Platforms:      req.Platforms,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}

		resp := generatePostsResponse{
			WorkflowID:            st.WorkflowID,
			ProcessingTimeSeconds: seconds(time.Since(start)),
			ModelUsed:             st.ModelUsed(),
			Posts:                 make(map[string]postBody, len(st.Saved)),
		}
		for _, p := range st.Saved {
			resp.Posts[p.Platform] = postBody{
				ID:        p.ID,
				Content:   p.Content,
				CharCount: p.CharCount,
				Hashtags:  p.Hashtags,
			}
			metrics.RecordPost(p.Platform)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleGetPost(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "postId")
		post, err := deps.Store.GetPost(r.Context(), id)
		if err != nil {
			writeError(w, r, storeError(err, "get post", "post", id))
			return
		}
		writeJSON(w, http.StatusOK, post)
	}
}

type editPostRequest struct {
	Content string `json:"content"`
}

func handleEditPost(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "postId")
		var req editPostRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		post, err := deps.Store.GetPost(r.Context(), id)
		if err != nil {
			writeError(w, r, storeError(err, "get post", "post", id))
			return
		}

		content := sanitizeEdit(req.Content)
		if content == "" {
			writeError(w, r, apperr.Validation("content", req.Content, "must not be empty"))
			return
		}
		n := social.CharCount(content)
		if limit := platformLimit(post.Platform); n > limit {
			writeError(w, r, apperr.Validation("content", n, fmt.Sprintf("exceeds the %s limit of %d characters", post.Platform, limit)))
			return
		}

		updated, err := deps.Store.UpdatePostContent(r.Context(), id, content, n, time.Now().UTC())
		if err != nil {
			writeError(w, r, storeError(err, "update post", "post", id))
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func handleDeletePost(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "postId")
		if err := deps.Store.DeletePost(r.Context(), id); err != nil {
			writeError(w, r, storeError(err, "delete post", "post", id))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleListPosts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid := chi.URLParam(r, "sessionId")
		if err := session.CheckID(sid); err != nil {
			writeError(w, r, err)
			return
		}
		platform := r.URL.Query().Get("platform")
		if platform != "" && platform != storage.PlatformLinkedIn && platform != storage.PlatformX {
			writeError(w, r, apperr.Validation("platform", platform, fmt.Sprintf("must be %q or %q", storage.PlatformLinkedIn, storage.PlatformX)))
			return
		}

		posts, err := deps.Store.ListPosts(r.Context(), storage.PostFilter{
			SessionID: sid,
			Platform:  platform,
			Limit:     parseIntParam(r, "limit", 20, 100),
			Offset:    parseIntParam(r, "offset", 0, 0),
		})
		if err != nil {
			writeError(w, r, apperr.Database("list posts", err))
			return
		}
		if posts == nil {
			posts = []storage.GeneratedPost{}
		}
		writeJSON(w, http.StatusOK, posts)
	}
}

// sanitizeEdit strips markup from user-edited content and trims it.
func sanitizeEdit(s string) string {
	return strings.TrimSpace(html.UnescapeString(editPolicy.Sanitize(s)))
}

func platformLimit(platform string) int {
	if platform == storage.PlatformX {
		return social.XLimit
	}
	return social.LinkedInLimit
}

// storeError maps storage.ErrNotFound to a not-found error and anything else
// to a database error.
func storeError(err error, op, resource, id string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound(resource, id)
	}
	return apperr.Database(op, err)
}
