// Package api exposes the news and post pipelines over HTTP and MCP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/newsposter/internal/janitor"
	"github.com/kalambet/newsposter/internal/llm"
	"github.com/kalambet/newsposter/internal/metrics"
	"github.com/kalambet/newsposter/internal/pipeline"
	"github.com/kalambet/newsposter/internal/quota"
	"github.com/kalambet/newsposter/internal/session"
	"github.com/kalambet/newsposter/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// ModelCatalog lists LLM models with their availability. Implemented by
// llm.Router.
type ModelCatalog interface {
	Catalog() []llm.ModelInfo
}

// Cleaner runs one purge pass. Implemented by janitor.Janitor.
type Cleaner interface {
	RunOnce(ctx context.Context) (janitor.Report, error)
}

// Deps holds dependencies for the HTTP API.
type Deps struct {
	Store    *storage.Store
	Pipeline *pipeline.Service
	Sessions *session.Manager
	Gate     *quota.Gate
	Models   ModelCatalog
	Janitor  Cleaner // optional; without it /admin/cleanup answers 503

	AdminToken     string
	CORSOrigins    []string
	TrustedHosts   []string
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// NewHandler returns the HTTP API router.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(deps.Logger))
	r.Use(corsHandler(deps.CORSOrigins))
	r.Use(trustedHosts(deps.TrustedHosts))

	r.Get("/health", handleHealth(deps))
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(requestTimeout(deps.RequestTimeout))

		r.Route("/news", func(r chi.Router) {
			r.Post("/fetch", handleFetchNews(deps))
			r.Get("/topics", handleTopics(deps))
			r.Get("/models", handleModels(deps))
		})

		r.Route("/posts", func(r chi.Router) {
			r.Post("/generate", handleGeneratePosts(deps))
			r.Get("/session/{sessionId}", handleListPosts(deps))
			r.Get("/{postId}", handleGetPost(deps))
			r.Put("/{postId}", handleEditPost(deps))
			r.Delete("/{postId}", handleDeletePost(deps))
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", handleCreateSession(deps))
			r.Get("/{id}", handleGetSession(deps))
			r.Get("/{id}/quota", handleSessionQuota(deps))
			r.Get("/{id}/history", handleSessionHistory(deps))
			r.Put("/{id}/preferences", handleUpdatePreferences(deps))
			r.Delete("/{id}", handleDeleteSession(deps))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(BearerAuth(deps.AdminToken))
			r.Post("/cleanup", handleCleanup(deps))
		})
	})

	return r
}

// requestTimeout bounds the request context. Pipelines observe the deadline
// and fail with a timeout error.
func requestTimeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func seconds(d time.Duration) float64 {
	return float64(d.Milliseconds()) / 1000
}
