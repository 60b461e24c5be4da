package api

import (
	"context"
	"net/http"
	"time"
)

const healthTimeout = 2 * time.Second

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		if err := deps.Store.Ping(ctx); err != nil {
			deps.Logger.Error("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":   "degraded",
				"database": "unreachable",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":   "ok",
			"database": "ok",
		})
	}
}

func handleCleanup(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Janitor == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "janitor is not configured")
			return
		}
		rep, err := deps.Janitor.RunOnce(r.Context())
		if err != nil {
			deps.Logger.Error("cleanup failed", "error", err)
			writeErrorBody(w, http.StatusInternalServerError, "cleanup_error", "cleanup finished with errors", map[string]any{
				"requestsPurged": rep.RequestsPurged,
				"cachePurged":    rep.CachePurged,
			})
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}
