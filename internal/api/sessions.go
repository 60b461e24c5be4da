package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/newsposter/internal/apperr"
	"github.com/kalambet/newsposter/internal/session"
	"github.com/kalambet/newsposter/internal/storage"
)

func handleCreateSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Preferences storage.Preferences `json:"preferences"`
		}
		if err := decodeOptionalBody(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		sess, err := deps.Sessions.Create(r.Context(), req.Preferences)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, sess)
	}
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := session.CheckID(id); err != nil {
			writeError(w, r, err)
			return
		}
		sess, err := deps.Sessions.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

func handleSessionQuota(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := session.CheckID(id); err != nil {
			writeError(w, r, err)
			return
		}
		usage, err := deps.Gate.Usage(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, usage)
	}
}

func handleSessionHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := session.CheckID(id); err != nil {
			writeError(w, r, err)
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		history, err := deps.Store.ListRequests(r.Context(), id, limit, offset)
		if err != nil {
			writeError(w, r, apperr.Database("list requests", err))
			return
		}
		writeJSON(w, http.StatusOK, history)
	}
}

func handleUpdatePreferences(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := session.CheckID(id); err != nil {
			writeError(w, r, err)
			return
		}
		var prefs storage.Preferences
		if err := decodeBody(w, r, &prefs); err != nil {
			writeError(w, r, err)
			return
		}
		sess, err := deps.Sessions.UpdatePreferences(r.Context(), id, prefs)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

func handleDeleteSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := session.CheckID(id); err != nil {
			writeError(w, r, err)
			return
		}
		if err := deps.Sessions.Delete(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}
