package api

import (
	"net/http"
	"time"

	"github.com/kalambet/newsposter/internal/apperr"
	"github.com/kalambet/newsposter/internal/metrics"
	"github.com/kalambet/newsposter/internal/news"
	"github.com/kalambet/newsposter/internal/pipeline"
	"github.com/kalambet/newsposter/internal/storage"
)

type fetchNewsRequest struct {
	Topic      string `json:"topic"`
	Date       string `json:"date"`
	TopN       int    `json:"topN"`
	Model      string `json:"model"`
	SessionID  string `json:"sessionId"`
	WorkflowID string `json:"workflowId,omitempty"`
}

type quotaRemaining struct {
	Daily   int `json:"daily"`
	Monthly int `json:"monthly"`
}

type fetchNewsResponse struct {
	Articles              []news.Article `json:"articles"`
	TotalFound            int            `json:"totalFound"`
	ProcessingTimeSeconds float64        `json:"processingTimeSeconds"`
	QuotaRemaining        quotaRemaining `json:"quotaRemaining"`
	WorkflowID            string         `json:"workflowId"`
	ModelUsed             string         `json:"modelUsed"`
	FromCache             bool           `json:"fromCache"`
}

func handleFetchNews(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		var req fetchNewsRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		st, err := deps.Pipeline.FetchNews(r.Context(), pipeline.NewsRequest{
			WorkflowID: req.WorkflowID,
			SessionID:  req.SessionID,
			Topic:      req.Topic,
			Date:       req.Date,
			TopN:       req.TopN,
			Model:      req.Model,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		metrics.RecordCacheLookup(st.FromCache)

		articles := st.Articles
		if articles == nil {
			articles = []news.Article{}
		}
		writeJSON(w, http.StatusOK, fetchNewsResponse{
			Articles:              articles,
			TotalFound:            st.TotalFound,
			ProcessingTimeSeconds: seconds(time.Since(start)),
			QuotaRemaining: quotaRemaining{
				Daily:   st.Usage.DailyRemaining,
				Monthly: st.Usage.MonthlyRemaining,
			},
			WorkflowID: st.WorkflowID,
			ModelUsed:  st.ModelUsed(),
			FromCache:  st.FromCache,
		})
	}
}

func handleTopics(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		topics, err := deps.Store.ListTopics(r.Context(), true)
		if err != nil {
			writeError(w, r, apperr.Database("list topics", err))
			return
		}
		if topics == nil {
			topics = []storage.TopicConfig{}
		}
		writeJSON(w, http.StatusOK, topics)
	}
}

func handleModels(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"models":  deps.Models.Catalog(),
			"default": deps.Pipeline.Settings().DefaultModel,
		})
	}
}
