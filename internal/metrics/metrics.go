// Package metrics provides Prometheus metrics for newsposter.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/newsposter/internal/apperr"
)

const namespace = "newsposter"

var (
	// HTTPRequestsTotal counts served HTTP requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration measures HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// StepsTotal counts pipeline step executions by outcome.
	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_steps_total",
			Help:      "Total number of workflow step executions",
		},
		[]string{"pipeline", "step", "status"},
	)

	// StepDuration measures pipeline step duration.
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_step_duration_seconds",
			Help:      "Duration of workflow steps in seconds",
			Buckets:   []float64{.005, .01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"pipeline", "step"},
	)

	// LLMCallsTotal counts provider calls by outcome.
	LLMCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Total number of LLM provider calls",
		},
		[]string{"provider", "status"},
	)

	// LLMCallDuration measures provider latency.
	LLMCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_call_duration_seconds",
			Help:      "Duration of LLM provider calls in seconds",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	// RejectionsTotal counts requests turned away by the quota gate.
	RejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_rejections_total",
			Help:      "Total number of requests rejected by quota or duplicate checks",
		},
		[]string{"reason"},
	)

	// CacheLookupsTotal counts news cache lookups.
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "news_cache_lookups_total",
			Help:      "Total number of news requests by cache result",
		},
		[]string{"result"},
	)

	// PostsGeneratedTotal counts generated posts by platform.
	PostsGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_generated_total",
			Help:      "Total number of generated posts",
		},
		[]string{"platform"},
	)

	// PurgedRowsTotal counts rows removed by the janitor.
	PurgedRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "janitor_purged_rows_total",
			Help:      "Total number of rows purged by the janitor",
		},
		[]string{"table"},
	)
)

func status(err error) string {
	if err == nil {
		return "ok"
	}
	return string(apperr.KindOf(err))
}

// ObserveStep records a workflow step. It matches workflow.Observer.
func ObserveStep(pipeline, step string, d time.Duration, err error) {
	StepsTotal.WithLabelValues(pipeline, step, status(err)).Inc()
	StepDuration.WithLabelValues(pipeline, step).Observe(d.Seconds())
}

// ObserveLLM records a provider call. It matches llm.Observer.
func ObserveLLM(provider string, d time.Duration, err error) {
	s := "ok"
	if err != nil {
		s = "error"
	}
	LLMCallsTotal.WithLabelValues(provider, s).Inc()
	LLMCallDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordHTTP records a served request. route is the matched route pattern.
func RecordHTTP(method, route string, code int, d time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordRejection counts a quota or duplicate rejection. Other errors are
// ignored.
func RecordRejection(err error) {
	switch k := apperr.KindOf(err); k {
	case apperr.KindQuotaExceeded, apperr.KindDuplicate:
		RejectionsTotal.WithLabelValues(string(k)).Inc()
	}
}

// RecordCacheLookup records whether a news request was served from cache.
func RecordCacheLookup(hit bool) {
	if hit {
		CacheLookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	CacheLookupsTotal.WithLabelValues("miss").Inc()
}

// RecordPost counts a generated post.
func RecordPost(platform string) {
	PostsGeneratedTotal.WithLabelValues(platform).Inc()
}

// RecordPurge counts rows removed from a table.
func RecordPurge(table string, n int64) {
	if n > 0 {
		PurgedRowsTotal.WithLabelValues(table).Add(float64(n))
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
