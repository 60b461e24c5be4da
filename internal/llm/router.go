package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kalambet/newsposter/internal/apperr"
)

// Attempt records one provider try inside Router.Complete.
type Attempt struct {
	Provider   string `json:"provider"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

// NotConfigured is the attempt error recorded for a provider without an API key.
const NotConfigured = "not configured"

// Calls counts the attempts that reached a provider.
func Calls(attempts []Attempt) int {
	n := 0
	for _, a := range attempts {
		if a.Error != NotConfigured {
			n++
		}
	}
	return n
}

// Result is a routed completion.
type Result struct {
	Text     string
	Provider string
	Attempts []Attempt
}

// Observer is notified after every provider attempt.
type Observer func(provider string, d time.Duration, err error)

type RouterOption func(*Router)

// WithMinInterval sets the minimum spacing between calls to one provider.
func WithMinInterval(d time.Duration) RouterOption {
	return func(r *Router) { r.interval = d }
}

func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

func WithAttemptObserver(fn Observer) RouterOption {
	return func(r *Router) { r.observe = fn }
}

// Router tries the preferred model first and then the remaining models in
// DefaultOrder until one succeeds.
type Router struct {
	providers map[string]Provider
	order     []string
	interval  time.Duration
	logger    *slog.Logger
	observe   Observer

	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewRouter builds a router over the configured providers. Models in
// DefaultOrder without a provider are reported as unavailable.
func NewRouter(providers []Provider, opts ...RouterOption) *Router {
	r := &Router{
		providers: make(map[string]Provider, len(providers)),
		order:     DefaultOrder,
		logger:    slog.Default(),
		limiters:  make(map[string]*rate.Limiter),
	}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Available reports whether model has a configured provider.
func (r *Router) Available(model string) bool {
	_, ok := r.providers[model]
	return ok
}

// Catalog lists every known model with its availability.
func (r *Router) Catalog() []ModelInfo {
	out := make([]ModelInfo, len(catalog))
	for i, m := range catalog {
		m.Available = r.Available(m.ID)
		out[i] = m
	}
	return out
}

// DefaultModel returns preferred when it is available, otherwise the first
// available model in priority order, otherwise preferred unchanged.
func (r *Router) DefaultModel(preferred string) string {
	if r.Available(preferred) {
		return preferred
	}
	for _, id := range r.order {
		if r.Available(id) {
			return id
		}
	}
	return preferred
}

func (r *Router) sequence(preferred string) []string {
	seq := make([]string, 0, len(r.order)+1)
	if preferred != "" {
		seq = append(seq, preferred)
	}
	for _, id := range r.order {
		if id != preferred {
			seq = append(seq, id)
		}
	}
	return seq
}

// Complete runs req against the preferred model, falling back through the
// priority order. When every provider fails it returns an LLMProvider error
// listing the attempted providers.
func (r *Router) Complete(ctx context.Context, preferred string, req Request) (Result, error) {
	var (
		res           Result
		attempted     = []string{}
		notConfigured []string
		errs          []error
	)

	for _, id := range r.sequence(preferred) {
		p, ok := r.providers[id]
		if !ok {
			res.Attempts = append(res.Attempts, Attempt{Provider: id, Error: NotConfigured})
			notConfigured = append(notConfigured, id)
			continue
		}
		attempted = append(attempted, id)

		start := time.Now()
		text, err := r.call(ctx, p, req)
		d := time.Since(start)
		if r.observe != nil {
			r.observe(id, d, err)
		}

		a := Attempt{Provider: id, DurationMs: d.Milliseconds()}
		if err == nil {
			res.Attempts = append(res.Attempts, a)
			res.Text = text
			res.Provider = id
			return res, nil
		}

		a.Error = err.Error()
		res.Attempts = append(res.Attempts, a)
		errs = append(errs, fmt.Errorf("%s: %w", id, err))

		if ctx.Err() != nil {
			return res, apperr.Timeout(ctx.Err()).With("providers", attempted)
		}
		r.logger.Warn("llm provider failed, trying next", "provider", id, "duration_ms", d.Milliseconds(), "error", err)
	}

	if len(errs) == 0 {
		errs = append(errs, fmt.Errorf("no provider configured for %s", strings.Join(notConfigured, ", ")))
	}
	return res, apperr.LLMProvider(attempted, errors.Join(errs...)).With("not_configured", notConfigured)
}

func (r *Router) call(ctx context.Context, p Provider, req Request) (string, error) {
	if r.interval > 0 {
		if err := r.limiter(p.Name()).Wait(ctx); err != nil {
			return "", err
		}
	}
	return p.Complete(ctx, req)
}

func (r *Router) limiter(name string) *rate.Limiter {
	r.mu.RLock()
	l, ok := r.limiters[name]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[name]; ok {
		return l
	}
	l = rate.NewLimiter(rate.Every(r.interval), 1)
	r.limiters[name] = l
	return l
}
