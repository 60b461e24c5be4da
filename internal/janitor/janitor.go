// Package janitor purges expired request history and news cache rows on a
// cron schedule.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kalambet/newsposter/internal/metrics"
)

// Monthly quota counters read request rows back to the start of the UTC
// month, so history is never purged sooner than this.
const minRequestRetention = 32 * 24 * time.Hour

const runTimeout = 5 * time.Minute

// Store abstracts the purge operations. Implemented by storage.Store.
type Store interface {
	PurgeRequests(ctx context.Context, before time.Time) (int64, error)
	PurgeCache(ctx context.Context, before time.Time) (int64, error)
}

// Report summarizes one janitor run.
type Report struct {
	RequestsPurged int64     `json:"requestsPurged"`
	CachePurged    int64     `json:"cachePurged"`
	RanAt          time.Time `json:"ranAt"`
	DurationMs     int64     `json:"durationMs"`
}

type Option func(*Janitor)

func WithClock(now func() time.Time) Option {
	return func(j *Janitor) { j.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(j *Janitor) { j.logger = l }
}

// Janitor runs purges. Runs never overlap.
type Janitor struct {
	store            Store
	requestRetention time.Duration
	cacheTTL         time.Duration
	now              func() time.Time
	logger           *slog.Logger

	runMu sync.Mutex

	mu   sync.Mutex
	cron *cron.Cron
}

// New creates a Janitor. Request history older than requestRetention and
// cache rows older than cacheTTL are removed on each run.
func New(store Store, requestRetention, cacheTTL time.Duration, opts ...Option) *Janitor {
	j := &Janitor{
		store:            store,
		requestRetention: max(requestRetention, minRequestRetention),
		cacheTTL:         cacheTTL,
		now:              time.Now,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// RunOnce performs a single purge pass. Both purges are attempted even when
// the first fails.
func (j *Janitor) RunOnce(ctx context.Context) (Report, error) {
	j.runMu.Lock()
	defer j.runMu.Unlock()

	start := time.Now()
	now := j.now().UTC()
	rep := Report{RanAt: now}
	var errs []error

	n, err := j.store.PurgeRequests(ctx, now.Add(-j.requestRetention))
	if err != nil {
		errs = append(errs, fmt.Errorf("purging requests: %w", err))
	}
	rep.RequestsPurged = n
	metrics.RecordPurge("user_requests", n)

	if j.cacheTTL > 0 {
		n, err = j.store.PurgeCache(ctx, now.Add(-j.cacheTTL))
		if err != nil {
			errs = append(errs, fmt.Errorf("purging news cache: %w", err))
		}
		rep.CachePurged = n
		metrics.RecordPurge("news_cache", n)
	}

	rep.DurationMs = time.Since(start).Milliseconds()
	if err := errors.Join(errs...); err != nil {
		j.logger.Error("janitor run failed", "error", err, "duration_ms", rep.DurationMs)
		return rep, err
	}
	j.logger.Info("janitor run completed",
		"requests_purged", rep.RequestsPurged, "cache_purged", rep.CachePurged, "duration_ms", rep.DurationMs)
	return rep, nil
}

// Start schedules RunOnce with a cron spec such as "@every 1h" or "0 3 * * *".
func (j *Janitor) Start(schedule string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cron != nil {
		return errors.New("janitor already started")
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		j.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}
	c.Start()
	j.cron = c
	j.logger.Info("janitor scheduled", "schedule", schedule)
	return nil
}

// Stop halts the schedule and waits for a running purge to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// ValidSchedule reports whether spec parses as a cron schedule.
func ValidSchedule(spec string) error {
	_, err := cron.ParseStandard(spec)
	return err
}
