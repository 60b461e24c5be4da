// Package quota enforces per-session request ceilings and rejects repeated
// requests for the same topic and date.
package quota

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/newsposter/internal/apperr"
)

// Request is a pipeline request asking for admission.
type Request struct {
	SessionID string
	Topic     string
	Date      string
	Kind      string
}

// Entry is what a Store records for an admitted request.
type Entry struct {
	ID          string
	SessionID   string
	Kind        string
	Topic       string
	Date        string
	Fingerprint string
	At          time.Time
}

// Usage is a session's position against its limits.
type Usage struct {
	DailyUsed        int `json:"dailyUsed"`
	DailyLimit       int `json:"dailyLimit"`
	MonthlyUsed      int `json:"monthlyUsed"`
	MonthlyLimit     int `json:"monthlyLimit"`
	DailyRemaining   int `json:"dailyRemaining"`
	MonthlyRemaining int `json:"monthlyRemaining"`
}

// Store persists admitted requests. Counts returns requests since the start
// of now's UTC day and UTC month.
type Store interface {
	Counts(ctx context.Context, sessionID string, now time.Time) (daily, monthly int, err error)
	SeenFingerprint(ctx context.Context, fingerprint string, since time.Time) (bool, error)
	Record(ctx context.Context, e Entry) error
}

type Limits struct {
	Daily       int
	Monthly     int
	DedupWindow time.Duration
}

// Clock abstracts time for testing.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Option func(*Gate)

func WithClock(c Clock) Option {
	return func(g *Gate) { g.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// Gate admits or rejects requests. Check-then-record is serialized per session.
type Gate struct {
	store  Store
	limits Limits
	clock  Clock
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func NewGate(store Store, limits Limits, opts ...Option) *Gate {
	g := &Gate{
		store:  store,
		limits: limits,
		clock:  realClock{},
		logger: slog.Default(),
		locks:  make(map[string]*sessionLock),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) Limits() Limits { return g.limits }

// NormalizeTopic lowercases the topic and collapses whitespace.
func NormalizeTopic(topic string) string {
	return strings.Join(strings.Fields(strings.ToLower(topic)), " ")
}

// Fingerprint identifies a request for duplicate detection.
func Fingerprint(sessionID, topic, date string) string {
	sum := sha256.Sum256([]byte(sessionID + "|" + NormalizeTopic(topic) + "|" + date))
	return hex.EncodeToString(sum[:])
}

// Admit checks the duplicate window and the daily and monthly ceilings, and
// records the request only when it passes both. The returned usage includes
// the admitted request.
func (g *Gate) Admit(ctx context.Context, req Request) (Usage, error) {
	unlock := g.lock(req.SessionID)
	defer unlock()

	now := g.clock.Now().UTC()
	fp := Fingerprint(req.SessionID, req.Topic, req.Date)

	if w := g.limits.DedupWindow; w > 0 {
		seen, err := g.store.SeenFingerprint(ctx, fp, now.Add(-w))
		if err != nil {
			return Usage{}, apperr.Database("check_duplicate", err).With("sessionId", req.SessionID)
		}
		if seen {
			g.logger.Info("duplicate request rejected", "session_id", req.SessionID, "topic", req.Topic, "date", req.Date)
			return Usage{}, apperr.Duplicate(fp, w).With("sessionId", req.SessionID)
		}
	}

	daily, monthly, err := g.store.Counts(ctx, req.SessionID, now)
	if err != nil {
		return Usage{}, apperr.Database("count_requests", err).With("sessionId", req.SessionID)
	}
	usage := g.usage(daily, monthly)

	if daily >= g.limits.Daily {
		return usage, apperr.QuotaExceeded("daily", daily, g.limits.Daily).With("sessionId", req.SessionID)
	}
	if monthly >= g.limits.Monthly {
		return usage, apperr.QuotaExceeded("monthly", monthly, g.limits.Monthly).With("sessionId", req.SessionID)
	}

	entry := Entry{
		ID:          uuid.NewString(),
		SessionID:   req.SessionID,
		Kind:        req.Kind,
		Topic:       NormalizeTopic(req.Topic),
		Date:        req.Date,
		Fingerprint: fp,
		At:          now,
	}
	if err := g.store.Record(ctx, entry); err != nil {
		return usage, apperr.Database("record_request", err).With("sessionId", req.SessionID)
	}

	return g.usage(daily+1, monthly+1), nil
}

// Usage reports current usage without admitting anything.
func (g *Gate) Usage(ctx context.Context, sessionID string) (Usage, error) {
	daily, monthly, err := g.store.Counts(ctx, sessionID, g.clock.Now().UTC())
	if err != nil {
		return Usage{}, apperr.Database("count_requests", err).With("sessionId", sessionID)
	}
	return g.usage(daily, monthly), nil
}

func (g *Gate) usage(daily, monthly int) Usage {
	return Usage{
		DailyUsed:        daily,
		DailyLimit:       g.limits.Daily,
		MonthlyUsed:      monthly,
		MonthlyLimit:     g.limits.Monthly,
		DailyRemaining:   max(g.limits.Daily-daily, 0),
		MonthlyRemaining: max(g.limits.Monthly-monthly, 0),
	}
}

func (g *Gate) lock(sessionID string) func() {
	g.mu.Lock()
	l, ok := g.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		g.locks[sessionID] = l
	}
	l.refs++
	g.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		g.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(g.locks, sessionID)
		}
		g.mu.Unlock()
	}
}

// DayStart returns the start of t's UTC day.
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// MonthStart returns the start of t's UTC month.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
