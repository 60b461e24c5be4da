// Package session tracks anonymous client sessions and their preferences.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kalambet/newsposter/internal/apperr"
	"github.com/kalambet/newsposter/internal/storage"
)

const (
	defaultCacheSize = 1024
	defaultCacheTTL  = 5 * time.Minute
)

// Store defines the storage operations the Manager needs.
// Implemented by storage.Store.
type Store interface {
	CreateSession(ctx context.Context, sess storage.Session) error
	GetSession(ctx context.Context, id string) (storage.Session, error)
	TouchSession(ctx context.Context, id string, at time.Time) error
	UpdatePreferences(ctx context.Context, id string, prefs storage.Preferences) error
	DeleteSession(ctx context.Context, id string) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Option func(*Manager)

func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithCache sets the size and TTL of the in-memory session cache.
func WithCache(size int, ttl time.Duration) Option {
	return func(m *Manager) {
		m.cacheSize = size
		m.cacheTTL = ttl
	}
}

// Manager provides cached access to sessions stored in SQLite.
type Manager struct {
	store     Store
	clock     Clock
	logger    *slog.Logger
	cacheSize int
	cacheTTL  time.Duration
	cache     *expirable.LRU[string, storage.Session]
}

func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		clock:     realClock{},
		logger:    slog.Default(),
		cacheSize: defaultCacheSize,
		cacheTTL:  defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cache = expirable.NewLRU[string, storage.Session](m.cacheSize, nil, m.cacheTTL)
	return m
}

// ValidID reports whether id is a canonical RFC 4122 UUID of version 1-5.
func ValidID(id string) bool {
	if len(id) != 36 {
		return false
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return false
	}
	return u.Variant() == uuid.RFC4122 && u.Version() >= 1 && u.Version() <= 5
}

// CheckID returns a validation error unless id is a valid session id.
func CheckID(id string) error {
	if id == "" {
		return apperr.Validation("sessionId", id, "session id is required")
	}
	if !ValidID(id) {
		return apperr.Validation("sessionId", id, "session id must be a valid UUID")
	}
	return nil
}

// Create starts a new session with the given preferences.
func (m *Manager) Create(ctx context.Context, prefs storage.Preferences) (storage.Session, error) {
	if err := CheckPreferences(prefs); err != nil {
		return storage.Session{}, err
	}
	now := m.clock.Now().UTC()
	sess := storage.Session{
		ID:          uuid.NewString(),
		CreatedAt:   now,
		LastActive:  now,
		Preferences: prefs,
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return storage.Session{}, apperr.Database("create session", err)
	}
	m.cache.Add(sess.ID, sess)
	m.logger.Debug("session created", "session_id", sess.ID)
	return clone(sess), nil
}

// Get returns a session, reading through the cache.
func (m *Manager) Get(ctx context.Context, id string) (storage.Session, error) {
	if sess, ok := m.cache.Get(id); ok {
		return clone(sess), nil
	}
	sess, err := m.store.GetSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Session{}, apperr.NotFound("session", id)
	}
	if err != nil {
		return storage.Session{}, apperr.Database("get session", err)
	}
	m.cache.Add(id, sess)
	return clone(sess), nil
}

// Ensure returns the session with id, creating it when it does not exist yet,
// and marks it active. Clients may pick their own session id as long as it is
// a valid UUID.
func (m *Manager) Ensure(ctx context.Context, id string) (storage.Session, error) {
	if err := CheckID(id); err != nil {
		return storage.Session{}, err
	}
	now := m.clock.Now().UTC()

	sess, err := m.Get(ctx, id)
	if apperr.Is(err, apperr.KindNotFound) {
		sess = storage.Session{ID: id, CreatedAt: now, LastActive: now}
		if err := m.store.CreateSession(ctx, sess); err != nil {
			// A concurrent request may have created it first.
			existing, gerr := m.store.GetSession(ctx, id)
			if gerr != nil {
				return storage.Session{}, apperr.Database("create session", err)
			}
			sess = existing
		}
		m.cache.Add(id, sess)
		m.logger.Debug("session created on first use", "session_id", id)
		return clone(sess), nil
	}
	if err != nil {
		return storage.Session{}, err
	}

	if err := m.store.TouchSession(ctx, id, now); err != nil {
		return storage.Session{}, apperr.Database("touch session", err)
	}
	sess.LastActive = now
	m.cache.Add(id, sess)
	return clone(sess), nil
}

// UpdatePreferences replaces the session's preferences.
func (m *Manager) UpdatePreferences(ctx context.Context, id string, prefs storage.Preferences) (storage.Session, error) {
	if err := CheckPreferences(prefs); err != nil {
		return storage.Session{}, err
	}
	err := m.store.UpdatePreferences(ctx, id, prefs)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Session{}, apperr.NotFound("session", id)
	}
	if err != nil {
		return storage.Session{}, apperr.Database("update preferences", err)
	}
	m.cache.Remove(id)
	return m.Get(ctx, id)
}

// Delete removes a session together with its posts and requests.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.cache.Remove(id)
	err := m.store.DeleteSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("session", id)
	}
	if err != nil {
		return apperr.Database("delete session", err)
	}
	return nil
}

// CheckPreferences validates user-supplied preferences.
func CheckPreferences(p storage.Preferences) error {
	if p.ArticleCount < 0 {
		return apperr.Validation("articleCount", p.ArticleCount, "must not be negative")
	}
	for _, pl := range p.Platforms {
		if pl != storage.PlatformLinkedIn && pl != storage.PlatformX {
			return apperr.Validation("platforms", pl, fmt.Sprintf("must be %q or %q", storage.PlatformLinkedIn, storage.PlatformX))
		}
	}
	return nil
}

func clone(s storage.Session) storage.Session {
	s.Preferences.Platforms = slices.Clone(s.Preferences.Platforms)
	return s
}
