package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/newsposter/internal/apperr"
	"github.com/kalambet/newsposter/internal/storage"
)

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingStore wraps a real store and counts reads.
type countingStore struct {
	*storage.Store
	mu   sync.Mutex
	gets int
}

func (s *countingStore) GetSession(ctx context.Context, id string) (storage.Session, error) {
	s.mu.Lock()
	s.gets++
	s.mu.Unlock()
	return s.Store.GetSession(ctx, id)
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *countingStore, *mockClock) {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clock := &mockClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	store := &countingStore{Store: db}
	return NewManager(store, append([]Option{WithClock(clock)}, opts...)...), store, clock
}

func TestValidID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"3f2b8c1e-7d4a-4b6e-9a1f-2c3d4e5f6a7b", true},
		{"3F2B8C1E-7D4A-4B6E-9A1F-2C3D4E5F6A7B", true},
		{"3f2b8c1e7d4a4b6e9a1f2c3d4e5f6a7b", false},
		{"3f2b8c1e-7d4a-0b6e-9a1f-2c3d4e5f6a7b", false},
		{"3f2b8c1e-7d4a-4b6e-1a1f-2c3d4e5f6a7b", false},
		{"not-a-uuid", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidID(tt.id); got != tt.want {
			t.Errorf("ValidID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestCreateAndGet(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Create(ctx, storage.Preferences{DefaultTopic: "AI", Platforms: []string{"x"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !ValidID(sess.ID) {
		t.Errorf("generated id %q is not a valid UUID", sess.ID)
	}

	got, err := m.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Preferences.DefaultTopic != "AI" {
		t.Errorf("DefaultTopic = %q", got.Preferences.DefaultTopic)
	}
	if store.gets != 0 {
		t.Errorf("Get after Create hit the store %d times, want cache hit", store.gets)
	}
}

func TestCreate_RejectsUnknownPlatform(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.Create(context.Background(), storage.Preferences{Platforms: []string{"myspace"}})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("err = %v, want validation error", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.Get(context.Background(), "3f2b8c1e-7d4a-4b6e-9a1f-2c3d4e5f6a7b")
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestEnsure_CreatesThenTouches(t *testing.T) {
	m, store, clock := newTestManager(t)
	ctx := context.Background()
	id := "3f2b8c1e-7d4a-4b6e-9a1f-2c3d4e5f6a7b"

	first, err := m.Ensure(ctx, id)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if first.ID != id {
		t.Errorf("ID = %q", first.ID)
	}

	clock.Advance(time.Hour)
	second, err := m.Ensure(ctx, id)
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if !second.LastActive.Equal(first.LastActive.Add(time.Hour)) {
		t.Errorf("LastActive = %v, want %v", second.LastActive, first.LastActive.Add(time.Hour))
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed: %v -> %v", first.CreatedAt, second.CreatedAt)
	}

	stored, err := store.Store.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !stored.LastActive.Equal(second.LastActive) {
		t.Errorf("stored LastActive = %v, want %v", stored.LastActive, second.LastActive)
	}
}

func TestEnsure_RejectsInvalidID(t *testing.T) {
	m, _, _ := newTestManager(t)
	for _, id := range []string{"", "abc"} {
		if _, err := m.Ensure(context.Background(), id); !apperr.Is(err, apperr.KindValidation) {
			t.Errorf("Ensure(%q) err = %v, want validation error", id, err)
		}
	}
}

func TestUpdatePreferences_InvalidatesCache(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Create(ctx, storage.Preferences{DefaultTopic: "AI"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	updated, err := m.UpdatePreferences(ctx, sess.ID, storage.Preferences{DefaultTopic: "Finance", ArticleCount: 3})
	if err != nil {
		t.Fatalf("UpdatePreferences: %v", err)
	}
	if updated.Preferences.DefaultTopic != "Finance" || updated.Preferences.ArticleCount != 3 {
		t.Errorf("preferences = %+v", updated.Preferences)
	}

	got, _ := m.Get(ctx, sess.ID)
	if got.Preferences.DefaultTopic != "Finance" {
		t.Errorf("cached DefaultTopic = %q, want Finance", got.Preferences.DefaultTopic)
	}
}

func TestCacheExpires(t *testing.T) {
	m, store, _ := newTestManager(t, WithCache(16, 20*time.Millisecond))
	ctx := context.Background()

	sess, err := m.Create(ctx, storage.Preferences{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := m.Get(ctx, sess.ID); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if store.gets != 1 {
		t.Errorf("store reads = %d, want 1 after cache expiry", store.gets)
	}
}

func TestDelete(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	sess, _ := m.Create(ctx, storage.Preferences{})
	if err := m.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Get(ctx, sess.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("Get after delete err = %v, want not found", err)
	}
	if err := m.Delete(ctx, sess.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("second Delete err = %v, want not found", err)
	}
}

func TestReturnedSessionIsACopy(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	sess, _ := m.Create(ctx, storage.Preferences{Platforms: []string{"linkedin"}})
	sess.Preferences.Platforms[0] = "x"

	got, _ := m.Get(ctx, sess.ID)
	if got.Preferences.Platforms[0] != "linkedin" {
		t.Errorf("cached session mutated through returned copy: %v", got.Preferences.Platforms)
	}
}
