package quota

import (
	"context"
	"time"

	"github.com/kalambet/newsposter/internal/storage"
)

// SQLStore keeps quota state as user_requests rows.
type SQLStore struct {
	db *storage.Store
}

func NewSQLStore(db *storage.Store) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Counts(ctx context.Context, sessionID string, now time.Time) (int, int, error) {
	daily, err := s.db.CountRequests(ctx, sessionID, DayStart(now))
	if err != nil {
		return 0, 0, err
	}
	monthly, err := s.db.CountRequests(ctx, sessionID, MonthStart(now))
	if err != nil {
		return 0, 0, err
	}
	return daily, monthly, nil
}

func (s *SQLStore) SeenFingerprint(ctx context.Context, fingerprint string, since time.Time) (bool, error) {
	return s.db.HasRequestHash(ctx, fingerprint, since)
}

func (s *SQLStore) Record(ctx context.Context, e Entry) error {
	return s.db.RecordRequest(ctx, storage.UserRequest{
		ID:            e.ID,
		SessionID:     e.SessionID,
		RequestType:   e.Kind,
		Topic:         e.Topic,
		DateRequested: e.Date,
		RequestHash:   e.Fingerprint,
		CreatedAt:     e.At,
	})
}
