package quota

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps quota counters as INCR keys that expire after their
// period, and fingerprints as keys holding the admission time.
type RedisStore struct {
	client *redis.Client
	prefix string
	fpTTL  time.Duration
}

// NewRedisStore creates a store on addr. Fingerprint keys live for fpTTL,
// which should be at least the dedup window.
func NewRedisStore(addr string, fpTTL time.Duration) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	return NewRedisStoreWithClient(client, fpTTL)
}

func NewRedisStoreWithClient(client *redis.Client, fpTTL time.Duration) *RedisStore {
	if fpTTL <= 0 {
		fpTTL = time.Hour
	}
	return &RedisStore{client: client, prefix: "newsposter:quota", fpTTL: fpTTL}
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) dayKey(sessionID string, t time.Time) string {
	return s.prefix + ":day:" + sessionID + ":" + t.UTC().Format("20060102")
}

func (s *RedisStore) monthKey(sessionID string, t time.Time) string {
	return s.prefix + ":month:" + sessionID + ":" + t.UTC().Format("200601")
}

func (s *RedisStore) fpKey(fingerprint string) string {
	return s.prefix + ":fp:" + fingerprint
}

func (s *RedisStore) Counts(ctx context.Context, sessionID string, now time.Time) (int, int, error) {
	vals, err := s.client.MGet(ctx, s.dayKey(sessionID, now), s.monthKey(sessionID, now)).Result()
	if err != nil {
		return 0, 0, err
	}
	daily, err := counter(vals[0])
	if err != nil {
		return 0, 0, err
	}
	monthly, err := counter(vals[1])
	if err != nil {
		return 0, 0, err
	}
	return daily, monthly, nil
}

func counter(v any) (int, error) {
	if v == nil {
		return 0, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, errors.New("unexpected counter value type")
	}
	return strconv.Atoi(s)
}

func (s *RedisStore) SeenFingerprint(ctx context.Context, fingerprint string, since time.Time) (bool, error) {
	raw, err := s.client.Get(ctx, s.fpKey(fingerprint)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	at, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, err
	}
	return at >= since.UnixNano(), nil
}

func (s *RedisStore) Record(ctx context.Context, e Entry) error {
	dayKey := s.dayKey(e.SessionID, e.At)
	monthKey := s.monthKey(e.SessionID, e.At)
	dayEnd := DayStart(e.At).AddDate(0, 0, 1)
	monthEnd := MonthStart(e.At).AddDate(0, 1, 0)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, dayKey)
		pipe.ExpireAt(ctx, dayKey, dayEnd.Add(time.Hour))
		pipe.Incr(ctx, monthKey)
		pipe.ExpireAt(ctx, monthKey, monthEnd.Add(time.Hour))
		pipe.Set(ctx, s.fpKey(e.Fingerprint), strconv.FormatInt(e.At.UnixNano(), 10), s.fpTTL)
		return nil
	})
	return err
}
