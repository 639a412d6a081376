package offlinequeue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/terminal_sync/utils"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the list in one redis string. SET replaces it atomically.
type RedisStore struct {
	Client *redis.Client
	// Prefix namespaces keys per device, e.g. "offline_queue:<device>:".
	Prefix string
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := s.Client.Get(ctx, s.Prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	return s.Client.Set(ctx, s.Prefix+key, value, 0).Err()
}

type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string][]byte{}}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	return nil
}

// RedisGuard holds offline-queue-sync:<Name> in redis for the length of a
// Sync. It does not wait; a held lock means another process is syncing.
type RedisGuard struct {
	Locker *redislock.Client
	Name   string
	TTL    time.Duration
}

func (g *RedisGuard) Acquire(ctx context.Context) (func(), error) {
	ttl := g.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return utils.ObtainLock(ctx, g.Locker, "offline-queue-sync", g.Name, ttl, 0)
}
