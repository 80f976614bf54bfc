package containment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisFlagStore keeps the fleet-wide lock flag in Redis so that every
// node sees a containment raised on any of them.
type RedisFlagStore struct {
	client *redis.Client
	key    string
}

// NewRedisFlagStore connects to Redis at addr and stores the flag under
// key (defaulting to "meshplane:lockdown" when empty).
func NewRedisFlagStore(addr, password string, db int, key string) *RedisFlagStore {
	if key == "" {
		key = "meshplane:lockdown"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisFlagStore{client: rdb, key: key}
}

// Set raises or clears the shared lock flag. The flag carries no TTL:
// lockdown never expires on its own.
func (s *RedisFlagStore) Set(ctx context.Context, locked bool) error {
	var err error
	if locked {
		err = s.client.Set(ctx, s.key, "1", 0).Err()
	} else {
		err = s.client.Del(ctx, s.key).Err()
	}
	if err != nil {
		return fmt.Errorf("redis flag store: %w", err)
	}
	return nil
}

// Locked reports whether the shared lock flag is raised.
func (s *RedisFlagStore) Locked(ctx context.Context) (bool, error) {
	_, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis flag store: %w", err)
	}
	return true, nil
}

// Close releases the underlying client.
func (s *RedisFlagStore) Close() error {
	return s.client.Close()
}

// MemoryFlagStore is an in-process flag store for single-node
// deployments and tests.
type MemoryFlagStore struct {
	mu     sync.Mutex
	locked bool

	// FailSets, when non-nil, is returned from Set to exercise
	// propagation-failure paths.
	FailSets error
}

func NewMemoryFlagStore() *MemoryFlagStore {
	return &MemoryFlagStore{}
}

func (s *MemoryFlagStore) Set(ctx context.Context, locked bool) error {
	if s.FailSets != nil {
		return s.FailSets
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = locked
	return nil
}

func (s *MemoryFlagStore) Locked(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked, nil
}
