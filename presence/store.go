// Package presence records which monitor sessions are watching a debate.
// It is bookkeeping only; relay sessions never consult it.
package presence

import (
	"context"
	"sort"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/wailbentafat/debate-relay/broker"
)

type Store interface {
	Add(ctx context.Context, debateID, sessionID string) error
	Remove(ctx context.Context, debateID, sessionID string) error
	List(ctx context.Context, debateID string) ([]string, error)
}

// Key is the Redis set holding a debate's monitor session IDs.
func Key(debateID string) string {
	return broker.Channel(debateID) + ":monitors"
}

type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// NewRedisStoreFromURL opens its own client on url.
func NewRedisStoreFromURL(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return NewRedisStore(redis.NewClient(opts)), nil
}

func (s *RedisStore) Add(ctx context.Context, debateID, sessionID string) error {
	return s.rdb.SAdd(ctx, Key(debateID), sessionID).Err()
}

func (s *RedisStore) Remove(ctx context.Context, debateID, sessionID string) error {
	return s.rdb.SRem(ctx, Key(debateID), sessionID).Err()
}

func (s *RedisStore) List(ctx context.Context, debateID string) ([]string, error) {
	members, err := s.rdb.SMembers(ctx, Key(debateID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(members)
	return members, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

type MemoryStore struct {
	mu       sync.Mutex
	monitors map[string]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{monitors: make(map[string]map[string]struct{})}
}

func (s *MemoryStore) Add(ctx context.Context, debateID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.monitors[debateID] == nil {
		s.monitors[debateID] = make(map[string]struct{})
	}
	s.monitors[debateID][sessionID] = struct{}{}
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, debateID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.monitors[debateID], sessionID)
	if len(s.monitors[debateID]) == 0 {
		delete(s.monitors, debateID)
	}
	return nil
}

func (s *MemoryStore) List(ctx context.Context, debateID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := make([]string, 0, len(s.monitors[debateID]))
	for id := range s.monitors[debateID] {
		members = append(members, id)
	}
	sort.Strings(members)
	return members, nil
}
