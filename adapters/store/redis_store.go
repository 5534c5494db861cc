package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/askmygarmin/backend/core"
)

// RedisStore persists athlete memories in one Redis hash per user:
// field = memory ID, value = JSON record. Soft-deleted records stay in the
// hash with deleted_at set.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed memory store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "askgarmin:memories:",
	}
}

func (s *RedisStore) key(userID string) string {
	return s.prefix + userID
}

func (s *RedisStore) List(ctx context.Context, userID string) ([]*core.Memory, error) {
	fields, err := s.client.HGetAll(ctx, s.key(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}

	var out []*core.Memory
	for _, raw := range fields {
		m := &core.Memory{}
		if err := json.Unmarshal([]byte(raw), m); err != nil {
			return nil, fmt.Errorf("decode memory record: %w", err)
		}
		if m.DeletedAt == nil {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *RedisStore) Get(ctx context.Context, userID, id string) (*core.Memory, error) {
	raw, err := s.client.HGet(ctx, s.key(userID), id).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	m := &core.Memory{}
	if err := json.Unmarshal([]byte(raw), m); err != nil {
		return nil, fmt.Errorf("decode memory record: %w", err)
	}
	if m.DeletedAt != nil {
		return nil, nil
	}
	return m, nil
}

func (s *RedisStore) Create(ctx context.Context, m *core.Memory) error {
	return s.write(ctx, m)
}

func (s *RedisStore) Update(ctx context.Context, m *core.Memory) error {
	return s.write(ctx, m)
}

func (s *RedisStore) SoftDelete(ctx context.Context, userID, id string) (bool, error) {
	m, err := s.Get(ctx, userID, id)
	if err != nil {
		return false, err
	}
	if m == nil {
		return false, nil
	}
	now := time.Now().UTC()
	m.DeletedAt = &now
	if err := s.write(ctx, m); err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisStore) write(ctx context.Context, m *core.Memory) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode memory record: %w", err)
	}
	if err := s.client.HSet(ctx, s.key(m.UserID), m.ID, raw).Err(); err != nil {
		return fmt.Errorf("write memory: %w", err)
	}
	return nil
}
