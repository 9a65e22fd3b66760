package identity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRepository implements Repository using Redis as the backing store.
// The principal is stored as JSON under key "<prefix>current" with a TTL so
// a stale restored session eventually ages out on its own.
type RedisRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisRepository creates a Redis-based principal repository. Prefix may be empty.
func NewRedisRepository(client *redis.Client, prefix string, ttl time.Duration) *RedisRepository {
	if prefix == "" {
		prefix = "principal:"
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisRepository{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisRepository) key() string {
	return r.prefix + persistedDocID
}

func (r *RedisRepository) Save(ctx context.Context, p *Principal) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(), b, r.ttl).Err()
}

func (r *RedisRepository) Load(ctx context.Context) (*Principal, error) {
	b, err := r.client.Get(ctx, r.key()).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var p Principal
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *RedisRepository) Clear(ctx context.Context) error {
	return r.client.Del(ctx, r.key()).Err()
}
