package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/FearGod12/agentic-whatsapp-chatbot/internal/models"
)

// redisKeyPrefix namespaces session keys in the shared cache.
const redisKeyPrefix = "whatsapp_session:"

// RedisBackend stores sessions as JSON blobs in Redis with a per-key TTL.
// Redis enforces expiry itself; no sweeping is needed on this backend.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps an existing go-redis client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func redisKey(phone string) string {
	return redisKeyPrefix + phone
}

// Get implements Backend.
func (r *RedisBackend) Get(ctx context.Context, phone string) (*models.Session, error) {
	val, err := r.client.Get(ctx, redisKey(phone)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	var sess models.Session
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		return nil, fmt.Errorf("corrupt session for %s: %w", phone, err)
	}
	return &sess, nil
}

// Save implements Backend.
func (r *RedisBackend) Save(ctx context.Context, session *models.Session, ttl time.Duration) error {
	val, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session for %s: %w", session.Phone, err)
	}
	if err := r.client.Set(ctx, redisKey(session.Phone), val, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	return nil
}

// Delete implements Backend.
func (r *RedisBackend) Delete(ctx context.Context, phone string) error {
	if err := r.client.Del(ctx, redisKey(phone)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	return nil
}

// Phones implements Backend using SCAN so the count never blocks the server.
func (r *RedisBackend) Phones(ctx context.Context) ([]string, error) {
	var phones []string
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, redisKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
		}
		for _, key := range keys {
			phones = append(phones, strings.TrimPrefix(key, redisKeyPrefix))
		}
		cursor = next
		if cursor == 0 {
			return phones, nil
		}
	}
}

// Ping implements Backend.
func (r *RedisBackend) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	return nil
}
