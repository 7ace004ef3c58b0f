package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Session keys are namespaced so the session store can share a Redis
// database with the pub/sub channels.
const sessionKeyPrefix = "session:"

// RedisSessions is the Redis-backed session store.
type RedisSessions struct {
	client *redis.Client
}

// NewRedisSessions connects to Redis and verifies the connection.
func NewRedisSessions(addr, password string, db int) (*RedisSessions, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisSessions{client: rdb}, nil
}

// Get resolves a session token. Absent or expired tokens return an empty
// identity, not an error.
func (s *RedisSessions) Get(ctx context.Context, token string) (string, error) {
	identity, err := s.client.Get(ctx, sessionKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get session: %w", err)
	}
	return identity, nil
}

// SetWithTTL stores a session token with an expiry.
func (s *RedisSessions) SetWithTTL(ctx context.Context, token, identity string, ttl time.Duration) error {
	if err := s.client.Set(ctx, sessionKeyPrefix+token, identity, ttl).Err(); err != nil {
		return fmt.Errorf("set session: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisSessions) Close() error {
	return s.client.Close()
}
