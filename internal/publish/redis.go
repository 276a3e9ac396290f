package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/whalewatch/engine/internal/store"
)

// DefaultRedisMaxLen caps the alert list.
const DefaultRedisMaxLen = 1000

// ListPusher is the part of the redis client used by RedisQueue.
type ListPusher interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
}

// RedisQueue pushes alert JSON onto a capped Redis list for downstream consumers.
type RedisQueue struct {
	client ListPusher
	key    string
	maxLen int64
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

// NewRedisQueue creates a queue publisher on key.
func NewRedisQueue(client ListPusher, key string, maxLen int64) *RedisQueue {
	if maxLen <= 0 {
		maxLen = DefaultRedisMaxLen
	}
	return &RedisQueue{client: client, key: key, maxLen: maxLen}
}

func (q *RedisQueue) Name() string { return "redis" }

// Publish LPUSHes the alert and trims the list to maxLen entries.
func (q *RedisQueue) Publish(ctx context.Context, a store.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", q.key, err)
	}
	if err := q.client.LTrim(ctx, q.key, 0, q.maxLen-1).Err(); err != nil {
		return fmt.Errorf("ltrim %s: %w", q.key, err)
	}
	return nil
}
