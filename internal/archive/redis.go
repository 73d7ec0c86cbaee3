package archive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/antoniostano/browsercloud/internal/tasks"
)

const (
	defaultRedisTTL = 24 * time.Hour
	taskKeyPrefix   = "task:"
)

type RedisArchive struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisArchive(ctx context.Context, redisURL string, ttl time.Duration) (*RedisArchive, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(redisURL))
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return newRedisArchive(client, ttl), nil
}

func newRedisArchive(client *redis.Client, ttl time.Duration) *RedisArchive {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &RedisArchive{client: client, ttl: ttl}
}

func taskKey(taskID string) string {
	return taskKeyPrefix + taskID
}

func sessionKey(sessionID string) string {
	return "session:" + sessionID + ":tasks"
}

// Archive stores the task document and appends its id to the session index,
// both expiring after the configured TTL.
func (a *RedisArchive) Archive(ctx context.Context, task tasks.Task) error {
	data, err := sonic.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	_, err = a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, taskKey(task.ID), data, a.ttl)
		pipe.RPush(ctx, sessionKey(task.SessionID), task.ID)
		pipe.Expire(ctx, sessionKey(task.SessionID), a.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write task: %w", err)
	}
	return nil
}

func (a *RedisArchive) Close() error {
	return a.client.Close()
}
