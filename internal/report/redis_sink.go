package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "mocktide:reports:"
	RedisChannel   = "mocktide:reports"
	redisReportTTL = 7 * 24 * time.Hour
)

// RedisSink pushes every completed suite onto a per-script list and
// announces it on a pub/sub channel so CI jobs can follow a run live.
type RedisSink struct {
	client *redis.Client
}

// NewRedisSink connects to the Redis instance at redisURL (redis:// or
// rediss:// URL, or a bare host:port) and verifies it with PING.
func NewRedisSink(ctx context.Context, redisURL string) (*RedisSink, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		opts = &redis.Options{Addr: redisURL}
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisSink{client: rdb}, nil
}

// NewRedisSinkWithClient wraps an existing client.
func NewRedisSinkWithClient(client *redis.Client) *RedisSink {
	return &RedisSink{client: client}
}

func (r *RedisSink) Name() string { return "redis" }

// Key returns the list key holding suites for a script.
func (r *RedisSink) Key(suiteName string) string {
	return redisKeyPrefix + suiteName
}

func (r *RedisSink) Publish(ctx context.Context, suite SuiteResult) error {
	if r == nil || r.client == nil {
		return nil
	}
	payload, err := json.Marshal(suite)
	if err != nil {
		return fmt.Errorf("failed to marshal suite: %w", err)
	}

	key := r.Key(suite.Name)
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.Expire(ctx, key, redisReportTTL)
	pipe.Publish(ctx, RedisChannel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish suite to Redis: %w", err)
	}
	return nil
}

// Suites reads back every suite stored for a script.
func (r *RedisSink) Suites(ctx context.Context, suiteName string) ([]SuiteResult, error) {
	if r == nil || r.client == nil {
		return nil, nil
	}
	raw, err := r.client.LRange(ctx, r.Key(suiteName), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	suites := make([]SuiteResult, 0, len(raw))
	for _, item := range raw {
		var s SuiteResult
		if err := json.Unmarshal([]byte(item), &s); err != nil {
			return nil, fmt.Errorf("failed to decode suite: %w", err)
		}
		suites = append(suites, s)
	}
	return suites, nil
}

func (r *RedisSink) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
