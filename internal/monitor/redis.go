package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nidhogg/flowline/internal/workflow"
)

// RedisSink publishes workflow events to a Redis stream so external
// consumers can follow scheduler activity.
type RedisSink struct {
	rdb    *redis.Client
	stream string
	logger *zap.Logger
}

const defaultStream = "flowline:events"

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(redisURL, stream string, logger *zap.Logger) (*RedisSink, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if stream == "" {
		stream = defaultStream
	}
	return &RedisSink{rdb: rdb, stream: stream, logger: logger}, nil
}

// Notify appends the event to the stream. Publish failures are logged
// and swallowed.
func (s *RedisSink) Notify(e workflow.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		s.logger.Warn("publish event to redis failed",
			zap.String("stream", s.stream), zap.Error(err))
	}
}

// Close shuts down the Redis connection.
func (s *RedisSink) Close() error {
	return s.rdb.Close()
}
