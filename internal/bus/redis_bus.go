package bus

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// activityStream is the stream every console instance publishes to.
	activityStream = "medgen:activity"

	// activityMaxLen caps the stream so an always-on watcher cannot grow
	// Redis unbounded.
	activityMaxLen = 10000
)

// RedisBus provides Redis Streams-based activity notifications
type RedisBus struct {
	client *redis.Client
	logger *log.Logger
}

// ActivityMessage represents a console action published to the activity stream
type ActivityMessage struct {
	FileID    string `json:"file_id"`
	Filename  string `json:"filename"`
	Action    string `json:"action"`
	Actor     string `json:"actor"`
	Detail    string `json:"detail"`
	Timestamp int64  `json:"timestamp"`
}

// NewRedisBus creates a new Redis bus instance
func NewRedisBus(redisURL string, logger *log.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if logger == nil {
		logger = log.New(log.Writer(), "[RedisBus] ", log.LstdFlags)
	}

	return &RedisBus{
		client: client,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (rb *RedisBus) Close() error {
	return rb.client.Close()
}

// PublishActivity publishes a console action to the activity stream
func (rb *RedisBus) PublishActivity(ctx context.Context, msg ActivityMessage) error {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().Unix()
	}

	fields := map[string]interface{}{
		"file_id":   msg.FileID,
		"filename":  msg.Filename,
		"action":    msg.Action,
		"actor":     msg.Actor,
		"detail":    msg.Detail,
		"timestamp": msg.Timestamp,
	}

	result := rb.client.XAdd(ctx, &redis.XAddArgs{
		Stream: activityStream,
		MaxLen: activityMaxLen,
		Approx: true,
		Values: fields,
	})

	if err := result.Err(); err != nil {
		return fmt.Errorf("failed to publish activity: %w", err)
	}

	rb.logger.Printf("Published %s activity for file %s", msg.Action, msg.FileID)
	return nil
}

// HealthCheck performs a health check on the Redis connection
func (rb *RedisBus) HealthCheck(ctx context.Context) error {
	return rb.client.Ping(ctx).Err()
}
