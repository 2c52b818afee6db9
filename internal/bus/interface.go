package bus

import (
	"context"
	"io"
	"log"
)

// Bus defines the interface for activity notification implementations
type Bus interface {
	// PublishActivity publishes a console action to the activity stream
	PublishActivity(ctx context.Context, msg ActivityMessage) error

	// HealthCheck performs a health check on the bus connection
	HealthCheck(ctx context.Context) error

	// Close closes the bus connection
	Close() error
}

// NewBus creates a new bus instance based on the Redis URL
// If redisURL is empty or unreachable, returns a NullBus
func NewBus(redisURL string, logger *log.Logger) Bus {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	if redisURL == "" {
		return NewNullBus(logger)
	}

	// Try to create Redis bus
	redisBus, err := NewRedisBus(redisURL, logger)
	if err != nil {
		logger.Printf("Redis unavailable, activity notifications disabled: %v", err)
		return NewNullBus(logger)
	}

	return redisBus
}
