package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BerylCAtieno/statement-extraction-api/internal/models"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "progress:"

// redisTracker shares progress between server replicas. Entries expire after ttl
// so a crashed operation does not report progress forever.
type redisTracker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisTracker(client *redis.Client, ttl time.Duration) Tracker {
	return &redisTracker{client: client, ttl: ttl}
}

func redisKey(k models.DocumentKey) string {
	return keyPrefix + k.String()
}

func (r *redisTracker) Update(ctx context.Context, key models.DocumentKey, phase, message string, pct int) error {
	p := phase
	data, err := json.Marshal(models.ProgressStatus{Phase: &p, Message: message, Progress: clamp(pct)})
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, redisKey(key), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store progress: %w", err)
	}
	return nil
}

func (r *redisTracker) Get(ctx context.Context, key models.DocumentKey) (*models.ProgressStatus, error) {
	data, err := r.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read progress: %w", err)
	}
	var s models.ProgressStatus
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode progress: %w", err)
	}
	return &s, nil
}

func (r *redisTracker) Clear(ctx context.Context, key models.DocumentKey) error {
	if err := r.client.Del(ctx, redisKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to clear progress: %w", err)
	}
	return nil
}
