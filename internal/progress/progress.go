// Package progress tracks the phase and percentage of running document operations.
package progress

import (
	"context"
	"fmt"

	"github.com/BerylCAtieno/statement-extraction-api/internal/config"
	"github.com/BerylCAtieno/statement-extraction-api/internal/models"
	"github.com/BerylCAtieno/statement-extraction-api/internal/utils"
	"github.com/redis/go-redis/v9"
)

// Tracker records progress per document. Get returns nil when nothing is running.
type Tracker interface {
	Update(ctx context.Context, key models.DocumentKey, phase, message string, pct int) error
	Get(ctx context.Context, key models.DocumentKey) (*models.ProgressStatus, error)
	Clear(ctx context.Context, key models.DocumentKey) error
}

func clamp(pct int) int {
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}

// New builds the tracker selected by PROGRESS_BACKEND.
func New(cfg *config.Config, logger *utils.Logger) (Tracker, error) {
	switch cfg.ProgressBackend {
	case "memory":
		return NewMemoryTracker(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info("progress.redis.connected", "addr", cfg.RedisAddr)
		return NewRedisTracker(client, cfg.RemoteTimeout), nil
	default:
		return nil, fmt.Errorf("unknown progress backend %q", cfg.ProgressBackend)
	}
}
