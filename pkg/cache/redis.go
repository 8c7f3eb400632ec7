package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/sma-admission-api/pkg/config"
)

// NewRedis returns a configured Redis client, verifying connectivity first.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// StudentChargesKey is the cache key for one generation of a student's
// settlement-labelled charge list.
func StudentChargesKey(studentID string, generation int64) string {
	return fmt.Sprintf("billing:student:%s:charges:v%d", studentID, generation)
}

// StudentChargesGenerationKey holds the counter that charge and payment
// writes bump, retiring every listing cached under an older generation.
func StudentChargesGenerationKey(studentID string) string {
	return "billing:student:" + studentID + ":charges:gen"
}
