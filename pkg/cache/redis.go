package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/course-eligibility-api/pkg/config"
)

// NewRedis returns a configured Redis client, or nil when caching is disabled.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}

// RuleSetKey builds the cache key for a course's applicable rules on a given day.
func RuleSetKey(courseID string, asOf time.Time) string {
	return fmt.Sprintf("eligibility:rules:%s:%s", courseID, asOf.UTC().Format("2006-01-02"))
}

// RuleSetPattern matches every cached rule set for a course.
func RuleSetPattern(courseID string) string {
	return fmt.Sprintf("eligibility:rules:%s:*", courseID)
}
