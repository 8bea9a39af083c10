package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/config"
	"github.com/therealutkarshpriyadarshi/poseflow/pkg/models"
)

const historyIndexKey = "jobs:history"

// Cache provides job history storage using Redis
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	limit  int
}

// NewCache creates a new cache instance and verifies the connection
func NewCache(cfg config.RedisConfig, historySize int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client, ttl: cfg.HistoryTTL, limit: historySize}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

// Record stores a terminal job and trims the history to the newest entries
func (c *Cache) Record(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	score := float64(time.Now().UnixNano())
	if job.CompletedAt != nil {
		score = float64(job.CompletedAt.UnixNano())
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), data, c.ttl)
	pipe.ZAdd(ctx, historyIndexKey, redis.Z{Score: score, Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record job: %w", err)
	}

	return c.trim(ctx)
}

// trim evicts the oldest jobs beyond the configured limit
func (c *Cache) trim(ctx context.Context) error {
	if c.limit <= 0 {
		return nil
	}

	count, err := c.client.ZCard(ctx, historyIndexKey).Result()
	if err != nil {
		return fmt.Errorf("failed to count history: %w", err)
	}
	excess := count - int64(c.limit)
	if excess <= 0 {
		return nil
	}

	evicted, err := c.client.ZRange(ctx, historyIndexKey, 0, excess-1).Result()
	if err != nil {
		return fmt.Errorf("failed to read history index: %w", err)
	}

	pipe := c.client.TxPipeline()
	for _, id := range evicted {
		pipe.Del(ctx, jobKey(id))
	}
	pipe.ZRemRangeByRank(ctx, historyIndexKey, 0, excess-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to trim history: %w", err)
	}
	return nil
}

// Get retrieves a job from history. A miss is not an error.
func (c *Cache) Get(ctx context.Context, jobID string) (*models.Job, bool, error) {
	data, err := c.client.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil // Cache miss
		}
		return nil, false, fmt.Errorf("failed to get job from cache: %w", err)
	}

	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, true, nil
}
