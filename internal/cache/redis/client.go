package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/roofscope/backend/internal/metrics"
	"github.com/roofscope/backend/internal/storage/models"
	"github.com/roofscope/backend/pkg/logger"
)

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// SetSnapshot caches a composed session snapshot. Every session or evidence
// mutation calls InvalidateSnapshot, so a cached entry is only ever read while
// the state it was built from still holds.
func (c *Client) SetSnapshot(ctx context.Context, sessionID string, snapshot interface{}, ttl time.Duration) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	key := fmt.Sprintf("snapshot:%s", sessionID)
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set snapshot cache: %w", err)
	}

	logger.Debug("Snapshot cached", zap.String("session_id", sessionID))
	return nil
}

func (c *Client) GetSnapshot(ctx context.Context, sessionID string, snapshot interface{}) (bool, error) {
	key := fmt.Sprintf("snapshot:%s", sessionID)

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.WithLabelValues("snapshot").Inc()
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get snapshot cache: %w", err)
	}

	if err := json.Unmarshal(data, snapshot); err != nil {
		return false, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	metrics.CacheHits.WithLabelValues("snapshot").Inc()
	return true, nil
}

// InvalidateSnapshot drops the session's cached snapshot after any mutation
// that would make it stale, including evidence writes that leave the session
// row untouched.
func (c *Client) InvalidateSnapshot(ctx context.Context, sessionID string) error {
	key := fmt.Sprintf("snapshot:%s", sessionID)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate snapshot cache: %w", err)
	}
	return nil
}

// SetAnalysis caches a provider verdict keyed by the evidence content hash, so
// the same artifact re-attached (device retries, multi-operator capture) does
// not cost a second provider call.
func (c *Client) SetAnalysis(ctx context.Context, contentHash string, analysis models.AIAnalysis, ttl time.Duration) error {
	data, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}

	key := fmt.Sprintf("analysis:%s", contentHash)
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set analysis cache: %w", err)
	}

	logger.Debug("Analysis cached", zap.String("content_hash", contentHash))
	return nil
}

func (c *Client) GetAnalysis(ctx context.Context, contentHash string) (*models.AIAnalysis, bool, error) {
	key := fmt.Sprintf("analysis:%s", contentHash)

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.WithLabelValues("analysis").Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get analysis cache: %w", err)
	}

	var analysis models.AIAnalysis
	if err := json.Unmarshal(data, &analysis); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal analysis: %w", err)
	}

	metrics.CacheHits.WithLabelValues("analysis").Inc()
	return &analysis, true, nil
}
