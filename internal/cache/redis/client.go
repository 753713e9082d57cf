package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/model-lineage/pipeline/internal/lineage"
	"github.com/model-lineage/pipeline/internal/metrics"
	"github.com/model-lineage/pipeline/pkg/logger"
)

// Client caches fetched registry records so a rerun shortly after a
// failed pass does not refetch the whole catalog. Misses and cache
// failures are equivalent; the registry stays the source of truth.
type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(host string, port int, password string, db int, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis cache initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client, ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func recordKey(kind lineage.Kind, id string) string {
	return fmt.Sprintf("record:%s:%s", kind, id)
}

func (c *Client) GetRecord(ctx context.Context, kind lineage.Kind, id string) (lineage.Record, bool) {
	data, err := c.client.Get(ctx, recordKey(kind, id)).Bytes()
	if err == redis.Nil {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return lineage.Record{}, false
	}
	if err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		logger.Warn("Cache read failed", zap.String("id", id), zap.Error(err))
		return lineage.Record{}, false
	}

	var rec lineage.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		logger.Warn("Cache entry corrupt", zap.String("id", id), zap.Error(err))
		return lineage.Record{}, false
	}

	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return rec, true
}

func (c *Client) SetRecord(ctx context.Context, rec lineage.Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		logger.Warn("Failed to marshal record for cache", zap.String("id", rec.ID), zap.Error(err))
		return
	}

	if err := c.client.Set(ctx, recordKey(rec.Kind, rec.ID), data, c.ttl).Err(); err != nil {
		logger.Warn("Cache write failed", zap.String("id", rec.ID), zap.Error(err))
	}
}
