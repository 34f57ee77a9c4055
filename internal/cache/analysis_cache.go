// Package cache stores computed analysis results in Redis.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"census-atlas/internal/config"
	"census-atlas/internal/models"
	"census-atlas/pkg/logging"
)

// ErrCacheMiss is returned when no result is stored for a request
var ErrCacheMiss = errors.New("cache miss")

// Connect opens a Redis client for cfg. It returns nil when no URL is set.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// AnalysisCache stores analysis results as JSON keyed by a hash of the
// normalized request. A nil *AnalysisCache always misses.
type AnalysisCache struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
	logger *logging.StructuredLogger
}

// NewAnalysisCache creates a cache over client. A nil client yields a nil cache.
func NewAnalysisCache(client *redis.Client, ttl time.Duration, prefix string, logger *logging.StructuredLogger) *AnalysisCache {
	if client == nil {
		return nil
	}
	return &AnalysisCache{
		client: client,
		ttl:    ttl,
		prefix: prefix,
		logger: logger,
	}
}

// Key returns the cache key of a request. Requests differing only in
// granularity spelling or an unused metric share a key. Metric names and
// path labels are kept verbatim since they are matched exactly.
func (c *AnalysisCache) Key(req models.AnalysisRequest) string {
	type selection struct {
		Year int      `json:"y"`
		Path []string `json:"p"`
	}
	canonical := struct {
		Granularity string      `json:"g"`
		Metric      string      `json:"m,omitempty"`
		Clipped     bool        `json:"c"`
		Selections  []selection `json:"s"`
	}{
		Granularity: strings.TrimSpace(req.Granularity),
		Clipped:     req.Clipped,
	}
	if g, err := models.ParseGranularity(req.Granularity); err == nil {
		canonical.Granularity = string(g)
	}
	if len(req.Selections) > 1 {
		canonical.Metric = req.Metric
	}
	for _, s := range req.Selections {
		canonical.Selections = append(canonical.Selections, selection{Year: s.Year, Path: s.Path})
	}

	data, _ := json.Marshal(canonical)
	sum := sha256.Sum256(data)
	return c.prefix + hex.EncodeToString(sum[:])
}

// Get returns the stored result of req or ErrCacheMiss
func (c *AnalysisCache) Get(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error) {
	if c == nil {
		return nil, ErrCacheMiss
	}

	data, err := c.client.Get(ctx, c.Key(req)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}

	var result models.AnalysisResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Warn(ctx, "[CACHE_CORRUPT] Discarding undecodable cache entry", logging.Fields{
			"error": err.Error(),
		})
		return nil, ErrCacheMiss
	}
	return &result, nil
}

// Set stores the result of req for the configured TTL
func (c *AnalysisCache) Set(ctx context.Context, req models.AnalysisRequest, result *models.AnalysisResult) error {
	if c == nil {
		return nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.client.Set(ctx, c.Key(req), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}
