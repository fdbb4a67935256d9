package catalog

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/singleflight"

	"github.com/remiges-tech/prefixsearch"
	"github.com/remiges-tech/prefixsearch/internal/metrics"
)

const (
	detailKeyPrefix = "product:"
	defaultCacheTTL = 24 * time.Hour
)

// Cached is a read-through cache of product detail in Redis. Each product is a
// hash at product:<id> that expires after ttl. Concurrent misses for one id
// share a single catalog read.
type Cached struct {
	src     Source
	client  *redis.Client
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
	group   singleflight.Group
}

// NewCached wraps src. m may be nil.
func NewCached(src Source, client *redis.Client, ttl time.Duration, m *metrics.Metrics, logger *slog.Logger) *Cached {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{
		src:     src,
		client:  client,
		ttl:     ttl,
		metrics: m,
		logger:  logger.With("component", "catalog-cache"),
	}
}

// Each is never cached.
func (c *Cached) Each(ctx context.Context, fn func(prefixsearch.Product) error) error {
	return c.src.Each(ctx, fn)
}

// Product serves from Redis when possible. A cache failure falls back to the
// catalog; it is logged, not returned.
func (c *Cached) Product(ctx context.Context, id string) (Detail, error) {
	key := detailKeyPrefix + id

	fields, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		c.logger.Warn("product cache read failed", "id", id, "error", err)
	} else if d, ok := decodeDetail(fields); ok {
		c.observe("hit")
		return d, nil
	}
	c.observe("miss")

	v, err, _ := c.group.Do(id, func() (interface{}, error) {
		// Shared by every waiter, so one caller's cancellation must not fail the rest.
		shared := context.WithoutCancel(ctx)
		d, err := c.src.Product(shared, id)
		if err != nil {
			return Detail{}, err
		}
		c.store(shared, key, d)
		return d, nil
	})
	if err != nil {
		return Detail{}, err
	}
	return v.(Detail), nil
}

// Invalidate drops the cached detail of id.
func (c *Cached) Invalidate(ctx context.Context, id string) error {
	return c.client.Del(ctx, detailKeyPrefix+id).Err()
}

// Ping checks the underlying catalog when it can be pinged.
func (c *Cached) Ping(ctx context.Context) error {
	if p, ok := c.src.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (c *Cached) store(ctx context.Context, key string, d Detail) {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, encodeDetail(d))
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("product cache write failed", "key", key, "error", err)
	}
}

func (c *Cached) observe(result string) {
	if c.metrics != nil {
		c.metrics.CacheLookupsTotal.WithLabelValues(result).Inc()
	}
}

func encodeDetail(d Detail) map[string]interface{} {
	return map[string]interface{}{
		"id":          d.ID,
		"name":        d.Name,
		"description": d.Description,
		"price":       d.Price,
		"stock":       d.Stock,
		"product_url": d.ProductURL,
		"category":    d.Category,
		"type":        d.Type,
		"created_at":  d.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// decodeDetail rejects empty or partial hashes so they are refetched.
func decodeDetail(fields map[string]string) (Detail, bool) {
	if fields["id"] == "" {
		return Detail{}, false
	}
	stock, err := strconv.ParseInt(fields["stock"], 10, 64)
	if err != nil {
		return Detail{}, false
	}
	createdAt, err := time.Parse(time.RFC3339, fields["created_at"])
	if err != nil {
		return Detail{}, false
	}
	return Detail{
		ID:          fields["id"],
		Name:        fields["name"],
		Description: fields["description"],
		Price:       fields["price"],
		Stock:       stock,
		ProductURL:  fields["product_url"],
		Category:    fields["category"],
		Type:        fields["type"],
		CreatedAt:   createdAt,
	}, true
}
