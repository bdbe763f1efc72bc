// Package reports decorates a database.Reporter with a result cache and
// renders report rows for the terminal.
package reports

import (
	"context"
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"shopdb/internal/database"
)

const keyPrefix = "shopdb:report:"

// Cached serves the aggregate reports from a Cache. Reports that take an
// order or customer id always go to the store.
type Cached struct {
	database.Reporter
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
	// gen counts invalidations. A result computed across one is not stored.
	gen atomic.Uint64
}

var _ database.Reporter = (*Cached)(nil)

func NewCached(reporter database.Reporter, cache Cache, ttl time.Duration, logger *zap.Logger) *Cached {
	return &Cached{Reporter: reporter, cache: cache, ttl: ttl, logger: logger}
}

// Invalidate drops every cached report.
func (c *Cached) Invalidate(ctx context.Context) error {
	c.gen.Add(1)
	return c.cache.DeletePrefix(ctx, keyPrefix)
}

// Refresh recomputes the aggregate reports and stores the fresh results.
func (c *Cached) Refresh(ctx context.Context) error {
	if err := c.Invalidate(ctx); err != nil {
		return err
	}
	for _, r := range Catalog {
		if !r.Cacheable {
			continue
		}
		if _, err := r.Run(ctx, c, Params{}); err != nil {
			return err
		}
	}
	return nil
}

// load serves name from the cache or computes and stores it. Invalidations
// from other processes are not seen here; a result computed across one of
// those may be served until the ttl expires.
func load[T any](ctx context.Context, c *Cached, name string, compute func(ctx context.Context) (T, error)) (T, error) {
	key := keyPrefix + name
	log := c.logger.With(zap.String("report", name))

	if data, found, err := c.cache.Get(ctx, key); err != nil {
		log.Warn("report cache read failed", zap.Error(err))
	} else if found {
		var v T
		if err := json.Unmarshal(data, &v); err == nil {
			log.Debug("report cache hit")
			return v, nil
		}
		log.Warn("discarding undecodable cache entry")
	}

	gen := c.gen.Load()
	v, err := compute(ctx)
	if err != nil {
		return v, err
	}
	if c.gen.Load() != gen {
		log.Debug("report invalidated while computing, not caching")
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v, err
	}
	if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
		log.Warn("report cache write failed", zap.Error(err))
	}
	return v, nil
}

func (c *Cached) RevenueByCategory(ctx context.Context) ([]database.CategoryRevenue, error) {
	return load(ctx, c, "revenue-by-category", c.Reporter.RevenueByCategory)
}

func (c *Cached) RevenueByProduct(ctx context.Context) ([]database.ProductRevenue, error) {
	return load(ctx, c, "revenue-by-product", c.Reporter.RevenueByProduct)
}

func (c *Cached) AverageDeliveryTime(ctx context.Context) (*database.DeliveryStats, error) {
	return load(ctx, c, "average-delivery-time", c.Reporter.AverageDeliveryTime)
}

func (c *Cached) DeliveryTimeByOrder(ctx context.Context) ([]database.OrderDeliveryTime, error) {
	return load(ctx, c, "delivery-time-by-order", c.Reporter.DeliveryTimeByOrder)
}

func (c *Cached) CustomersByState(ctx context.Context) ([]database.StateCount, error) {
	return load(ctx, c, "customers-by-state", c.Reporter.CustomersByState)
}

func (c *Cached) TopProductsPerOrder(ctx context.Context, limit int) ([]database.OrderTopProducts, error) {
	if limit <= 0 {
		limit = database.DefaultTopProducts
	}
	return load(ctx, c, "top-products:"+strconv.Itoa(limit), func(ctx context.Context) ([]database.OrderTopProducts, error) {
		return c.Reporter.TopProductsPerOrder(ctx, limit)
	})
}

func (c *Cached) PriceAudit(ctx context.Context) (*database.PriceAuditResult, error) {
	return load(ctx, c, "price-audit", c.Reporter.PriceAudit)
}
