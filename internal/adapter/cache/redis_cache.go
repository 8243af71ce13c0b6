package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/port"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

var (
	_ port.PriceCache    = (*RedisCache)(nil)
	_ port.SnapshotCache = (*RedisCache)(nil)
)

// RedisCache serves the market-data read side: the last trade price per
// pair (the reference price for conditional orders) and aggregated
// depth snapshots. Both expire; stale data is rebuilt on demand.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func priceKey(pair domain.Pair) string    { return "px:" + pair.Key() }
func snapshotKey(pair domain.Pair) string { return "ob:" + pair.Key() }

func (c *RedisCache) SetLastPrice(ctx context.Context, pair domain.Pair, price decimal.Decimal) error {
	return c.client.Set(ctx, priceKey(pair), price.String(), c.ttl).Err()
}

// LastPrice returns the zero decimal when no trade has printed yet.
func (c *RedisCache) LastPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	s, err := c.client.Get(ctx, priceKey(pair)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(s)
}

func (c *RedisCache) SetOrderbook(ctx context.Context, pair domain.Pair, ob *domain.OrderbookSnapshot) error {
	b, err := json.Marshal(ob)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, snapshotKey(pair), b, c.ttl).Err()
}

func (c *RedisCache) GetOrderbook(ctx context.Context, pair domain.Pair) (*domain.OrderbookSnapshot, error) {
	b, err := c.client.Get(ctx, snapshotKey(pair)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ob domain.OrderbookSnapshot
	if err := json.Unmarshal(b, &ob); err != nil {
		return nil, err
	}
	return &ob, nil
}

func (c *RedisCache) Invalidate(ctx context.Context, pair domain.Pair) error {
	return c.client.Del(ctx, snapshotKey(pair)).Err()
}
