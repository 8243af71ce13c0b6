package in_memory

import (
	"context"
	"sync"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/port"
	"github.com/shopspring/decimal"
)

var (
	_ port.PriceCache    = (*Cache)(nil)
	_ port.SnapshotCache = (*Cache)(nil)
)

// Cache is the in-memory market-data cache used by tests and local
// runs. Entries never expire.
type Cache struct {
	mu        sync.Mutex
	prices    map[string]decimal.Decimal
	snapshots map[string]*domain.OrderbookSnapshot
}

func NewCache() *Cache {
	return &Cache{
		prices:    make(map[string]decimal.Decimal),
		snapshots: make(map[string]*domain.OrderbookSnapshot),
	}
}

func (c *Cache) SetLastPrice(ctx context.Context, pair domain.Pair, price decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[pair.Key()] = price
	return nil
}

func (c *Cache) LastPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prices[pair.Key()], nil
}

func (c *Cache) SetOrderbook(ctx context.Context, pair domain.Pair, ob *domain.OrderbookSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *ob
	c.snapshots[pair.Key()] = &cp
	return nil
}

func (c *Cache) GetOrderbook(ctx context.Context, pair domain.Pair) (*domain.OrderbookSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ob, ok := c.snapshots[pair.Key()]
	if !ok {
		return nil, nil
	}
	cp := *ob
	return &cp, nil
}

func (c *Cache) Invalidate(ctx context.Context, pair domain.Pair) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snapshots, pair.Key())
	return nil
}
