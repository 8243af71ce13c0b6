package core

import (
	"context"
	"sort"
	"time"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/port"
)

// BuildSnapshot aggregates the pair's matchable limit orders into depth
// levels. Market orders carry no price and stay out of the view.
func BuildSnapshot(ctx context.Context, repo port.Repository, pair domain.Pair) (*domain.OrderbookSnapshot, error) {
	orders, err := repo.FindMatchableOrders(ctx, pair)
	if err != nil {
		return nil, err
	}

	bids := make(map[string]*domain.PriceLevel)
	asks := make(map[string]*domain.PriceLevel)
	for _, o := range orders {
		if o.IsMarket() {
			continue
		}
		levels := asks
		if o.Side == domain.Buy {
			levels = bids
		}
		key := o.Price.String()
		lvl, ok := levels[key]
		if !ok {
			lvl = &domain.PriceLevel{Price: o.Price}
			levels[key] = lvl
		}
		lvl.Quantity = lvl.Quantity.Add(o.Remaining())
	}

	snap := &domain.OrderbookSnapshot{
		Pair:      pair.Symbol(),
		Bids:      flatten(bids),
		Asks:      flatten(asks),
		Timestamp: time.Now(),
	}
	sort.Slice(snap.Bids, func(i, j int) bool {
		return snap.Bids[i].Price.GreaterThan(snap.Bids[j].Price)
	})
	sort.Slice(snap.Asks, func(i, j int) bool {
		return snap.Asks[i].Price.LessThan(snap.Asks[j].Price)
	})
	return snap, nil
}

func flatten(levels map[string]*domain.PriceLevel) []domain.PriceLevel {
	res := make([]domain.PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		res = append(res, *lvl)
	}
	return res
}

// LoadSnapshot serves depth cache-first, rebuilding and re-caching on a
// miss. A nil cache degrades to a plain rebuild.
func LoadSnapshot(ctx context.Context, repo port.Repository, cache port.SnapshotCache, pair domain.Pair) (*domain.OrderbookSnapshot, error) {
	if cache != nil {
		if ob, err := cache.GetOrderbook(ctx, pair); err == nil && ob != nil {
			return ob, nil
		}
	}
	snap, err := BuildSnapshot(ctx, repo, pair)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		if err := cache.SetOrderbook(ctx, pair, snap); err != nil {
			return snap, nil
		}
	}
	return snap, nil
}
