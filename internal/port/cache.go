package port

import (
	"context"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/shopspring/decimal"
)

// PriceCache extends the read-only reference price source with the
// write side the matching loop uses after each settled trade.
type PriceCache interface {
	ReferencePriceSource
	SetLastPrice(ctx context.Context, pair domain.Pair, price decimal.Decimal) error
}

// SnapshotCache holds aggregated depth snapshots so the read path does
// not hit durable storage on every request.
type SnapshotCache interface {
	SetOrderbook(ctx context.Context, pair domain.Pair, ob *domain.OrderbookSnapshot) error
	// GetOrderbook returns nil without error on a cache miss.
	GetOrderbook(ctx context.Context, pair domain.Pair) (*domain.OrderbookSnapshot, error)
	Invalidate(ctx context.Context, pair domain.Pair) error
}
