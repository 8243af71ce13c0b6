package port

import (
	"context"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/shopspring/decimal"
)

// Settlement owns price/quantity computation, trade persistence and
// balance movement for a matched pair. It runs inside the caller's
// transaction and returns the not-fully-filled leg (nil when both legs
// filled) so the caller can decide whether the remainder rests again.
type Settlement interface {
	MatchOrders(ctx context.Context, tx Tx, buy, sell *domain.Order, isBuyerMaker bool) (*domain.Order, error)
}

// ReferencePriceSource resolves the trigger check for conditional
// orders at admission time.
type ReferencePriceSource interface {
	LastPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error)
}
