package settle

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/port"
	"github.com/shopspring/decimal"
)

var _ port.Settlement = (*Engine)(nil)

// Engine is the default settlement collaborator: the trade executes at
// the maker's price for the overlap of both remainders. Balance
// movement and downstream events belong to the deployment-specific
// collaborator that replaces this one in production.
type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

func (e *Engine) MatchOrders(ctx context.Context, tx port.Tx, buy, sell *domain.Order, isBuyerMaker bool) (*domain.Order, error) {
	qty := decimal.Min(buy.Remaining(), sell.Remaining())
	if !qty.IsPositive() {
		return nil, errors.New("settle: nothing to fill")
	}
	price := sell.Price
	if isBuyerMaker {
		price = buy.Price
	}

	now := time.Now()
	fill := func(o *domain.Order) {
		o.ExecutedQuantity = o.ExecutedQuantity.Add(qty)
		if o.Remaining().IsZero() {
			o.Status = domain.Executed
		} else {
			o.Status = domain.Executing
		}
		o.UpdatedAt = now
	}
	fill(buy)
	fill(sell)

	tr := &domain.Trade{
		ID:           uuid.NewString(),
		Pair:         buy.Pair,
		BuyOrder:     buy.ID,
		SellOrder:    sell.ID,
		Price:        price,
		Quantity:     qty,
		IsBuyerMaker: isBuyerMaker,
		ExecutedAt:   now,
	}

	if err := tx.Save(ctx, buy); err != nil {
		return nil, err
	}
	if err := tx.Save(ctx, sell); err != nil {
		return nil, err
	}
	if err := tx.SaveTrade(ctx, tr); err != nil {
		return nil, err
	}

	if buy.Remaining().IsPositive() {
		return buy, nil
	}
	if sell.Remaining().IsPositive() {
		return sell, nil
	}
	return nil, nil
}
