package core

import (
	"context"
	"errors"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/port"
	"github.com/shopspring/decimal"
)

// probe is one queue combination a match attempt examines. finalBuy
// and finalSell mark the last probe touching that side's collection;
// only there may the pop primitive cancel a spent IOC top, so an
// entry a later combination could still fill is never cut short.
type probe struct {
	buyQ, sellQ domain.QueueID
	finalBuy    bool
	finalSell   bool
}

// precedence fixes the order match attempts examine the book: market
// takers first, then limit against limit.
var precedence = []probe{
	{domain.BuyMarket, domain.SellLimit, true, false},
	{domain.BuyLimit, domain.SellMarket, false, true},
	{domain.BuyLimit, domain.SellLimit, true, true},
}

var errStaleLeg = errors.New("core: matched leg no longer valid")

// runBatch makes up to BatchSize match attempts and reports how many
// produced a trade plus whether any attempt changed the book at all.
func (p *Processor) runBatch(ctx context.Context) (matches int, progressed bool) {
	for i := 0; i < p.cfg.BatchSize; i++ {
		progress, matched := p.matchOnce(ctx)
		if matched {
			matches++
		}
		if !progress {
			break
		}
		progressed = true
	}
	return matches, progressed
}

// matchOnce probes the precedence list and takes the first success.
func (p *Processor) matchOnce(ctx context.Context) (progress, matched bool) {
	for _, pq := range precedence {
		res, err := p.book.PopMatchedPair(ctx, p.pair, pq.buyQ, pq.sellQ, pq.finalBuy, pq.finalSell)
		if err != nil {
			p.log.Error().Err(err).Msg("pop attempt failed")
			return false, false
		}
		switch res.Outcome {
		case port.PopMatched:
			if err := p.settleMatch(ctx, res); err != nil {
				// contained per pair: liquidity was defensively restored
				p.log.Error().Err(err).Str("buy", res.Buy.OrderID).
					Str("sell", res.Sell.OrderID).Msg("settlement failed")
				return true, false
			}
			return true, true
		case port.PopCanceled:
			p.resolveOrphan(ctx, res)
			return true, false
		}
	}
	return false, false
}

// resolveOrphan finalizes an IOC entry the pop primitive sentenced:
// its one shot is spent (uncrossed, empty opposite side, or anchored
// level vanished), so it leaves the book and the durable order is
// canceled.
func (p *Processor) resolveOrphan(ctx context.Context, res port.PopResult) {
	p.log.Debug().Str("order", res.Canceled.OrderID).
		Str("side", string(res.CanceledSide)).Msg("canceling spent IOC entry")
	if err := p.book.Remove(ctx, p.pair, res.Canceled.OrderID); err != nil {
		p.log.Warn().Err(err).Msg("orphan removal failed")
	}
	if err := p.cancelOrder(ctx, res.Canceled.OrderID); err != nil {
		p.log.Warn().Err(err).Str("order", res.Canceled.OrderID).Msg("orphan cancel failed")
	}
}

// settleMatch drives one matched pair through the settlement
// collaborator: row-lock both legs, re-validate against concurrent
// external cancels, delegate trade computation, then route any
// remainder back into the book. On failure both still-valid legs are
// re-inserted so liquidity is never silently dropped.
func (p *Processor) settleMatch(ctx context.Context, res port.PopResult) error {
	var remainder *domain.Order
	var tradePrice decimal.Decimal
	err := p.withRetry(ctx, func() error {
		remainder = nil
		return withTx(ctx, p.repo, func(tx port.Tx) error {
			buy, err := p.lockLeg(ctx, tx, res.Buy.OrderID)
			if err != nil {
				return err
			}
			sell, err := p.lockLeg(ctx, tx, res.Sell.OrderID)
			if err != nil {
				return err
			}
			maker := sell
			if isBuyerMaker(buy, sell) {
				maker = buy
			}
			tradePrice = maker.Price
			remainder, err = p.settle.MatchOrders(ctx, tx, buy, sell, maker == buy)
			return err
		})
	})
	if err != nil {
		p.reinsertLeg(ctx, res.Buy)
		p.reinsertLeg(ctx, res.Sell)
		if errors.Is(err, errStaleLeg) {
			p.log.Debug().Msg("match dropped, leg canceled concurrently")
			return nil
		}
		return err
	}
	p.publishTrade(ctx, tradePrice)
	if remainder != nil {
		p.routeRemainder(ctx, remainder, res)
	}
	return nil
}

// publishTrade pushes market data out after a settled trade: the last
// price feeds conditional-order triggers, and any cached depth view is
// now stale. Both sinks are optional.
func (p *Processor) publishTrade(ctx context.Context, price decimal.Decimal) {
	if p.prices != nil && price.IsPositive() {
		if err := p.prices.SetLastPrice(ctx, p.pair, price); err != nil {
			p.log.Warn().Err(err).Msg("last price publish failed")
		}
	}
	if p.snaps != nil {
		if err := p.snaps.Invalidate(ctx, p.pair); err != nil {
			p.log.Warn().Err(err).Msg("snapshot invalidation failed")
		}
	}
}

func (p *Processor) lockLeg(ctx context.Context, tx port.Tx, id string) (*domain.Order, error) {
	o, err := tx.LockForUpdate(ctx, id)
	if errors.Is(err, domain.ErrOrderNotFound) {
		return nil, errStaleLeg
	}
	if err != nil {
		return nil, err
	}
	if !o.Matchable() {
		return nil, errStaleLeg
	}
	return o, nil
}

// routeRemainder decides whether a partially filled leg rests again.
func (p *Processor) routeRemainder(ctx context.Context, rem *domain.Order, res port.PopResult) {
	switch rem.TimeInForce {
	case domain.IOC:
		if rem.IsMarket() {
			// keep matching, but only against the level it first touched
			counter := res.Sell
			if rem.Side == domain.Sell {
				counter = res.Buy
			}
			anchor := counter.Score
			if _, err := p.book.Insert(ctx, rem, &anchor); err != nil {
				p.log.Warn().Err(err).Str("order", rem.ID).Msg("anchored re-insert failed")
			}
			return
		}
		// a limit IOC remainder cancels, it never rests
		if err := p.cancelOrder(ctx, rem.ID); err != nil {
			p.log.Warn().Err(err).Str("order", rem.ID).Msg("IOC remainder cancel failed")
		}
	case domain.FOK:
		// depth was verified when the add drained, so a multi-level sweep
		// keeps going; cancel only if the pre-checked depth actually
		// vanished out of band
		avail, err := p.book.FillableQuantity(ctx, rem)
		if err == nil && avail.GreaterThanOrEqual(rem.Remaining()) {
			if _, err := p.book.Insert(ctx, rem, nil); err != nil {
				p.log.Warn().Err(err).Str("order", rem.ID).Msg("FOK re-insert failed")
			}
			return
		}
		if err != nil {
			p.log.Warn().Err(err).Str("order", rem.ID).Msg("FOK depth re-check failed")
		}
		if err := p.cancelOrder(ctx, rem.ID); err != nil {
			p.log.Warn().Err(err).Str("order", rem.ID).Msg("FOK remainder cancel failed")
		}
	default:
		if _, err := p.book.Insert(ctx, rem, nil); err != nil {
			p.log.Warn().Err(err).Str("order", rem.ID).Msg("remainder re-insert failed")
		}
	}
}

// reinsertLeg restores a popped leg after a failed settlement, keeping
// its anchor so an IOC market order stays pinned to its level.
func (p *Processor) reinsertLeg(ctx context.Context, ref port.BookRef) {
	o, err := p.repo.GetOrder(ctx, ref.OrderID)
	if err != nil {
		if !errors.Is(err, domain.ErrOrderNotFound) {
			p.log.Warn().Err(err).Str("order", ref.OrderID).Msg("leg reload failed")
		}
		return
	}
	if !o.Matchable() {
		return
	}
	if _, err := p.book.Insert(ctx, o, ref.Anchor); err != nil {
		p.log.Warn().Err(err).Str("order", o.ID).Msg("defensive re-insert failed")
	}
}

// isBuyerMaker: the market leg is always the taker; between two limit
// orders the earlier arrival was resting and makes the price.
func isBuyerMaker(buy, sell *domain.Order) bool {
	if buy.IsMarket() != sell.IsMarket() {
		return sell.IsMarket()
	}
	return buy.CreatedAt.Before(sell.CreatedAt)
}
