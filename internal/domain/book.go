package domain

import (
	"fmt"
	"strings"
	"time"
)

// QueueID names one of the four per-pair ordered book collections.
type QueueID string

const (
	BuyLimit   QueueID = "buy_limit"
	BuyMarket  QueueID = "buy_market"
	SellLimit  QueueID = "sell_limit"
	SellMarket QueueID = "sell_market"
)

func Queues() []QueueID {
	return []QueueID{BuyLimit, BuyMarket, SellLimit, SellMarket}
}

// QueueFor picks the collection an order rests in. Stop orders only
// reach the book once triggered, at which point they behave as their
// underlying limit or market type.
func QueueFor(side Side, typ OrderType) QueueID {
	market := typ == Market || typ == StopMarket
	switch {
	case side == Buy && market:
		return BuyMarket
	case side == Buy:
		return BuyLimit
	case market:
		return SellMarket
	default:
		return SellLimit
	}
}

// PriceCeiling bounds every normalized price. Buy-limit entries score
// PriceCeiling−price so the minimum score on either limit collection
// is always the best price.
const PriceCeiling = 1e12

// BookScore computes the sort key for an order's book entry: side-adjusted
// price for limit orders, pure arrival time for market orders.
func BookScore(o *Order) float64 {
	if o.IsMarket() {
		return float64(o.CreatedAt.UnixMilli())
	}
	p, _ := o.Price.Float64()
	if o.Side == Buy {
		return PriceCeiling - p
	}
	return p
}

// EntryMember encodes arrival order into the member itself so entries
// with equal scores drain FIFO: zero-padded arrival nanos, then the id.
func EntryMember(o *Order) string {
	return fmt.Sprintf("%020d:%s", o.CreatedAt.UnixNano(), o.ID)
}

func MemberOrderID(member string) string {
	if i := strings.IndexByte(member, ':'); i >= 0 {
		return member[i+1:]
	}
	return member
}

// PriceFromScore inverts BookScore for limit entries.
func PriceFromScore(side Side, score float64) float64 {
	if side == Buy {
		return PriceCeiling - score
	}
	return score
}

// BookEntry is a peeked top-of-book pointer.
type BookEntry struct {
	Member string
	Score  float64
}

func (e BookEntry) OrderID() string { return MemberOrderID(e.Member) }

type EventAction string

const (
	AddOrder    EventAction = "add"
	RemoveOrder EventAction = "remove"
)

// QueueEvent is one unprocessed-queue item. Cancels are stamped at
// cancel time so they always drain after their matching add.
type QueueEvent struct {
	Action  EventAction
	OrderID string
	At      time.Time
}
