package port

import (
	"context"
	"time"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/shopspring/decimal"
)

type PopOutcome int

const (
	PopEmpty PopOutcome = iota
	PopMatched
	PopCanceled
)

// BookRef points at one popped book entry together with the metadata
// the store held for it.
type BookRef struct {
	OrderID string
	Member  string
	Score   float64
	IOC     bool
	Anchor  *float64
}

// PopResult is the outcome of one PopMatchedPair attempt. Buy/Sell are
// set when Outcome is PopMatched; Canceled and CanceledSide when the
// primitive resolved an IOC entry that can no longer match.
type PopResult struct {
	Outcome      PopOutcome
	Buy          BookRef
	Sell         BookRef
	Canceled     BookRef
	CanceledSide domain.Side
}

// BookStore is the per-pair coordination store: four ordered
// collections, per-order metadata, the unprocessed event queue and the
// processor lease. Every multi-step operation executes atomically on
// the store side, so overlapping callers can never consume the same
// top-of-book entry twice.
type BookStore interface {
	// Insert admits an order into its collection. It is a no-op (false)
	// when the order is no longer matchable or already has a live entry.
	// A non-nil anchor restricts an IOC market order to the exact
	// counter-level score it first matched.
	Insert(ctx context.Context, o *domain.Order, anchor *float64) (bool, error)
	// Remove purges the order's entry and all its metadata.
	Remove(ctx context.Context, pair domain.Pair, orderID string) error
	// PeekBest reads the best entry of a collection without removing it.
	PeekBest(ctx context.Context, pair domain.Pair, q domain.QueueID) (*domain.BookEntry, error)
	// PopMatchedPair atomically peeks both requested tops, decides
	// matchability (market legs always match, limit-limit requires
	// bestBuy >= bestSell, anchored IOC entries only see their anchored
	// level) and on success pops both entries with their metadata.
	// finalBuy/finalSell mark the caller's last probe involving that
	// side's collection: a spent IOC top may only be sentenced to cancel
	// then, since an earlier probe must leave it for a later combination
	// that could still fill it.
	PopMatchedPair(ctx context.Context, pair domain.Pair, buyQ, sellQ domain.QueueID, finalBuy, finalSell bool) (PopResult, error)
	// FillableQuantity sums the remaining quantity resting opposite the
	// taker at prices the taker accepts. Used for the FOK admission check.
	FillableQuantity(ctx context.Context, taker *domain.Order) (decimal.Decimal, error)

	PushEvent(ctx context.Context, pair domain.Pair, ev domain.QueueEvent) error
	// PopEvent pops the oldest unprocessed event, nil when the queue is empty.
	PopEvent(ctx context.Context, pair domain.Pair) (*domain.QueueEvent, error)
	RequeueEvents(ctx context.Context, pair domain.Pair, evs []domain.QueueEvent) error

	// ResetPair drops the pair's collections and metadata. The lease and
	// the event queue survive: recovery re-enqueues adds from durable
	// storage (duplicates collapse on the member encoding), while queued
	// cancels have no durable trace and must keep their place.
	ResetPair(ctx context.Context, pair domain.Pair) error

	Heartbeat(ctx context.Context, pair domain.Pair, at time.Time) error
	// LastHeartbeat returns the zero time when no lease exists.
	LastHeartbeat(ctx context.Context, pair domain.Pair) (time.Time, error)
}
