package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/port"
	"github.com/rs/zerolog"
)

// Admission turns order create/cancel events into unprocessed-queue
// items. Balance reservation has already happened upstream; the
// processor picks the events up in timestamp order.
type Admission struct {
	repo port.Repository
	book port.BookStore
	ref  port.ReferencePriceSource
	log  zerolog.Logger
	now  func() time.Time
}

func NewAdmission(repo port.Repository, book port.BookStore, ref port.ReferencePriceSource, log zerolog.Logger) *Admission {
	return &Admission{repo: repo, book: book, ref: ref, log: log, now: time.Now}
}

// OnNewOrderCreated derives the order's initial status (pending, or
// stopping for a conditional order whose trigger has not fired),
// persists it and enqueues an add event for the pair's processor.
func (a *Admission) OnNewOrderCreated(ctx context.Context, o *domain.Order) error {
	now := a.now()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now

	o.Status = domain.Pending
	if o.IsStop() {
		fired, err := a.triggered(ctx, o)
		if err != nil {
			return err
		}
		if !fired {
			o.Status = domain.Stopping
		}
	}

	if err := a.repo.Save(ctx, o); err != nil {
		return err
	}
	a.log.Debug().Str("pair", o.Pair.Key()).Str("order", o.ID).
		Str("status", string(o.Status)).Msg("order admitted")
	return a.book.PushEvent(ctx, o.Pair, domain.QueueEvent{
		Action:  domain.AddOrder,
		OrderID: o.ID,
		At:      o.CreatedAt,
	})
}

// OnOrderCanceled enqueues a remove event stamped now, so it always
// drains after the matching add.
func (a *Admission) OnOrderCanceled(ctx context.Context, o *domain.Order) error {
	a.log.Debug().Str("pair", o.Pair.Key()).Str("order", o.ID).Msg("cancel queued")
	return a.book.PushEvent(ctx, o.Pair, domain.QueueEvent{
		Action:  domain.RemoveOrder,
		OrderID: o.ID,
		At:      a.now(),
	})
}

// triggered: a buy stop fires at or above its stop price, a sell stop
// at or below. Without a reference price the order stays conditional.
func (a *Admission) triggered(ctx context.Context, o *domain.Order) (bool, error) {
	ref, err := a.ref.LastPrice(ctx, o.Pair)
	if err != nil {
		return false, err
	}
	if ref.IsZero() {
		return false, nil
	}
	if o.Side == domain.Buy {
		return ref.GreaterThanOrEqual(o.StopPrice), nil
	}
	return ref.LessThanOrEqual(o.StopPrice), nil
}
