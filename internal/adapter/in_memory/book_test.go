package in_memory

import (
	"context"
	"testing"
	"time"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/port"
	"github.com/shopspring/decimal"
)

var bookPair = domain.Pair{Coin: "BTC", Currency: "USDT"}

func bookOrder(id string, side domain.Side, typ domain.OrderType, price, qty string, tif domain.TimeInForce, at time.Time) *domain.Order {
	o := &domain.Order{
		ID:          id,
		Pair:        bookPair,
		Side:        side,
		Type:        typ,
		Quantity:    decimal.RequireFromString(qty),
		Status:      domain.Pending,
		TimeInForce: tif,
		CreatedAt:   at,
	}
	if price != "" {
		o.Price = decimal.RequireFromString(price)
	}
	return o
}

func mustInsert(t *testing.T, b *Book, o *domain.Order, anchor *float64) {
	t.Helper()
	ok, err := b.Insert(context.Background(), o, anchor)
	if err != nil || !ok {
		t.Fatalf("insert %s: ok=%v err=%v", o.ID, ok, err)
	}
}

func TestInsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b := NewBook()
	at := time.Now()
	o := bookOrder("o1", domain.Buy, domain.Limit, "10000", "1", domain.GTC, at)

	mustInsert(t, b, o, nil)
	ok, err := b.Insert(ctx, o, nil)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if ok {
		t.Fatal("second insert of the same order must be a no-op")
	}

	if err := b.Remove(ctx, bookPair, o.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if ent, _ := b.PeekBest(ctx, bookPair, domain.BuyLimit); ent != nil {
		t.Fatalf("entry survived removal: %+v", ent)
	}
}

func TestInsertRejectsClosedOrders(t *testing.T) {
	b := NewBook()
	o := bookOrder("o1", domain.Buy, domain.Limit, "10000", "1", domain.GTC, time.Now())
	o.Status = domain.Canceled
	ok, err := b.Insert(context.Background(), o, nil)
	if err != nil || ok {
		t.Fatalf("insert of a canceled order: ok=%v err=%v", ok, err)
	}
}

func TestPopMatchedPairOutcomes(t *testing.T) {
	ctx := context.Background()
	at := time.Now()

	t.Run("empty book", func(t *testing.T) {
		b := NewBook()
		res, err := b.PopMatchedPair(ctx, bookPair, domain.BuyLimit, domain.SellLimit, true, true)
		if err != nil || res.Outcome != port.PopEmpty {
			t.Fatalf("outcome=%v err=%v, want PopEmpty", res.Outcome, err)
		}
	})

	t.Run("crossed limits match", func(t *testing.T) {
		b := NewBook()
		buy := bookOrder("b1", domain.Buy, domain.Limit, "10000", "1", domain.GTC, at)
		sell := bookOrder("s1", domain.Sell, domain.Limit, "9900", "1", domain.GTC, at.Add(time.Second))
		mustInsert(t, b, buy, nil)
		mustInsert(t, b, sell, nil)

		res, err := b.PopMatchedPair(ctx, bookPair, domain.BuyLimit, domain.SellLimit, true, true)
		if err != nil || res.Outcome != port.PopMatched {
			t.Fatalf("outcome=%v err=%v, want PopMatched", res.Outcome, err)
		}
		if res.Buy.OrderID != "b1" || res.Sell.OrderID != "s1" {
			t.Fatalf("popped %s/%s, want b1/s1", res.Buy.OrderID, res.Sell.OrderID)
		}
		// both entries are gone along with their metadata
		if ent, _ := b.PeekBest(ctx, bookPair, domain.BuyLimit); ent != nil {
			t.Fatal("buy entry not popped")
		}
		if ent, _ := b.PeekBest(ctx, bookPair, domain.SellLimit); ent != nil {
			t.Fatal("sell entry not popped")
		}
	})

	t.Run("uncrossed limits rest", func(t *testing.T) {
		b := NewBook()
		mustInsert(t, b, bookOrder("b1", domain.Buy, domain.Limit, "9000", "1", domain.GTC, at), nil)
		mustInsert(t, b, bookOrder("s1", domain.Sell, domain.Limit, "9900", "1", domain.GTC, at), nil)

		res, err := b.PopMatchedPair(ctx, bookPair, domain.BuyLimit, domain.SellLimit, true, true)
		if err != nil || res.Outcome != port.PopEmpty {
			t.Fatalf("outcome=%v err=%v, want PopEmpty", res.Outcome, err)
		}
	})

	t.Run("market leg always matches", func(t *testing.T) {
		b := NewBook()
		mustInsert(t, b, bookOrder("m1", domain.Buy, domain.Market, "", "1", domain.GTC, at), nil)
		mustInsert(t, b, bookOrder("s1", domain.Sell, domain.Limit, "999999", "1", domain.GTC, at), nil)

		res, err := b.PopMatchedPair(ctx, bookPair, domain.BuyMarket, domain.SellLimit, true, false)
		if err != nil || res.Outcome != port.PopMatched {
			t.Fatalf("outcome=%v err=%v, want PopMatched", res.Outcome, err)
		}
	})

	t.Run("lone IOC top survives a non-final probe", func(t *testing.T) {
		b := NewBook()
		mustInsert(t, b, bookOrder("i1", domain.Sell, domain.Limit, "9900", "1", domain.IOC, at), nil)

		res, err := b.PopMatchedPair(ctx, bookPair, domain.BuyMarket, domain.SellLimit, true, false)
		if err != nil || res.Outcome != port.PopEmpty {
			t.Fatalf("outcome=%v err=%v, want PopEmpty on the non-final probe", res.Outcome, err)
		}
		if ent, _ := b.PeekBest(ctx, bookPair, domain.SellLimit); ent == nil {
			t.Fatal("entry must stay for a later probe that could fill it")
		}
	})

	t.Run("lone IOC top cancels on its final probe", func(t *testing.T) {
		b := NewBook()
		mustInsert(t, b, bookOrder("i1", domain.Sell, domain.Limit, "9900", "1", domain.IOC, at), nil)

		res, err := b.PopMatchedPair(ctx, bookPair, domain.BuyLimit, domain.SellLimit, true, true)
		if err != nil || res.Outcome != port.PopCanceled {
			t.Fatalf("outcome=%v err=%v, want PopCanceled", res.Outcome, err)
		}
		if res.CanceledSide != domain.Sell || res.Canceled.OrderID != "i1" {
			t.Fatalf("canceled %s/%s, want SELL/i1", res.CanceledSide, res.Canceled.OrderID)
		}
	})

	t.Run("uncrossed IOC top cancels only when final", func(t *testing.T) {
		b := NewBook()
		mustInsert(t, b, bookOrder("b1", domain.Buy, domain.Limit, "9000", "1", domain.GTC, at), nil)
		mustInsert(t, b, bookOrder("i1", domain.Sell, domain.Limit, "9900", "1", domain.IOC, at), nil)

		res, err := b.PopMatchedPair(ctx, bookPair, domain.BuyLimit, domain.SellLimit, true, false)
		if err != nil || res.Outcome != port.PopEmpty {
			t.Fatalf("outcome=%v err=%v, want PopEmpty on the non-final probe", res.Outcome, err)
		}
		res, err = b.PopMatchedPair(ctx, bookPair, domain.BuyLimit, domain.SellLimit, true, true)
		if err != nil || res.Outcome != port.PopCanceled {
			t.Fatalf("outcome=%v err=%v, want PopCanceled", res.Outcome, err)
		}
	})

	t.Run("anchored market cancels when its level is gone", func(t *testing.T) {
		b := NewBook()
		mkt := bookOrder("m1", domain.Buy, domain.Market, "", "2", domain.IOC, at)
		anchor := 10000.0
		mustInsert(t, b, mkt, &anchor)
		// depth exists, but only beyond the anchored level
		mustInsert(t, b, bookOrder("s1", domain.Sell, domain.Limit, "10001", "5", domain.GTC, at), nil)

		res, err := b.PopMatchedPair(ctx, bookPair, domain.BuyMarket, domain.SellLimit, true, false)
		if err != nil || res.Outcome != port.PopCanceled {
			t.Fatalf("outcome=%v err=%v, want PopCanceled", res.Outcome, err)
		}
		if res.Canceled.OrderID != "m1" {
			t.Fatalf("canceled %s, want m1", res.Canceled.OrderID)
		}
	})

	t.Run("anchored market still sees its level", func(t *testing.T) {
		b := NewBook()
		mkt := bookOrder("m1", domain.Buy, domain.Market, "", "2", domain.IOC, at)
		anchor := 10000.0
		mustInsert(t, b, mkt, &anchor)
		mustInsert(t, b, bookOrder("s1", domain.Sell, domain.Limit, "10000", "1", domain.GTC, at), nil)

		res, err := b.PopMatchedPair(ctx, bookPair, domain.BuyMarket, domain.SellLimit, true, false)
		if err != nil || res.Outcome != port.PopMatched {
			t.Fatalf("outcome=%v err=%v, want PopMatched", res.Outcome, err)
		}
		if res.Buy.Anchor == nil || *res.Buy.Anchor != anchor {
			t.Fatalf("anchor not carried through the pop: %+v", res.Buy)
		}
	})
}

func TestFillableQuantityRespectsLimitPrice(t *testing.T) {
	ctx := context.Background()
	b := NewBook()
	at := time.Now()
	mustInsert(t, b, bookOrder("s1", domain.Sell, domain.Limit, "9900", "1", domain.GTC, at), nil)
	mustInsert(t, b, bookOrder("s2", domain.Sell, domain.Limit, "10000", "2", domain.GTC, at), nil)
	mustInsert(t, b, bookOrder("s3", domain.Sell, domain.Limit, "10100", "4", domain.GTC, at), nil)

	taker := bookOrder("b1", domain.Buy, domain.Limit, "10000", "10", domain.FOK, at)
	got, err := b.FillableQuantity(ctx, taker)
	if err != nil {
		t.Fatalf("fillable: %v", err)
	}
	if !got.Equal(decimal.RequireFromString("3")) {
		t.Fatalf("fillable = %s, want 3 (s3 is beyond the taker's price)", got)
	}

	mktTaker := bookOrder("b2", domain.Buy, domain.Market, "", "10", domain.FOK, at)
	got, err = b.FillableQuantity(ctx, mktTaker)
	if err != nil {
		t.Fatalf("fillable: %v", err)
	}
	if !got.Equal(decimal.RequireFromString("7")) {
		t.Fatalf("fillable = %s, want the full 7 for a market taker", got)
	}
}

func TestEventQueueOrdering(t *testing.T) {
	ctx := context.Background()
	b := NewBook()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	evs := []domain.QueueEvent{
		{Action: domain.RemoveOrder, OrderID: "o1", At: base.Add(2 * time.Second)},
		{Action: domain.AddOrder, OrderID: "o1", At: base},
		{Action: domain.AddOrder, OrderID: "o2", At: base.Add(time.Second)},
	}
	for _, ev := range evs {
		if err := b.PushEvent(ctx, bookPair, ev); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	var got []domain.QueueEvent
	for {
		ev, err := b.PopEvent(ctx, bookPair)
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		if ev == nil {
			break
		}
		got = append(got, *ev)
	}
	if len(got) != 3 {
		t.Fatalf("popped %d events, want 3", len(got))
	}
	if got[0].OrderID != "o1" || got[0].Action != domain.AddOrder {
		t.Fatalf("first event = %+v, want the o1 add", got[0])
	}
	if got[2].Action != domain.RemoveOrder {
		t.Fatalf("last event = %+v, want the o1 remove", got[2])
	}
}

func TestRequeuePreservesPosition(t *testing.T) {
	ctx := context.Background()
	b := NewBook()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	first := domain.QueueEvent{Action: domain.AddOrder, OrderID: "o1", At: base}
	second := domain.QueueEvent{Action: domain.AddOrder, OrderID: "o2", At: base.Add(time.Second)}
	for _, ev := range []domain.QueueEvent{first, second} {
		if err := b.PushEvent(ctx, bookPair, ev); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	ev, err := b.PopEvent(ctx, bookPair)
	if err != nil || ev == nil {
		t.Fatalf("pop: ev=%v err=%v", ev, err)
	}
	// the in-flight event goes back with its original timestamp
	if err := b.RequeueEvents(ctx, bookPair, []domain.QueueEvent{*ev}); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	ev, err = b.PopEvent(ctx, bookPair)
	if err != nil || ev == nil || ev.OrderID != "o1" {
		t.Fatalf("after requeue got %+v, want o1 first again", ev)
	}
}

func TestResetPairKeepsLeaseAndEvents(t *testing.T) {
	ctx := context.Background()
	b := NewBook()
	at := time.Now()
	mustInsert(t, b, bookOrder("o1", domain.Buy, domain.Limit, "10000", "1", domain.GTC, at), nil)
	if err := b.Heartbeat(ctx, bookPair, at); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	cancel := domain.QueueEvent{Action: domain.RemoveOrder, OrderID: "o1", At: at}
	if err := b.PushEvent(ctx, bookPair, cancel); err != nil {
		t.Fatalf("push: %v", err)
	}

	if err := b.ResetPair(ctx, bookPair); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if ent, _ := b.PeekBest(ctx, bookPair, domain.BuyLimit); ent != nil {
		t.Fatal("reset left a live entry behind")
	}
	hb, err := b.LastHeartbeat(ctx, bookPair)
	if err != nil {
		t.Fatalf("last heartbeat: %v", err)
	}
	if !hb.Equal(at) {
		t.Fatalf("heartbeat = %v, want %v (the lease survives a reset)", hb, at)
	}
	ev, err := b.PopEvent(ctx, bookPair)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if ev == nil || ev.Action != domain.RemoveOrder || ev.OrderID != "o1" {
		t.Fatalf("event after reset = %+v, want the queued cancel", ev)
	}
}

func TestLastHeartbeatZeroWhenAbsent(t *testing.T) {
	b := NewBook()
	hb, err := b.LastHeartbeat(context.Background(), bookPair)
	if err != nil {
		t.Fatalf("last heartbeat: %v", err)
	}
	if !hb.IsZero() {
		t.Fatalf("heartbeat = %v, want the zero time", hb)
	}
}
