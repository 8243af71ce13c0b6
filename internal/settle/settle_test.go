package settle

import (
	"context"
	"testing"
	"time"

	"github.com/olyamironova/matching-core/internal/adapter/in_memory"
	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/shopspring/decimal"
)

func limitOrder(id string, side domain.Side, price, qty string) *domain.Order {
	return &domain.Order{
		ID:          id,
		Pair:        domain.Pair{Coin: "BTC", Currency: "USDT"},
		Side:        side,
		Type:        domain.Limit,
		Price:       decimal.RequireFromString(price),
		Quantity:    decimal.RequireFromString(qty),
		Status:      domain.Pending,
		TimeInForce: domain.GTC,
		CreatedAt:   time.Now(),
	}
}

func TestMatchUsesMakerPrice(t *testing.T) {
	ctx := context.Background()
	repo := in_memory.NewRepo()
	eng := NewEngine()

	buy := limitOrder("b1", domain.Buy, "10100", "1")
	sell := limitOrder("s1", domain.Sell, "10000", "1")

	tx, err := repo.BeginTx(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	rest, err := eng.MatchOrders(ctx, tx, buy, sell, false)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if rest != nil {
		t.Fatalf("expected a full fill, got remainder %s", rest.ID)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	trades := repo.Trades()
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	// seller was the maker, so the trade prints at the ask
	if !trades[0].Price.Equal(decimal.RequireFromString("10000")) {
		t.Fatalf("price = %s, want 10000", trades[0].Price)
	}
	if buy.Status != domain.Executed || sell.Status != domain.Executed {
		t.Fatalf("statuses = %s/%s, want EXECUTED/EXECUTED", buy.Status, sell.Status)
	}
}

func TestMatchReturnsUnfilledLeg(t *testing.T) {
	ctx := context.Background()
	repo := in_memory.NewRepo()
	eng := NewEngine()

	buy := limitOrder("b1", domain.Buy, "10000", "3")
	sell := limitOrder("s1", domain.Sell, "10000", "1")

	tx, err := repo.BeginTx(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	rest, err := eng.MatchOrders(ctx, tx, buy, sell, true)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if rest == nil || rest.ID != "b1" {
		t.Fatalf("remainder = %v, want the buy leg", rest)
	}
	if !rest.Remaining().Equal(decimal.RequireFromString("2")) {
		t.Fatalf("remaining = %s, want 2", rest.Remaining())
	}
	if buy.Status != domain.Executing {
		t.Fatalf("buy status = %s, want EXECUTING", buy.Status)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	// buyer was the maker this time
	if tr := repo.Trades(); len(tr) != 1 || !tr[0].IsBuyerMaker {
		t.Fatalf("trades = %+v, want one buyer-maker print", tr)
	}
}

func TestMatchRejectsExhaustedLegs(t *testing.T) {
	ctx := context.Background()
	repo := in_memory.NewRepo()
	eng := NewEngine()

	buy := limitOrder("b1", domain.Buy, "10000", "1")
	buy.ExecutedQuantity = buy.Quantity
	sell := limitOrder("s1", domain.Sell, "10000", "1")

	tx, err := repo.BeginTx(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback(ctx)
	if _, err := eng.MatchOrders(ctx, tx, buy, sell, false); err == nil {
		t.Fatal("expected an error for a zero-overlap match")
	}
}
