package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Side string
type OrderType string
type OrderStatus string
type TimeInForce string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"

	Limit      OrderType = "LIMIT"
	Market     OrderType = "MARKET"
	StopLimit  OrderType = "STOP_LIMIT"
	StopMarket OrderType = "STOP_MARKET"

	New       OrderStatus = "NEW"
	Pending   OrderStatus = "PENDING"
	Stopping  OrderStatus = "STOPPING"
	Executing OrderStatus = "EXECUTING"
	Executed  OrderStatus = "EXECUTED"
	Canceled  OrderStatus = "CANCELED"

	GTC TimeInForce = "GTC"
	IOC TimeInForce = "IOC"
	FOK TimeInForce = "FOK"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrOrderClosed   = errors.New("order not open")
	// ErrTxConflict marks deadlock-class storage errors that are safe
	// to retry locally.
	ErrTxConflict = errors.New("transaction conflict")
)

// Pair identifies a trading pair: Coin is the traded asset, Currency the quote.
type Pair struct {
	Coin     string
	Currency string
}

// Key returns the canonical storage key, e.g. "BTC_USDT".
func (p Pair) Key() string {
	return strings.ToUpper(p.Coin) + "_" + strings.ToUpper(p.Currency)
}

func (p Pair) Symbol() string {
	return strings.ToUpper(p.Coin) + "/" + strings.ToUpper(p.Currency)
}

type Order struct {
	ID               string
	Pair             Pair
	Side             Side
	Type             OrderType
	Price            decimal.Decimal
	StopPrice        decimal.Decimal
	Quantity         decimal.Decimal
	ExecutedQuantity decimal.Decimal
	Status           OrderStatus
	TimeInForce      TimeInForce
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Remaining is the still-unfilled quantity, never negative.
func (o *Order) Remaining() decimal.Decimal {
	r := o.Quantity.Sub(o.ExecutedQuantity)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// Matchable reports whether the order may participate in matching:
// open status and positive remaining quantity. Stopping orders are
// not matchable until their trigger fires.
func (o *Order) Matchable() bool {
	if o.Status != Pending && o.Status != Executing {
		return false
	}
	return o.Remaining().IsPositive()
}

func (o *Order) IsMarket() bool {
	return o.Type == Market || o.Type == StopMarket
}

func (o *Order) IsStop() bool {
	return o.Type == StopLimit || o.Type == StopMarket
}

func (o *Order) PartiallyFilled() bool {
	return o.ExecutedQuantity.GreaterThan(decimal.Zero) &&
		o.ExecutedQuantity.LessThan(o.Quantity)
}
