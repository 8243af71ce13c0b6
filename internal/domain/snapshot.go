package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is one aggregated step of book depth.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// OrderbookSnapshot is an aggregated depth view built from durable
// matchable orders. Bids sort best (highest) first, asks best (lowest)
// first.
type OrderbookSnapshot struct {
	Pair      string       `json:"pair"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}
