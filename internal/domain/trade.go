package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Trade struct {
	ID           string
	Pair         Pair
	BuyOrder     string
	SellOrder    string
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	IsBuyerMaker bool
	ExecutedAt   time.Time
}
