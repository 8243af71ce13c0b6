package dto

import (
	"github.com/shopspring/decimal"
)

type CreateOrderRequest struct {
	OrderID     string          `json:"order_id,omitempty"` // client-supplied id for deduplication
	Coin        string          `json:"coin" binding:"required"`
	Currency    string          `json:"currency" binding:"required"`
	Side        string          `json:"side" binding:"required"`
	Type        string          `json:"type" binding:"required"`
	Price       decimal.Decimal `json:"price,omitempty"`
	StopPrice   decimal.Decimal `json:"stop_price,omitempty"`
	Quantity    decimal.Decimal `json:"quantity" binding:"required"`
	TimeInForce string          `json:"time_in_force,omitempty"`
}

type CreateOrderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type CancelOrderRequest struct {
	OrderID string `json:"order_id" binding:"required"`
}

type CancelOrderResponse struct {
	OrderID string `json:"order_id"`
	Queued  bool   `json:"queued"`
}

type TopOfBookResponse struct {
	Pair    string `json:"pair"`
	BestBid string `json:"best_bid,omitempty"`
	BestAsk string `json:"best_ask,omitempty"`
}
