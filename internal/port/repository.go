package port

import (
	"context"

	"github.com/olyamironova/matching-core/internal/domain"
)

// Repository is the durable order store, the sole source of truth.
type Repository interface {
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	// FindMatchableOrders returns every currently matchable order for a
	// pair in arrival order (FIFO), used to rebuild ephemeral state.
	FindMatchableOrders(ctx context.Context, pair domain.Pair) ([]*domain.Order, error)
	Save(ctx context.Context, o *domain.Order) error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx is a row-locking transaction over orders and trades.
type Tx interface {
	// LockForUpdate loads an order under a row lock held until commit
	// or rollback.
	LockForUpdate(ctx context.Context, id string) (*domain.Order, error)
	Save(ctx context.Context, o *domain.Order) error
	SaveTrade(ctx context.Context, t *domain.Trade) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
