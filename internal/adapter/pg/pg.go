package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/port"
)

var _ port.Repository = (*Repo)(nil)

type Repo struct {
	pool *pgxpool.Pool
}

// call Close when finished working with the database.
func NewRepo(ctx context.Context, dsn string) (*Repo, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}
	return &Repo{pool: pool}, nil
}

func NewRepoWithPool(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

func (r *Repo) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

const orderColumns = `id, coin, currency, side, type, price, stop_price, quantity, executed_quantity, status, time_in_force, created_at, updated_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	var side, typ, status, tif string
	err := row.Scan(&o.ID, &o.Pair.Coin, &o.Pair.Currency, &side, &typ,
		&o.Price, &o.StopPrice, &o.Quantity, &o.ExecutedQuantity,
		&status, &tif, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Side = domain.Side(side)
	o.Type = domain.OrderType(typ)
	o.Status = domain.OrderStatus(status)
	o.TimeInForce = domain.TimeInForce(tif)
	return &o, nil
}

func (r *Repo) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	return o, err
}

// FindMatchableOrders returns open orders for a pair ordered by created_at ASC (FIFO).
func (r *Repo) FindMatchableOrders(ctx context.Context, pair domain.Pair) ([]*domain.Order, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+orderColumns+`
FROM orders
WHERE coin = $1 AND currency = $2
  AND status IN ('PENDING','EXECUTING')
  AND quantity > executed_quantity
ORDER BY created_at ASC
`, pair.Coin, pair.Currency)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r *Repo) Save(ctx context.Context, o *domain.Order) error {
	if o == nil {
		return errors.New("nil order")
	}
	_, err := r.pool.Exec(ctx, saveOrderSQL, saveOrderArgs(o)...)
	return err
}

func (r *Repo) BeginTx(ctx context.Context) (port.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, wrapTxErr(err)
	}
	return &Tx{tx: tx}, nil
}

const saveOrderSQL = `
INSERT INTO orders(id, coin, currency, side, type, price, stop_price, quantity, executed_quantity, status, time_in_force, created_at, updated_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (id) DO UPDATE SET
  price = EXCLUDED.price,
  stop_price = EXCLUDED.stop_price,
  quantity = EXCLUDED.quantity,
  executed_quantity = EXCLUDED.executed_quantity,
  status = EXCLUDED.status,
  time_in_force = EXCLUDED.time_in_force,
  updated_at = EXCLUDED.updated_at
`

func saveOrderArgs(o *domain.Order) []any {
	return []any{o.ID, o.Pair.Coin, o.Pair.Currency, string(o.Side), string(o.Type),
		o.Price, o.StopPrice, o.Quantity, o.ExecutedQuantity,
		string(o.Status), string(o.TimeInForce), o.CreatedAt, o.UpdatedAt}
}

var _ port.Tx = (*Tx)(nil)

type Tx struct {
	tx pgx.Tx
}

// LockForUpdate loads the order row under FOR UPDATE, blocking
// concurrent writers until this transaction ends.
func (t *Tx) LockForUpdate(ctx context.Context, id string) (*domain.Order, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, wrapTxErr(err)
	}
	return o, nil
}

func (t *Tx) Save(ctx context.Context, o *domain.Order) error {
	if o == nil {
		return errors.New("nil order")
	}
	_, err := t.tx.Exec(ctx, saveOrderSQL, saveOrderArgs(o)...)
	return wrapTxErr(err)
}

func (t *Tx) SaveTrade(ctx context.Context, tr *domain.Trade) error {
	if tr == nil {
		return errors.New("nil trade")
	}
	_, err := t.tx.Exec(ctx, `
INSERT INTO trades(id, coin, currency, buy_order, sell_order, price, quantity, is_buyer_maker, executed_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO NOTHING
`, tr.ID, tr.Pair.Coin, tr.Pair.Currency, tr.BuyOrder, tr.SellOrder,
		tr.Price, tr.Quantity, tr.IsBuyerMaker, tr.ExecutedAt)
	return wrapTxErr(err)
}

func (t *Tx) Commit(ctx context.Context) error {
	return wrapTxErr(t.tx.Commit(ctx))
}

func (t *Tx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

// wrapTxErr maps serialization failures and deadlocks onto
// domain.ErrTxConflict so the processor can recognize retryable errors.
func wrapTxErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return fmt.Errorf("%w: %s", domain.ErrTxConflict, pgErr.Code)
	}
	return err
}
