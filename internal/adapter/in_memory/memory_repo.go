package in_memory

import (
	"context"
	"sort"
	"sync"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/port"
)

var _ port.Repository = (*Repo)(nil)

// Repo is the in-memory Repository used by tests and local runs.
type Repo struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
	trades []*domain.Trade
}

func NewRepo() *Repo {
	return &Repo{orders: make(map[string]*domain.Order)}
}

func (r *Repo) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *Repo) FindMatchableOrders(ctx context.Context, pair domain.Pair) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []*domain.Order
	for _, o := range r.orders {
		if o.Pair == pair && o.Matchable() {
			cp := *o
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (r *Repo) Save(ctx context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	r.orders[o.ID] = &cp
	return nil
}

func (r *Repo) BeginTx(ctx context.Context) (port.Tx, error) {
	return &memTx{repo: r, saved: make(map[string]*domain.Order)}, nil
}

// Trades returns every settled trade, oldest first.
func (r *Repo) Trades() []*domain.Trade {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]*domain.Trade, len(r.trades))
	copy(res, r.trades)
	return res
}

var _ port.Tx = (*memTx)(nil)

// memTx buffers writes and applies them on Commit. There is no real
// row locking; the single-writer processor makes that sufficient for
// tests.
type memTx struct {
	repo   *Repo
	saved  map[string]*domain.Order
	trades []*domain.Trade
	done   bool
}

func (t *memTx) LockForUpdate(ctx context.Context, id string) (*domain.Order, error) {
	if o, ok := t.saved[id]; ok {
		cp := *o
		return &cp, nil
	}
	return t.repo.GetOrder(ctx, id)
}

func (t *memTx) Save(ctx context.Context, o *domain.Order) error {
	cp := *o
	t.saved[o.ID] = &cp
	return nil
}

func (t *memTx) SaveTrade(ctx context.Context, tr *domain.Trade) error {
	cp := *tr
	t.trades = append(t.trades, &cp)
	return nil
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	for id, o := range t.saved {
		t.repo.orders[id] = o
	}
	t.repo.trades = append(t.repo.trades, t.trades...)
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	t.done = true
	return nil
}
