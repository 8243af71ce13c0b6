package in_memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/port"
	"github.com/shopspring/decimal"
)

var _ port.BookStore = (*Book)(nil)

type bookEntry struct {
	member string
	score  float64
}

func entryLess(a, b bookEntry) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	return a.member < b.member
}

type eventItem struct {
	key string
	ev  domain.QueueEvent
}

func eventLess(a, b eventItem) bool { return a.key < b.key }

func eventKey(ev domain.QueueEvent) string {
	return fmt.Sprintf("%020d|%s|%s", ev.At.UnixNano(), ev.Action, ev.OrderID)
}

type orderMeta struct {
	queue  domain.QueueID
	member string
	score  float64
	price  decimal.Decimal
	qty    decimal.Decimal
	ioc    bool
	anchor *float64
}

type pairBook struct {
	queues map[domain.QueueID]*btree.BTreeG[bookEntry]
	meta   map[string]*orderMeta
	events *btree.BTreeG[eventItem]
}

func newPairBook() *pairBook {
	pb := &pairBook{
		queues: make(map[domain.QueueID]*btree.BTreeG[bookEntry]),
		meta:   make(map[string]*orderMeta),
		events: btree.NewG(8, eventLess),
	}
	for _, q := range domain.Queues() {
		pb.queues[q] = btree.NewG(8, entryLess)
	}
	return pb
}

// Book is the in-memory BookStore used by tests and local runs. One
// mutex around every operation gives the same atomicity the Redis
// adapter gets from server-side scripts.
type Book struct {
	mu         sync.Mutex
	pairs      map[string]*pairBook
	heartbeats map[string]time.Time
}

func NewBook() *Book {
	return &Book{
		pairs:      make(map[string]*pairBook),
		heartbeats: make(map[string]time.Time),
	}
}

func (b *Book) pair(p domain.Pair) *pairBook {
	pb, ok := b.pairs[p.Key()]
	if !ok {
		pb = newPairBook()
		b.pairs[p.Key()] = pb
	}
	return pb
}

func (b *Book) Insert(ctx context.Context, o *domain.Order, anchor *float64) (bool, error) {
	if !o.Matchable() {
		return false, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	pb := b.pair(o.Pair)
	if _, exists := pb.meta[o.ID]; exists {
		return false, nil
	}
	q := domain.QueueFor(o.Side, o.Type)
	ent := bookEntry{member: domain.EntryMember(o), score: domain.BookScore(o)}
	pb.queues[q].ReplaceOrInsert(ent)
	pb.meta[o.ID] = &orderMeta{
		queue:  q,
		member: ent.member,
		score:  ent.score,
		price:  o.Price,
		qty:    o.Remaining(),
		ioc:    o.TimeInForce == domain.IOC,
		anchor: anchor,
	}
	return true, nil
}

func (b *Book) Remove(ctx context.Context, pair domain.Pair, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pb := b.pair(pair)
	m, ok := pb.meta[orderID]
	if !ok {
		return nil
	}
	pb.queues[m.queue].Delete(bookEntry{member: m.member, score: m.score})
	delete(pb.meta, orderID)
	return nil
}

func (b *Book) PeekBest(ctx context.Context, pair domain.Pair, q domain.QueueID) (*domain.BookEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ent, ok := b.pair(pair).queues[q].Min()
	if !ok {
		return nil, nil
	}
	return &domain.BookEntry{Member: ent.member, Score: ent.score}, nil
}

func (pb *pairBook) refFor(ent bookEntry) port.BookRef {
	ref := port.BookRef{
		OrderID: domain.MemberOrderID(ent.member),
		Member:  ent.member,
		Score:   ent.score,
	}
	if m, ok := pb.meta[ref.OrderID]; ok {
		ref.IOC = m.ioc
		ref.Anchor = m.anchor
	}
	return ref
}

// atScore returns the first entry sorting at exactly the given score.
func atScore(tree *btree.BTreeG[bookEntry], score float64) (bookEntry, bool) {
	var found bookEntry
	ok := false
	tree.AscendGreaterOrEqual(bookEntry{score: score, member: ""}, func(e bookEntry) bool {
		if e.score == score {
			found, ok = e, true
		}
		return false
	})
	return found, ok
}

func (pb *pairBook) pop(ref port.BookRef, q *btree.BTreeG[bookEntry]) {
	q.Delete(bookEntry{member: ref.Member, score: ref.Score})
	delete(pb.meta, ref.OrderID)
}

func cancelResult(side domain.Side, ref port.BookRef) port.PopResult {
	return port.PopResult{Outcome: port.PopCanceled, CanceledSide: side, Canceled: ref}
}

func (b *Book) PopMatchedPair(ctx context.Context, pair domain.Pair, buyQ, sellQ domain.QueueID, finalBuy, finalSell bool) (port.PopResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pb := b.pair(pair)
	buyTree, sellTree := pb.queues[buyQ], pb.queues[sellQ]
	buyMarket := buyQ == domain.BuyMarket
	sellMarket := sellQ == domain.SellMarket

	bEnt, bOk := buyTree.Min()
	sEnt, sOk := sellTree.Min()
	var bRef, sRef port.BookRef
	if bOk {
		bRef = pb.refFor(bEnt)
	}
	if sOk {
		sRef = pb.refFor(sEnt)
	}

	// an anchored IOC market leg may only see the counter-level it first touched
	if bOk && buyMarket && bRef.Anchor != nil {
		ent, ok := atScore(sellTree, *bRef.Anchor)
		if !ok {
			return cancelResult(domain.Buy, bRef), nil
		}
		sEnt, sOk = ent, true
		sRef = pb.refFor(sEnt)
	}
	if sOk && sellMarket && sRef.Anchor != nil {
		ent, ok := atScore(buyTree, *sRef.Anchor)
		if !ok {
			return cancelResult(domain.Sell, sRef), nil
		}
		bEnt, bOk = ent, true
		bRef = pb.refFor(bEnt)
	}

	if !bOk || !sOk {
		// a lone IOC top has had its attempt and must not rest, but only
		// the side's final probe may pronounce that
		if bOk && bRef.IOC && finalBuy {
			return cancelResult(domain.Buy, bRef), nil
		}
		if sOk && sRef.IOC && finalSell {
			return cancelResult(domain.Sell, sRef), nil
		}
		return port.PopResult{Outcome: port.PopEmpty}, nil
	}

	crossed := true
	if !buyMarket && !sellMarket {
		crossed = domain.PriceCeiling-bEnt.score >= sEnt.score
	}
	if !crossed {
		if bRef.IOC && finalBuy {
			return cancelResult(domain.Buy, bRef), nil
		}
		if sRef.IOC && finalSell {
			return cancelResult(domain.Sell, sRef), nil
		}
		return port.PopResult{Outcome: port.PopEmpty}, nil
	}

	pb.pop(bRef, buyTree)
	pb.pop(sRef, sellTree)
	return port.PopResult{Outcome: port.PopMatched, Buy: bRef, Sell: sRef}, nil
}

func (b *Book) FillableQuantity(ctx context.Context, taker *domain.Order) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pb := b.pair(taker.Pair)
	var limQ, mktQ domain.QueueID
	maxScore := domain.PriceCeiling
	p, _ := taker.Price.Float64()
	if taker.Side == domain.Buy {
		limQ, mktQ = domain.SellLimit, domain.SellMarket
		if !taker.IsMarket() {
			maxScore = p
		}
	} else {
		limQ, mktQ = domain.BuyLimit, domain.BuyMarket
		if !taker.IsMarket() {
			maxScore = domain.PriceCeiling - p
		}
	}

	total := decimal.Zero
	add := func(e bookEntry) {
		if m, ok := pb.meta[domain.MemberOrderID(e.member)]; ok {
			total = total.Add(m.qty)
		}
	}
	pb.queues[limQ].Ascend(func(e bookEntry) bool {
		if e.score > maxScore {
			return false
		}
		add(e)
		return true
	})
	pb.queues[mktQ].Ascend(func(e bookEntry) bool {
		add(e)
		return true
	})
	return total, nil
}

func (b *Book) PushEvent(ctx context.Context, pair domain.Pair, ev domain.QueueEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pair(pair).events.ReplaceOrInsert(eventItem{key: eventKey(ev), ev: ev})
	return nil
}

func (b *Book) PopEvent(ctx context.Context, pair domain.Pair) (*domain.QueueEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	item, ok := b.pair(pair).events.DeleteMin()
	if !ok {
		return nil, nil
	}
	ev := item.ev
	return &ev, nil
}

func (b *Book) RequeueEvents(ctx context.Context, pair domain.Pair, evs []domain.QueueEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	pb := b.pair(pair)
	for _, ev := range evs {
		pb.events.ReplaceOrInsert(eventItem{key: eventKey(ev), ev: ev})
	}
	return nil
}

func (b *Book) ResetPair(ctx context.Context, pair domain.Pair) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	pb := newPairBook()
	// queued events survive: recovery re-enqueues adds from durable
	// storage (duplicates collapse on the member encoding), but a
	// pending cancel has no durable trace and must keep its place
	if old, ok := b.pairs[pair.Key()]; ok {
		pb.events = old.events
	}
	b.pairs[pair.Key()] = pb
	return nil
}

func (b *Book) Heartbeat(ctx context.Context, pair domain.Pair, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.heartbeats[pair.Key()] = at
	return nil
}

func (b *Book) LastHeartbeat(ctx context.Context, pair domain.Pair) (time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.heartbeats[pair.Key()], nil
}
