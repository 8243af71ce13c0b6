package core

import (
	"context"
	"errors"
	"time"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/port"
	"github.com/rs/zerolog"
)

// Config tunes one pair's matching loop.
type Config struct {
	// BatchSize caps match attempts per iteration.
	BatchSize int
	// CheckingInterval is the lease length; a processor assumes a
	// successor exists once it has run this long.
	CheckingInterval time.Duration
	// GuardBand is subtracted from the lease so the incumbent exits
	// before the successor can plausibly start.
	GuardBand time.Duration
	// MinDelay/MaxDelay/EmptyThreshold drive the adaptive backoff.
	MinDelay       time.Duration
	MaxDelay       time.Duration
	EmptyThreshold int
	// SettleRetryLimit caps deadlock retries during settlement;
	// zero means retry until success.
	SettleRetryLimit int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.CheckingInterval <= 0 {
		c.CheckingInterval = time.Minute
	}
	if c.GuardBand <= 0 {
		c.GuardBand = 2 * time.Second
	}
	if c.MinDelay <= 0 {
		c.MinDelay = 50 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 2 * time.Second
	}
	if c.EmptyThreshold <= 0 {
		c.EmptyThreshold = 3
	}
	return c
}

// Processor owns one pair's matching loop: the soft lease, the
// unprocessed-queue drain, batch matching and settlement. A pair has
// at most one live processor making progress at a time (best effort,
// heartbeat-based, not a fenced lock).
type Processor struct {
	pair   domain.Pair
	repo   port.Repository
	book   port.BookStore
	settle port.Settlement
	cfg    Config
	log    zerolog.Logger

	// events pulled from the unprocessed queue but not yet applied;
	// re-queued on heartbeat so in-flight work survives a crash window.
	inflight []domain.QueueEvent

	// optional market-data sinks, nil disables publishing
	prices port.PriceCache
	snaps  port.SnapshotCache

	now func() time.Time
}

func NewProcessor(pair domain.Pair, repo port.Repository, book port.BookStore, settlement port.Settlement, cfg Config, log zerolog.Logger) *Processor {
	return &Processor{
		pair:   pair,
		repo:   repo,
		book:   book,
		settle: settlement,
		cfg:    cfg.withDefaults(),
		log:    log.With().Str("pair", pair.Key()).Logger(),
		now:    time.Now,
	}
}

// PublishMarketData attaches the sinks fed after each settled trade.
func (p *Processor) PublishMarketData(prices port.PriceCache, snaps port.SnapshotCache) {
	p.prices = prices
	p.snaps = snaps
}

// ProcessPair runs one processor lifecycle: lease acquisition,
// recovery, then the polling loop until the lease could have been
// superseded. The external scheduler re-invokes it.
func (p *Processor) ProcessPair(ctx context.Context) error {
	start := p.now()

	last, err := p.book.LastHeartbeat(ctx, p.pair)
	if err != nil {
		return err
	}
	if !last.IsZero() && start.Sub(last) < p.cfg.CheckingInterval {
		p.log.Debug().Time("heartbeat", last).Msg("pair has a live processor, yielding")
		return nil
	}
	if err := p.book.Heartbeat(ctx, p.pair, start); err != nil {
		return err
	}
	if err := p.Recover(ctx); err != nil {
		return err
	}

	lastBeat := start
	bo := newBackoff(p.cfg.MinDelay, p.cfg.MaxDelay, p.cfg.EmptyThreshold)
	for {
		now := p.now()
		if now.Sub(start) > p.cfg.CheckingInterval-p.cfg.GuardBand {
			// controlled handoff: a successor is assumed to exist
			p.requeueInflight(ctx)
			p.log.Debug().Msg("lease expiring, terminating")
			return nil
		}
		if now.Sub(lastBeat) > p.cfg.CheckingInterval/2 {
			if err := p.book.Heartbeat(ctx, p.pair, now); err != nil {
				return err
			}
			p.requeueInflight(ctx)
			lastBeat = now
		}

		matches, _ := p.runBatch(ctx)
		if matches > 0 {
			bo = bo.onMatch()
		} else {
			p.drainOne(ctx)
			bo = bo.onEmpty()
		}

		select {
		case <-ctx.Done():
			p.requeueInflight(ctx)
			return ctx.Err()
		case <-time.After(bo.delay):
		}
	}
}

// Recover discards the pair's ephemeral state (stale from any prior
// incarnation) and re-enqueues an add per matchable durable order,
// stamped with its original creation time so FIFO survives.
func (p *Processor) Recover(ctx context.Context) error {
	if err := p.book.ResetPair(ctx, p.pair); err != nil {
		return err
	}
	p.inflight = nil
	orders, err := p.repo.FindMatchableOrders(ctx, p.pair)
	if err != nil {
		return err
	}
	for _, o := range orders {
		ev := domain.QueueEvent{Action: domain.AddOrder, OrderID: o.ID, At: o.CreatedAt}
		if err := p.book.PushEvent(ctx, p.pair, ev); err != nil {
			return err
		}
	}
	p.log.Info().Int("orders", len(orders)).Msg("recovered pair state")
	return nil
}

// DrainBacklog runs matching and admission synchronously until the
// pair reaches a fixed point: no batch progress and an empty
// unprocessed queue. No lease, no sleeping; used for deterministic
// batch-style processing in tests.
func (p *Processor) DrainBacklog(ctx context.Context) error {
	const maxIterations = 100000
	for i := 0; i < maxIterations; i++ {
		_, progressed := p.runBatch(ctx)
		if progressed {
			continue
		}
		if p.drainOne(ctx) {
			continue
		}
		return nil
	}
	return errors.New("core: backlog did not converge")
}

func (p *Processor) requeueInflight(ctx context.Context) {
	if len(p.inflight) == 0 {
		return
	}
	if err := p.book.RequeueEvents(ctx, p.pair, p.inflight); err != nil {
		p.log.Warn().Err(err).Msg("requeue of in-flight events failed")
		return
	}
	p.inflight = nil
}

// drainOne applies the oldest unprocessed event, reporting whether one
// existed. A failed apply stays in-flight and is re-queued on the next
// heartbeat, so admission work is never silently lost.
func (p *Processor) drainOne(ctx context.Context) bool {
	ev, err := p.book.PopEvent(ctx, p.pair)
	if err != nil {
		p.log.Warn().Err(err).Msg("event pop failed")
		return false
	}
	if ev == nil {
		return false
	}
	p.inflight = append(p.inflight, *ev)
	if err := p.applyEvent(ctx, *ev); err != nil {
		p.log.Warn().Err(err).Str("order", ev.OrderID).Msg("event apply failed, will re-queue")
		return true
	}
	p.inflight = p.inflight[:len(p.inflight)-1]
	return true
}

func (p *Processor) applyEvent(ctx context.Context, ev domain.QueueEvent) error {
	switch ev.Action {
	case domain.AddOrder:
		o, err := p.repo.GetOrder(ctx, ev.OrderID)
		if errors.Is(err, domain.ErrOrderNotFound) {
			p.log.Debug().Str("order", ev.OrderID).Msg("dropped add for vanished order")
			return nil
		}
		if err != nil {
			return err
		}
		if !o.Matchable() {
			p.log.Debug().Str("order", o.ID).Str("status", string(o.Status)).
				Msg("dropped add for unmatchable order")
			return nil
		}
		if o.TimeInForce == domain.FOK {
			avail, err := p.book.FillableQuantity(ctx, o)
			if err != nil {
				return err
			}
			if avail.LessThan(o.Remaining()) {
				// kill: insufficient depth, no trades, quantity unchanged
				p.log.Debug().Str("order", o.ID).Msg("FOK killed, insufficient depth")
				return p.cancelOrder(ctx, o.ID)
			}
		}
		_, err = p.book.Insert(ctx, o, nil)
		return err
	case domain.RemoveOrder:
		if err := p.book.Remove(ctx, p.pair, ev.OrderID); err != nil {
			return err
		}
		return p.cancelOrder(ctx, ev.OrderID)
	default:
		p.log.Warn().Str("action", string(ev.Action)).Msg("unknown queue event")
		return nil
	}
}

// cancelOrder marks a still-open durable order canceled under a row lock.
func (p *Processor) cancelOrder(ctx context.Context, id string) error {
	return p.withRetry(ctx, func() error {
		return withTx(ctx, p.repo, func(tx port.Tx) error {
			o, err := tx.LockForUpdate(ctx, id)
			if errors.Is(err, domain.ErrOrderNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			switch o.Status {
			case domain.Pending, domain.Executing, domain.Stopping:
			default:
				return nil
			}
			o.Status = domain.Canceled
			o.UpdatedAt = p.now()
			return tx.Save(ctx, o)
		})
	})
}

// withRetry re-runs fn on deadlock-class conflicts without backoff:
// abandoning a matched pair would orphan resting liquidity. The cap is
// a deliberate deviation from unbounded retry.
func (p *Processor) withRetry(ctx context.Context, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, domain.ErrTxConflict) {
			return err
		}
		if p.cfg.SettleRetryLimit > 0 && attempt >= p.cfg.SettleRetryLimit {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.log.Warn().Err(err).Int("attempt", attempt).Msg("transaction conflict, retrying")
	}
}
