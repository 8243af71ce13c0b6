package redisbook

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/port"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

var _ port.BookStore = (*Store)(nil)

// Store keeps the per-pair book collections, order metadata, the
// unprocessed event queue and the processor heartbeat in Redis.
type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func keyPrefix(pair domain.Pair) string { return "match:" + pair.Key() }

func queueKey(pair domain.Pair, q domain.QueueID) string {
	return keyPrefix(pair) + ":q:" + string(q)
}

func entryKey(pair domain.Pair) string  { return keyPrefix(pair) + ":entry" }
func priceKey(pair domain.Pair) string  { return keyPrefix(pair) + ":price" }
func qtyKey(pair domain.Pair) string    { return keyPrefix(pair) + ":qty" }
func iocKey(pair domain.Pair) string    { return keyPrefix(pair) + ":ioc" }
func anchorKey(pair domain.Pair) string { return keyPrefix(pair) + ":anchor" }
func eventsKey(pair domain.Pair) string { return keyPrefix(pair) + ":events" }
func hbKey(pair domain.Pair) string     { return keyPrefix(pair) + ":hb" }

func metaKeys(pair domain.Pair) []string {
	return []string{entryKey(pair), priceKey(pair), qtyKey(pair), iocKey(pair), anchorKey(pair)}
}

func (s *Store) Insert(ctx context.Context, o *domain.Order, anchor *float64) (bool, error) {
	if !o.Matchable() {
		return false, nil
	}
	q := domain.QueueFor(o.Side, o.Type)
	anchorArg := ""
	if anchor != nil {
		anchorArg = strconv.FormatFloat(*anchor, 'f', -1, 64)
	}
	iocFlag := "0"
	if o.TimeInForce == domain.IOC {
		iocFlag = "1"
	}
	keys := append([]string{queueKey(o.Pair, q)}, metaKeys(o.Pair)...)
	res, err := insertScript.Run(ctx, s.client, keys,
		o.ID, domain.EntryMember(o), domain.BookScore(o),
		o.Price.String(), o.Remaining().String(), iocFlag, anchorArg, string(q)).Int()
	if err != nil {
		return false, fmt.Errorf("redisbook: insert %s: %w", o.ID, err)
	}
	return res == 1, nil
}

func (s *Store) Remove(ctx context.Context, pair domain.Pair, orderID string) error {
	err := removeScript.Run(ctx, s.client, metaKeys(pair), orderID, keyPrefix(pair)+":q:").Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redisbook: remove %s: %w", orderID, err)
	}
	return nil
}

func (s *Store) PeekBest(ctx context.Context, pair domain.Pair, q domain.QueueID) (*domain.BookEntry, error) {
	res, err := s.client.ZRangeWithScores(ctx, queueKey(pair, q), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("redisbook: peek %s: %w", q, err)
	}
	if len(res) == 0 {
		return nil, nil
	}
	return &domain.BookEntry{Member: res[0].Member.(string), Score: res[0].Score}, nil
}

func isMarketQueue(q domain.QueueID) string {
	if q == domain.BuyMarket || q == domain.SellMarket {
		return "1"
	}
	return "0"
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (s *Store) PopMatchedPair(ctx context.Context, pair domain.Pair, buyQ, sellQ domain.QueueID, finalBuy, finalSell bool) (port.PopResult, error) {
	keys := append([]string{queueKey(pair, buyQ), queueKey(pair, sellQ)}, metaKeys(pair)...)
	raw, err := popMatchedPairScript.Run(ctx, s.client, keys,
		isMarketQueue(buyQ), isMarketQueue(sellQ),
		strconv.FormatFloat(domain.PriceCeiling, 'f', -1, 64),
		boolFlag(finalBuy), boolFlag(finalSell)).Slice()
	if err != nil {
		return port.PopResult{}, fmt.Errorf("redisbook: pop %s/%s: %w", buyQ, sellQ, err)
	}
	return parsePopReply(raw)
}

func parsePopReply(raw []interface{}) (port.PopResult, error) {
	if len(raw) == 0 {
		return port.PopResult{}, errors.New("redisbook: empty pop reply")
	}
	switch raw[0].(string) {
	case "empty":
		return port.PopResult{Outcome: port.PopEmpty}, nil
	case "cancel":
		if len(raw) < 5 {
			return port.PopResult{}, fmt.Errorf("redisbook: short cancel reply: %v", raw)
		}
		score, _ := strconv.ParseFloat(raw[4].(string), 64)
		return port.PopResult{
			Outcome:      port.PopCanceled,
			CanceledSide: domain.Side(raw[1].(string)),
			Canceled: port.BookRef{
				OrderID: raw[2].(string),
				Member:  raw[3].(string),
				Score:   score,
				IOC:     true,
			},
		}, nil
	case "match":
		if len(raw) < 9 {
			return port.PopResult{}, fmt.Errorf("redisbook: short match reply: %v", raw)
		}
		return port.PopResult{
			Outcome: port.PopMatched,
			Buy:     parseRef(raw[1:5]),
			Sell:    parseRef(raw[5:9]),
		}, nil
	default:
		return port.PopResult{}, fmt.Errorf("redisbook: unknown pop reply %v", raw[0])
	}
}

func parseRef(raw []interface{}) port.BookRef {
	member := raw[0].(string)
	score, _ := strconv.ParseFloat(raw[1].(string), 64)
	ref := port.BookRef{
		OrderID: domain.MemberOrderID(member),
		Member:  member,
		Score:   score,
		IOC:     raw[2].(string) == "1",
	}
	if a, ok := raw[3].(string); ok && a != "" {
		v, err := strconv.ParseFloat(a, 64)
		if err == nil {
			ref.Anchor = &v
		}
	}
	return ref
}

func (s *Store) FillableQuantity(ctx context.Context, taker *domain.Order) (decimal.Decimal, error) {
	var limQ, mktQ domain.QueueID
	maxScore := "+inf"
	if taker.Side == domain.Buy {
		limQ, mktQ = domain.SellLimit, domain.SellMarket
		if !taker.IsMarket() {
			p, _ := taker.Price.Float64()
			maxScore = strconv.FormatFloat(p, 'f', -1, 64)
		}
	} else {
		limQ, mktQ = domain.BuyLimit, domain.BuyMarket
		if !taker.IsMarket() {
			p, _ := taker.Price.Float64()
			maxScore = strconv.FormatFloat(domain.PriceCeiling-p, 'f', -1, 64)
		}
	}
	keys := []string{queueKey(taker.Pair, limQ), queueKey(taker.Pair, mktQ), qtyKey(taker.Pair)}
	res, err := fillableScript.Run(ctx, s.client, keys, maxScore).Text()
	if err != nil {
		return decimal.Zero, fmt.Errorf("redisbook: fillable: %w", err)
	}
	total, err := decimal.NewFromString(res)
	if err != nil {
		return decimal.Zero, fmt.Errorf("redisbook: fillable parse %q: %w", res, err)
	}
	return total, nil
}

func eventMember(ev domain.QueueEvent) string {
	return fmt.Sprintf("%020d|%s|%s", ev.At.UnixNano(), ev.Action, ev.OrderID)
}

func parseEventMember(m string) (*domain.QueueEvent, error) {
	parts := strings.SplitN(m, "|", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("redisbook: bad event member %q", m)
	}
	digits := strings.TrimLeft(parts[0], "0")
	if digits == "" {
		digits = "0"
	}
	nanos, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redisbook: bad event timestamp %q: %w", parts[0], err)
	}
	return &domain.QueueEvent{
		Action:  domain.EventAction(parts[1]),
		OrderID: parts[2],
		At:      time.Unix(0, nanos),
	}, nil
}

func (s *Store) PushEvent(ctx context.Context, pair domain.Pair, ev domain.QueueEvent) error {
	z := redis.Z{Score: float64(ev.At.UnixMilli()), Member: eventMember(ev)}
	if err := s.client.ZAdd(ctx, eventsKey(pair), z).Err(); err != nil {
		return fmt.Errorf("redisbook: push event: %w", err)
	}
	return nil
}

func (s *Store) PopEvent(ctx context.Context, pair domain.Pair) (*domain.QueueEvent, error) {
	res, err := s.client.ZPopMin(ctx, eventsKey(pair), 1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisbook: pop event: %w", err)
	}
	if len(res) == 0 {
		return nil, nil
	}
	return parseEventMember(res[0].Member.(string))
}

func (s *Store) RequeueEvents(ctx context.Context, pair domain.Pair, evs []domain.QueueEvent) error {
	if len(evs) == 0 {
		return nil
	}
	zs := make([]redis.Z, 0, len(evs))
	for _, ev := range evs {
		zs = append(zs, redis.Z{Score: float64(ev.At.UnixMilli()), Member: eventMember(ev)})
	}
	if err := s.client.ZAdd(ctx, eventsKey(pair), zs...).Err(); err != nil {
		return fmt.Errorf("redisbook: requeue events: %w", err)
	}
	return nil
}

func (s *Store) ResetPair(ctx context.Context, pair domain.Pair) error {
	// the event queue and the heartbeat survive: recovery re-enqueues
	// adds from durable storage (duplicates collapse on the member
	// encoding), but a pending cancel has no durable trace
	keys := metaKeys(pair)
	for _, q := range domain.Queues() {
		keys = append(keys, queueKey(pair, q))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redisbook: reset %s: %w", pair.Key(), err)
	}
	return nil
}

func (s *Store) Heartbeat(ctx context.Context, pair domain.Pair, at time.Time) error {
	if err := s.client.Set(ctx, hbKey(pair), at.UnixNano(), 0).Err(); err != nil {
		return fmt.Errorf("redisbook: heartbeat: %w", err)
	}
	return nil
}

func (s *Store) LastHeartbeat(ctx context.Context, pair domain.Pair) (time.Time, error) {
	res, err := s.client.Get(ctx, hbKey(pair)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("redisbook: heartbeat read: %w", err)
	}
	nanos, err := strconv.ParseInt(res, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("redisbook: heartbeat parse %q: %w", res, err)
	}
	return time.Unix(0, nanos), nil
}
