package redisbook

import (
	"testing"
	"time"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/port"
)

func TestParsePopReply(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		res, err := parsePopReply([]interface{}{"empty"})
		if err != nil || res.Outcome != port.PopEmpty {
			t.Fatalf("outcome=%v err=%v, want PopEmpty", res.Outcome, err)
		}
	})

	t.Run("cancel", func(t *testing.T) {
		raw := []interface{}{"cancel", "SELL", "o1", "00000000000000000001:o1", "10000"}
		res, err := parsePopReply(raw)
		if err != nil || res.Outcome != port.PopCanceled {
			t.Fatalf("outcome=%v err=%v, want PopCanceled", res.Outcome, err)
		}
		if res.CanceledSide != domain.Sell || res.Canceled.OrderID != "o1" {
			t.Fatalf("canceled = %s/%s, want SELL/o1", res.CanceledSide, res.Canceled.OrderID)
		}
		if res.Canceled.Score != 10000 || !res.Canceled.IOC {
			t.Fatalf("ref = %+v, want score 10000 and the IOC flag", res.Canceled)
		}
	})

	t.Run("match", func(t *testing.T) {
		raw := []interface{}{"match",
			"00000000000000000001:b1", "999999990000", "0", "",
			"00000000000000000002:s1", "10000", "1", "10000",
		}
		res, err := parsePopReply(raw)
		if err != nil || res.Outcome != port.PopMatched {
			t.Fatalf("outcome=%v err=%v, want PopMatched", res.Outcome, err)
		}
		if res.Buy.OrderID != "b1" || res.Sell.OrderID != "s1" {
			t.Fatalf("legs = %s/%s, want b1/s1", res.Buy.OrderID, res.Sell.OrderID)
		}
		if res.Buy.IOC || res.Buy.Anchor != nil {
			t.Fatalf("buy ref = %+v, want no IOC flag and no anchor", res.Buy)
		}
		if !res.Sell.IOC || res.Sell.Anchor == nil || *res.Sell.Anchor != 10000 {
			t.Fatalf("sell ref = %+v, want IOC with anchor 10000", res.Sell)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		for _, raw := range [][]interface{}{
			{},
			{"cancel", "SELL"},
			{"match", "m", "1"},
			{"nonsense"},
		} {
			if _, err := parsePopReply(raw); err == nil {
				t.Fatalf("expected an error for %v", raw)
			}
		}
	})
}

func TestEventMemberRoundTrip(t *testing.T) {
	cases := []domain.QueueEvent{
		{Action: domain.AddOrder, OrderID: "o1", At: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		{Action: domain.RemoveOrder, OrderID: "a|b:c", At: time.Unix(0, 1)},
		{Action: domain.AddOrder, OrderID: "o2", At: time.Unix(0, 0)},
	}
	for _, ev := range cases {
		got, err := parseEventMember(eventMember(ev))
		if err != nil {
			t.Fatalf("round trip %+v: %v", ev, err)
		}
		if got.Action != ev.Action || got.OrderID != ev.OrderID || !got.At.Equal(ev.At) {
			t.Fatalf("round trip %+v, got %+v", ev, got)
		}
	}

	if _, err := parseEventMember("not-a-member"); err == nil {
		t.Fatal("expected an error for a malformed member")
	}
}
