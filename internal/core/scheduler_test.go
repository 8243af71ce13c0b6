package core

import (
	"testing"
	"time"
)

func TestBackoffDoublesAfterThreshold(t *testing.T) {
	b := newBackoff(50*time.Millisecond, 2*time.Second, 3)

	b = b.onEmpty()
	b = b.onEmpty()
	if b.delay != 50*time.Millisecond {
		t.Fatalf("delay grew before threshold: %v", b.delay)
	}
	b = b.onEmpty()
	if b.delay != 100*time.Millisecond {
		t.Fatalf("delay = %v, want 100ms after threshold", b.delay)
	}
	b = b.onEmpty()
	if b.delay != 200*time.Millisecond {
		t.Fatalf("delay = %v, want 200ms", b.delay)
	}
}

func TestBackoffCapsAtMax(t *testing.T) {
	b := newBackoff(50*time.Millisecond, 200*time.Millisecond, 1)
	for i := 0; i < 10; i++ {
		b = b.onEmpty()
	}
	if b.delay != 200*time.Millisecond {
		t.Fatalf("delay = %v, want the 200ms cap", b.delay)
	}
}

func TestBackoffResetsOnMatch(t *testing.T) {
	b := newBackoff(50*time.Millisecond, 2*time.Second, 1)
	for i := 0; i < 5; i++ {
		b = b.onEmpty()
	}
	if b.delay == 50*time.Millisecond {
		t.Fatal("setup: delay should have grown")
	}
	b = b.onMatch()
	if b.delay != 50*time.Millisecond || b.empty != 0 {
		t.Fatalf("after match: delay = %v empty = %d, want 50ms 0", b.delay, b.empty)
	}
}
