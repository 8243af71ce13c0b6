package core

import "time"

// backoff is the adaptive polling state, threaded explicitly through
// loop iterations. Any match snaps the delay back to its minimum;
// consecutive empty batches past the threshold double it up to the
// maximum.
type backoff struct {
	delay     time.Duration
	empty     int
	min       time.Duration
	max       time.Duration
	threshold int
}

func newBackoff(min, max time.Duration, threshold int) backoff {
	return backoff{delay: min, min: min, max: max, threshold: threshold}
}

func (b backoff) onMatch() backoff {
	b.delay = b.min
	b.empty = 0
	return b
}

func (b backoff) onEmpty() backoff {
	b.empty++
	if b.empty >= b.threshold {
		b.delay *= 2
		if b.delay > b.max {
			b.delay = b.max
		}
	}
	return b
}
