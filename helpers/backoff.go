package helpers

import (
	"sync/atomic"
	"time"

	"github.com/temoto/thermolink/helpers/atomic_clock"
	"github.com/temoto/thermolink/helpers/clock"
)

// Limited exponential backoff for retry delays.
// K=1 and Min=Max gives fixed delay, which is what telemetry link uses.
// Choose DelayAfter or DelayBefore whichever fits your code better.
// First delay is always 0.
// Update(false) or Failure() increases next delay by K.
type Backoff struct {
	next int64 // atomic align
	last atomic_clock.Clock

	Min   time.Duration
	Max   time.Duration
	K     float32
	Res   time.Duration // delay resolution for nice logs, default=1ms
	Clock clock.Clock   // default real time
}

func NewFixedBackoff(d time.Duration, c clock.Clock) *Backoff {
	return &Backoff{Min: d, Max: d, K: 1, Clock: c}
}

// Use scenario:
//
//	for {
//	  err := op()
//	  time.Sleep(backoff.DelayAfter(err==nil))
//	}
func (b *Backoff) DelayAfter(success bool) time.Duration {
	atomic.CompareAndSwapInt64(&b.next, 0, int64(b.Min))
	if success {
		b.Reset()
	} else {
		b.Failure()
	}
	return b.DelayBefore()
}

// Use scenario:
//
//	for {
//	  time.Sleep(backoff.DelayBefore())
//	  err := op()
//	  backoff.Update(err==nil)
//	}
func (b *Backoff) DelayBefore() time.Duration {
	next := time.Duration(atomic.LoadInt64(&b.next))
	if next == 0 {
		return 0
	}
	delay := b.limit(next)
	since := atomic_clock.SinceTime(&b.last, b.now())
	if since >= delay {
		return 0
	}
	return b.round(delay - since)
}

// Increase next Delay()
func (b *Backoff) Failure() {
	next := time.Duration(atomic.LoadInt64(&b.next))
	next = time.Duration(float32(next) * b.K)
	next = b.limit(next)
	b.last.SetTime(b.now())
	atomic.StoreInt64(&b.next, int64(next))
}

// Reset forgets failures, next DelayBefore returns 0.
func (b *Backoff) Reset() {
	b.last.SetTime(b.now())
	atomic.StoreInt64(&b.next, 0)
}

func (b *Backoff) Update(success bool) {
	if success {
		b.Reset()
	} else {
		b.Failure()
	}
}

func (b *Backoff) limit(d time.Duration) time.Duration {
	if d < b.Min {
		d = b.Min
	}
	if d > b.Max {
		d = b.Max
	}
	return b.round(d)
}

func (b *Backoff) now() time.Time { return clock.Or(b.Clock).Now() }

func (b *Backoff) round(d time.Duration) time.Duration {
	res := b.Res
	if res == 0 {
		res = 1 * time.Millisecond
	}
	return d / res * res
}
