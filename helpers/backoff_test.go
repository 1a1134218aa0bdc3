package helpers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/temoto/thermolink/helpers/clock"
)

func TestBackoffFixed(t *testing.T) {
	t.Parallel()
	fc := clock.NewFake(time.Unix(1000, 0))
	b := NewFixedBackoff(2*time.Second, fc)

	assert.Equal(t, time.Duration(0), b.DelayBefore(), "first attempt must not wait")
	b.Failure()
	assert.Equal(t, 2*time.Second, b.DelayBefore())
	fc.Advance(500 * time.Millisecond)
	assert.Equal(t, 1500*time.Millisecond, b.DelayBefore())
	b.Failure()
	b.Failure()
	assert.Equal(t, 2*time.Second, b.DelayBefore(), "fixed backoff must not grow")
	fc.Advance(3 * time.Second)
	assert.Equal(t, time.Duration(0), b.DelayBefore())
	b.Reset()
	assert.Equal(t, time.Duration(0), b.DelayBefore())
}

func TestBackoffExponential(t *testing.T) {
	t.Parallel()
	fc := clock.NewFake(time.Unix(1000, 0))
	b := &Backoff{Min: time.Second, Max: 5 * time.Second, K: 2, Clock: fc}
	cases := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for _, expect := range cases {
		b.Failure()
		assert.Equal(t, expect, b.DelayBefore())
	}
}
