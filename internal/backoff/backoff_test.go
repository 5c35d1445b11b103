package backoff

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayValues(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{10, 1024 * 100 * time.Millisecond},
		{30, (1 << 30) * 100 * time.Millisecond},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestDelayNonPositiveAttempt(t *testing.T) {
	assert.Equal(t, Delay(1), Delay(0))
	assert.Equal(t, Delay(1), Delay(-7))
}

func TestDelayMonotonicAndSaturates(t *testing.T) {
	prev := time.Duration(0)
	for n := 1; n <= MaxExponent; n++ {
		d := Delay(n)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", n)
		prev = d
	}

	ceiling := Delay(MaxExponent)
	for _, n := range []int{31, 32, 63, 64, 1000, math.MaxInt} {
		assert.Equal(t, ceiling, Delay(n), "attempt %d", n)
	}
}

func TestPolicyCustomBase(t *testing.T) {
	p := Policy{Base: time.Millisecond}
	assert.Equal(t, 2*time.Millisecond, p.Delay(1))
	assert.Equal(t, 4*time.Millisecond, p.Delay(2))

	zero := Policy{}
	assert.Equal(t, Delay(3), zero.Delay(3))
}

func TestPolicyLowerCeiling(t *testing.T) {
	p := Policy{Base: time.Millisecond, MaxExponent: 3}
	assert.Equal(t, 8*time.Millisecond, p.Delay(3))
	assert.Equal(t, 8*time.Millisecond, p.Delay(9))

	// 範囲外の上限は30として扱う
	wide := Policy{Base: time.Millisecond, MaxExponent: 99}
	assert.Equal(t, time.Duration(1<<30)*time.Millisecond, wide.Delay(40))
}

func TestPolicyOverflowSaturates(t *testing.T) {
	p := Policy{Base: time.Duration(math.MaxInt64 / 4)}
	assert.Equal(t, time.Duration(math.MaxInt64), p.Delay(30))
}

func TestWait(t *testing.T) {
	start := time.Now()
	err := Wait(context.Background(), 20*time.Millisecond)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	assert.NoError(t, Wait(context.Background(), 0))
}

func TestWaitInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Wait(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
