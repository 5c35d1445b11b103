// Package backoff computes exponential wait durations between retries of a
// throttled write.
//
// The wait for attempt n is min(2^n, 2^MaxExponent) * Base. With the default
// base of 100ms the first retry waits 200ms, the second 400ms, and so on until
// the exponent saturates at 30.
//
//	p := backoff.Default()
//	d := p.Delay(attempt)
//	if err := backoff.Wait(ctx, d); err != nil {
//	    // interrupted
//	}
package backoff

import (
	"context"
	"math"
	"time"
)

const (
	// MaxExponent は指数の上限
	MaxExponent = 30
	// DefaultBase は 2^n に掛ける単位時間
	DefaultBase = 100 * time.Millisecond
)

// Policy は待機時間の計算パラメータ
type Policy struct {
	Base        time.Duration // 単位時間（0以下でDefaultBase）
	MaxExponent int           // 指数の上限（1〜30以外はMaxExponent）
}

// Default はデフォルトのポリシーを返す
func Default() Policy {
	return Policy{
		Base:        DefaultBase,
		MaxExponent: MaxExponent,
	}
}

// Delay は attempt 回目の失敗後に待つ時間を返す
// attempt <= 0 は 1 として扱う
func (p Policy) Delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = DefaultBase
	}
	ceiling := p.MaxExponent
	if ceiling <= 0 || ceiling > MaxExponent {
		ceiling = MaxExponent
	}

	if attempt <= 0 {
		attempt = 1
	}
	if attempt > ceiling {
		attempt = ceiling
	}

	factor := int64(1) << attempt
	if int64(base) > math.MaxInt64/factor {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(factor) * base
}

// Delay はデフォルトポリシーでの待機時間を返す
func Delay(attempt int) time.Duration {
	return Default().Delay(attempt)
}

// Wait は d だけ待機する
// ctx がキャンセルされた場合はその時点で ctx.Err() を返す
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
