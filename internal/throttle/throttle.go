// Package throttle decides whether a failed write should be retried.
//
// Classify inspects the structured failure produced by a store adapter and
// returns one of three classes:
//
//   - RetryableOverload: the store signalled backpressure; back off and retry
//   - Fatal: a known, non-retryable failure
//   - Unknown: an unrecognised failure shape; not retried
//
// The rules are applied in priority order: a pool reporting every endpoint as
// overloaded, a direct overload signal, then an invalid-state failure whose
// cause chain carries an HTTP 429 status.
package throttle

import (
	"errors"
	"net/http"

	"bulkload/internal/logger"
	"bulkload/internal/store"
)

// Class は失敗の分類結果
type Class int

const (
	Unknown Class = iota
	RetryableOverload
	Fatal
)

func (c Class) String() string {
	switch c {
	case RetryableOverload:
		return "retryable_overload"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Retryable はリトライすべきかどうかを返す
func (c Class) Retryable() bool {
	return c == RetryableOverload
}

// Classifier は分類関数の型
type Classifier func(err error) Class

// Classify は書き込みの失敗を分類する
func Classify(err error) Class {
	if err == nil {
		return Unknown
	}

	var f *store.Failure
	if !errors.As(err, &f) {
		logger.Warn("throttle", "unrecognised failure %T: %v", err, err)
		return Unknown
	}

	switch f.Kind {
	case store.KindNoHostAvailable:
		if f.AllOverloaded {
			logger.Debug("throttle", "no host available, all endpoints overloaded")
			return RetryableOverload
		}
		logger.Error("throttle", "no host available: %v", f)
		return Fatal
	case store.KindOverloaded:
		return RetryableOverload
	case store.KindInvalidState:
		return classifyInvalidState(f)
	case store.KindRejected:
		return Fatal
	default:
		logger.Warn("throttle", "failure with unrecognised kind %d: %v", int(f.Kind), f)
		return Unknown
	}
}

// classifyInvalidState は原因チェーン内のステータスコードを確認する
func classifyInvalidState(f *store.Failure) Class {
	var se *store.StatusError
	if !errors.As(f.Cause, &se) {
		logger.Error("throttle", "invalid state without status: %v", f)
		return Fatal
	}
	if se.StatusCode == http.StatusTooManyRequests {
		logger.Warn("throttle", "store hit throttle with http too many requests")
		return RetryableOverload
	}
	logger.Error("throttle", "invalid state with status %d: %v", se.StatusCode, f)
	return Fatal
}
