// Package store defines the write capability the load engine drives and the
// structured failure shape that store adapters report.
//
// Adapters translate their client's errors into a *Failure so that the
// throttle classifier can decide whether a write is worth retrying without
// knowing anything about the underlying client library:
//
//	err := client.Set(ctx, key, payload, 0).Err()
//	if isBusy(err) {
//	    return store.NewOverloaded("server busy", err)
//	}
//
// Errors that an adapter does not recognise should be returned untouched;
// the classifier treats them as unknown and does not retry them.
package store

import (
	"context"

	"bulkload/internal/record"
)

// RecordStore はレコードの書き込み先
// 実装は複数のゴルーチンから同時に呼ばれても安全でなければならない
type RecordStore interface {
	Write(ctx context.Context, r record.Record) error
}

// Store は接続を持つ RecordStore
type Store interface {
	RecordStore
	Close() error
}

// Func は関数を RecordStore として扱うアダプタ
type Func func(ctx context.Context, r record.Record) error

// Write は f を呼び出す
func (f Func) Write(ctx context.Context, r record.Record) error {
	return f(ctx, r)
}

// NopCloser は Close が何もしない Store を返す
func NopCloser(s RecordStore) Store {
	return nopCloser{s}
}

type nopCloser struct {
	RecordStore
}

func (nopCloser) Close() error { return nil }
