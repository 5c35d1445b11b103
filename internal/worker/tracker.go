package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrWaitInterrupted は完了待機が中断された
var ErrWaitInterrupted = errors.New("wait interrupted")

// Tracker はバッチ内の全タスクの完了を追跡するカウントダウンラッチ
type Tracker struct {
	total     int64
	remaining atomic.Int64
	done      chan struct{}
}

// NewTracker は count 件のタスクを待つ Tracker を作成する
func NewTracker(count int) *Tracker {
	t := &Tracker{
		total: int64(count),
		done:  make(chan struct{}),
	}
	if count <= 0 {
		t.total = 0
		close(t.done)
		return t
	}
	t.remaining.Store(int64(count))
	return t
}

// Done はタスク1件の終了を記録する
// 総数を超えて呼ばれた場合は panic する
func (t *Tracker) Done() {
	n := t.remaining.Add(-1)
	switch {
	case n == 0:
		close(t.done)
	case n < 0:
		panic(fmt.Sprintf("worker: tracker decremented below zero (total %d)", t.total))
	}
}

// Remaining は未完了のタスク数を返す
func (t *Tracker) Remaining() int {
	n := t.remaining.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

// Total は追跡対象のタスク数を返す
func (t *Tracker) Total() int {
	return int(t.total)
}

// Finished は全タスクが完了したことを通知するチャネルを返す
func (t *Tracker) Finished() <-chan struct{} {
	return t.done
}

// Wait は全タスクの完了を待つ
// ctx が先にキャンセルされた場合は ErrWaitInterrupted を返す
func (t *Tracker) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	default:
	}

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %d of %d tasks pending: %w", ErrWaitInterrupted, t.Remaining(), t.total, ctx.Err())
	}
}
