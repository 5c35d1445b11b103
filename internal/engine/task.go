package engine

import (
	"time"

	"bulkload/internal/record"
)

// Outcome はWriteTaskの状態
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeSucceeded
	OutcomeExhausted
	OutcomeFatal
	OutcomeUnknown
	OutcomeInterrupted
	numOutcomes
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeFatal:
		return "fatal"
	case OutcomeUnknown:
		return "unknown"
	case OutcomeInterrupted:
		return "interrupted"
	default:
		return "invalid"
	}
}

// Terminal は終端状態かどうかを返す
func (o Outcome) Terminal() bool {
	return o > OutcomePending && o < numOutcomes
}

// WriteTask は1レコードの書き込みと試行状態を保持する
// 1つのタスクは常に1つのゴルーチンからのみ操作される
type WriteTask struct {
	Record   record.Record
	attempts int
	outcome  Outcome
	err      error
}

func newWriteTask(rec record.Record) *WriteTask {
	return &WriteTask{Record: rec}
}

// Attempts は書き込みを試行した回数を返す
func (t *WriteTask) Attempts() int {
	return t.attempts
}

// Outcome は現在の状態を返す
func (t *WriteTask) Outcome() Outcome {
	return t.outcome
}

// Err は終端状態になった原因のエラーを返す
func (t *WriteTask) Err() error {
	return t.err
}

// complete は終端状態に遷移する
// 既に終端状態なら false を返す
func (t *WriteTask) complete(outcome Outcome, err error) bool {
	if t.outcome.Terminal() {
		return false
	}
	t.outcome = outcome
	t.err = err
	return true
}

// RunMetrics は1回のロードテストの集計結果
type RunMetrics struct {
	RunID       string        `json:"run_id"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     time.Time     `json:"end_time"`
	Duration    time.Duration `json:"duration"`
	Total       int           `json:"total"`
	Succeeded   int           `json:"succeeded"`
	Exhausted   int           `json:"exhausted"`
	Fatal       int           `json:"fatal"`
	Unknown     int           `json:"unknown"`
	Interrupted int           `json:"interrupted"`
	Attempts    int           `json:"attempts"`
	BackoffTime time.Duration `json:"backoff_time"`
}

// DurationSeconds は経過時間を秒単位（切り捨て）で返す
func (m RunMetrics) DurationSeconds() int64 {
	return int64(m.Duration / time.Second)
}

// Terminal は終端状態に達したタスク数を返す
func (m RunMetrics) Terminal() int {
	return m.Succeeded + m.Exhausted + m.Fatal + m.Unknown + m.Interrupted
}

// Failed は成功しなかったタスク数を返す
func (m RunMetrics) Failed() int {
	return m.Exhausted + m.Fatal + m.Unknown + m.Interrupted
}
