package store

import (
	"fmt"
	"net/http"
)

// Kind は書き込み失敗の種類
type Kind int

const (
	// KindUnknown はゼロ値（分類不能）
	KindUnknown Kind = iota
	// KindNoHostAvailable は到達可能なエンドポイントがない
	KindNoHostAvailable
	// KindOverloaded はストアが過負荷を直接通知した
	KindOverloaded
	// KindInvalidState は汎用の不正状態エラー（原因チェーンにステータスを持つことがある）
	KindInvalidState
	// KindRejected はストアがリクエストを拒否した（不正なリクエストなど）
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindNoHostAvailable:
		return "no_host_available"
	case KindOverloaded:
		return "overloaded"
	case KindInvalidState:
		return "invalid_state"
	case KindRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Failure はストアアダプタが返す構造化された失敗
type Failure struct {
	Kind    Kind
	Message string
	// AllOverloaded は KindNoHostAvailable のとき全エンドポイントが過負荷を報告したかどうか
	AllOverloaded bool
	Cause         error
}

func (f *Failure) Error() string {
	msg := f.Message
	if msg == "" {
		msg = f.Kind.String()
	}
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, msg, f.Cause)
	}
	return fmt.Sprintf("%s: %s", f.Kind, msg)
}

func (f *Failure) Unwrap() error {
	return f.Cause
}

// NewNoHostAvailable はエンドポイント不在の失敗を作成する
func NewNoHostAvailable(msg string, allOverloaded bool, cause error) *Failure {
	return &Failure{Kind: KindNoHostAvailable, Message: msg, AllOverloaded: allOverloaded, Cause: cause}
}

// NewOverloaded は過負荷の失敗を作成する
func NewOverloaded(msg string, cause error) *Failure {
	return &Failure{Kind: KindOverloaded, Message: msg, Cause: cause}
}

// NewInvalidState は不正状態の失敗を作成する
func NewInvalidState(msg string, cause error) *Failure {
	return &Failure{Kind: KindInvalidState, Message: msg, Cause: cause}
}

// NewRejected は拒否の失敗を作成する
func NewRejected(msg string, cause error) *Failure {
	return &Failure{Kind: KindRejected, Message: msg, Cause: cause}
}

// StatusError は HTTP 形式のステータスコードを持つストア固有のエラー
type StatusError struct {
	StatusCode int
	Message    string
	Cause      error
}

func (e *StatusError) Error() string {
	text := http.StatusText(e.StatusCode)
	if text == "" {
		text = "status"
	}
	if e.Message != "" {
		return fmt.Sprintf("%d %s: %s", e.StatusCode, text, e.Message)
	}
	return fmt.Sprintf("%d %s", e.StatusCode, text)
}

func (e *StatusError) Unwrap() error {
	return e.Cause
}

// TooManyRequests は 429 の StatusError を作成する
func TooManyRequests(msg string) *StatusError {
	return &StatusError{StatusCode: http.StatusTooManyRequests, Message: msg}
}
