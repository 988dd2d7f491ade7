package domain

import "errors"

// ErrorKind はモデル呼び出し失敗の分類を表します
type ErrorKind string

const (
	// KindTransport は呼び出し自体が完了しなかった失敗
	// （タイムアウト・コネクションリセット・レート制限など）。リトライ対象。
	KindTransport ErrorKind = "transport"

	// KindContent は呼び出しは完了したが出力が使用不能な失敗。
	// トランスポートリトライの対象外（是正再プロンプトのみ）。
	KindContent ErrorKind = "content"
)

var (
	// ErrEmptyCompletion はモデルが空の出力を返した場合のエラー
	ErrEmptyCompletion = errors.New("model returned empty completion")

	// ErrMaxRetriesExceeded は最大リトライ回数を超えた場合のエラー
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// Error は分類付きのモデル呼び出しエラーです
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transport はトランスポート分類のエラーを作成します
func Transport(err error) *Error {
	return &Error{Kind: KindTransport, Err: err}
}

// Content はコンテンツ分類のエラーを作成します
func Content(err error) *Error {
	return &Error{Kind: KindContent, Err: err}
}

// KindOf はエラーの分類を返します。未分類のエラーは KindTransport 扱いです。
func KindOf(err error) ErrorKind {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Kind
	}
	return KindTransport
}

// IsTransport はエラーがトランスポート分類かどうかを返します
func IsTransport(err error) bool {
	return err != nil && KindOf(err) == KindTransport
}

// IsContent はエラーがコンテンツ分類かどうかを返します
func IsContent(err error) bool {
	return err != nil && KindOf(err) == KindContent
}
