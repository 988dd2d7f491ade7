// Package domain はモデルバックエンドの生成能力を抽象化します。
// コアモジュールはこのインターフェースのみに依存し、プロバイダ固有の
// 事情（エンドポイント・認証・レート制限）はアダプタ側に閉じます。
package domain

import "context"

// CompletionRequest は1回のテキスト生成リクエストです
type CompletionRequest struct {
	// Prompt はモデルに渡すプロンプト全文
	Prompt string

	// Temperature は生成温度
	Temperature float64

	// MaxTokens は生成トークン数の上限（0で未指定）
	MaxTokens int
}

// CompletionResponse はテキスト生成の結果です
type CompletionResponse struct {
	// Content は生成されたテキスト（前後の空白は除去済み）
	Content string

	// Model は実際に応答したモデル識別子
	Model string

	// TokensUsed は消費した総トークン数
	TokensUsed int
}

// Client はテキスト生成バックエンドの能力インターフェースです。
// 実装はリトライを行わず、失敗を Error で Transport / Content に
// 分類して返します（リトライ方針は呼び出し側が持ちます）。
type Client interface {
	// GenerateCompletion はプロンプトからテキストを生成します
	GenerateCompletion(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

	// ModelID は設定上のモデル識別子を返します
	ModelID() string
}
