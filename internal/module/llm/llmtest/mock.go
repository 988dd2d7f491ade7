// Package llmtest はテスト用のLLMクライアント実装を提供します
package llmtest

import (
	"context"
	"sync"

	"github.com/jinford/submind/internal/module/llm/domain"
)

// MockClient は domain.Client のテスト用実装です。
// GenerateFunc で応答を差し替え、受け取ったリクエストを記録します。
type MockClient struct {
	// GenerateFunc は呼び出しごとの応答を決定します
	GenerateFunc func(ctx context.Context, req domain.CompletionRequest) (domain.CompletionResponse, error)

	// Model はModelIDが返すモデル名（空の場合 "mock-model"）
	Model string

	mu    sync.Mutex
	calls []domain.CompletionRequest
}

// GenerateCompletion はリクエストを記録してGenerateFuncに委譲します
func (m *MockClient) GenerateCompletion(ctx context.Context, req domain.CompletionRequest) (domain.CompletionResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return domain.CompletionResponse{Content: "", Model: m.ModelID()}, nil
}

// ModelID はモック用のモデル識別子を返します
func (m *MockClient) ModelID() string {
	if m.Model == "" {
		return "mock-model"
	}
	return m.Model
}

// Calls は受け取ったリクエストのコピーを返します
func (m *MockClient) Calls() []domain.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.CompletionRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount は受け取ったリクエスト数を返します
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// インターフェース実装の確認
var _ domain.Client = (*MockClient)(nil)
