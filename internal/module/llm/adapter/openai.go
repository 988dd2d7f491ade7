package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jinford/submind/internal/module/llm/domain"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	// DefaultTimeout はAPI呼び出し1回あたりのデフォルトタイムアウト
	DefaultTimeout = 120 * time.Second
)

var (
	// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
	ErrAPIKeyNotSet = errors.New("LLM API key not set")

	// ErrModelNotSet はモデル名が設定されていない場合のエラー
	ErrModelNotSet = errors.New("LLM model not set")
)

// ClientConfig はOpenAI互換バックエンドへの接続設定です。
// OpenAI / DeepSeek / SiliconCloud / Ollama / LM Studio など、
// OpenAI互換のChat Completions APIを提供するサービスを BaseURL で切り替えます。
type ClientConfig struct {
	// BaseURL はAPIのベースURL。空の場合はOpenAI既定のエンドポイント。
	BaseURL string

	// APIKey はAPIキー
	APIKey string

	// Model は使用するモデル名
	Model string

	// Timeout は1呼び出しあたりのタイムアウト。0でDefaultTimeout。
	Timeout time.Duration

	// RequestsPerMinute は1分あたりの呼び出し数上限。0で制限なし。
	RequestsPerMinute int
}

// OpenAIClient はOpenAI互換APIを使用した domain.Client 実装
type OpenAIClient struct {
	client  openai.Client
	model   string
	timeout time.Duration
	limiter *RateLimiter
}

// NewOpenAIClient は接続設定からOpenAIClientを作成します
func NewOpenAIClient(cfg ClientConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	if cfg.Model == "" {
		return nil, ErrModelNotSet
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &OpenAIClient{
		client:  openai.NewClient(opts...),
		model:   cfg.Model,
		timeout: timeout,
		limiter: NewRateLimiter(cfg.RequestsPerMinute),
	}, nil
}

// ModelID は使用中のモデル識別子を返す
func (c *OpenAIClient) ModelID() string {
	return c.model
}

// GenerateCompletion はChat Completions APIでテキストを生成する。
// 失敗は domain.Error で Transport / Content に分類して返します。
// リトライは行いません（リトライ方針は呼び出し側が持ちます）。
func (c *OpenAIClient) GenerateCompletion(ctx context.Context, req domain.CompletionRequest) (domain.CompletionResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.CompletionResponse{}, domain.Transport(err)
	}
	defer c.limiter.Release()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return domain.CompletionResponse{}, classifyAPIError(err)
	}

	if len(completion.Choices) == 0 {
		return domain.CompletionResponse{}, domain.Content(domain.ErrEmptyCompletion)
	}

	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	if content == "" {
		return domain.CompletionResponse{}, domain.Content(domain.ErrEmptyCompletion)
	}

	return domain.CompletionResponse{
		Content:    content,
		Model:      string(completion.Model),
		TokensUsed: int(completion.Usage.TotalTokens),
	}, nil
}

// classifyAPIError はAPI呼び出し失敗を domain.Error に分類します。
// レート制限・タイムアウトを含め、呼び出しが完了しなかった失敗はすべてトランスポート分類です
func classifyAPIError(err error) error {
	switch {
	case isRateLimitError(err):
		return domain.Transport(fmt.Errorf("rate limited by API: %w", err))
	case isTimeoutError(err):
		return domain.Transport(fmt.Errorf("chat completion timed out: %w", err))
	default:
		return domain.Transport(fmt.Errorf("chat completion call failed: %w", err))
	}
}

// isRateLimitError はエラーがレート制限（HTTP 429）かどうかを判定します
func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// isTimeoutError はエラーがタイムアウト起因かどうかを判定します
func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// インターフェース実装の確認
var _ domain.Client = (*OpenAIClient)(nil)
