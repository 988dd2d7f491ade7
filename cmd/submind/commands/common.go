package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	llmadapter "github.com/jinford/submind/internal/module/llm/adapter"
	llmdomain "github.com/jinford/submind/internal/module/llm/domain"
	"github.com/jinford/submind/internal/module/mindmap/adapter/store"
	"github.com/jinford/submind/internal/module/mindmap/application"
	"github.com/jinford/submind/internal/platform/config"
	"github.com/jinford/submind/internal/platform/logger"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config       *config.Config
	Logger       *slog.Logger
	Client       llmdomain.Client
	Orchestrator *application.Orchestrator
	Store        *store.Store
}

// NewAppContext は設定を読み込み、依存コンポーネントを組み立てる。
// needLLM がfalseの場合（履歴参照など）はモデルバックエンドに接続しない。
func NewAppContext(ctx context.Context, envFile string, needLLM bool) (*AppContext, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
	})

	ac := &AppContext{
		Config: cfg,
		Logger: log,
	}

	ac.Store, err = store.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("履歴データベースのオープンに失敗: %w", err)
	}

	if needLLM {
		client, err := llmadapter.NewOpenAIClient(llmadapter.ClientConfig{
			BaseURL:           cfg.LLM.BaseURL,
			APIKey:            cfg.LLM.APIKey,
			Model:             cfg.LLM.Model,
			Timeout:           time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
			RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		})
		if err != nil {
			ac.Store.Close()
			return nil, fmt.Errorf("LLMクライアントの初期化に失敗: %w", err)
		}
		ac.Client = client

		ac.Orchestrator, err = application.New(client, generationConfig(cfg), log)
		if err != nil {
			ac.Store.Close()
			return nil, fmt.Errorf("オーケストレータの初期化に失敗: %w", err)
		}
	}

	return ac, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Store != nil {
		ac.Store.Close()
	}
}

// generationConfig は設定ファイルの値をオーケストレータ設定へ写します
func generationConfig(cfg *config.Config) application.Config {
	gen := cfg.Generation
	return application.Config{
		MaxUnitChars:        gen.MaxUnitChars,
		OverlapCues:         gen.OverlapCues,
		FanOut:              gen.FanOut,
		MaxDepth:            gen.MaxDepth,
		MaxRetries:          gen.MaxRetries,
		Parallelism:         gen.Parallelism,
		MaxPromptTokens:     gen.MaxPromptTokens,
		MaxLevelSkip:        gen.MaxLevelSkip,
		MaxCompletionTokens: gen.MaxCompletionTokens,
		Temperature:         gen.Temperature,
	}
}
