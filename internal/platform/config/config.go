package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Provider は使用するLLMサービスの識別子です。
// いずれもOpenAI互換のChat Completions APIを提供します。
type Provider string

const (
	ProviderOpenAI       Provider = "openai"
	ProviderDeepSeek     Provider = "deepseek"
	ProviderSiliconCloud Provider = "siliconcloud"
	ProviderOllama       Provider = "ollama"
	ProviderLMStudio     Provider = "lmstudio"
	ProviderGemini       Provider = "gemini"
	ProviderChatGLM      Provider = "chatglm"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// LLM はモデルバックエンドの接続設定
	LLM LLMConfig

	// Generation は生成フローのチューニング設定
	Generation GenerationConfig

	// DataDir は生成履歴データベースの保存先ディレクトリ
	DataDir string

	// Log はログ出力設定
	Log LogConfig
}

// LLMConfig はモデルバックエンドの接続設定
type LLMConfig struct {
	Provider          Provider
	BaseURL           string
	APIKey            string
	Model             string
	TimeoutSeconds    int
	RequestsPerMinute int
}

// GenerationConfig は生成フローのチューニング設定
type GenerationConfig struct {
	MaxUnitChars        int
	OverlapCues         int
	FanOut              int
	MaxDepth            int
	MaxRetries          int
	Parallelism         int
	MaxPromptTokens     int
	MaxLevelSkip        int
	MaxCompletionTokens int
	Temperature         float64
}

// LogConfig はログ出力設定
type LogConfig struct {
	Level  string // "debug" / "info" / "warn" / "error"
	Format string // "json" or "text"
}

// providerDefault はプロバイダごとのデフォルト接続先とモデル
type providerDefault struct {
	baseURL string
	model   string
	apiKey  string // ローカルサーバ向けのダミーキー
}

var providerDefaults = map[Provider]providerDefault{
	ProviderOpenAI:       {baseURL: "", model: "gpt-4o-mini"},
	ProviderDeepSeek:     {baseURL: "https://api.deepseek.com", model: "deepseek-chat"},
	ProviderSiliconCloud: {baseURL: "https://api.siliconflow.cn/v1", model: "deepseek-ai/DeepSeek-V3"},
	ProviderOllama:       {baseURL: "http://localhost:11434/v1", model: "llama3.1", apiKey: "ollama"},
	ProviderLMStudio:     {baseURL: "http://localhost:1234/v1", model: "local-model", apiKey: "lm-studio"},
	ProviderGemini:       {baseURL: "https://generativelanguage.googleapis.com/v1beta/openai/", model: "gemini-2.0-flash"},
	ProviderChatGLM:      {baseURL: "https://open.bigmodel.cn/api/paas/v4", model: "glm-4-flash"},
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	provider := Provider(getEnv("SUBMIND_LLM_PROVIDER", string(ProviderOpenAI)))
	defaults, ok := providerDefaults[provider]
	if !ok {
		return nil, fmt.Errorf("unsupported LLM provider: %s", provider)
	}

	cfg := &Config{
		LLM: LLMConfig{
			Provider:          provider,
			BaseURL:           getEnv("SUBMIND_LLM_API_BASE", defaults.baseURL),
			APIKey:            getEnv("SUBMIND_LLM_API_KEY", defaults.apiKey),
			Model:             getEnv("SUBMIND_LLM_MODEL", defaults.model),
			TimeoutSeconds:    getEnvAsInt("SUBMIND_LLM_TIMEOUT_SECONDS", 120),
			RequestsPerMinute: getEnvAsInt("SUBMIND_LLM_REQUESTS_PER_MINUTE", 0),
		},
		Generation: GenerationConfig{
			MaxUnitChars:        getEnvAsInt("SUBMIND_MAX_UNIT_CHARS", 3000),
			OverlapCues:         getEnvAsInt("SUBMIND_OVERLAP_CUES", 2),
			FanOut:              getEnvAsInt("SUBMIND_FAN_OUT", 6),
			MaxDepth:            getEnvAsInt("SUBMIND_MAX_DEPTH", 3),
			MaxRetries:          getEnvAsInt("SUBMIND_MAX_RETRIES", 2),
			Parallelism:         getEnvAsInt("SUBMIND_PARALLELISM", 4),
			MaxPromptTokens:     getEnvAsInt("SUBMIND_MAX_PROMPT_TOKENS", 6000),
			MaxLevelSkip:        getEnvAsInt("SUBMIND_MAX_LEVEL_SKIP", 3),
			MaxCompletionTokens: getEnvAsInt("SUBMIND_MAX_COMPLETION_TOKENS", 0),
			Temperature:         getEnvAsFloat("SUBMIND_TEMPERATURE", 0.7),
		},
		DataDir: getEnv("SUBMIND_DATA_DIR", defaultDataDir()),
		Log: LogConfig{
			Level:  getEnv("SUBMIND_LOG_LEVEL", "info"),
			Format: getEnv("SUBMIND_LOG_FORMAT", "text"),
		},
	}

	return cfg, nil
}

// defaultDataDir はホームディレクトリ配下の既定データディレクトリを返します
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".submind"
	}
	return filepath.Join(home, ".submind")
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}
