package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 120, cfg.LLM.TimeoutSeconds)

	assert.Equal(t, 3000, cfg.Generation.MaxUnitChars)
	assert.Equal(t, 2, cfg.Generation.OverlapCues)
	assert.Equal(t, 6, cfg.Generation.FanOut)
	assert.Equal(t, 0.7, cfg.Generation.Temperature)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.NotEmpty(t, cfg.DataDir)
}

// TestLoadProviderDefaults はプロバイダ選択に応じて接続先とモデルの
// デフォルトが切り替わることを確認します
func TestLoadProviderDefaults(t *testing.T) {
	tests := []struct {
		provider    string
		wantBaseURL string
		wantModel   string
		wantAPIKey  string
	}{
		{"deepseek", "https://api.deepseek.com", "deepseek-chat", ""},
		{"ollama", "http://localhost:11434/v1", "llama3.1", "ollama"},
		{"lmstudio", "http://localhost:1234/v1", "local-model", "lm-studio"},
		{"gemini", "https://generativelanguage.googleapis.com/v1beta/openai/", "gemini-2.0-flash", ""},
		{"chatglm", "https://open.bigmodel.cn/api/paas/v4", "glm-4-flash", ""},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			t.Setenv("SUBMIND_LLM_PROVIDER", tt.provider)

			cfg, err := Load("")
			require.NoError(t, err)
			assert.Equal(t, tt.wantBaseURL, cfg.LLM.BaseURL)
			assert.Equal(t, tt.wantModel, cfg.LLM.Model)
			assert.Equal(t, tt.wantAPIKey, cfg.LLM.APIKey)
		})
	}
}

func TestLoadUnsupportedProvider(t *testing.T) {
	t.Setenv("SUBMIND_LLM_PROVIDER", "unknown-provider")

	_, err := Load("")
	assert.Error(t, err)
}

// TestLoadEnvOverrides は環境変数がプロバイダのデフォルトより
// 優先されることを確認します
func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SUBMIND_LLM_PROVIDER", "deepseek")
	t.Setenv("SUBMIND_LLM_MODEL", "deepseek-reasoner")
	t.Setenv("SUBMIND_LLM_API_KEY", "sk-test")
	t.Setenv("SUBMIND_MAX_UNIT_CHARS", "500")
	t.Setenv("SUBMIND_TEMPERATURE", "0.2")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "deepseek-reasoner", cfg.LLM.Model)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 500, cfg.Generation.MaxUnitChars)
	assert.Equal(t, 0.2, cfg.Generation.Temperature)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "SUBMIND_LLM_MODEL=model-from-file\nSUBMIND_FAN_OUT=8\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o644))

	cfg, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, "model-from-file", cfg.LLM.Model)
	assert.Equal(t, 8, cfg.Generation.FanOut)
}

func TestLoadMissingEnvFile(t *testing.T) {
	// 存在しない.envファイルはエラーにしない（環境変数のみで動作）
	cfg, err := Load(filepath.Join(t.TempDir(), "no-such.env"))
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("SUBMIND_TEST_STR", "value")
	t.Setenv("SUBMIND_TEST_INT", "42")
	t.Setenv("SUBMIND_TEST_BAD_INT", "not-a-number")

	assert.Equal(t, "value", getEnv("SUBMIND_TEST_STR", "default"))
	assert.Equal(t, "default", getEnv("SUBMIND_TEST_MISSING", "default"))

	assert.Equal(t, 42, getEnvAsInt("SUBMIND_TEST_INT", 7))
	assert.Equal(t, 7, getEnvAsInt("SUBMIND_TEST_BAD_INT", 7))
	assert.Equal(t, 7, getEnvAsInt("SUBMIND_TEST_MISSING", 7))
}
