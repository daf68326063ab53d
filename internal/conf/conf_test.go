package conf

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
	"github.com/rawbot-ai/rawbot/internal/biz/usecase"
)

func TestLoadPromptsConfig_Overlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	yaml := `
replies:
  quota: "busy, try later"
  quota_en: "too many messages"
tone:
  formal: "be formal"
history:
  max_count: 4
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadPromptsConfig(path)
	require.NoError(t, err)

	pc := cfg.ToPromptConfig()
	assert.Equal(t, "busy, try later", pc.QuotaReply)
	assert.Equal(t, "too many messages", pc.FallbackReply(domain.LanguageEnglish, true))
	assert.Equal(t, "be formal", pc.ToneFormal)
	assert.Equal(t, 4, pc.MaxHistoryCount)

	// untouched fields keep compiled defaults
	assert.Equal(t, usecase.DefaultPromptConfig.Persona, pc.Persona)
	assert.Equal(t, usecase.DefaultPromptConfig.NetworkReply, pc.NetworkReply)
	assert.Equal(t, usecase.DefaultPromptConfig.NetworkReplyEnglish, pc.FallbackReply(domain.LanguageEnglish, false))
	assert.Equal(t, usecase.DefaultPromptConfig.NoteLearned, pc.NoteLearned)
}

func TestLoadPromptsConfig_MissingFile(t *testing.T) {
	cfg, err := LoadPromptsConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, usecase.DefaultPromptConfig, cfg.ToPromptConfig())
}

func TestLoadPromptsConfig_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("replies: [unclosed"), 0o644))

	cfg, err := LoadPromptsConfig(path)
	assert.Error(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, usecase.DefaultPromptConfig.QuotaReply, cfg.Replies.Quota)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PROMPTS_CONFIG_PATH", filepath.Join(t.TempDir(), "none.yaml"))
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_BACKEND", "Memory")
	t.Setenv("TEXT_DEBOUNCE_MS", "1500")
	t.Setenv("IMAGE_DEBOUNCE_MS", "bogus")
	t.Setenv("HISTORY_LIMIT", "6")
	t.Setenv("GRAPH_API_BASE", "http://localhost:1234/")
	t.Setenv("DEBUG", "true")

	cfg := LoadFromEnv()
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, "http://localhost:1234", cfg.Meta.GraphAPIBase)
	assert.True(t, cfg.Debug)

	bc := cfg.Buffer.ToBufferConfig()
	assert.Equal(t, 1500*time.Millisecond, bc.TextDelay)
	assert.Equal(t, 8*time.Second, bc.ImageDelay)
	assert.Equal(t, 6, cfg.ToPromptConfig().MaxHistoryCount)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Store: StoreConfig{Backend: StoreSQLite},
			LLM:   LLMConfig{Provider: ProviderGemini, GeminiAPIKey: "k"},
		}
	}

	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"unknown backend", func(c *Config) { c.Store.Backend = "mongo" }, "STORE_BACKEND"},
		{"firestore without project", func(c *Config) { c.Store.Backend = StoreFirestore }, "FIRESTORE_PROJECT_ID"},
		{"gemini without credentials", func(c *Config) { c.LLM.GeminiAPIKey = "" }, "GEMINI_API_KEY/GOOGLE_CLOUD_PROJECT"},
		{"openai without key", func(c *Config) { c.LLM.Provider = ProviderOpenAI }, "OPENAI_API_KEY"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "claude" }, "LLM_PROVIDER"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}

	vertex := base()
	vertex.LLM.GeminiAPIKey = ""
	vertex.LLM.GoogleCloudProject = "proj"
	assert.NoError(t, vertex.Validate())

	assert.Error(t, base().ValidateWebhook())
}
