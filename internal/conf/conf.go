package conf

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rawbot-ai/rawbot/internal/biz/usecase"
)

// Store backends
const (
	StoreSQLite    = "sqlite"
	StoreFirestore = "firestore"
	StoreMemory    = "memory"
)

// LLM providers
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Config represents application configuration
type Config struct {
	// HTTP server configuration
	Server ServerConfig

	// Meta platform configuration
	Meta MetaConfig

	// Storage configuration
	Store StoreConfig

	// LLM configuration
	LLM LLMConfig

	// Debounce configuration
	Buffer BufferValues

	// Feishu alert configuration (optional)
	Feishu FeishuConfig

	// Prompts configuration (loaded from YAML)
	Prompts *PromptsConfig

	// Debug mode
	Debug bool
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port string
	// Base URL the mcp command uses to reach a running server
	APIURL string
	// Pending actions older than this are re-alerted once; zero disables
	ReminderAfter time.Duration
}

// MetaConfig contains webhook and Graph API configuration
type MetaConfig struct {
	VerifyToken  string
	GraphAPIBase string
}

// StoreConfig contains storage configuration
type StoreConfig struct {
	Backend            string
	DBPath             string
	FirestoreProjectID string
}

// LLMConfig contains model provider configuration
type LLMConfig struct {
	Provider string

	GeminiAPIKey string
	GeminiModel  string
	// Vertex backend, used when GeminiAPIKey is empty
	GoogleCloudProject  string
	GoogleCloudLocation string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
}

// BufferValues contains debounce windows in milliseconds
type BufferValues struct {
	TextDelayMS  int
	ImageDelayMS int
}

// FeishuConfig contains Feishu configuration
type FeishuConfig struct {
	AppID       string
	AppSecret   string
	AlertChatID string
}

// Enabled reports whether Feishu alerts are configured
func (c FeishuConfig) Enabled() bool {
	return c.AppID != "" && c.AppSecret != "" && c.AlertChatID != ""
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	// Database path
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		homeDir, _ := os.UserHomeDir()
		dbPath = filepath.Join(homeDir, ".rawbot", "rawbot.db")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	apiURL := strings.TrimRight(os.Getenv("RAWBOT_API_URL"), "/")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:" + port
	}

	graphBase := strings.TrimRight(os.Getenv("GRAPH_API_BASE"), "/")
	if graphBase == "" {
		graphBase = "https://graph.facebook.com/v21.0"
	}

	backend := strings.ToLower(os.Getenv("STORE_BACKEND"))
	if backend == "" {
		backend = StoreSQLite
	}

	provider := strings.ToLower(os.Getenv("LLM_PROVIDER"))
	if provider == "" {
		provider = ProviderGemini
	}

	geminiModel := os.Getenv("GEMINI_MODEL")
	if geminiModel == "" {
		geminiModel = "gemini-2.5-flash"
	}

	location := os.Getenv("GOOGLE_CLOUD_LOCATION")
	if location == "" {
		location = "us-central1"
	}

	// Load prompts from YAML
	promptsConfigPath := os.Getenv("PROMPTS_CONFIG_PATH")
	promptsConfig, _ := LoadPromptsConfig(promptsConfigPath)

	// Override history window from env if specified
	if n := envInt("HISTORY_LIMIT", 0); n > 0 {
		promptsConfig.History.MaxCount = n
	}

	return &Config{
		Server: ServerConfig{
			Port:          port,
			APIURL:        apiURL,
			ReminderAfter: time.Duration(envInt("PENDING_REMINDER_MINUTES", 15)) * time.Minute,
		},
		Meta: MetaConfig{
			VerifyToken:  os.Getenv("META_VERIFY_TOKEN"),
			GraphAPIBase: graphBase,
		},
		Store: StoreConfig{
			Backend:            backend,
			DBPath:             dbPath,
			FirestoreProjectID: os.Getenv("FIRESTORE_PROJECT_ID"),
		},
		LLM: LLMConfig{
			Provider:            provider,
			GeminiAPIKey:        os.Getenv("GEMINI_API_KEY"),
			GeminiModel:         geminiModel,
			GoogleCloudProject:  os.Getenv("GOOGLE_CLOUD_PROJECT"),
			GoogleCloudLocation: location,
			OpenAIAPIKey:        os.Getenv("OPENAI_API_KEY"),
			OpenAIBaseURL:       os.Getenv("OPENAI_BASE_URL"),
			OpenAIModel:         os.Getenv("OPENAI_MODEL"),
		},
		Buffer: BufferValues{
			TextDelayMS:  envInt("TEXT_DEBOUNCE_MS", 3000),
			ImageDelayMS: envInt("IMAGE_DEBOUNCE_MS", 8000),
		},
		Feishu: FeishuConfig{
			AppID:       os.Getenv("FEISHU_APP_ID"),
			AppSecret:   os.Getenv("FEISHU_APP_SECRET"),
			AlertChatID: os.Getenv("FEISHU_ALERT_CHAT_ID"),
		},
		Prompts: promptsConfig,
		Debug:   os.Getenv("DEBUG") == "true",
	}
}

func envInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

// ToBufferConfig converts to debounce configuration
func (c *BufferValues) ToBufferConfig() usecase.BufferConfig {
	cfg := usecase.DefaultBufferConfig()
	if c.TextDelayMS > 0 {
		cfg.TextDelay = time.Duration(c.TextDelayMS) * time.Millisecond
	}
	if c.ImageDelayMS > 0 {
		cfg.ImageDelay = time.Duration(c.ImageDelayMS) * time.Millisecond
	}
	return cfg
}

// ToPromptConfig converts to prompt configuration
func (c *Config) ToPromptConfig() usecase.PromptConfig {
	if c.Prompts == nil {
		return usecase.DefaultPromptConfig
	}
	return c.Prompts.ToPromptConfig()
}

// Validate validates the configuration needed to serve platform traffic
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreSQLite, StoreMemory:
	case StoreFirestore:
		if c.Store.FirestoreProjectID == "" {
			return &ConfigError{Field: "FIRESTORE_PROJECT_ID", Message: "required for firestore backend"}
		}
	default:
		return &ConfigError{Field: "STORE_BACKEND", Message: "unknown backend " + c.Store.Backend}
	}

	switch c.LLM.Provider {
	case ProviderGemini:
		if c.LLM.GeminiAPIKey == "" && c.LLM.GoogleCloudProject == "" {
			return &ConfigError{Field: "GEMINI_API_KEY/GOOGLE_CLOUD_PROJECT", Message: "required"}
		}
	case ProviderOpenAI:
		if c.LLM.OpenAIAPIKey == "" {
			return &ConfigError{Field: "OPENAI_API_KEY", Message: "required"}
		}
		if c.LLM.OpenAIModel == "" {
			return &ConfigError{Field: "OPENAI_MODEL", Message: "required"}
		}
	default:
		return &ConfigError{Field: "LLM_PROVIDER", Message: "unknown provider " + c.LLM.Provider}
	}
	return nil
}

// ValidateWebhook validates settings needed by the webhook server
func (c *Config) ValidateWebhook() error {
	if c.Meta.VerifyToken == "" {
		return &ConfigError{Field: "META_VERIFY_TOKEN", Message: "required"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
