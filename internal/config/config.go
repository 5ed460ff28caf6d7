package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v6"
)

type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai"
	ProviderYandex LLMProvider = "yandex"
)

type Config struct {
	// LINE Messaging API
	LineChannelSecret      string   `env:"LINE_CHANNEL_SECRET,required"`
	LineChannelAccessToken string   `env:"LINE_CHANNEL_ACCESS_TOKEN,required"`
	AdminUserIDs           []string `env:"ADMIN_USER_IDS" envSeparator:","`

	// LLM settings
	LLMProvider      LLMProvider `env:"LLM_PROVIDER" envDefault:"openai"`
	OllamaBaseURL    string      `env:"OLLAMA_BASE_URL" envDefault:"http://localhost:11434"`
	OllamaModel      string      `env:"OLLAMA_MODEL" envDefault:"gemma3:12b"`
	OpenAIAPIKey     string      `env:"OPENAI_API_KEY" envDefault:"ollama"`
	YandexOAuthToken string      `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID   string      `env:"YANDEX_FOLDER_ID"`

	// Google Drive sync
	ServiceAccountFile string        `env:"GOOGLE_SERVICE_ACCOUNT_FILE"`
	DriveFolderID      string        `env:"DRIVE_FOLDER_ID"`
	DriveSyncInterval  time.Duration `env:"DRIVE_SYNC_INTERVAL" envDefault:"45s"`
	CacheDir           string        `env:"CACHE_DIR" envDefault:"/tmp/linebot_cache"`
	CacheMaxSizeMB     int64         `env:"CACHE_MAX_SIZE_MB" envDefault:"100"`

	// Rate limiting
	RateLimitMaxRequests int           `env:"RATE_LIMIT_MAX_REQUESTS" envDefault:"30"`
	RateLimitWindow      time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"60s"`

	// Queue
	QueueMaxSize int           `env:"QUEUE_MAX_SIZE" envDefault:"10"`
	QueueTimeout time.Duration `env:"QUEUE_TIMEOUT" envDefault:"120s"`

	// Conversation context
	ContextMaxMessages int           `env:"CONTEXT_MAX_MESSAGES" envDefault:"3"`
	ContextTTL         time.Duration `env:"CONTEXT_TTL" envDefault:"1h"`

	// Reply tokens are only accepted by LINE for a short while after receipt.
	ReplyTokenValidity time.Duration `env:"REPLY_TOKEN_VALIDITY" envDefault:"60s"`

	// Scheduled messages
	ScheduledMessagesEnabled bool   `env:"SCHEDULED_MESSAGES_ENABLED" envDefault:"false"`
	ScheduledGroupID         string `env:"SCHEDULED_GROUP_ID"`

	// Server
	ListenAddr    string `env:"LISTEN_ADDR" envDefault:"0.0.0.0:8000"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`
}

func New() *Config {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	return cfg
}
