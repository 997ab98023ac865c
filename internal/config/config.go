package config

import (
	"time"

	"github.com/caarlos0/env/v6"
)

type RecorderDriver string

const (
	RecorderNone   RecorderDriver = "none"
	RecorderFile   RecorderDriver = "file"
	RecorderSQLite RecorderDriver = "sqlite"
)

type Config struct {
	// ChatGPT
	OpenAIAPIKey      string  `env:"OPENAI_API_KEY"`
	OpenAIBaseURL     string  `env:"OPENAI_BASE_URL"`
	OpenAIModel       string  `env:"OPENAI_MODEL" envDefault:"gpt-4o"`
	OpenAIMaxTokens   int     `env:"OPENAI_MAX_TOKENS" envDefault:"200"`
	OpenAITemperature float32 `env:"OPENAI_TEMPERATURE" envDefault:"0.1"`

	// OpenRouter (optional, only when OPENAI_BASE_URL points at it)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`

	// Gemini
	GeminiAPIKey      string  `env:"GEMINI_API_KEY"`
	GeminiBaseURL     string  `env:"GEMINI_BASE_URL"`
	GeminiModel       string  `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash"`
	GeminiMaxTokens   int     `env:"GEMINI_MAX_TOKENS" envDefault:"200"`
	GeminiTemperature float32 `env:"GEMINI_TEMPERATURE" envDefault:"0.1"`

	// Grok
	GrokAPIKey         string        `env:"GROK_API_KEY"`
	GrokBaseURL        string        `env:"GROK_BASE_URL" envDefault:"https://api.x.ai/v1"`
	GrokModel          string        `env:"GROK_MODEL" envDefault:"grok-2"`
	GrokMaxTokens      int           `env:"GROK_MAX_TOKENS" envDefault:"200"`
	GrokTemperature    float32       `env:"GROK_TEMPERATURE" envDefault:"0.1"`
	GrokSimulated      bool          `env:"GROK_SIMULATED" envDefault:"true"`
	GrokSimulatedDelay time.Duration `env:"GROK_SIMULATED_DELAY" envDefault:"1s"`

	// Dispatch
	ProviderTimeout  time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"60s"`
	SystemPromptPath string        `env:"SYSTEM_PROMPT_PATH"`

	// Conversation lifecycle
	ConversationTTL  time.Duration `env:"CONVERSATION_TTL" envDefault:"24h"`
	MaxConversations int           `env:"MAX_CONVERSATIONS" envDefault:"10000"`
	EvictionSchedule string        `env:"EVICTION_SCHEDULE" envDefault:"@every 5m"`
	StatsSchedule    string        `env:"STATS_SCHEDULE" envDefault:"0 21 * * *"`

	// Storage
	RecorderDriver RecorderDriver `env:"RECORDER_DRIVER" envDefault:"file"`
	LogFilePath    string         `env:"LOG_FILE_PATH" envDefault:"logs/interactions.jsonl"`
	SQLitePath     string         `env:"SQLITE_PATH" envDefault:"data/trichat.db"`

	// Front-ends
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	MessageParseMode string `env:"MESSAGE_PARSE_MODE" envDefault:"HTML"`
	HTTPAddr         string `env:"HTTP_ADDR" envDefault:":8080"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Parse reads the configuration from the environment.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
