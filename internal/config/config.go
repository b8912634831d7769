package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	// OpenAI
	OpenAIAPIKey      string
	OpenAIModel       string
	OpenAIMaxTokens   int
	OpenAITemperature float32
	OpenAIBaseURL     string

	// GitHub Models
	GitHubToken             string
	GitHubModelsModel       string
	GitHubModelsMaxTokens   int
	GitHubModelsTemperature float32
	GitHubModelsTopP        float32
	GitHubModelsEndpoint    string

	// conversation storage: memory, redis or sql
	ConversationStore       string
	ConversationTTL         time.Duration
	ConversationMaxMessages int
	ChatContextWindowSize   int
	ProviderTimeout         time.Duration

	DBDSN    string
	RedisURL string

	// rabbitMQ, empty URL disables usage events
	RabbitURL         string
	RabbitQueue       string
	WorkerConcurrency int

	DiagnosticsEnabled bool
	DiagnosticsSecret  string
}

// Load reads the configuration from the environment. A .env file in the
// working directory is applied first when present; real env vars win.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4o"),
		OpenAIMaxTokens:   getEnvInt("OPENAI_MAX_TOKENS", 1000),
		OpenAITemperature: getEnvFloat("OPENAI_TEMPERATURE", 0.7),
		OpenAIBaseURL:     os.Getenv("OPENAI_BASE_URL"),

		GitHubToken:             os.Getenv("GITHUB_TOKEN"),
		GitHubModelsModel:       getEnv("GITHUB_MODELS_MODEL", "openai/gpt-4.1-nano"),
		GitHubModelsMaxTokens:   getEnvInt("GITHUB_MODELS_MAX_TOKENS", 1000),
		GitHubModelsTemperature: getEnvFloat("GITHUB_MODELS_TEMPERATURE", 0.7),
		GitHubModelsTopP:        getEnvFloat("GITHUB_MODELS_TOP_P", 1.0),
		GitHubModelsEndpoint:    getEnv("GITHUB_MODELS_ENDPOINT", "https://models.github.ai/inference"),

		ConversationStore:       strings.ToLower(getEnv("CONVERSATION_STORE", "memory")),
		ConversationTTL:         getEnvDuration("CONVERSATION_TTL", 24*time.Hour),
		ConversationMaxMessages: getEnvInt("CONVERSATION_MAX_MESSAGES", 500),
		ChatContextWindowSize:   getEnvInt("CHAT_CONTEXT_WINDOW_SIZE", 0),
		ProviderTimeout:         getEnvDuration("PROVIDER_TIMEOUT", 60*time.Second),

		// DSN demo：
		// app:apppass@tcp(127.0.0.1:3306)/chat_gateway?charset=utf8mb4&parseTime=true&loc=Local
		DBDSN:    os.Getenv("DB_DSN"),
		RedisURL: getEnv("REDIS_URL", "redis://127.0.0.1:6379/0"),

		RabbitURL:         os.Getenv("RABBIT_URL"),
		RabbitQueue:       getEnv("RABBIT_QUEUE", "chat_usage"),
		WorkerConcurrency: clamp(getEnvInt("WORKER_CONCURRENCY", 2), 1, 50),

		DiagnosticsEnabled: getEnvBool("DIAGNOSTICS_ENABLED", false),
		DiagnosticsSecret:  os.Getenv("DIAGNOSTICS_SECRET"),
	}
}

func getEnv(key, defaultVal string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvFloat(key string, defaultVal float32) float32 {
	f, err := strconv.ParseFloat(getEnv(key, ""), 32)
	if err != nil {
		return defaultVal
	}
	return float32(f)
}

func getEnvBool(key string, defaultVal bool) bool {
	b, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return defaultVal
	}
	return d
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
