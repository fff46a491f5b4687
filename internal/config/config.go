package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider identifies an LLM/embedding backend.
type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// External store API
	StoreAPIBaseURL string
	StoreAPIKey     string
	StoreMinDelay   time.Duration

	// LLM
	LLMProvider     Provider
	LLMModel        string
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string

	// Embeddings
	EmbedProvider  Provider
	EmbedModel     string
	EmbedDimension int

	// Similarity pipeline
	CurationEnabled bool
	SuggestionTopK  int
	WeightsFile     string

	// Coordination timing. Small values are injected by tests; defaults
	// match production pacing.
	LockTTL            time.Duration
	LockWaitInterval   time.Duration
	IngestWaitAttempts int
	IngestWaitInterval time.Duration
	RateRetryAttempts  int
	RateRetryInterval  time.Duration

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "kindred"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "catalog"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		StoreAPIBaseURL: getEnv("KINDRED_STORE_URL", "http://localhost:8090/api"),
		StoreAPIKey:     getEnv("KINDRED_STORE_KEY", ""),
		StoreMinDelay:   getDuration("KINDRED_STORE_MIN_DELAY", 1200*time.Millisecond),

		LLMProvider:     Provider(getEnv("KINDRED_LLM_PROVIDER", "ollama")),
		LLMModel:        getEnv("KINDRED_LLM_MODEL", "llama3.1"),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),

		EmbedProvider:  Provider(getEnv("KINDRED_EMBED_PROVIDER", "ollama")),
		EmbedModel:     getEnv("KINDRED_EMBED_MODEL", "all-minilm:l6-v2"),
		EmbedDimension: getInt("KINDRED_EMBED_DIMENSION", 384),

		CurationEnabled: getEnv("KINDRED_CURATION", "true") == "true",
		SuggestionTopK:  getInt("KINDRED_SUGGESTION_TOPK", 8),
		WeightsFile:     getEnv("KINDRED_WEIGHTS_FILE", ""),

		LockTTL:            getDuration("KINDRED_LOCK_TTL", 2*time.Minute),
		LockWaitInterval:   getDuration("KINDRED_LOCK_WAIT_INTERVAL", 500*time.Millisecond),
		IngestWaitAttempts: getInt("KINDRED_INGEST_WAIT_ATTEMPTS", 20),
		IngestWaitInterval: getDuration("KINDRED_INGEST_WAIT_INTERVAL", 500*time.Millisecond),
		RateRetryAttempts:  getInt("KINDRED_RATE_RETRY_ATTEMPTS", 30),
		RateRetryInterval:  getDuration("KINDRED_RATE_RETRY_INTERVAL", 100*time.Millisecond),

		LogFile:  getEnv("KINDRED_LOG_FILE", "/tmp/kindred.log"),
		LogLevel: parseLogLevel(getEnv("KINDRED_LOG_LEVEL", "INFO")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
