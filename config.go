package agentcore

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Defaults for conversation-core operations
const (
	DefaultSoftLimitTokens   = 6000
	DefaultHardLimitTokens   = 8000
	DefaultKeepRecent        = 20
	DefaultMaxInputLength    = 4000
	DefaultRetrievalTopK     = 5
	DefaultScoreThreshold    = 0.7
	DefaultRequestsPerMinute = 30
	DefaultRequestsPerHour   = 500

	DefaultLockTTL           = 30 * time.Second
	DefaultLockRetryInterval = 100 * time.Millisecond
	DefaultLockMaxRetries    = 50

	DefaultConversationLockTTL     = 60 * time.Second
	DefaultConversationLockTimeout = 10 * time.Second

	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 30 * time.Second
	DefaultHalfOpenMaxCalls = 3
	DefaultSuccessThreshold = 2

	DefaultSummarizeTimeout   = 30 * time.Second
	DefaultWebhookTimeout     = 5 * time.Second
	DefaultVectorStoreTimeout = 30 * time.Second
	DefaultEmbeddingDim       = 1536

	DefaultLLMMaxRetries  = 3
	DefaultLLMBackoffBase = 1 * time.Second
	DefaultLLMBackoffCap  = 10 * time.Second
	DefaultLLMTemperature = 0.7
	DefaultLLMMaxTokens   = 2048
)

// Config holds configuration for the conversation core, loaded from
// environment variables with sensible local-development defaults.
type Config struct {
	// Redis
	RedisURL string

	// Context engineering
	SoftLimitTokens int
	HardLimitTokens int
	KeepRecent      int

	// Input validation
	MaxInputLength int

	// Memory retrieval
	RetrievalTopK    int
	ScoreThreshold   float64
	VectorStoreURL   string
	VectorStoreKey   string
	MemoryCollection string

	// Rate limiting
	RequestsPerMinute int
	RequestsPerHour   int

	// LLM
	LLMBaseURL     string
	LLMModelName   string
	LLMAPIKey      string
	LLMTemperature float64
	LLMMaxTokens   int

	// Embeddings
	EmbeddingBaseURL   string
	EmbeddingModel     string
	EmbeddingAPIKey    string
	EmbeddingDimension int

	// Observer
	ObserverEnabled         bool
	AnomalyDetectionEnabled bool
	AlertWebhookURL         string

	// HTTP daemon
	ListenAddr string
}

// LoadConfig reads configuration from the environment.
//
// Recognized variables (with defaults):
//   - REDIS_URL (redis://localhost:6379/0)
//   - CONTEXT_SOFT_LIMIT_TOKENS (6000), CONTEXT_HARD_LIMIT_TOKENS (8000)
//   - RECENT_MESSAGES_COUNT (20), MAX_INPUT_LENGTH (4000)
//   - MEMORY_RETRIEVAL_TOP_K (5), MEMORY_SIMILARITY_THRESHOLD (0.7)
//   - VECTOR_STORE_URL (http://localhost:6333), VECTOR_STORE_API_KEY,
//     VECTOR_COLLECTION (agent_memories)
//   - RATE_LIMIT_REQUESTS_PER_MINUTE (30), RATE_LIMIT_REQUESTS_PER_HOUR (500)
//   - LLM_BASE_URL, LLM_MODEL_NAME, LLM_API_KEY, LLM_TEMPERATURE (0.7),
//     LLM_MAX_TOKENS (2048)
//   - EMBEDDING_BASE_URL, EMBEDDING_MODEL, EMBEDDING_API_KEY,
//     EMBEDDING_DIMENSION (1536)
//   - OBSERVER_AGENT_ENABLED (true), ANOMALY_DETECTION_ENABLED (true),
//     ALERT_WEBHOOK_URL
//   - LISTEN_ADDR (:8080)
func LoadConfig() *Config {
	return &Config{
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		SoftLimitTokens: getEnvAsInt("CONTEXT_SOFT_LIMIT_TOKENS", DefaultSoftLimitTokens),
		HardLimitTokens: getEnvAsInt("CONTEXT_HARD_LIMIT_TOKENS", DefaultHardLimitTokens),
		KeepRecent:      getEnvAsInt("RECENT_MESSAGES_COUNT", DefaultKeepRecent),

		MaxInputLength: getEnvAsInt("MAX_INPUT_LENGTH", DefaultMaxInputLength),

		RetrievalTopK:    getEnvAsInt("MEMORY_RETRIEVAL_TOP_K", DefaultRetrievalTopK),
		ScoreThreshold:   getEnvAsFloat("MEMORY_SIMILARITY_THRESHOLD", DefaultScoreThreshold),
		VectorStoreURL:   getEnv("VECTOR_STORE_URL", "http://localhost:6333"),
		VectorStoreKey:   getEnv("VECTOR_STORE_API_KEY", ""),
		MemoryCollection: getEnv("VECTOR_COLLECTION", "agent_memories"),

		RequestsPerMinute: getEnvAsInt("RATE_LIMIT_REQUESTS_PER_MINUTE", DefaultRequestsPerMinute),
		RequestsPerHour:   getEnvAsInt("RATE_LIMIT_REQUESTS_PER_HOUR", DefaultRequestsPerHour),

		LLMBaseURL:     getEnv("LLM_BASE_URL", "http://localhost:8000/v1"),
		LLMModelName:   getEnv("LLM_MODEL_NAME", "Qwen/Qwen2.5-7B-Instruct"),
		LLMAPIKey:      getEnv("LLM_API_KEY", "EMPTY"),
		LLMTemperature: getEnvAsFloat("LLM_TEMPERATURE", DefaultLLMTemperature),
		LLMMaxTokens:   getEnvAsInt("LLM_MAX_TOKENS", DefaultLLMMaxTokens),

		EmbeddingBaseURL:   getEnv("EMBEDDING_BASE_URL", ""),
		EmbeddingModel:     getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingAPIKey:    getEnv("EMBEDDING_API_KEY", ""),
		EmbeddingDimension: getEnvAsInt("EMBEDDING_DIMENSION", DefaultEmbeddingDim),

		ObserverEnabled:         getEnvAsBool("OBSERVER_AGENT_ENABLED", true),
		AnomalyDetectionEnabled: getEnvAsBool("ANOMALY_DETECTION_ENABLED", true),
		AlertWebhookURL:         getEnv("ALERT_WEBHOOK_URL", ""),

		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),
	}
}

// Validate checks if the Config is usable
func (c *Config) Validate() error {
	if c.SoftLimitTokens <= 0 || c.HardLimitTokens < c.SoftLimitTokens {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "HardLimitTokens",
			"value":  c.HardLimitTokens,
			"reason": "hard limit must be >= soft limit > 0",
		})
	}
	if c.KeepRecent < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "KeepRecent",
			"value":  c.KeepRecent,
			"reason": "must be non-negative",
		})
	}
	if c.RequestsPerMinute <= 0 || c.RequestsPerHour <= 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "RequestsPerMinute/RequestsPerHour",
			"reason": "must be positive",
		})
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "ScoreThreshold",
			"value":  c.ScoreThreshold,
			"reason": "must be between 0 and 1",
		})
	}
	if c.EmbeddingDimension <= 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "EmbeddingDimension",
			"value":  c.EmbeddingDimension,
			"reason": "must be positive",
		})
	}
	return nil
}

// RedisOptions parses the configured REDIS_URL into go-redis options.
// The default pool behaviour (30s dial/read timeouts) is kept; requests
// never hold a connection across a turn.
func (c *Config) RedisOptions() (*redis.Options, error) {
	opts, err := redis.ParseURL(c.RedisURL)
	if err != nil {
		return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "RedisURL",
			"reason": err.Error(),
		})
	}
	return opts, nil
}

// BreakerConfigFor reads per-breaker overrides from the environment,
// e.g. CB_LLM_FAILURE_THRESHOLD, CB_LLM_RECOVERY_TIMEOUT_SECONDS.
func BreakerConfigFor(name string) BreakerConfig {
	prefix := "CB_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_"
	return BreakerConfig{
		FailureThreshold: getEnvAsInt(prefix+"FAILURE_THRESHOLD", DefaultFailureThreshold),
		RecoveryTimeout:  time.Duration(getEnvAsInt(prefix+"RECOVERY_TIMEOUT_SECONDS", int(DefaultRecoveryTimeout/time.Second))) * time.Second,
		HalfOpenMaxCalls: getEnvAsInt(prefix+"HALF_OPEN_MAX_CALLS", DefaultHalfOpenMaxCalls),
		SuccessThreshold: getEnvAsInt(prefix+"SUCCESS_THRESHOLD", DefaultSuccessThreshold),
	}
}

// getEnv reads a string environment variable with a default fallback.
func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// getEnvAsInt reads an integer environment variable with a default fallback.
func getEnvAsInt(key string, defaultVal int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultVal
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultVal
	}

	return value
}

// getEnvAsFloat reads a float environment variable with a default fallback.
func getEnvAsFloat(key string, defaultVal float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultVal
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultVal
	}

	return value
}

// getEnvAsBool reads a boolean environment variable with a default fallback.
func getEnvAsBool(key string, defaultVal bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultVal
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultVal
	}

	return value
}
