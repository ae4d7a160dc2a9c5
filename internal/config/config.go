// Package config loads and validates application configuration from
// environment variables, following the same accumulate-all-errors
// pattern as the rest of the ambient stack.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Storage paths (all data is flat-file/atomic-I/O based; see internal/atomicio).
	DataDir string

	// Auth.
	APIKeyHash string // Argon2id-encoded hash of the operator API key; see internal/auth.
	APISecret  string // HMAC signing key for scoped tokens; empty disables token issuance (see internal/auth.TokenIssuer).

	// LLM provider settings.
	LLMProvider   string // "anthropic" or "noop"
	AnthropicKey  string
	LLMModel      string
	LLMMaxRetries int
	LLMTimeout    time.Duration

	// Embedding provider settings.
	EmbeddingProvider   string // "auto", "openai", or "noop"
	OpenAIAPIKey        string
	EmbeddingModel      string
	EmbeddingDimensions int

	// Qdrant vector search settings (optional ANN tier for internal/memory).
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string

	// Postgres mirror settings (optional, never a correctness dependency).
	DatabaseURL string

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel              string
	DebugMode             bool
	MaxRequestBodyBytes   int64
	MemoryMaxRecordsPerUser int
	AutoStopResetToken    string
}

// Load reads configuration from environment variables with sensible
// defaults. Malformed values are collected and reported together; missing
// variables fall back to defaults.
func Load() (Config, error) {
	var errs []error
	cfg := Config{
		DataDir:          envStr("VERITAS_DATA_DIR", "./data"),
		APIKeyHash:       envStr("VERITAS_API_KEY_HASH", ""),
		APISecret:        envStr("VERITAS_API_SECRET", ""),
		LLMProvider:      envStr("VERITAS_LLM_PROVIDER", "anthropic"),
		AnthropicKey:     envStr("ANTHROPIC_API_KEY", ""),
		LLMModel:         envStr("VERITAS_LLM_MODEL", "claude-sonnet-4-5"),
		EmbeddingProvider: envStr("VERITAS_EMBEDDING_PROVIDER", "noop"),
		OpenAIAPIKey:     envStr("OPENAI_API_KEY", ""),
		EmbeddingModel:   envStr("VERITAS_EMBEDDING_MODEL", "text-embedding-3-small"),
		QdrantURL:        envStr("QDRANT_URL", ""),
		QdrantAPIKey:     envStr("QDRANT_API_KEY", ""),
		QdrantCollection: envStr("QDRANT_COLLECTION", "veritas_memory"),
		DatabaseURL:      envStr("DATABASE_URL", ""),
		OTELEndpoint:     envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:      envStr("OTEL_SERVICE_NAME", "veritas"),
		LogLevel:         envStr("VERITAS_LOG_LEVEL", "info"),
		AutoStopResetToken: envStr("VERITAS_AUTOSTOP_RESET_TOKEN", ""),
	}

	cfg.Port, errs = collectInt(errs, "VERITAS_PORT", 8080)
	cfg.EmbeddingDimensions, errs = collectInt(errs, "VERITAS_EMBEDDING_DIMENSIONS", 1536)
	cfg.LLMMaxRetries, errs = collectInt(errs, "VERITAS_LLM_MAX_RETRIES", 3)
	cfg.MemoryMaxRecordsPerUser, errs = collectInt(errs, "VERITAS_MEMORY_MAX_RECORDS_PER_USER", 10_000)

	var maxReqBody int
	maxReqBody, errs = collectInt(errs, "VERITAS_MAX_REQUEST_BODY_BYTES", 1*1024*1024)
	cfg.MaxRequestBodyBytes = int64(maxReqBody)

	cfg.OTELInsecure, errs = collectBool(errs, "OTEL_EXPORTER_OTLP_INSECURE", false)
	cfg.DebugMode, errs = collectBool(errs, "VERITAS_DEBUG_MODE", false)

	cfg.ReadTimeout, errs = collectDuration(errs, "VERITAS_READ_TIMEOUT", 30*time.Second)
	cfg.WriteTimeout, errs = collectDuration(errs, "VERITAS_WRITE_TIMEOUT", 60*time.Second)
	cfg.LLMTimeout, errs = collectDuration(errs, "VERITAS_LLM_TIMEOUT", 20*time.Second)

	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return Config{}, fmt.Errorf("config: invalid environment variables:\n  %s", strings.Join(msgs, "\n  "))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func collectInt(errs []error, key string, fallback int) (int, []error) {
	v, err := envInt(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

func collectBool(errs []error, key string, fallback bool) (bool, []error) {
	v, err := envBool(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

func collectDuration(errs []error, key string, fallback time.Duration) (time.Duration, []error) {
	v, err := envDuration(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// Validate checks that required configuration is present and sane.
func (c Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.New("config: VERITAS_DATA_DIR is required"))
	}
	if c.APIKeyHash == "" {
		errs = append(errs, errors.New("config: VERITAS_API_KEY_HASH is required"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, errors.New("config: VERITAS_PORT must be between 1 and 65535"))
	}
	if c.MaxRequestBodyBytes <= 0 {
		errs = append(errs, errors.New("config: VERITAS_MAX_REQUEST_BODY_BYTES must be positive"))
	}
	if c.MemoryMaxRecordsPerUser <= 0 {
		errs = append(errs, errors.New("config: VERITAS_MEMORY_MAX_RECORDS_PER_USER must be positive"))
	}
	if c.EmbeddingDimensions <= 0 {
		errs = append(errs, errors.New("config: VERITAS_EMBEDDING_DIMENSIONS must be positive"))
	}
	if c.LLMProvider == "anthropic" && c.AnthropicKey == "" {
		errs = append(errs, errors.New("config: ANTHROPIC_API_KEY is required when VERITAS_LLM_PROVIDER=anthropic"))
	}
	if c.ReadTimeout <= 0 {
		errs = append(errs, errors.New("config: VERITAS_READ_TIMEOUT must be positive"))
	}
	if c.WriteTimeout <= 0 {
		errs = append(errs, errors.New("config: VERITAS_WRITE_TIMEOUT must be positive"))
	}
	if c.LLMTimeout <= 0 {
		errs = append(errs, errors.New("config: VERITAS_LLM_TIMEOUT must be positive"))
	}

	return errors.Join(errs...)
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
