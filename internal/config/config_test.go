package config

import (
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected true")
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Seconds() != 5 {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DUR_BAD="five-seconds" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func requiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("VERITAS_API_KEY_HASH", "$argon2id$v=19$m=65536,t=3,p=2$deadbeef$deadbeef")
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
}

func TestLoadFailsWithoutAPIKeyHash(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	t.Setenv("VERITAS_API_KEY_HASH", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail without VERITAS_API_KEY_HASH")
	}
	if got := err.Error(); !contains(got, "VERITAS_API_KEY_HASH") {
		t.Fatalf("error should mention VERITAS_API_KEY_HASH, got: %s", got)
	}
}

func TestLoadFailsOnInvalidPort(t *testing.T) {
	requiredEnv(t)
	t.Setenv("VERITAS_PORT", "abc")

	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid VERITAS_PORT")
	}
	got := err.Error()
	if !contains(got, "VERITAS_PORT") || !contains(got, "abc") {
		t.Fatalf("error should mention VERITAS_PORT and value 'abc', got: %s", got)
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	requiredEnv(t)
	t.Setenv("VERITAS_PORT", "abc")
	t.Setenv("VERITAS_EMBEDDING_DIMENSIONS", "xyz")

	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !contains(got, "VERITAS_PORT") {
		t.Fatalf("error should mention VERITAS_PORT, got: %s", got)
	}
	if !contains(got, "VERITAS_EMBEDDING_DIMENSIONS") {
		t.Fatalf("error should mention VERITAS_EMBEDDING_DIMENSIONS, got: %s", got)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	requiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.EmbeddingProvider != "noop" {
		t.Fatalf("expected default embedding provider noop, got %q", cfg.EmbeddingProvider)
	}
	if cfg.MemoryMaxRecordsPerUser != 10_000 {
		t.Fatalf("expected default memory cap 10000, got %d", cfg.MemoryMaxRecordsPerUser)
	}
}

func TestLoadRequiresAnthropicKeyWhenProviderIsAnthropic(t *testing.T) {
	t.Setenv("VERITAS_API_KEY_HASH", "hash")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("VERITAS_LLM_PROVIDER", "anthropic")

	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail without ANTHROPIC_API_KEY when provider is anthropic")
	}
	if !contains(err.Error(), "ANTHROPIC_API_KEY") {
		t.Fatalf("error should mention ANTHROPIC_API_KEY, got: %s", err.Error())
	}
}

func TestLoad_OTELEndpointParsing(t *testing.T) {
	requiredEnv(t)
	endpoint := "https://otel.example.com:4317"
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", endpoint)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}
	if cfg.OTELEndpoint != endpoint {
		t.Fatalf("expected OTELEndpoint %q, got %q", endpoint, cfg.OTELEndpoint)
	}
}

func TestLoad_QdrantURLValidation(t *testing.T) {
	t.Run("explicit URL", func(t *testing.T) {
		requiredEnv(t)
		qdrantURL := "https://qdrant.example.com:6334"
		t.Setenv("QDRANT_URL", qdrantURL)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("expected Load() to succeed, got: %v", err)
		}
		if cfg.QdrantURL != qdrantURL {
			t.Fatalf("expected QdrantURL %q, got %q", qdrantURL, cfg.QdrantURL)
		}
	})

	t.Run("empty default", func(t *testing.T) {
		requiredEnv(t)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("expected Load() to succeed, got: %v", err)
		}
		if cfg.QdrantURL != "" {
			t.Fatalf("expected empty QdrantURL by default, got %q", cfg.QdrantURL)
		}
	})
}

func TestLoad_AllEnvVarsHonored(t *testing.T) {
	requiredEnv(t)
	t.Setenv("VERITAS_PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/testdb")
	t.Setenv("VERITAS_EMBEDDING_DIMENSIONS", "768")
	t.Setenv("OTEL_SERVICE_NAME", "veritas-test")
	t.Setenv("VERITAS_LOG_LEVEL", "debug")
	t.Setenv("VERITAS_READ_TIMEOUT", "15s")
	t.Setenv("VERITAS_WRITE_TIMEOUT", "45s")
	t.Setenv("VERITAS_LLM_TIMEOUT", "10s")
	t.Setenv("VERITAS_MEMORY_MAX_RECORDS_PER_USER", "500")
	t.Setenv("VERITAS_DEBUG_MODE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}

	if cfg.Port != 9090 {
		t.Fatalf("expected Port 9090, got %d", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://test:test@db:5432/testdb" {
		t.Fatalf("expected DatabaseURL to be honored, got %q", cfg.DatabaseURL)
	}
	if cfg.EmbeddingDimensions != 768 {
		t.Fatalf("expected EmbeddingDimensions 768, got %d", cfg.EmbeddingDimensions)
	}
	if cfg.ServiceName != "veritas-test" {
		t.Fatalf("expected ServiceName %q, got %q", "veritas-test", cfg.ServiceName)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected LogLevel %q, got %q", "debug", cfg.LogLevel)
	}
	if cfg.ReadTimeout != 15*time.Second {
		t.Fatalf("expected ReadTimeout 15s, got %s", cfg.ReadTimeout)
	}
	if cfg.WriteTimeout != 45*time.Second {
		t.Fatalf("expected WriteTimeout 45s, got %s", cfg.WriteTimeout)
	}
	if cfg.LLMTimeout != 10*time.Second {
		t.Fatalf("expected LLMTimeout 10s, got %s", cfg.LLMTimeout)
	}
	if cfg.MemoryMaxRecordsPerUser != 500 {
		t.Fatalf("expected MemoryMaxRecordsPerUser 500, got %d", cfg.MemoryMaxRecordsPerUser)
	}
	if !cfg.DebugMode {
		t.Fatal("expected DebugMode true")
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && searchSubstring(s, substr)
}

func searchSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
