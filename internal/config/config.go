// Package config reads LOOM.BUILD configuration from environment variables.
// A .env file is loaded by cmd/server before this package is consulted.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration for the orchestration engine.
type Config struct {
	Port        string
	Environment string

	// Database
	DatabaseURL    string // postgres://... or file path for SQLite
	DatabaseType   string // "postgres" or "sqlite"
	MigrationsPath string

	// Redis (optional advisory cache)
	RedisURL string

	// AI provider keys
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OllamaBaseURL   string

	// Release pipeline
	ExpoToken      string
	ArtifactBucket string
	ArtifactRegion string

	// Circuit breaker thresholds (per session)
	FuelBudget    int
	MaxRetries    int
	MaxSessionAge time.Duration

	// Orchestration limits
	MaxSubtasks  int
	MaxToolSteps int

	// Background run defaults
	DefaultMaxAttempts int
	RetryBackoff       time.Duration
	DispatchLimit      int
}

// Load builds a Config from the environment with sensible defaults.
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		DatabaseURL:    getEnv("DATABASE_URL", "loom.db"),
		DatabaseType:   getEnv("DATABASE_TYPE", "sqlite"),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),

		RedisURL: os.Getenv("REDIS_URL"),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		OllamaBaseURL:   os.Getenv("OLLAMA_BASE_URL"),

		ExpoToken:      os.Getenv("EXPO_TOKEN"),
		ArtifactBucket: os.Getenv("ARTIFACT_BUCKET"),
		ArtifactRegion: getEnv("ARTIFACT_REGION", "us-east-1"),

		FuelBudget:    getEnvInt("FUEL_BUDGET", 1000),
		MaxRetries:    getEnvInt("MAX_SESSION_RETRIES", 8),
		MaxSessionAge: getEnvDuration("MAX_SESSION_AGE", 30*time.Minute),

		MaxSubtasks:  getEnvInt("MAX_SUBTASKS", 4),
		MaxToolSteps: getEnvInt("MAX_TOOL_STEPS", 12),

		DefaultMaxAttempts: getEnvInt("RUN_MAX_ATTEMPTS", 3),
		RetryBackoff:       getEnvDuration("RUN_RETRY_BACKOFF", 60*time.Second),
		DispatchLimit:      getEnvInt("RUN_DISPATCH_LIMIT", 10),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
