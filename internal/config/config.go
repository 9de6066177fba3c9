// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	TokenSecret string

	Generator GeneratorConfig
	Chat      ChatConfig
	RateLimit RateLimitConfig
}

// GeneratorConfig controls the AI response generator.
type GeneratorConfig struct {
	OpenAIAPIKey string
	Model        string
	Timeout      time.Duration
}

// ChatConfig controls chat session behavior and chunk streaming.
type ChatConfig struct {
	HistoryWindow int           // messages of context passed to the generator
	ChunkSize     int           // target chunk size in bytes
	ChunkDelay    time.Duration // pause between emitted chunks
	SessionTTL    time.Duration // idle time before a session is closed
	ReapInterval  time.Duration
}

// RateLimitConfig throttles chat messages per user.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/chat.db"),
		TokenSecret: getEnv("TOKEN_SECRET", ""),
		Generator: GeneratorConfig{
			OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
			Model:        getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			Timeout:      getEnvDuration("GENERATOR_TIMEOUT", 60*time.Second),
		},
		Chat: ChatConfig{
			HistoryWindow: getEnvInt("CHAT_HISTORY_WINDOW", 10),
			ChunkSize:     getEnvInt("CHAT_CHUNK_SIZE", 48),
			ChunkDelay:    getEnvDuration("CHAT_CHUNK_DELAY", 40*time.Millisecond),
			SessionTTL:    getEnvDuration("CHAT_SESSION_TTL", 60*time.Minute),
			ReapInterval:  getEnvDuration("CHAT_REAP_INTERVAL", 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.TokenSecret == "" {
		return fmt.Errorf("TOKEN_SECRET cannot be empty")
	}
	if c.Generator.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY cannot be empty")
	}
	if c.Generator.Timeout <= 0 {
		return fmt.Errorf("GENERATOR_TIMEOUT must be > 0")
	}
	if c.Chat.HistoryWindow <= 0 {
		return fmt.Errorf("CHAT_HISTORY_WINDOW must be > 0")
	}
	if c.Chat.ChunkSize <= 0 {
		return fmt.Errorf("CHAT_CHUNK_SIZE must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
