// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Dialogue modes.
const (
	DialogueLocal  = "local"
	DialogueRemote = "remote"
)

// Model backends. Scripted needs no external service.
const (
	BackendGRPC     = "grpc"
	BackendHTTP     = "http"
	BackendScripted = "scripted"
)

// Config holds all application configuration.
type Config struct {
	Port               string
	FrontendURL        string
	DBPath             string
	SessionTTL         time.Duration
	SessionRetention   time.Duration
	SweepInterval      time.Duration
	HealthCheckTimeout time.Duration
	MaxMessageChars    int
	HistoryWindow      int
	RateLimit          RateLimitConfig
	Dialogue           DialogueConfig
	Model              ModelConfig
	ConversationLog    ConversationLogConfig
}

// RateLimitConfig is the dialogue endpoint's fixed window.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// DialogueConfig selects where session turns get their replies.
type DialogueConfig struct {
	Mode    string
	URL     string
	Timeout time.Duration
}

// ModelConfig selects the language model behind the dialogue service.
type ModelConfig struct {
	Backend string
	Addr    string
	URL     string
	APIKey  string
}

// ConversationLogConfig controls NDJSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		FrontendURL:        getEnv("FRONTEND_URL", ""),
		DBPath:             getEnv("DB_PATH", "./data/tapflow.db"),
		SessionTTL:         getEnvDuration("SESSION_TTL", 2*time.Hour),
		SessionRetention:   getEnvDuration("SESSION_RETENTION", 30*24*time.Hour),
		SweepInterval:      getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		HealthCheckTimeout: getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
		MaxMessageChars:    getEnvInt("MAX_MESSAGE_CHARS", 2000),
		HistoryWindow:      getEnvInt("HISTORY_WINDOW", 20),
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Dialogue: DialogueConfig{
			Mode:    strings.ToLower(getEnv("DIALOGUE_MODE", DialogueLocal)),
			URL:     getEnv("DIALOGUE_URL", ""),
			Timeout: getEnvDuration("DIALOGUE_TIMEOUT", 45*time.Second),
		},
		Model: ModelConfig{
			Backend: strings.ToLower(getEnv("MODEL_BACKEND", BackendGRPC)),
			Addr:    getEnv("MODEL_ADDR", "localhost:50051"),
			URL:     getEnv("MODEL_URL", ""),
			APIKey:  getEnv("MODEL_API_KEY", ""),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000),
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
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.SessionRetention < c.SessionTTL {
		return fmt.Errorf("SESSION_RETENTION must be at least SESSION_TTL")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	if c.MaxMessageChars <= 0 {
		return fmt.Errorf("MAX_MESSAGE_CHARS must be > 0")
	}
	if c.HistoryWindow <= 0 {
		return fmt.Errorf("HISTORY_WINDOW must be > 0")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	switch c.Dialogue.Mode {
	case DialogueLocal:
	case DialogueRemote:
		if c.Dialogue.URL == "" {
			return fmt.Errorf("DIALOGUE_URL is required when DIALOGUE_MODE=remote")
		}
	default:
		return fmt.Errorf("DIALOGUE_MODE must be %q or %q, got %q", DialogueLocal, DialogueRemote, c.Dialogue.Mode)
	}
	switch c.Model.Backend {
	case BackendGRPC, BackendHTTP, BackendScripted:
	default:
		return fmt.Errorf("MODEL_BACKEND must be grpc, http or scripted, got %q", c.Model.Backend)
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins is the CORS allow-list: the frontend origin, or any origin in development.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{strings.TrimRight(c.FrontendURL, "/")}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
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

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
