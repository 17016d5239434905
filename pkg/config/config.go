package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	envConfigPath       = "PARLEY_CONFIG"
	envRedisURL         = "PARLEY_REDIS_URL"
	envDatabaseURL      = "PARLEY_DATABASE_URL"
	envTelegramBotToken = "TELEGRAM_BOT_TOKEN"
	envAlertChatIDs     = "PARLEY_ALERT_CHAT_IDS"
)

const (
	BusMemory = "memory"
	BusRedis  = "redis"

	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"

	ProviderOpenAI = "openai"
)

const (
	defaultMaxTokens      = 512
	defaultTemperature    = 0.7
	defaultTimeoutSeconds = 30
	defaultMaxTurns       = 8
	defaultStream         = "parley:events"
	defaultQueueGroup     = "parley-dispatch"
	defaultQueueConsumer  = "dispatcher-1"
	defaultQueueBatch     = 10
	defaultQueueBlockMS   = 5000
	defaultSQLitePath     = "parley.db"
	defaultMinSeverity    = "high"
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Provider   ProviderConfig   `json:"provider"`
	Completion CompletionConfig `json:"completion"`
	Context    ContextConfig    `json:"context"`
	Bus        BusConfig        `json:"bus"`
	Queue      QueueConfig      `json:"queue"`
	Storage    StorageConfig    `json:"storage"`
	Alerts     AlertsConfig     `json:"alerts"`
	Gateway    GatewayConfig    `json:"gateway"`
	Logging    LoggingConfig    `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// ProviderConfig selects and configures the completion service client.
type ProviderConfig struct {
	Name   string               `json:"name"`
	OpenAI OpenAIProviderConfig `json:"openai"`
}

// OpenAIProviderConfig configures the OpenAI provider client.
type OpenAIProviderConfig struct {
	BaseURL      string `json:"base_url"`
	APIKeyEnv    string `json:"api_key_env"`
	Organization string `json:"organization"`
	Project      string `json:"project"`
}

// CompletionConfig bounds each completion request.
type CompletionConfig struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	// Temperature is nil when unset; 0 is a valid setting.
	Temperature    *float64 `json:"temperature,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds"`
	// Debug exposes underlying error messages in failed interaction results.
	Debug bool `json:"debug"`
}

// ContextConfig sizes the conversation window sent with each prompt.
type ContextConfig struct {
	MaxTurns int `json:"max_turns"`
}

// BusConfig selects the event bus backend.
type BusConfig struct {
	Backend  string `json:"backend"`
	RedisURL string `json:"redis_url"`
	Stream   string `json:"stream"`
	MaxLen   int64  `json:"max_len"`
}

// QueueConfig configures the consumer-group reader feeding the dispatcher.
type QueueConfig struct {
	Group     string `json:"group"`
	Consumer  string `json:"consumer"`
	BatchSize int    `json:"batch_size"`
	BlockMS   int    `json:"block_ms"`
}

// StorageConfig selects where conversation turns are read from.
type StorageConfig struct {
	Backend string `json:"backend"`
	DSN     string `json:"dsn"`
}

// AlertsConfig controls escalation of system errors.
type AlertsConfig struct {
	MinSeverity string         `json:"min_severity"`
	Telegram    TelegramConfig `json:"telegram"`
}

// TelegramConfig configures Telegram alert delivery.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	APIServer string   `json:"api_server"`
	ChatIDs   []string `json:"chat_ids"`
}

// GatewayConfig configures HTTP gateway bind settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// LoadConfig resolves config.json, unmarshals it, and applies environment
// overrides and defaults. A missing file is not an error: the process then
// runs on defaults plus environment.
func LoadConfig() (*Config, error) {
	var cfg Config

	configPath, err := findConfigPath()
	switch {
	case err == nil:
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	case errors.Is(err, errConfigNotFound):
	default:
		return nil, err
	}

	applyEnvOverrides(&cfg)
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Provider.Name == "" {
		c.Provider.Name = ProviderOpenAI
	}
	if c.Completion.MaxTokens <= 0 {
		c.Completion.MaxTokens = defaultMaxTokens
	}
	if c.Completion.Temperature == nil {
		temperature := defaultTemperature
		c.Completion.Temperature = &temperature
	}
	if c.Completion.TimeoutSeconds <= 0 {
		c.Completion.TimeoutSeconds = defaultTimeoutSeconds
	}
	if c.Context.MaxTurns <= 0 {
		c.Context.MaxTurns = defaultMaxTurns
	}
	if c.Bus.Backend == "" {
		c.Bus.Backend = BusMemory
	}
	if c.Bus.Stream == "" {
		c.Bus.Stream = defaultStream
	}
	if c.Queue.Group == "" {
		c.Queue.Group = defaultQueueGroup
	}
	if c.Queue.Consumer == "" {
		c.Queue.Consumer = defaultQueueConsumer
	}
	if c.Queue.BatchSize <= 0 {
		c.Queue.BatchSize = defaultQueueBatch
	}
	if c.Queue.BlockMS == 0 {
		c.Queue.BlockMS = defaultQueueBlockMS
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageMemory
	}
	if c.Storage.Backend == StorageSQLite && c.Storage.DSN == "" {
		c.Storage.DSN = defaultSQLitePath
	}
	if c.Alerts.MinSeverity == "" {
		c.Alerts.MinSeverity = defaultMinSeverity
	}
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch c.Bus.Backend {
	case BusMemory:
	case BusRedis:
		if strings.TrimSpace(c.Bus.RedisURL) == "" {
			return errors.New("bus.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unsupported bus backend %q", c.Bus.Backend)
	}

	switch c.Storage.Backend {
	case StorageMemory, StorageSQLite:
	case StoragePostgres:
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return errors.New("storage.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unsupported storage backend %q", c.Storage.Backend)
	}

	if t := c.Completion.Temperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("completion.temperature %v is outside [0, 2]", *t)
	}

	switch strings.ToLower(strings.TrimSpace(c.Alerts.MinSeverity)) {
	case "low", "medium", "high", "critical":
	default:
		return fmt.Errorf("alerts.min_severity %q is not one of low, medium, high, critical", c.Alerts.MinSeverity)
	}

	if c.Alerts.Telegram.Enabled {
		if strings.TrimSpace(c.Alerts.Telegram.Token) == "" {
			return errors.New("alerts.telegram.token is required when telegram alerts are enabled")
		}
		if len(c.Alerts.Telegram.ChatIDs) == 0 {
			return errors.New("alerts.telegram.chat_ids is required when telegram alerts are enabled")
		}
	}

	return nil
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if redisURL := strings.TrimSpace(os.Getenv(envRedisURL)); redisURL != "" {
		cfg.Bus.RedisURL = redisURL
		if cfg.Bus.Backend == "" {
			cfg.Bus.Backend = BusRedis
		}
	}

	if databaseURL := strings.TrimSpace(os.Getenv(envDatabaseURL)); databaseURL != "" {
		cfg.Storage.DSN = databaseURL
		if cfg.Storage.Backend == "" {
			cfg.Storage.Backend = StoragePostgres
		}
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Alerts.Telegram.Token = token
	}

	if rawChatIDs := strings.TrimSpace(os.Getenv(envAlertChatIDs)); rawChatIDs != "" {
		cfg.Alerts.Telegram.ChatIDs = parseCSV(rawChatIDs)
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

var errConfigNotFound = errors.New("config.json not found")

// findConfigPath resolves the active config file location.
//
// Precedence is PARLEY_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", errConfigNotFound
}
