package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{envRedisURL, envDatabaseURL, envTelegramBotToken, envAlertChatIDs} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `{
	  "provider": {"name": "openai", "openai": {"api_key_env": "TEST_KEY"}},
	  "completion": {"model": "gpt-4o-mini", "max_tokens": 256, "temperature": 0.2, "timeout_seconds": 10},
	  "context": {"max_turns": 6},
	  "bus": {"backend": "redis", "redis_url": "redis://localhost:6379/0"},
	  "storage": {"backend": "sqlite", "dsn": "/tmp/turns.db"},
	  "alerts": {"min_severity": "critical"},
	  "gateway": {"host": "127.0.0.1", "port": 9000},
	  "logging": {"format": "json", "level": "debug", "add_source": true}
	}`)
	t.Setenv(envConfigPath, path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Logging.Format != "json" {
		t.Fatalf("logging.format = %q, want %q", cfg.Logging.Format, "json")
	}
	if !cfg.Logging.AddSource {
		t.Fatal("logging.add_source = false, want true")
	}
	if cfg.Completion.MaxTokens != 256 || cfg.Completion.Temperature == nil || *cfg.Completion.Temperature != 0.2 {
		t.Fatalf("completion = %#v", cfg.Completion)
	}
	if cfg.Context.MaxTurns != 6 {
		t.Fatalf("context.max_turns = %d, want 6", cfg.Context.MaxTurns)
	}
	if cfg.Bus.Stream != defaultStream {
		t.Fatalf("bus.stream = %q, want default %q", cfg.Bus.Stream, defaultStream)
	}
	if cfg.Alerts.MinSeverity != "critical" {
		t.Fatalf("alerts.min_severity = %q, want critical", cfg.Alerts.MinSeverity)
	}
}

func TestLoadConfigInvalidEnvPath(t *testing.T) {
	t.Setenv(envConfigPath, filepath.Join(t.TempDir(), "missing.json"))

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for missing config path")
	}
}

func TestLoadConfigWithoutFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv(envConfigPath, "")
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Bus.Backend != BusMemory || cfg.Storage.Backend != StorageMemory {
		t.Fatalf("backends = %q/%q, want memory/memory", cfg.Bus.Backend, cfg.Storage.Backend)
	}
	if cfg.Context.MaxTurns != defaultMaxTurns {
		t.Fatalf("context.max_turns = %d, want %d", cfg.Context.MaxTurns, defaultMaxTurns)
	}
	if cfg.Completion.TimeoutSeconds != defaultTimeoutSeconds {
		t.Fatalf("completion.timeout_seconds = %d, want %d", cfg.Completion.TimeoutSeconds, defaultTimeoutSeconds)
	}
}

func TestEnvOverridesSelectBackends(t *testing.T) {
	clearEnv(t)
	t.Setenv(envRedisURL, "redis://cache:6379/1")
	t.Setenv(envDatabaseURL, "postgres://parley@db/parley")
	t.Setenv(envAlertChatIDs, " 100, ,200 ")

	var cfg Config
	applyEnvOverrides(&cfg)
	cfg.ApplyDefaults()

	if cfg.Bus.Backend != BusRedis || cfg.Bus.RedisURL != "redis://cache:6379/1" {
		t.Fatalf("bus = %#v", cfg.Bus)
	}
	if cfg.Storage.Backend != StoragePostgres || cfg.Storage.DSN != "postgres://parley@db/parley" {
		t.Fatalf("storage = %#v", cfg.Storage)
	}
	if len(cfg.Alerts.Telegram.ChatIDs) != 2 || cfg.Alerts.Telegram.ChatIDs[1] != "200" {
		t.Fatalf("chat ids = %#v", cfg.Alerts.Telegram.ChatIDs)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "redis without url", mutate: func(c *Config) { c.Bus.Backend = BusRedis }, wantErr: true},
		{name: "unknown bus", mutate: func(c *Config) { c.Bus.Backend = "kafka" }, wantErr: true},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Storage.Backend = StoragePostgres }, wantErr: true},
		{name: "bad severity", mutate: func(c *Config) { c.Alerts.MinSeverity = "urgent" }, wantErr: true},
		{name: "telegram without chats", mutate: func(c *Config) {
			c.Alerts.Telegram.Enabled = true
			c.Alerts.Telegram.Token = "123:abc"
		}, wantErr: true},
		{name: "temperature out of range", mutate: func(c *Config) { c.Completion.Temperature = floatPtr(3) }, wantErr: true},
		{name: "zero temperature", mutate: func(c *Config) { c.Completion.Temperature = floatPtr(0) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			cfg.ApplyDefaults()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func floatPtr(v float64) *float64 { return &v }

func TestTemperatureZeroIsKept(t *testing.T) {
	clearEnv(t)
	t.Setenv(envConfigPath, writeConfig(t, `{"completion": {"temperature": 0}}`))

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Completion.Temperature == nil || *cfg.Completion.Temperature != 0 {
		t.Fatalf("completion.temperature = %v, want 0", cfg.Completion.Temperature)
	}

	t.Setenv(envConfigPath, writeConfig(t, `{}`))
	cfg, err = LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Completion.Temperature == nil || *cfg.Completion.Temperature != defaultTemperature {
		t.Fatalf("completion.temperature = %v, want default %v", cfg.Completion.Temperature, defaultTemperature)
	}
}
