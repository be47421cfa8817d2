package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "SHOPBRAIN_"

// Config defines server configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Transport    TransportConfig    `yaml:"transport"`
	DB           DBConfig           `yaml:"db"`
	Log          LogConfig          `yaml:"log"`
	Auth         AuthConfig         `yaml:"auth"`
	Planner      PlannerConfig      `yaml:"planner"`
	Session      SessionConfig      `yaml:"session"`
	Trace        TraceConfig        `yaml:"trace"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Executor     ExecutorConfig     `yaml:"executor"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// TransportConfig selects how the MCP surface is served.
type TransportConfig struct {
	Mode string `yaml:"mode"` // "http" or "stdio"
}

type DBConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Path  string `yaml:"path"`
}

type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
	// DefaultUserID owns every conversation when auth is disabled.
	DefaultUserID string `yaml:"default_user_id"`
}

type PlannerConfig struct {
	BaseURL          string        `yaml:"base_url"`
	APIKey           string        `yaml:"api_key"`
	Model            string        `yaml:"model"`
	Temperature      float32       `yaml:"temperature"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxHistoryTokens int           `yaml:"max_history_tokens"`
}

type SessionConfig struct {
	PendingTTL time.Duration `yaml:"pending_ttl"`
}

type TraceConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	BufferSize int    `yaml:"buffer_size"`
}

type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
}

type ExecutorConfig struct {
	Enabled bool `yaml:"enabled"`
}

type OrchestratorConfig struct {
	ConflictPhraseFallback bool `yaml:"conflict_phrase_fallback"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Transport: TransportConfig{Mode: "http"},
		DB: DBConfig{
			Path: "shopbrain.db",
		},
		Log: LogConfig{
			Level: "info",
		},
		Auth: AuthConfig{DefaultUserID: "1"},
		Planner: PlannerConfig{
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
			Timeout:     30 * time.Second,
		},
		Session:  SessionConfig{PendingTTL: 10 * time.Minute},
		Trace:    TraceConfig{Enabled: true, BufferSize: 200},
		Executor: ExecutorConfig{Enabled: true},
	}
}

// Load reads configuration from an optional YAML file and environment variables.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv(envPrefix + "CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.Transport.Mode != "http" && cfg.Transport.Mode != "stdio" {
		return Config{}, fmt.Errorf("invalid transport mode %q", cfg.Transport.Mode)
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString("SERVER_HOST", &cfg.Server.Host)
	setString("TRANSPORT", &cfg.Transport.Mode)
	setString("DB_PATH", &cfg.DB.Path)
	setString("LOG_LEVEL", &cfg.Log.Level)
	setString("LOG_PATH", &cfg.Log.Path)
	setString("DEFAULT_USER_ID", &cfg.Auth.DefaultUserID)
	setString("PLANNER_BASE_URL", &cfg.Planner.BaseURL)
	setString("PLANNER_API_KEY", &cfg.Planner.APIKey)
	setString("PLANNER_MODEL", &cfg.Planner.Model)
	setString("TRACE_PATH", &cfg.Trace.Path)

	if err := setInt("SERVER_PORT", &cfg.Server.Port); err != nil {
		return err
	}
	if err := setInt("PLANNER_MAX_HISTORY_TOKENS", &cfg.Planner.MaxHistoryTokens); err != nil {
		return err
	}
	if err := setInt("TRACE_BUFFER_SIZE", &cfg.Trace.BufferSize); err != nil {
		return err
	}
	if err := setBool("AUTH_ENABLED", &cfg.Auth.Enabled); err != nil {
		return err
	}
	if err := setBool("TRACE_ENABLED", &cfg.Trace.Enabled); err != nil {
		return err
	}
	if err := setBool("TELEMETRY_ENABLED", &cfg.Telemetry.Enabled); err != nil {
		return err
	}
	if err := setBool("EXECUTOR_ENABLED", &cfg.Executor.Enabled); err != nil {
		return err
	}
	if err := setBool("CONFLICT_PHRASE_FALLBACK", &cfg.Orchestrator.ConflictPhraseFallback); err != nil {
		return err
	}
	if err := setDuration("PLANNER_TIMEOUT", &cfg.Planner.Timeout); err != nil {
		return err
	}
	if err := setDuration("PENDING_TTL", &cfg.Session.PendingTTL); err != nil {
		return err
	}
	if v := os.Getenv(envPrefix + "PLANNER_TEMPERATURE"); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return fmt.Errorf("invalid %sPLANNER_TEMPERATURE: %w", envPrefix, err)
		}
		cfg.Planner.Temperature = float32(f)
	}
	return nil
}

func setString(name string, dst *string) {
	if v := os.Getenv(envPrefix + name); v != "" {
		*dst = v
	}
}

func setInt(name string, dst *int) error {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
	}
	*dst = n
	return nil
}

func setBool(name string, dst *bool) error {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
	}
	*dst = b
	return nil
}

func setDuration(name string, dst *time.Duration) error {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
	}
	*dst = d
	return nil
}
