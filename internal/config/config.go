package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	LLM      LLMConfig      `yaml:"llm"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Security SecurityConfig `yaml:"security"`
	Queue    QueueConfig    `yaml:"queue"`
}

type ServerConfig struct {
	Host         string        `yaml:"host" env:"SERVER_HOST" env-default:"0.0.0.0"`
	Port         int           `yaml:"port" env:"SERVER_PORT" env-default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"120s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" env-default:"120s"`
	// Requests per second per client IP; zero disables the limiter.
	RateLimit int `yaml:"rate_limit" env:"SERVER_RATE_LIMIT" env-default:"100"`
}

type DatabaseConfig struct {
	URL             string `yaml:"url" env:"DATABASE_URL"`
	MaxConns        int    `yaml:"max_conns" env:"DB_MAX_CONNS" env-default:"20"`
	MinConns        int    `yaml:"min_conns" env:"DB_MIN_CONNS" env-default:"2"`
	ConnectAttempts uint   `yaml:"connect_attempts" env:"DB_CONNECT_ATTEMPTS" env-default:"5"`
	AutoMigrate     bool   `yaml:"auto_migrate" env:"DB_AUTO_MIGRATE" env-default:"false"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string        `yaml:"-" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	LiveTTL  time.Duration `yaml:"live_ttl" env:"REDIS_LIVE_TTL" env-default:"30s"`
}

type AuthConfig struct {
	JWTSecret    string `yaml:"-" env:"AUTH_JWT_SECRET"`
	APIKeyHeader string `yaml:"api_key_header" env:"API_KEY_HEADER" env-default:"X-API-Key"`
	// Grants super-admin access to any request presenting it. Leave empty to disable.
	SystemSecretKey string `yaml:"-" env:"SYSTEM_SECRET_KEY"`
}

type LLMConfig struct {
	OpenAIKey       string `yaml:"-" env:"OPENAI_API_KEY"`
	OpenAIBaseURL   string `yaml:"openai_base_url" env:"OPENAI_BASE_URL"`
	AnthropicKey    string `yaml:"-" env:"ANTHROPIC_API_KEY"`
	OllamaURL       string `yaml:"ollama_url" env:"OLLAMA_URL"`
	DefaultProvider string `yaml:"default_provider" env:"LLM_DEFAULT_PROVIDER" env-default:"openai"`
	DefaultModel    string `yaml:"default_model" env:"LLM_DEFAULT_MODEL" env-default:"gpt-4o-mini"`
}

// GatewayConfig controls the OpenAI-compatible pass-through.
type GatewayConfig struct {
	UpstreamURL string `yaml:"upstream_url" env:"GATEWAY_UPSTREAM_URL"`
	DefaultKey  string `yaml:"-" env:"GATEWAY_DEFAULT_KEY"`
}

type SecurityConfig struct {
	// Base64-encoded 32-byte key used to encrypt stored LLM credentials.
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_KEY"`
}

type QueueConfig struct {
	Concurrency int `yaml:"concurrency" env:"WORKER_CONCURRENCY" env-default:"4"`
}

// Load reads CONFIG_FILE (default config.yaml) when it exists and applies
// environment overrides on top. Without a file only the environment is used.
func Load() (*Config, error) {
	cfg := &Config{}

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "config.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("read config from env: %w", err)
		}
	} else {
		return nil, fmt.Errorf("stat config %s: %w", path, err)
	}

	if cfg.Gateway.DefaultKey == "" {
		cfg.Gateway.DefaultKey = cfg.LLM.OpenAIKey
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "AUTH_JWT_SECRET")
	}
	if c.Security.CredentialsKey == "" {
		missing = append(missing, "CREDENTIALS_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	return nil
}
