// Package config loads application configuration from an optional json
// file plus WIKIRACE_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the wikirace service.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Poll    PollConfig    `mapstructure:"poll"`
	Cards   CardsConfig   `mapstructure:"cards"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// SandboxConfig selects and configures the browser-sandbox backend.
type SandboxConfig struct {
	// Provider is "firecrawl" (remote) or "chromedp" (local headless
	// Chrome, for development without a credential).
	Provider string `mapstructure:"provider"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
}

// LLMConfig configures the reasoning capability.
type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	BaseURL     string        `mapstructure:"base_url"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// PollConfig selects the ledger backend.
type PollConfig struct {
	// Backend is "memory", "redis" or "postgres".
	Backend  string         `mapstructure:"backend"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN assembles the connection string, preferring an explicit URL.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (poll.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// CardsConfig tunes card generation and the feed page size.
type CardsConfig struct {
	Language     string `mapstructure:"language"`
	MaxSteps     int    `mapstructure:"max_steps"`
	DefaultCount int    `mapstructure:"default_count"`
	MaxCount     int    `mapstructure:"max_count"`
}

// LoadConfig reads configuration. The file is optional: every non-secret
// knob has a default, and the sandbox credential is deliberately checked
// at first use rather than here.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("sandbox.provider", "firecrawl")
	viper.SetDefault("llm.model", "gpt-4o")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.timeout", 60*time.Second)
	viper.SetDefault("poll.backend", "memory")
	viper.SetDefault("poll.redis.addr", "localhost:6379")
	viper.SetDefault("poll.redis.dial_timeout", 5*time.Second)
	viper.SetDefault("cards.language", "en")
	viper.SetDefault("cards.max_steps", 15)
	viper.SetDefault("cards.default_count", 5)
	viper.SetDefault("cards.max_count", 20)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("WIKIRACE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	// Credentials fall back to the conventional env names.
	if config.Sandbox.APIKey == "" {
		config.Sandbox.APIKey = os.Getenv("FIRECRAWL_API_KEY")
	}
	if config.LLM.APIKey == "" {
		config.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	return &config
}
