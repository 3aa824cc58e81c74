// Package config provides unified configuration loading for the dialog engine.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the dialog engine.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Engine        EngineConfig        `yaml:"engine"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Cache         CacheConfig         `yaml:"cache"`
	NER           NERConfig           `yaml:"ner"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// EngineConfig holds turn processing settings.
type EngineConfig struct {
	ConfidenceFloor        float64       `yaml:"confidence_floor"`
	ClarificationThreshold float64       `yaml:"clarification_threshold"`
	MaxSearchResults       int           `yaml:"max_search_results"`
	CacheResults           bool          `yaml:"cache_results"`
	CacheTTL               time.Duration `yaml:"cache_ttl"`
	Weights                WeightsConfig `yaml:"weights"`
}

// WeightsConfig holds the intent fusion signal weights.
type WeightsConfig struct {
	Keyword  float64 `yaml:"keyword"`
	Semantic float64 `yaml:"semantic"`
	Entity   float64 `yaml:"entity"`
	Context  float64 `yaml:"context"`
}

// CatalogConfig holds catalog store settings.
type CatalogConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	Driver     string      `yaml:"driver"` // memory or redis
	MaxEntries int         `yaml:"max_entries"`
	Redis      RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// NERConfig holds the external entity tagging service settings.
type NERConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// EmbeddingConfig holds embedding service settings.
type EmbeddingConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	Dimension int           `yaml:"dimension"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8086,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     30 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Engine: EngineConfig{
			ConfidenceFloor:        0.6,
			ClarificationThreshold: 0.4,
			MaxSearchResults:       5,
			CacheResults:           true,
			CacheTTL:               time.Hour,
			Weights: WeightsConfig{
				Keyword:  0.35,
				Semantic: 0.30,
				Entity:   0.25,
				Context:  0.10,
			},
		},
		Catalog: CatalogConfig{
			Path:         "/tmp/dialog-engine.db",
			MaxOpenConns: 1,
			JournalMode:  "WAL",
		},
		Cache: CacheConfig{
			Driver:     "memory",
			MaxEntries: 10000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
			},
		},
		NER: NERConfig{
			Timeout: 5 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Model:     "qwen/qwen3-embedding-8b",
			Dimension: 768,
			Timeout:   10 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "debug",
			LogFormat:   "json",
			ServiceName: "dialog-engine",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.Engine.ConfidenceFloor < 0 || c.Engine.ConfidenceFloor > 1 {
		return fmt.Errorf("confidence_floor must be between 0 and 1")
	}

	if c.Engine.ClarificationThreshold > c.Engine.ConfidenceFloor {
		return fmt.Errorf("clarification_threshold must not exceed confidence_floor")
	}

	if c.Engine.MaxSearchResults < 1 || c.Engine.MaxSearchResults > 50 {
		return fmt.Errorf("max_search_results must be between 1 and 50")
	}

	w := c.Engine.Weights
	if w.Keyword < 0 || w.Semantic < 0 || w.Entity < 0 || w.Context < 0 {
		return fmt.Errorf("fusion weights must be non-negative")
	}
	if w.Keyword+w.Semantic+w.Entity+w.Context == 0 {
		return fmt.Errorf("at least one fusion weight must be positive")
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("CATALOG_PATH"); v != "" {
		cfg.Catalog.Path = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		// Accept redis://host:port or bare host:port
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("NER_URL"); v != "" {
		cfg.NER.BaseURL = v
	}

	if v := os.Getenv("EMBEDDING_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}

	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}

	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}

	if v := os.Getenv("CONFIDENCE_FLOOR"); v != "" {
		var floor float64
		if _, err := fmt.Sscanf(v, "%f", &floor); err == nil {
			cfg.Engine.ConfidenceFloor = floor
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) {
		return targetPath
	}
	configDir := filepath.Dir(configPath)
	return filepath.Join(configDir, targetPath)
}
