package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	DB       DBConfig       `yaml:"db"`
	Replica  ReplicaConfig  `yaml:"replica"`
	Log      LogConfig      `yaml:"log"`
	Bulk     BulkConfig     `yaml:"bulk"`
	Analysis AnalysisConfig `yaml:"analysis"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Quota    QuotaConfig    `yaml:"quota"`
	Realtime RealtimeConfig `yaml:"realtime"`
}

type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Transport string `yaml:"transport"`
}

type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
}

type DBConfig struct {
	Path string `yaml:"path"`
}

type ReplicaConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Path   string `yaml:"path"`
}

type BulkConfig struct {
	BatchSize        int           `yaml:"batch_size"`
	MaxErrors        int           `yaml:"max_errors"`
	SentimentTimeout time.Duration `yaml:"sentiment_timeout"`
}

type AnalysisConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// PlanConfig limits one plan tier. A zero Limit means unlimited analyses;
// a zero Period means the limit applies per project for its lifetime.
type PlanConfig struct {
	Limit                 int           `yaml:"limit"`
	Period                time.Duration `yaml:"period"`
	MaxOpinionsPerProject int           `yaml:"max_opinions_per_project"`
}

type QuotaConfig struct {
	DefaultTier string                `yaml:"default_tier"`
	Plans       map[string]PlanConfig `yaml:"plans"`
}

type RealtimeConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      8080,
			Transport: "stdio",
		},
		DB: DBConfig{
			Path: "tally.db",
		},
		Replica: ReplicaConfig{
			Path: "tally-replica",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Bulk: BulkConfig{
			BatchSize:        10,
			MaxErrors:        50,
			SentimentTimeout: 3 * time.Second,
		},
		Analysis: AnalysisConfig{
			Timeout: 10 * time.Minute,
		},
		OpenAI: OpenAIConfig{
			Model: "gpt-4o-mini",
		},
		Quota: QuotaConfig{
			DefaultTier: "free",
			Plans: map[string]PlanConfig{
				"free":  {Limit: 3, MaxOpinionsPerProject: 100},
				"trial": {Limit: 20, Period: 7 * 24 * time.Hour, MaxOpinionsPerProject: 1000},
				"pro":   {Limit: 200, Period: 30 * 24 * time.Hour},
			},
		},
		Realtime: RealtimeConfig{
			BufferSize: 64,
		},
	}
}

// Load reads configuration from an optional YAML file and environment variables.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("TALLY_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if host := os.Getenv("TALLY_SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if portStr := os.Getenv("TALLY_SERVER_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TALLY_SERVER_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if transport := os.Getenv("TALLY_TRANSPORT"); transport != "" {
		cfg.Server.Transport = transport
	}
	if enabled := os.Getenv("TALLY_AUTH_ENABLED"); enabled != "" {
		v, err := strconv.ParseBool(enabled)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TALLY_AUTH_ENABLED: %w", err)
		}
		cfg.Auth.Enabled = v
	}
	if dbPath := os.Getenv("TALLY_DB_PATH"); dbPath != "" {
		cfg.DB.Path = dbPath
	}
	if replicaPath := os.Getenv("TALLY_REPLICA_PATH"); replicaPath != "" {
		cfg.Replica.Path = replicaPath
	}
	if inMem := os.Getenv("TALLY_REPLICA_IN_MEMORY"); inMem != "" {
		v, err := strconv.ParseBool(inMem)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TALLY_REPLICA_IN_MEMORY: %w", err)
		}
		cfg.Replica.InMemory = v
	}
	if level := os.Getenv("TALLY_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if format := os.Getenv("TALLY_LOG_FORMAT"); format != "" {
		cfg.Log.Format = format
	}
	if logPath := os.Getenv("TALLY_LOG_PATH"); logPath != "" {
		cfg.Log.Path = logPath
	}
	if size := os.Getenv("TALLY_BULK_BATCH_SIZE"); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TALLY_BULK_BATCH_SIZE: %w", err)
		}
		cfg.Bulk.BatchSize = n
	}
	if timeout := os.Getenv("TALLY_SENTIMENT_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TALLY_SENTIMENT_TIMEOUT: %w", err)
		}
		cfg.Bulk.SentimentTimeout = d
	}
	if timeout := os.Getenv("TALLY_ANALYSIS_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TALLY_ANALYSIS_TIMEOUT: %w", err)
		}
		cfg.Analysis.Timeout = d
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.OpenAI.APIKey = key
	}
	if model := os.Getenv("TALLY_OPENAI_MODEL"); model != "" {
		cfg.OpenAI.Model = model
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Server.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("invalid transport %q: want stdio or http", c.Server.Transport)
	}
	if c.Bulk.BatchSize <= 0 {
		return fmt.Errorf("bulk batch size must be positive")
	}
	if _, ok := c.Quota.Plans[c.Quota.DefaultTier]; !ok {
		return fmt.Errorf("default quota tier %q has no plan", c.Quota.DefaultTier)
	}
	return nil
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
