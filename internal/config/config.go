// Package config loads the benchmark configuration from a YAML file with
// ${VAR} environment substitution. Every field has a working default so
// the binaries run against a local stack with no file at all.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full pipeline configuration.
type Config struct {
	Dataset   DatasetConfig   `yaml:"dataset"`
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Eval      EvalConfig      `yaml:"eval"`
	NATS      NATSConfig      `yaml:"nats"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatasetConfig points at a BEIR-layout dataset on disk.
type DatasetConfig struct {
	Name  string `yaml:"name"`  // directory under Dir (default: scifact)
	Dir   string `yaml:"dir"`   // datasets root (default: datasets)
	Split string `yaml:"split"` // qrels split (default: test)
}

// Path is the dataset directory: Dir/Name.
func (d DatasetConfig) Path() string { return filepath.Join(d.Dir, d.Name) }

// QdrantConfig holds vector store connection settings.
type QdrantConfig struct {
	Addr       string `yaml:"addr"`
	Collection string `yaml:"collection"`
	SettleMs   int    `yaml:"settle_ms"` // wait after collection delete
}

// Settle is the post-delete wait as a duration.
func (q QdrantConfig) Settle() time.Duration { return time.Duration(q.SettleMs) * time.Millisecond }

// EmbeddingConfig holds embedding endpoint settings.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // http, openai (default: http)
	Endpoint string `yaml:"endpoint"` // http provider URL
	// VectorKey names the response field holding the vector. Omitted
	// defaults to "vector"; an explicitly empty key (`vector_key: ""`)
	// selects the bare-body shape, where the response is the vector.
	VectorKey      *string `yaml:"vector_key"`
	TimeoutSec     int     `yaml:"timeout_sec"`
	Dims           int     `yaml:"dims"` // 0 = unvalidated
	RetryOnTimeout int     `yaml:"retry_on_timeout"`
	RateLimit      float64 `yaml:"rate_limit"` // requests/sec, 0 = unlimited

	OpenAI OpenAIConfig `yaml:"openai"`
}

// Timeout is the per-request embedding timeout as a duration.
func (e EmbeddingConfig) Timeout() time.Duration { return time.Duration(e.TimeoutSec) * time.Second }

// Key returns the configured vector key. Empty means the response body
// itself is the vector.
func (e EmbeddingConfig) Key() string {
	if e.VectorKey == nil {
		return "vector"
	}
	return *e.VectorKey
}

// OpenAIConfig holds settings for the openai provider.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// IngestConfig holds ingestion pipeline settings.
type IngestConfig struct {
	Workers          int `yaml:"workers"`
	FlushSize        int `yaml:"flush_size"`
	BreakerThreshold int `yaml:"breaker_threshold"` // consecutive failures, 0 = no breaker
	BreakerCooldownS int `yaml:"breaker_cooldown_sec"`
}

// BreakerCooldown is the breaker open interval as a duration.
func (i IngestConfig) BreakerCooldown() time.Duration {
	return time.Duration(i.BreakerCooldownS) * time.Second
}

// EvalConfig holds evaluation settings.
type EvalConfig struct {
	Cutoffs []int `yaml:"cutoffs"`
	Workers int   `yaml:"workers"`
}

// NATSConfig holds the optional dead-letter sink settings.
type NATSConfig struct {
	URL string `yaml:"url"` // empty = no DLQ
}

// MetricsConfig holds the optional metrics listener settings.
type MetricsConfig struct {
	Port int `yaml:"port"` // 0 = disabled
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: info)
}

// SlogLevel maps the configured level name to a slog level.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads configuration from a YAML file. An empty path returns the
// defaults.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		data = expandEnvVars(data)
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Dataset.Name == "" {
		c.Dataset.Name = "scifact"
	}
	if c.Dataset.Dir == "" {
		c.Dataset.Dir = "datasets"
	}
	if c.Dataset.Split == "" {
		c.Dataset.Split = "test"
	}
	if c.Qdrant.Addr == "" {
		c.Qdrant.Addr = "localhost:6334"
	}
	if c.Qdrant.Collection == "" {
		c.Qdrant.Collection = "document_v4"
	}
	if c.Qdrant.SettleMs <= 0 {
		c.Qdrant.SettleMs = 1000
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "http"
	}
	if c.Embedding.Endpoint == "" {
		c.Embedding.Endpoint = "http://localhost:8081/vectors"
	}
	if c.Embedding.VectorKey == nil {
		key := "vector"
		c.Embedding.VectorKey = &key
	}
	if c.Embedding.TimeoutSec <= 0 {
		c.Embedding.TimeoutSec = 60
	}
	if c.Embedding.OpenAI.Model == "" {
		c.Embedding.OpenAI.Model = "text-embedding-3-small"
	}
	if c.Ingest.Workers <= 0 {
		c.Ingest.Workers = 1
	}
	if c.Ingest.FlushSize <= 0 {
		c.Ingest.FlushSize = 64
	}
	if c.Ingest.BreakerThreshold > 0 && c.Ingest.BreakerCooldownS <= 0 {
		c.Ingest.BreakerCooldownS = 30
	}
	if len(c.Eval.Cutoffs) == 0 {
		c.Eval.Cutoffs = []int{1, 3, 5, 10, 100}
	}
	if c.Eval.Workers <= 0 {
		c.Eval.Workers = 1
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case "http", "openai":
	default:
		return fmt.Errorf("embedding.provider must be \"http\" or \"openai\", got %q", c.Embedding.Provider)
	}
	if c.Embedding.Provider == "openai" && c.Embedding.OpenAI.APIKey == "" {
		return fmt.Errorf("embedding.openai.api_key is required for the openai provider")
	}
	if c.Embedding.Dims < 0 {
		return fmt.Errorf("embedding.dims must not be negative, got %d", c.Embedding.Dims)
	}
	for _, k := range c.Eval.Cutoffs {
		if k <= 0 {
			return fmt.Errorf("eval.cutoffs must be positive, got %d", k)
		}
	}
	return nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment
// variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
