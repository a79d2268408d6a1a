// Package config provides configuration loading and structs for the docqa server and CLI.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/apexneural-anniesiri/doc-qa-engine/internal/apperr"
)

// DefaultPath is read when no explicit config path is given and the file exists.
const DefaultPath = "config.yaml"

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Provider   ProviderConfig   `yaml:"provider"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Completion CompletionConfig `yaml:"completion"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Query      QueryConfig      `yaml:"query"`
	Ingest     IngestConfig     `yaml:"ingest"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig selects the persistence backend and where it lives.
type StorageConfig struct {
	Backend   string `yaml:"backend"`
	Dir       string `yaml:"dir"`
	CacheSize int    `yaml:"cache_size"`
}

// ProviderConfig holds the OpenAI-compatible endpoint settings shared by embeddings and completions.
type ProviderConfig struct {
	Name              string        `yaml:"name"`
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        *int          `yaml:"max_retries"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// MaxRetriesOrDefault returns the retry budget; defaults to 3 when unset.
func (p *ProviderConfig) MaxRetriesOrDefault() int {
	if p.MaxRetries != nil {
		return *p.MaxRetries
	}
	return 3
}

// EmbeddingConfig holds embedding model and batching settings.
type EmbeddingConfig struct {
	Model          string `yaml:"model"`
	Dimensions     int    `yaml:"dimensions"`
	BatchSize      int    `yaml:"batch_size"`
	MaxBatchTokens int    `yaml:"max_batch_tokens"`
	Concurrency    int    `yaml:"concurrency"`
	QueryCacheSize int    `yaml:"query_cache_size"`
}

// CompletionConfig holds chat completion settings.
type CompletionConfig struct {
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
}

// TemperatureOrDefault returns the sampling temperature; defaults to 0.3 when unset.
func (c *CompletionConfig) TemperatureOrDefault() float64 {
	if c.Temperature != nil {
		return *c.Temperature
	}
	return 0.3
}

// ChunkingConfig holds the token window used to split documents.
type ChunkingConfig struct {
	SizeTokens    int    `yaml:"size_tokens"`
	OverlapTokens *int   `yaml:"overlap_tokens"`
	Encoding      string `yaml:"encoding"`
}

// Overlap returns the overlap in tokens; defaults to 150 when unset.
func (c *ChunkingConfig) Overlap() int {
	if c.OverlapTokens != nil {
		return *c.OverlapTokens
	}
	return 150
}

// QueryConfig holds retrieval settings for answering questions.
type QueryConfig struct {
	TopK                int `yaml:"top_k"`
	ContextBudgetTokens int `yaml:"context_budget_tokens"`
}

// IngestConfig holds upload and background ingestion settings.
type IngestConfig struct {
	Workers           int           `yaml:"workers"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxUploadBytes    int64         `yaml:"max_upload_bytes"`
	AllowedExtensions []string      `yaml:"allowed_extensions"`
}

// Load reads the config file at path, loads .env, applies environment overrides and defaults,
// expands paths and validates the result. An empty path reads DefaultPath when it exists and
// otherwise starts from defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	configDir := ""

	if path == "" {
		if _, err := os.Stat(DefaultPath); err == nil {
			path = DefaultPath
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		configDir = filepath.Dir(path)
	}

	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)

	if configDir != "" {
		cfg.Storage.Dir = expandPath(cfg.Storage.Dir, configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDotEnv loads variables from a .env file without overriding ones already set.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	const op = "config.Validate"
	switch {
	case c.Chunking.SizeTokens <= 0:
		return apperr.InvalidArgument(op, "chunking.size_tokens must be positive, got %d", c.Chunking.SizeTokens)
	case c.Chunking.Overlap() < 0:
		return apperr.InvalidArgument(op, "chunking.overlap_tokens must not be negative, got %d", c.Chunking.Overlap())
	case c.Chunking.Overlap() >= c.Chunking.SizeTokens:
		return apperr.InvalidArgument(op, "chunking.overlap_tokens (%d) must be smaller than size_tokens (%d)",
			c.Chunking.Overlap(), c.Chunking.SizeTokens)
	case c.Query.TopK <= 0:
		return apperr.InvalidArgument(op, "query.top_k must be positive, got %d", c.Query.TopK)
	case c.Query.ContextBudgetTokens < c.Chunking.SizeTokens:
		return apperr.InvalidArgument(op, "query.context_budget_tokens (%d) must be at least chunking.size_tokens (%d)",
			c.Query.ContextBudgetTokens, c.Chunking.SizeTokens)
	case c.Ingest.MaxUploadBytes <= 0:
		return apperr.InvalidArgument(op, "ingest.max_upload_bytes must be positive, got %d", c.Ingest.MaxUploadBytes)
	case c.Ingest.Workers <= 0:
		return apperr.InvalidArgument(op, "ingest.workers must be positive, got %d", c.Ingest.Workers)
	case c.Completion.TemperatureOrDefault() < 0 || c.Completion.TemperatureOrDefault() > 2:
		return apperr.InvalidArgument(op, "completion.temperature must be between 0 and 2, got %g", c.Completion.TemperatureOrDefault())
	case c.Provider.MaxRetriesOrDefault() < 0:
		return apperr.InvalidArgument(op, "provider.max_retries must not be negative")
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return apperr.InvalidArgument(op, "server.port out of range: %d", c.Server.Port)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are left relative to the working directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	return path
}
