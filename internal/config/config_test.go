package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexneural-anniesiri/doc-qa-engine/internal/apperr"
)

var envKeys = []string{
	"OPENAI_API_KEY", "OPENAI_BASE_URL", "EMBEDDING_MODEL", "COMPLETION_MODEL",
	"CHUNK_SIZE_TOKENS", "CHUNK_OVERLAP_TOKENS", "TOP_K", "MAX_UPLOAD_BYTES",
	"VECTOR_STORAGE_DIR", "STORAGE_BACKEND", "PORT", "DEBUG",
}

// clearEnv blanks every override so the host environment cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  backend: sqlite
chunking:
  size_tokens: 500
  overlap_tokens: 50
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("backend = %q", cfg.Storage.Backend)
	}
	if cfg.Chunking.SizeTokens != 500 || cfg.Chunking.Overlap() != 50 {
		t.Errorf("unexpected chunking: %d/%d", cfg.Chunking.SizeTokens, cfg.Chunking.Overlap())
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_defaultsWithoutFile(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Chunking.SizeTokens)
	assert.Equal(t, 150, cfg.Chunking.Overlap())
	assert.Equal(t, 5, cfg.Query.TopK)
	assert.Equal(t, 3000, cfg.Query.ContextBudgetTokens)
	assert.Equal(t, int64(50<<20), cfg.Ingest.MaxUploadBytes)
	assert.Equal(t, "./vector_storage", cfg.Storage.Dir)
	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, "gpt-4o", cfg.Completion.Model)
	assert.Nil(t, cfg.Completion.Temperature)
	assert.Equal(t, 0.3, cfg.Completion.TemperatureOrDefault())
	assert.Equal(t, 3, cfg.Provider.MaxRetriesOrDefault())
	assert.Equal(t, []string{".pdf", ".txt", ".md", ".docx", ".pptx", ".xlsx"}, cfg.Ingest.AllowedExtensions)
	assert.Equal(t, "0.0.0.0:3001", cfg.Server.Addr())
}

func TestLoad_durationsAndExplicitZeroes(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
provider:
  timeout: 15s
  max_retries: 0
completion:
  temperature: 0
chunking:
  overlap_tokens: 0
ingest:
  timeout: 2m
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.Ingest.Timeout)
	assert.Equal(t, 0, cfg.Provider.MaxRetriesOrDefault())
	require.NotNil(t, cfg.Completion.Temperature)
	assert.Equal(t, 0.0, cfg.Completion.TemperatureOrDefault())
	assert.Equal(t, 0, cfg.Chunking.Overlap())
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  dir: "./data/vectors"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(filepath.Dir(path), "data", "vectors")
	if cfg.Storage.Dir != want {
		t.Errorf("storage dir = %q, want %q", cfg.Storage.Dir, want)
	}
}

func TestLoad_envOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  port: 9000
query:
  top_k: 3
`)
	t.Setenv("PORT", "8088")
	t.Setenv("TOP_K", "7")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("CHUNK_OVERLAP_TOKENS", "0")
	t.Setenv("DEBUG", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, 7, cfg.Query.TopK)
	assert.Equal(t, "sk-test", cfg.Provider.APIKey)
	assert.Equal(t, 0, cfg.Chunking.Overlap())
	assert.True(t, cfg.Debug)
}

func TestLoad_dotEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.Unsetenv("COMPLETION_MODEL"))
	t.Cleanup(func() { os.Unsetenv("COMPLETION_MODEL") })
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("COMPLETION_MODEL=gpt-4o-mini\n"), 0600))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.Completion.Model)
}

func TestApplyEnv_rejectsMalformedNumbers(t *testing.T) {
	env := map[string]string{"TOP_K": "five"}
	var cfg Config
	err := ApplyEnv(&cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInvalidArgument))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"overlap equals size", func(c *Config) { o := 1000; c.Chunking.OverlapTokens = &o }, false},
		{"negative overlap", func(c *Config) { o := -1; c.Chunking.OverlapTokens = &o }, false},
		{"zero size", func(c *Config) { c.Chunking.SizeTokens = -5 }, false},
		{"negative top_k", func(c *Config) { c.Query.TopK = -1 }, false},
		{"budget below chunk size", func(c *Config) { c.Query.ContextBudgetTokens = 999 }, false},
		{"budget equals chunk size", func(c *Config) { c.Query.ContextBudgetTokens = 1000 }, true},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, false},
		{"zero temperature", func(c *Config) { v := 0.0; c.Completion.Temperature = &v }, true},
		{"temperature above two", func(c *Config) { v := 2.5; c.Completion.Temperature = &v }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			ApplyDefaults(&cfg)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
		})
	}
}

func TestSave_roundTrip(t *testing.T) {
	clearEnv(t)
	var cfg Config
	ApplyDefaults(&cfg)
	cfg.Query.TopK = 9

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, Save(path, &cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, loaded.Query.TopK)
	assert.Equal(t, cfg.Embedding, loaded.Embedding)
}

func TestExpandPath(t *testing.T) {
	dir := "/etc/docqa"
	if got := expandPath("/abs/path", dir); got != "/abs/path" {
		t.Errorf("abs path changed: %q", got)
	}
	if got := expandPath("./store", dir); got != filepath.Join(dir, "store") {
		t.Errorf("dot-slash: %q", got)
	}
	if got := expandPath("relative", dir); got != "relative" {
		t.Errorf("plain relative changed: %q", got)
	}
	if got := expandPath("", dir); got != "" {
		t.Errorf("empty changed: %q", got)
	}
}
