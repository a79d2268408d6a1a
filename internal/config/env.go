package config

import (
	"strconv"
	"strings"

	"github.com/apexneural-anniesiri/doc-qa-engine/internal/apperr"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides cfg with the environment variables that are set and non-empty.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	const op = "config.ApplyEnv"

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, set func(int64)) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return apperr.InvalidArgument(op, "%s: not an integer: %q", key, v)
		}
		set(n)
		return nil
	}

	str("OPENAI_API_KEY", &cfg.Provider.APIKey)
	str("OPENAI_BASE_URL", &cfg.Provider.BaseURL)
	str("EMBEDDING_MODEL", &cfg.Embedding.Model)
	str("COMPLETION_MODEL", &cfg.Completion.Model)
	str("VECTOR_STORAGE_DIR", &cfg.Storage.Dir)
	str("STORAGE_BACKEND", &cfg.Storage.Backend)

	ints := []struct {
		key string
		set func(int64)
	}{
		{"CHUNK_SIZE_TOKENS", func(n int64) { cfg.Chunking.SizeTokens = int(n) }},
		{"CHUNK_OVERLAP_TOKENS", func(n int64) { o := int(n); cfg.Chunking.OverlapTokens = &o }},
		{"TOP_K", func(n int64) { cfg.Query.TopK = int(n) }},
		{"MAX_UPLOAD_BYTES", func(n int64) { cfg.Ingest.MaxUploadBytes = n }},
		{"PORT", func(n int64) { cfg.Server.Port = int(n) }},
	}
	for _, e := range ints {
		if err := num(e.key, e.set); err != nil {
			return err
		}
	}

	if v, ok := lookup("DEBUG"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return apperr.InvalidArgument(op, "DEBUG: not a boolean: %q", v)
		}
		cfg.Debug = b
	}
	return nil
}
