package vector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/apexneural-anniesiri/doc-qa-engine/internal/storage"
)

// Config selects the persistence backend and store tuning.
type Config struct {
	// Backend is "file" (default) or "sqlite".
	Backend    string
	Dir        string
	CacheSize  int
	Dimensions int
}

// OpenConfig opens the configured backend and builds a store over it.
func OpenConfig(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	st, err := storage.New(cfg.Backend, cfg.Dir)
	if err != nil {
		return nil, err
	}
	s, err := Open(ctx, st,
		WithLogger(logger),
		WithCacheSize(cfg.CacheSize),
		WithDimensions(cfg.Dimensions),
	)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	return s, nil
}
