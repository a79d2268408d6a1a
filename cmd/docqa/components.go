package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/apexneural-anniesiri/doc-qa-engine/internal/completion"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/config"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/embedding"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/extract"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/indexer"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/provider"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/search"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/vector"
)

// Components holds initialized services.
type Components struct {
	Store   *vector.Store
	Indexer *indexer.Indexer
	Engine  *search.Engine
}

// Close waits for background ingestion and closes the store.
func (c *Components) Close() {
	if c.Indexer != nil {
		c.Indexer.Wait()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	if cfg.Provider.APIKey == "" {
		logger.Warn("OPENAI_API_KEY is not set; provider requests will be rejected")
	}
	tok, err := embedding.NewTokenizer(cfg.Chunking.Encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tokenizer: %w", err)
	}

	client := provider.New(provider.Config{
		Name:              cfg.Provider.Name,
		BaseURL:           cfg.Provider.BaseURL,
		APIKey:            cfg.Provider.APIKey,
		Timeout:           cfg.Provider.Timeout,
		MaxRetries:        cfg.Provider.MaxRetriesOrDefault(),
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
		Burst:             cfg.Provider.Burst,
	}, provider.WithLogger(logger))

	embedder := embedding.NewOpenAIEmbedder(client, tok, embedding.OpenAIConfig{
		Model:          cfg.Embedding.Model,
		Dimensions:     cfg.Embedding.Dimensions,
		BatchSize:      cfg.Embedding.BatchSize,
		MaxBatchTokens: cfg.Embedding.MaxBatchTokens,
		Concurrency:    cfg.Embedding.Concurrency,
	}, embedding.WithLogger(logger))

	store, err := vector.OpenConfig(ctx, vector.Config{
		Backend:    cfg.Storage.Backend,
		Dir:        cfg.Storage.Dir,
		CacheSize:  cfg.Storage.CacheSize,
		Dimensions: cfg.Embedding.Dimensions,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	idx, err := indexer.NewIndexer(store, extract.NewExtractor(cfg.Ingest.AllowedExtensions...), embedder, tok,
		indexer.Config{
			ChunkSize:      cfg.Chunking.SizeTokens,
			ChunkOverlap:   cfg.Chunking.Overlap(),
			EmbeddingModel: cfg.Embedding.Model,
			Workers:        cfg.Ingest.Workers,
			Timeout:        cfg.Ingest.Timeout,
		}, indexer.WithLogger(logger))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize indexer: %w", err)
	}

	completer := completion.NewOpenAICompleter(client, completion.Config{
		Model:       cfg.Completion.Model,
		Temperature: cfg.Completion.Temperature,
		MaxTokens:   cfg.Completion.MaxTokens,
	}, logger)
	engine := search.NewEngine(store,
		embedding.NewCachedEmbedder(embedder, cfg.Embedding.Model, cfg.Embedding.QueryCacheSize),
		completer, tok,
		search.Config{TopK: cfg.Query.TopK, ContextBudgetTokens: cfg.Query.ContextBudgetTokens},
		search.WithLogger(logger))

	logger.Info("components initialized",
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("storage_dir", cfg.Storage.Dir),
		zap.String("embedding_model", cfg.Embedding.Model),
		zap.String("completion_model", cfg.Completion.Model),
		zap.Int("chunk_size", cfg.Chunking.SizeTokens),
		zap.Int("chunk_overlap", cfg.Chunking.Overlap()))

	return &Components{Store: store, Indexer: idx, Engine: engine}, nil
}
