package embedding

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/apexneural-anniesiri/doc-qa-engine/internal/apperr"
	"github.com/apexneural-anniesiri/doc-qa-engine/pkg/utils"
)

const (
	DefaultModel          = "text-embedding-3-small"
	DefaultBatchSize      = 96
	DefaultMaxBatchTokens = 250000
	DefaultConcurrency    = 2
)

// Poster sends a JSON request to the provider and decodes the response.
// *provider.Client implements it.
type Poster interface {
	PostJSON(ctx context.Context, op, path string, body, out any) error
	Name() string
}

// OpenAIConfig configures an OpenAIEmbedder.
type OpenAIConfig struct {
	Model string
	// Dimensions is sent as the "dimensions" request field when positive.
	Dimensions     int
	BatchSize      int
	MaxBatchTokens int
	Concurrency    int
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	client Poster
	tok    Tokenizer
	cfg    OpenAIConfig
	dims   atomic.Int64
	logger *zap.Logger
}

// EmbedderOption configures an OpenAIEmbedder.
type EmbedderOption func(*OpenAIEmbedder)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EmbedderOption {
	return func(e *OpenAIEmbedder) { e.logger = utils.OrNop(l) }
}

// NewOpenAIEmbedder returns an embedder that sends batches through client.
// tok counts tokens for batch planning.
func NewOpenAIEmbedder(client Poster, tok Tokenizer, cfg OpenAIConfig, opts ...EmbedderOption) *OpenAIEmbedder {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxBatchTokens <= 0 {
		cfg.MaxBatchTokens = DefaultMaxBatchTokens
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	e := &OpenAIEmbedder{client: client, tok: tok, cfg: cfg, logger: zap.NewNop()}
	if cfg.Dimensions > 0 {
		e.dims.Store(int64(cfg.Dimensions))
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

type embeddingRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	EncodingFormat string   `json:"encoding_format"`
	Dimensions     int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
	} `json:"usage"`
}

// Embed returns the embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch splits texts into provider batches, runs them with bounded
// concurrency and reassembles the vectors in input order. Any failed batch
// fails the whole call.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	counts := make([]int, len(texts))
	for i, t := range texts {
		if t == "" {
			return nil, apperr.InvalidArgument("embedding.EmbedBatch", "input %d is empty", i)
		}
		counts[i] = len(e.tok.Encode(t))
	}
	batches := planBatches(counts, e.cfg.BatchSize, e.cfg.MaxBatchTokens)

	start := time.Now()
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for _, b := range batches {
		g.Go(func() error {
			vecs, err := e.embedOnce(gctx, texts[b.lo:b.hi])
			if err != nil {
				return err
			}
			copy(out[b.lo:b.hi], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	e.logger.Debug("embedded batch",
		zap.Int("texts", len(texts)),
		zap.Int("requests", len(batches)),
		zap.Duration("took", time.Since(start)))
	return out, nil
}

func (e *OpenAIEmbedder) embedOnce(ctx context.Context, input []string) ([][]float32, error) {
	const op = "embedding.EmbedBatch"
	req := embeddingRequest{
		Model:          e.cfg.Model,
		Input:          input,
		EncodingFormat: "float",
		Dimensions:     e.cfg.Dimensions,
	}
	var resp embeddingResponse
	if err := e.client.PostJSON(ctx, op, "/embeddings", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(input) {
		return nil, e.invalid(op, "expected %d vectors, got %d", len(input), len(resp.Data))
	}
	vecs := make([][]float32, len(input))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(input) || vecs[d.Index] != nil {
			return nil, e.invalid(op, "invalid or duplicate index %d", d.Index)
		}
		if len(d.Embedding) == 0 {
			return nil, e.invalid(op, "empty vector at index %d", d.Index)
		}
		if err := e.checkDims(op, len(d.Embedding)); err != nil {
			return nil, err
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

// checkDims learns the dimension from the first response and rejects any
// later vector of a different length.
func (e *OpenAIEmbedder) checkDims(op string, n int) error {
	if e.dims.CompareAndSwap(0, int64(n)) {
		return nil
	}
	if want := e.dims.Load(); int64(n) != want {
		return e.invalid(op, "vector has %d dimensions, expected %d", n, want)
	}
	return nil
}

func (e *OpenAIEmbedder) invalid(op, format string, args ...any) error {
	return apperr.Provider(op, e.client.Name(), 0, "malformed embedding response: "+fmt.Sprintf(format, args...))
}

// Dimensions returns the configured or learned vector size, falling back to
// the model's native size before the first call.
func (e *OpenAIEmbedder) Dimensions() int {
	if d := e.dims.Load(); d > 0 {
		return int(d)
	}
	return KnownDimensions(e.cfg.Model)
}

// Model returns the embedding model name.
func (e *OpenAIEmbedder) Model() string { return e.cfg.Model }

// Close is a no-op; the HTTP transport is shared.
func (e *OpenAIEmbedder) Close() error { return nil }

type batch struct{ lo, hi int }

// planBatches groups consecutive inputs so that each batch has at most maxSize
// inputs and maxTokens tokens. An input larger than maxTokens goes alone.
func planBatches(tokenCounts []int, maxSize, maxTokens int) []batch {
	var out []batch
	lo, tokens := 0, 0
	for i, n := range tokenCounts {
		if i > lo && (i-lo >= maxSize || tokens+n > maxTokens) {
			out = append(out, batch{lo, i})
			lo, tokens = i, 0
		}
		tokens += n
	}
	if lo < len(tokenCounts) {
		out = append(out, batch{lo, len(tokenCounts)})
	}
	return out
}
