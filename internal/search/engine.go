// Package search answers questions about one document from its most similar chunks.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/apexneural-anniesiri/doc-qa-engine/internal/apperr"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/completion"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/embedding"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/models"
	"github.com/apexneural-anniesiri/doc-qa-engine/pkg/utils"
)

const (
	// DefaultTopK is the number of chunks retrieved when the caller passes 0.
	DefaultTopK = 5
	// DefaultContextBudget caps the context tokens sent to the completion model.
	DefaultContextBudget = 3000
)

// Retriever is the part of the vector store the engine reads from.
type Retriever interface {
	Describe(ctx context.Context, id string) (*models.Document, error)
	Search(ctx context.Context, id string, query []float32, topK int) ([]models.SearchResult, error)
}

// Config holds retrieval settings.
type Config struct {
	TopK                int
	ContextBudgetTokens int
}

// Engine runs the question answering pipeline: embed, search, budget, complete.
type Engine struct {
	store     Retriever
	embedder  embedding.Embedder
	completer completion.Completer
	tok       embedding.Tokenizer
	cfg       Config
	logger    *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = utils.OrNop(l) }
}

// NewEngine creates an engine. tok measures the rendered context against the budget.
func NewEngine(
	store Retriever,
	embedder embedding.Embedder,
	completer completion.Completer,
	tok embedding.Tokenizer,
	cfg Config,
	opts ...EngineOption,
) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.ContextBudgetTokens <= 0 {
		cfg.ContextBudgetTokens = DefaultContextBudget
	}
	e := &Engine{
		store:     store,
		embedder:  embedder,
		completer: completer,
		tok:       tok,
		cfg:       cfg,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ask answers question from document id. topK of 0 selects the configured default.
// Unknown and failed documents report apperr.ErrNotFound; documents still being
// ingested report apperr.ErrNotReady. The returned sources are exactly the chunks
// given to the completion model, in rank order.
func (e *Engine) Ask(ctx context.Context, id, question string, topK int) (*models.Answer, error) {
	const op = "search.Ask"
	start := time.Now()
	question = strings.TrimSpace(question)

	results, err := e.Retrieve(ctx, id, question, topK)
	if err != nil {
		return nil, err
	}
	used := SelectContext(results, e.cfg.ContextBudgetTokens, e.tok)

	chunks := make([]completion.ContextChunk, len(used))
	sources := make([]models.Citation, len(used))
	for i, r := range used {
		chunks[i] = completion.ContextChunk{Text: r.Chunk.Text, Page: r.Chunk.Page}
		sources[i] = models.NewCitation(r)
	}

	text, err := e.completer.Answer(ctx, question, chunks)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	e.logger.Info("question answered",
		zap.String("doc_id", id),
		zap.String("question", utils.Truncate(question, 80)),
		zap.Int("retrieved", len(results)),
		zap.Int("used", len(used)),
		zap.Duration("took", time.Since(start)))
	return &models.Answer{DocumentID: id, Question: question, Answer: text, Sources: sources}, nil
}

// Retrieve embeds question and returns the topK most similar chunks of document id.
func (e *Engine) Retrieve(ctx context.Context, id, question string, topK int) ([]models.SearchResult, error) {
	const op = "search.Retrieve"
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apperr.InvalidArgument(op, "question must not be empty")
	}
	switch {
	case topK == 0:
		topK = e.cfg.TopK
	case topK < 0:
		return nil, apperr.InvalidArgument(op, "top_k must not be negative, got %d", topK)
	}
	if err := e.checkReady(ctx, id); err != nil {
		return nil, err
	}

	vec, err := e.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("%s: embed question: %w", op, err)
	}
	results, err := e.store.Search(ctx, id, vec, topK)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("retrieved chunks", zap.String("doc_id", id), zap.Int("top_k", topK), zap.Int("hits", len(results)))
	return results, nil
}

func (e *Engine) checkReady(ctx context.Context, id string) error {
	const op = "search.Ask"
	doc, err := e.store.Describe(ctx, id)
	if err != nil {
		return err
	}
	switch doc.Status {
	case models.StatusReady:
		return nil
	case models.StatusProcessing:
		return &apperr.Error{
			Kind:   apperr.KindNotReady,
			Op:     op,
			Detail: fmt.Sprintf("document %q is still %s (%.0f%%)", id, doc.Stage, doc.Progress*100),
		}
	default:
		nf := apperr.NotFound(op, id)
		if doc.Error != nil {
			nf.Detail = fmt.Sprintf("document %q failed to ingest: %s", id, doc.Error.Detail)
		}
		return nf
	}
}

// SelectContext keeps the longest rank prefix of results that fits within budget
// once rendered as context: each chunk costs its tokens plus its section header,
// and the separator between consecutive chunks counts too. Chunks are never cut.
func SelectContext(results []models.SearchResult, budget int, tok embedding.Tokenizer) []models.SearchResult {
	sepTokens := embedding.CountTokens(tok, completion.ContextSeparator)
	total := 0
	for i, r := range results {
		cost := r.Chunk.TokenCount + embedding.CountTokens(tok, completion.SectionHeader(i+1, r.Chunk.Page))
		if i > 0 {
			cost += sepTokens
		}
		if total+cost > budget {
			return results[:i]
		}
		total += cost
	}
	return results
}
