// Package completion generates grounded answers from retrieved context with a chat model.
package completion

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/apexneural-anniesiri/doc-qa-engine/internal/apperr"
	"github.com/apexneural-anniesiri/doc-qa-engine/pkg/utils"
)

const (
	DefaultModel       = "gpt-4o"
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 1000
)

// Completer answers a question from context chunks.
type Completer interface {
	Answer(ctx context.Context, question string, chunks []ContextChunk) (string, error)
}

// Poster sends a JSON request to the provider. *provider.Client implements it.
type Poster interface {
	PostJSON(ctx context.Context, op, path string, body, out any) error
	Name() string
}

// Config configures an OpenAICompleter.
type Config struct {
	Model string
	// Temperature is DefaultTemperature when nil; zero is sent as zero.
	Temperature *float64
	MaxTokens   int
}

// OpenAICompleter calls an OpenAI-compatible /chat/completions endpoint.
type OpenAICompleter struct {
	client Poster
	cfg    Config
	logger *zap.Logger
}

// NewOpenAICompleter returns a completer. Unset fields take their defaults.
func NewOpenAICompleter(client Poster, cfg Config, logger *zap.Logger) *OpenAICompleter {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	temperature := DefaultTemperature
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	cfg.Temperature = &temperature
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return &OpenAICompleter{client: client, cfg: cfg, logger: utils.OrNop(logger)}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Answer sends the grounded prompt and returns the model's reply. With no chunks
// it returns NoContextAnswer without calling the model.
func (c *OpenAICompleter) Answer(ctx context.Context, question string, chunks []ContextChunk) (string, error) {
	const op = "completion.Answer"
	if len(chunks) == 0 {
		return NoContextAnswer, nil
	}
	req := chatRequest{
		Model:       c.cfg.Model,
		Messages:    BuildMessages(question, chunks),
		Temperature: *c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	var resp chatResponse
	if err := c.client.PostJSON(ctx, op, "/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", apperr.Provider(op, c.client.Name(), 0, "response has no choices")
	}
	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if answer == "" {
		return "", apperr.Provider(op, c.client.Name(), 0, "model returned an empty answer")
	}
	c.logger.Debug("completion done",
		zap.String("model", c.cfg.Model),
		zap.Int("context_chunks", len(chunks)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.String("finish_reason", resp.Choices[0].FinishReason))
	return answer, nil
}

// StaticCompleter returns a fixed answer and records what it was asked. Used in tests.
type StaticCompleter struct {
	Reply string
	Err   error

	mu    sync.Mutex
	calls [][]ContextChunk
}

// Answer records chunks and returns Reply or Err.
func (s *StaticCompleter) Answer(ctx context.Context, question string, chunks []ContextChunk) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, chunks)
	s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	return s.Reply, nil
}

// Calls returns the context chunks of every call so far.
func (s *StaticCompleter) Calls() [][]ContextChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]ContextChunk(nil), s.calls...)
}
