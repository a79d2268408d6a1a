// Package provider is the HTTP transport shared by the embedding and completion
// clients: authenticated JSON requests against an OpenAI-compatible API with
// throttling, bounded retries and error classification.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/apexneural-anniesiri/doc-qa-engine/internal/apperr"
	"github.com/apexneural-anniesiri/doc-qa-engine/pkg/utils"
)

const (
	DefaultBaseURL     = "https://api.openai.com/v1"
	DefaultName        = "openai"
	DefaultTimeout     = 60 * time.Second
	DefaultMaxRetries  = 3
	DefaultBaseBackoff = 500 * time.Millisecond
	DefaultMaxBackoff  = 8 * time.Second

	headerRetryAfter = "Retry-After"
	maxErrorBody     = 4 << 10
)

// Config configures a Client. Zero values fall back to the defaults above,
// except MaxRetries which is taken as given when non-negative.
type Config struct {
	Name        string
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// RequestsPerSecond throttles outgoing requests; 0 means unlimited.
	RequestsPerSecond float64
	Burst             int
}

// Client sends JSON requests to the provider.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger for retry and failure messages.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = utils.OrNop(l) }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// New returns a client for cfg.
func New(cfg Config, opts ...Option) *Client {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name returns the provider name used in errors.
func (c *Client) Name() string { return c.cfg.Name }

// PostJSON posts body to path and decodes a 2xx response into out. Rate limits,
// server errors and network failures are retried with backoff; the final failure
// is returned as an *apperr.Error. op names the caller in errors and logs.
func (c *Client) PostJSON(ctx context.Context, op, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", op, err)
	}
	url := c.cfg.BaseURL + "/" + strings.TrimLeft(path, "/")

	var lastErr *apperr.Error
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return ctxError(ctx, op, err)
		}
		retry, err := c.do(ctx, op, url, payload, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctxError(ctx, op, ctx.Err())
		}
		if !retry {
			return err
		}
		lastErr = err
		if attempt >= c.cfg.MaxRetries {
			break
		}
		delay := c.backoff(attempt, err.RetryAfter)
		c.logger.Warn("provider request failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := sleep(ctx, delay); err != nil {
			return ctxError(ctx, op, err)
		}
	}
	c.logger.Error("provider request failed",
		zap.String("op", op),
		zap.Int("attempts", c.cfg.MaxRetries+1),
		zap.Error(lastErr))
	return lastErr
}

// do performs one attempt. The bool reports whether a failure is retryable.
func (c *Client) do(ctx context.Context, op, url string, payload []byte, out any) (bool, *apperr.Error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return false, apperr.Wrap(apperr.KindInternal, op, err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		e := apperr.Wrap(apperr.KindProvider, op, err, "request failed")
		e.Provider = c.cfg.Name
		return true, e
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return false, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			e := apperr.Wrap(apperr.KindProvider, op, err, "malformed response")
			e.Provider = c.cfg.Name
			e.StatusCode = resp.StatusCode
			return false, e
		}
		return false, nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := errorMessage(raw, resp.Status)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return true, apperr.RateLimited(op, c.cfg.Name, parseRetryAfter(resp.Header.Get(headerRetryAfter)), msg)
	case resp.StatusCode >= 500:
		e := apperr.Provider(op, c.cfg.Name, resp.StatusCode, msg)
		e.RetryAfter = parseRetryAfter(resp.Header.Get(headerRetryAfter))
		return true, e
	default:
		return false, apperr.Provider(op, c.cfg.Name, resp.StatusCode, msg)
	}
}

// backoff returns base·2^attempt capped at MaxBackoff plus up to 50% jitter.
// A provider Retry-After hint replaces the computed delay but is still capped.
func (c *Client) backoff(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return min(retryAfter, c.cfg.MaxBackoff)
	}
	d := c.cfg.BaseBackoff
	for i := 0; i < attempt && d < c.cfg.MaxBackoff; i++ {
		d *= 2
	}
	d = min(d, c.cfg.MaxBackoff)
	if half := int64(d / 2); half > 0 {
		d += time.Duration(rand.Int64N(half + 1))
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func ctxError(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindTimeout, op, err, "provider call timed out")
	}
	return fmt.Errorf("%s: %w", op, err)
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// errorMessage extracts error.message from an OpenAI-style error body.
func errorMessage(raw []byte, status string) string {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
		return body.Error.Message
	}
	if s := strings.TrimSpace(string(raw)); s != "" {
		return utils.Truncate(s, 200)
	}
	return status
}
