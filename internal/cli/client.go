package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/apexneural-anniesiri/doc-qa-engine/internal/apperr"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/indexer"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/models"
)

// DefaultServerURL is where a locally started server listens.
const DefaultServerURL = "http://localhost:3001"

// Client talks to a running docqa server. Use it instead of opening the store
// directly while a server holds it.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// errorPayload mirrors the server's error body.
type errorPayload struct {
	Error          apperr.Kind `json:"error"`
	Message        string      `json:"message"`
	Details        string      `json:"details"`
	Provider       string      `json:"provider"`
	ProviderStatus int         `json:"provider_status"`
	DocID          string      `json:"doc_id"`
}

// UploadFile uploads the file at path.
func (c *Client) UploadFile(ctx context.Context, path string, async bool) (*indexer.Result, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return c.Upload(ctx, filepath.Base(path), content, async)
}

// Upload sends content as a multipart upload. On an ingestion failure the
// returned result still carries the failed document's id when the server sent one.
func (c *Client) Upload(ctx context.Context, filename string, content []byte, async bool) (*indexer.Result, error) {
	const op = "cli.Upload"
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	u := c.base + "/api/v1/documents"
	if async {
		u += "?async=true"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var res indexer.Result
	payload, err := c.do(op, req, &res)
	if err != nil {
		if payload != nil && payload.DocID != "" {
			return &indexer.Result{DocumentID: payload.DocID, Filename: filename, Status: models.StatusFailed}, err
		}
		return nil, err
	}
	return &res, nil
}

// Ask asks a question about document id. topK of 0 lets the server choose.
func (c *Client) Ask(ctx context.Context, id, question string, topK int) (*models.Answer, error) {
	body, err := json.Marshal(map[string]any{"question": question, "top_k": topK})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base+"/api/v1/documents/"+url.PathEscape(id)+"/ask", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	var ans models.Answer
	if _, err := c.do("cli.Ask", req, &ans); err != nil {
		return nil, err
	}
	return &ans, nil
}

// Describe returns the metadata of document id.
func (c *Client) Describe(ctx context.Context, id string) (*models.DocumentView, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/v1/documents/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var doc models.DocumentView
	if _, err := c.do("cli.Describe", req, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// List returns every document the server knows about.
func (c *Client) List(ctx context.Context) ([]models.DocumentView, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/v1/documents", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Documents []models.DocumentView `json:"documents"`
	}
	if _, err := c.do("cli.List", req, &out); err != nil {
		return nil, err
	}
	return out.Documents, nil
}

// Delete removes document id.
func (c *Client) Delete(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.base+"/api/v1/documents/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	_, err = c.do("cli.Delete", req, nil)
	return err
}

// Health returns the server's health report.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/health", nil)
	if err != nil {
		return nil, err
	}
	var h Health
	if _, err := c.do("cli.Health", req, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// do sends req and decodes a 2xx body into out. A non-2xx response becomes an
// *apperr.Error of the kind the server reported, and its payload is returned too.
func (c *Client) do(op string, req *http.Request, out any) (*errorPayload, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var p errorPayload
		if err := json.Unmarshal(b, &p); err != nil || p.Error == "" {
			return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
		}
		return &p, p.toError(op, resp.Header.Get("Retry-After"))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return nil, nil
}

func (p *errorPayload) toError(op, retryAfter string) *apperr.Error {
	detail := p.Details
	if detail == "" {
		detail = p.Message
	}
	e := &apperr.Error{
		Kind:       p.Error,
		Op:         op,
		Detail:     detail,
		Provider:   p.Provider,
		StatusCode: p.ProviderStatus,
	}
	if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
		e.RetryAfter = time.Duration(secs) * time.Second
	}
	return e
}
