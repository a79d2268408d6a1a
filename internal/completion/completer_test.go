package completion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexneural-anniesiri/doc-qa-engine/internal/apperr"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/provider"
)

func TestBuildMessages(t *testing.T) {
	msgs := BuildMessages("What is the refund window?", []ContextChunk{
		{Text: "Refunds within 30 days.", Page: 2},
		{Text: "Contact support."},
	})
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Contains(t, msgs[0].Content, `"`+InsufficientContextAnswer+`"`)
	assert.Contains(t, msgs[0].Content, "ONLY")

	want := "Context from document:\n\n" +
		"[Context 1 (Page 2)]:\nRefunds within 30 days." +
		"\n\n---\n\n" +
		"[Context 2]:\nContact support." +
		"\n\nQuestion: What is the refund window?\n\nAnswer:"
	assert.Equal(t, "user", msgs[1].Role)
	assert.Equal(t, want, msgs[1].Content)
}

func newServer(t *testing.T, reply string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req.Model)
		assert.InDelta(t, 0.3, req.Temperature, 1e-9)
		assert.Equal(t, 1000, req.MaxTokens)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": reply}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func client(url string) *provider.Client {
	return provider.New(provider.Config{BaseURL: url, MaxRetries: 0, BaseBackoff: time.Millisecond})
}

func TestOpenAICompleter_Answer(t *testing.T) {
	srv := newServer(t, "  30 days (Context 1).\n", http.StatusOK)
	c := NewOpenAICompleter(client(srv.URL), Config{}, nil)

	got, err := c.Answer(context.Background(), "q", []ContextChunk{{Text: "Refunds within 30 days."}})
	require.NoError(t, err)
	assert.Equal(t, "30 days (Context 1).", got)
}

func TestOpenAICompleter_explicitZeroTemperature(t *testing.T) {
	var sent map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": "ok"}}},
		})
	}))
	defer srv.Close()

	zero := 0.0
	c := NewOpenAICompleter(client(srv.URL), Config{Temperature: &zero}, nil)
	_, err := c.Answer(context.Background(), "q", []ContextChunk{{Text: "x"}})
	require.NoError(t, err)
	require.Contains(t, sent, "temperature")
	assert.Equal(t, 0.0, sent["temperature"])
}

func TestOpenAICompleter_emptyAnswerIsProviderError(t *testing.T) {
	srv := newServer(t, "   ", http.StatusOK)
	c := NewOpenAICompleter(client(srv.URL), Config{}, nil)

	_, err := c.Answer(context.Background(), "q", []ContextChunk{{Text: "x"}})
	assert.ErrorIs(t, err, apperr.ErrProvider)
}

func TestOpenAICompleter_providerFailure(t *testing.T) {
	srv := newServer(t, "", http.StatusBadRequest)
	c := NewOpenAICompleter(client(srv.URL), Config{}, nil)

	_, err := c.Answer(context.Background(), "q", []ContextChunk{{Text: "x"}})
	assert.ErrorIs(t, err, apperr.ErrProvider)
}

func TestOpenAICompleter_noContextSkipsModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("model should not be called")
	}))
	defer srv.Close()

	got, err := NewOpenAICompleter(client(srv.URL), Config{}, nil).Answer(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "I couldn't find"))
}

func TestStaticCompleter(t *testing.T) {
	s := &StaticCompleter{Reply: "ok"}
	got, err := s.Answer(context.Background(), "q", []ContextChunk{{Text: "a"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	require.Len(t, s.Calls(), 1)
	assert.Equal(t, "a", s.Calls()[0][0].Text)
}
