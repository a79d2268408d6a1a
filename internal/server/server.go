// Package server provides the HTTP API for uploading documents and asking questions about them.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/apexneural-anniesiri/doc-qa-engine/internal/config"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/indexer"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/models"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/vector"
	"github.com/apexneural-anniesiri/doc-qa-engine/pkg/utils"
)

// Ingester accepts uploads.
type Ingester interface {
	Ingest(ctx context.Context, up indexer.Upload) (*indexer.Result, error)
	Submit(ctx context.Context, up indexer.Upload) (*indexer.Result, error)
}

// Answerer answers questions about one document.
type Answerer interface {
	Ask(ctx context.Context, id, question string, topK int) (*models.Answer, error)
}

// Documents reads and deletes stored documents.
type Documents interface {
	Describe(ctx context.Context, id string) (*models.Document, error)
	List(ctx context.Context) []*models.Document
	Delete(ctx context.Context, id string) error
	Stats() (vector.Stats, error)
}

// Server is the HTTP server for the document Q&A API.
type Server struct {
	engine    Answerer
	indexer   Ingester
	docs      Documents
	config    config.ServerConfig
	maxUpload int64
	version   string
	logger    *zap.Logger
	server    *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithVersion sets the version reported by /health.
func WithVersion(v string) ServerOption {
	return func(s *Server) { s.version = v }
}

// NewServer creates a server with the given dependencies. maxUpload bounds the
// size of an uploaded file in bytes.
func NewServer(
	engine Answerer,
	idx Ingester,
	docs Documents,
	cfg config.ServerConfig,
	maxUpload int64,
	logger *zap.Logger,
	opts ...ServerOption,
) *Server {
	s := &Server{
		engine:    engine,
		indexer:   idx,
		docs:      docs,
		config:    cfg,
		maxUpload: maxUpload,
		version:   "dev",
		logger:    utils.OrNop(logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	if s.config.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.config.RequestTimeout))
	}

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1/documents", func(r chi.Router) {
		r.Post("/", s.handleUpload)
		r.Get("/", s.handleListDocuments)
		r.Get("/{id}", s.handleGetDocument)
		r.Delete("/{id}", s.handleDeleteDocument)
		r.Post("/{id}/ask", s.handleAsk)
	})

	r.Post("/api/upload", s.handleUpload)
	r.Post("/api/chat", s.handleChat)
	return r
}

// Start starts the HTTP server and blocks until it stops. A graceful Stop is not an error.
func (s *Server) Start() error {
	addr := s.config.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// requestLogger logs one line per request with the chi request id.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)))
		})
	}
}
