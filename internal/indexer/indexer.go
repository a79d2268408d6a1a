// Package indexer turns uploaded documents into embedded, searchable chunks.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/apexneural-anniesiri/doc-qa-engine/internal/apperr"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/embedding"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/extract"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/fileid"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/models"
	"github.com/apexneural-anniesiri/doc-qa-engine/pkg/utils"
)

const (
	// DefaultWorkers bounds concurrent background ingestions.
	DefaultWorkers = 2
	// DefaultTimeout bounds one background ingestion.
	DefaultTimeout = 10 * time.Minute
	// DefaultProgressGroup is the number of chunks embedded between progress updates.
	DefaultProgressGroup = 100

	progressExtracting = 0.05
	progressChunking   = 0.15
	progressEmbedStart = 0.20
	progressEmbedEnd   = 0.95
)

// DocumentStore is the part of the vector store the indexer writes to.
type DocumentStore interface {
	Begin(ctx context.Context, doc *models.Document) error
	UpdateProgress(ctx context.Context, id string, stage models.Stage, progress float64) error
	SetDetails(ctx context.Context, id string, pageCount, tokenCount int) error
	Fail(ctx context.Context, id string, kind apperr.Kind, detail string) error
	Put(ctx context.Context, id string, chunks []models.Chunk) error
	ExistsByContentHash(ctx context.Context, hash string) (string, bool, error)
	Describe(ctx context.Context, id string) (*models.Document, error)
}

// Upload is a document received from a client.
type Upload struct {
	Filename string
	Content  []byte
}

// Result reports the outcome of an upload.
type Result struct {
	DocumentID   string        `json:"doc_id"`
	Filename     string        `json:"filename"`
	Status       models.Status `json:"status"`
	ChunkCount   int           `json:"chunk_count"`
	Deduplicated bool          `json:"deduplicated"`
}

// Config holds ingestion settings.
type Config struct {
	ChunkSize      int
	ChunkOverlap   int
	EmbeddingModel string
	Workers        int
	Timeout        time.Duration
	ProgressGroup  int
}

// flight is an ingestion in progress, shared by identical uploads.
type flight struct {
	id   string
	done chan struct{}
}

// Indexer runs the ingestion pipeline: extract, chunk, embed and publish.
type Indexer struct {
	store     DocumentStore
	extractor *extract.Extractor
	embedder  embedding.Embedder
	chunker   *Chunker
	cfg       Config
	logger    *zap.Logger

	sem chan struct{}
	wg  sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]*flight // content hash -> ingestion
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for stage transitions and outcomes.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = utils.OrNop(l) }
}

// NewIndexer creates an indexer with the given dependencies. It fails with
// apperr.ErrInvalidArgument when the chunk window is invalid.
func NewIndexer(
	store DocumentStore,
	extractor *extract.Extractor,
	embedder embedding.Embedder,
	tok embedding.Tokenizer,
	cfg Config,
	opts ...IndexerOption,
) (*Indexer, error) {
	chunker, err := NewChunker(tok, cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ProgressGroup <= 0 {
		cfg.ProgressGroup = DefaultProgressGroup
	}
	idx := &Indexer{
		store:     store,
		extractor: extractor,
		embedder:  embedder,
		chunker:   chunker,
		cfg:       cfg,
		logger:    zap.NewNop(),
		sem:       make(chan struct{}, cfg.Workers),
		inflight:  make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx, nil
}

// Ingest runs the whole pipeline before returning. An upload identical to a
// ready document returns that document without running any stage; one identical
// to an ingestion in flight waits for it.
func (idx *Indexer) Ingest(ctx context.Context, up Upload) (*Result, error) {
	doc, res, fl, err := idx.admit(ctx, up)
	if err != nil {
		return nil, err
	}
	if res != nil {
		if fl == nil {
			return res, nil
		}
		return idx.await(ctx, fl, up.Filename)
	}

	n, err := idx.process(ctx, doc, up.Content)
	if err != nil {
		return &Result{DocumentID: doc.ID, Filename: doc.Filename, Status: models.StatusFailed}, err
	}
	return &Result{DocumentID: doc.ID, Filename: doc.Filename, Status: models.StatusReady, ChunkCount: n}, nil
}

// Submit validates and registers the upload, then runs the pipeline in the
// background. The returned result is processing unless the upload was deduplicated.
// Background work is bounded by the configured worker count and timeout and
// outlives ctx's cancellation.
func (idx *Indexer) Submit(ctx context.Context, up Upload) (*Result, error) {
	doc, res, _, err := idx.admit(ctx, up)
	if err != nil {
		return nil, err
	}
	if res != nil {
		return res, nil
	}

	bg := context.WithoutCancel(ctx)
	idx.wg.Add(1)
	go func() {
		defer idx.wg.Done()
		idx.sem <- struct{}{}
		defer func() { <-idx.sem }()

		runCtx, cancel := context.WithTimeout(bg, idx.cfg.Timeout)
		defer cancel()
		_, _ = idx.process(runCtx, doc, up.Content)
	}()
	return &Result{DocumentID: doc.ID, Filename: doc.Filename, Status: models.StatusProcessing}, nil
}

// Wait blocks until every background ingestion has finished.
func (idx *Indexer) Wait() {
	idx.wg.Wait()
}

// admit validates an upload and either resolves it to an existing document
// (res != nil, fl set when that document is still in flight) or registers a
// new processing document.
func (idx *Indexer) admit(ctx context.Context, up Upload) (doc *models.Document, res *Result, fl *flight, err error) {
	ext, contentType, err := idx.extractor.Check(up.Filename, up.Content)
	if err != nil {
		return nil, nil, nil, err
	}
	hash := fileid.ContentHash(up.Content)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if id, ok, err := idx.store.ExistsByContentHash(ctx, hash); err != nil {
		return nil, nil, nil, fmt.Errorf("dedup lookup: %w", err)
	} else if ok {
		idx.logger.Info("duplicate upload", zap.String("doc_id", id), zap.String("filename", up.Filename))
		r, err := idx.describe(ctx, id, up.Filename, true)
		return nil, r, nil, err
	}
	if f, ok := idx.inflight[hash]; ok {
		idx.logger.Info("upload joins ingestion in flight", zap.String("doc_id", f.id), zap.String("filename", up.Filename))
		return nil, &Result{DocumentID: f.id, Filename: up.Filename, Status: models.StatusProcessing, Deduplicated: true}, f, nil
	}

	now := time.Now().UTC()
	doc = &models.Document{
		ID:             fileid.NewDocID(),
		Filename:       filepath.Base(up.Filename),
		ContentType:    contentType,
		SizeBytes:      int64(len(up.Content)),
		ContentHash:    hash,
		Status:         models.StatusProcessing,
		Stage:          models.StageReceived,
		EmbeddingModel: idx.cfg.EmbeddingModel,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := idx.store.Begin(ctx, doc); err != nil {
		return nil, nil, nil, err
	}
	idx.inflight[hash] = &flight{id: doc.ID, done: make(chan struct{})}
	idx.logger.Debug("document received",
		zap.String("doc_id", doc.ID),
		zap.String("filename", doc.Filename),
		zap.String("ext", ext),
		zap.Int64("bytes", doc.SizeBytes))
	return doc, nil, nil, nil
}

// await waits for the in-flight ingestion fl and reports its outcome. A failed
// ingestion is returned as its recorded error, never as a duplicate.
func (idx *Indexer) await(ctx context.Context, fl *flight, filename string) (*Result, error) {
	select {
	case <-fl.done:
	case <-ctx.Done():
		return nil, apperr.Wrap(apperr.KindTimeout, "indexer.Ingest", ctx.Err(), "waiting for document %s", fl.id)
	}
	doc, err := idx.store.Describe(ctx, fl.id)
	if err != nil {
		return nil, err
	}
	if doc.Status != models.StatusReady {
		res := &Result{DocumentID: doc.ID, Filename: filename, Status: doc.Status}
		kind, detail := apperr.KindInternal, "ingestion did not complete"
		if doc.Error != nil {
			kind, detail = doc.Error.Kind, doc.Error.Detail
		}
		return res, apperr.E(kind, "indexer.Ingest", "%s", detail)
	}
	return &Result{
		DocumentID:   doc.ID,
		Filename:     filename,
		Status:       doc.Status,
		ChunkCount:   doc.ChunkCount,
		Deduplicated: true,
	}, nil
}

func (idx *Indexer) describe(ctx context.Context, id, filename string, dedup bool) (*Result, error) {
	doc, err := idx.store.Describe(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Result{
		DocumentID:   doc.ID,
		Filename:     filename,
		Status:       doc.Status,
		ChunkCount:   doc.ChunkCount,
		Deduplicated: dedup,
	}, nil
}

// process runs every stage for doc and records a failure on the first error.
// It returns the number of published chunks.
func (idx *Indexer) process(ctx context.Context, doc *models.Document, content []byte) (n int, err error) {
	start := time.Now()
	defer func() {
		// Waiters read the outcome once released, so record it first.
		defer idx.release(doc.ContentHash)
		if r := recover(); r != nil {
			err = apperr.E(apperr.KindInternal, "indexer.process", "panic: %v", r)
		}
		if err != nil {
			idx.fail(ctx, doc.ID, err)
			return
		}
		idx.logger.Info("document ready",
			zap.String("doc_id", doc.ID),
			zap.String("filename", doc.Filename),
			zap.Int("chunks", n),
			zap.Duration("took", time.Since(start)))
	}()

	if err := idx.stage(ctx, doc.ID, models.StageExtracting, progressExtracting); err != nil {
		return 0, err
	}
	x, err := idx.extractor.ExtractBytes(content, filepath.Ext(doc.Filename))
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(x.Text) == "" {
		return 0, apperr.E(apperr.KindEmptyDocument, "indexer.extract",
			"no text could be extracted from %s; scanned or image-only files are not supported", doc.Filename)
	}

	if err := idx.stage(ctx, doc.ID, models.StageChunking, progressChunking); err != nil {
		return 0, err
	}
	pieces := idx.chunker.Chunk(x.Text)
	if len(pieces) == 0 {
		return 0, apperr.E(apperr.KindEmptyDocument, "indexer.chunk", "%s produced no chunks", doc.Filename)
	}
	last := pieces[len(pieces)-1]
	if err := idx.store.SetDetails(ctx, doc.ID, x.PageCount(), last.StartToken+last.TokenCount); err != nil {
		return 0, err
	}

	if err := idx.stage(ctx, doc.ID, models.StageEmbedding, progressEmbedStart); err != nil {
		return 0, err
	}
	vectors, err := idx.embed(ctx, doc.ID, pieces)
	if err != nil {
		return 0, err
	}

	chunks := make([]models.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = models.Chunk{
			Index:      p.Index,
			StartToken: p.StartToken,
			TokenCount: p.TokenCount,
			Page:       x.PageAt(p.Offset),
			Text:       p.Text,
			Embedding:  vectors[i],
		}
	}
	if err := idx.store.Put(ctx, doc.ID, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

func (idx *Indexer) stage(ctx context.Context, id string, stage models.Stage, progress float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	idx.logger.Debug("ingestion stage", zap.String("doc_id", id), zap.String("stage", string(stage)))
	return idx.store.UpdateProgress(ctx, id, stage, progress)
}

// embed embeds the chunks in groups, advancing progress after each group.
func (idx *Indexer) embed(ctx context.Context, id string, pieces []Piece) ([][]float32, error) {
	out := make([][]float32, 0, len(pieces))
	group := idx.cfg.ProgressGroup
	for lo := 0; lo < len(pieces); lo += group {
		hi := min(lo+group, len(pieces))
		texts := make([]string, hi-lo)
		for i, p := range pieces[lo:hi] {
			texts[i] = p.Text
		}
		vecs, err := idx.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(texts) {
			return nil, apperr.E(apperr.KindProvider, "indexer.embed", "got %d embeddings for %d chunks", len(vecs), len(texts))
		}
		out = append(out, vecs...)
		progress := progressEmbedStart + (progressEmbedEnd-progressEmbedStart)*float64(hi)/float64(len(pieces))
		if err := idx.store.UpdateProgress(ctx, id, models.StageEmbedding, progress); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// fail records err on the document. It runs even after ctx is cancelled.
func (idx *Indexer) fail(ctx context.Context, id string, err error) {
	kind, detail := failure(err)
	idx.logger.Warn("ingestion failed",
		zap.String("doc_id", id),
		zap.String("kind", string(kind)),
		zap.Error(err))
	if ferr := idx.store.Fail(context.WithoutCancel(ctx), id, kind, detail); ferr != nil {
		idx.logger.Error("recording ingestion failure", zap.String("doc_id", id), zap.Error(ferr))
	}
}

// failure maps err to the kind and detail stored on a failed document.
func failure(err error) (apperr.Kind, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.KindTimeout, "ingestion timed out"
	case errors.Is(err, context.Canceled):
		return apperr.KindInterrupted, "ingestion was cancelled"
	}
	if e, ok := apperr.As(err); ok {
		detail := e.Detail
		if detail == "" {
			detail = err.Error()
		}
		if e.Provider != "" && e.StatusCode != 0 {
			detail = fmt.Sprintf("%s (%s %d)", detail, e.Provider, e.StatusCode)
		}
		return e.Kind, detail
	}
	return apperr.KindInternal, err.Error()
}

func (idx *Indexer) release(hash string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if f, ok := idx.inflight[hash]; ok {
		delete(idx.inflight, hash)
		close(f.done)
	}
}

// IngestFile reads a file from path and ingests it synchronously.
func (idx *Indexer) IngestFile(ctx context.Context, path string) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, apperr.InvalidArgument("indexer.IngestFile", "not a regular file: %s", path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	idx.logger.Debug("indexer ingesting file", zap.String("path", path))
	return idx.Ingest(ctx, Upload{Filename: filepath.Base(path), Content: content})
}

// IngestDirectory walks dir recursively and ingests each regular file whose
// extension the extractor accepts. A failed file does not stop the walk; the
// returned error joins every failure.
func (idx *Indexer) IngestDirectory(ctx context.Context, dir string) ([]*Result, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, apperr.InvalidArgument("indexer.IngestDirectory", "not a directory: %s", dir)
	}
	allowed := idx.extractor.Extensions()
	var (
		results []*Result
		errs    []error
	)
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !extensionAllowed(filepath.Ext(path), allowed) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := idx.IngestFile(ctx, path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			return nil
		}
		results = append(results, res)
		return nil
	})
	if err != nil {
		errs = append(errs, err)
	}
	return results, errors.Join(errs...)
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
