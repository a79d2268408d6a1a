// Package vector stores embedded documents and answers exact cosine similarity
// queries scoped to a single document.
package vector

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/apexneural-anniesiri/doc-qa-engine/internal/apperr"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/cache"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/models"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/storage"
	"github.com/apexneural-anniesiri/doc-qa-engine/pkg/utils"
)

// DefaultCacheSize is the number of decoded ready documents kept in memory.
const DefaultCacheSize = 32

// Store owns all document records. Writes to one document exclude searches of
// that document; operations on different documents never block each other.
type Store struct {
	storage   storage.Storage
	locks     *keyedLocks
	cacheSize int
	cache     *cache.LRU[string, *models.Document]
	logger    *zap.Logger

	// claim serializes publishes until the dimension is known.
	claim sync.Mutex

	mu     sync.RWMutex
	meta   map[string]*models.Document // id -> record without chunks
	hashes map[string]string           // content hash -> id of a ready document
	broken map[string]error            // ids whose records failed validation
	dims   int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = utils.OrNop(l) }
}

// WithCacheSize sets how many ready documents stay decoded in memory; 0 disables the cache.
func WithCacheSize(n int) Option {
	return func(s *Store) { s.cacheSize = n }
}

// WithDimensions fixes the vector dimension instead of learning it from the first document.
func WithDimensions(d int) Option {
	return func(s *Store) {
		if d > 0 {
			s.dims = d
		}
	}
}

// Open builds a store over st and indexes the metadata of every persisted record.
// Records that fail validation stay listed as broken and report
// apperr.ErrStorageIntegrity on access.
func Open(ctx context.Context, st storage.Storage, opts ...Option) (*Store, error) {
	s := &Store{
		storage:   st,
		locks:     newKeyedLocks(),
		cacheSize: DefaultCacheSize,
		logger:    zap.NewNop(),
		meta:      make(map[string]*models.Document),
		hashes:    make(map[string]string),
		broken:    make(map[string]error),
	}
	for _, o := range opts {
		o(s)
	}
	s.cache = cache.NewLRU[string, *models.Document](s.cacheSize)
	if err := s.loadIndex(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadIndex(ctx context.Context) error {
	ids, err := s.storage.IDs(ctx)
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}
	var ready []*models.Document
	for _, id := range ids {
		doc, err := s.storage.LoadMeta(ctx, id)
		if err != nil {
			if apperr.KindOf(err) != apperr.KindStorageIntegrity {
				return fmt.Errorf("load record %s: %w", id, err)
			}
			s.logger.Warn("skipping unreadable record", zap.String("doc_id", id), zap.Error(err))
			s.broken[id] = err
			continue
		}
		if doc.Status == models.StatusReady {
			ready = append(ready, doc)
			continue
		}
		s.meta[id] = doc
	}

	slices.SortFunc(ready, func(a, b *models.Document) int { return a.CreatedAt.Compare(b.CreatedAt) })
	for _, doc := range ready {
		if s.dims == 0 {
			s.dims = doc.Dimensions
		}
		if doc.Dimensions != s.dims {
			err := apperr.E(apperr.KindStorageIntegrity, "vector.Open",
				"document %s has %d dimensions, store uses %d", doc.ID, doc.Dimensions, s.dims)
			s.logger.Warn("skipping record with foreign dimension", zap.String("doc_id", doc.ID), zap.Error(err))
			s.broken[doc.ID] = err
			continue
		}
		s.meta[doc.ID] = doc
		s.hashes[doc.ContentHash] = doc.ID
	}
	s.logger.Info("vector store opened",
		zap.Int("documents", len(s.meta)),
		zap.Int("broken", len(s.broken)),
		zap.Int("dimensions", s.dims))
	return nil
}

// lookup returns a copy of the metadata of id.
func (s *Store) lookup(op, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err, ok := s.broken[id]; ok {
		return nil, err
	}
	doc, ok := s.meta[id]
	if !ok {
		return nil, apperr.NotFound(op, id)
	}
	return doc.Meta(), nil
}

func (s *Store) remember(doc *models.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.broken, doc.ID)
	s.meta[doc.ID] = doc.Meta()
	if doc.Status == models.StatusReady {
		s.hashes[doc.ContentHash] = doc.ID
	}
}

func (s *Store) forget(id string) {
	s.mu.Lock()
	if doc, ok := s.meta[id]; ok && s.hashes[doc.ContentHash] == id {
		delete(s.hashes, doc.ContentHash)
	}
	delete(s.meta, id)
	delete(s.broken, id)
	s.mu.Unlock()
	s.cache.Remove(id)
}

// present re-checks that the record of id still exists on disk; a record removed
// behind the store's back is forgotten so it can be ingested again.
func (s *Store) present(ctx context.Context, op, id string) error {
	ok, err := s.storage.Exists(ctx, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		s.logger.Info("record removed externally", zap.String("doc_id", id))
		s.forget(id)
		return apperr.NotFound(op, id)
	}
	return nil
}

// Begin persists a new processing record.
func (s *Store) Begin(ctx context.Context, doc *models.Document) error {
	const op = "vector.Begin"
	if doc.ID == "" || doc.Status != models.StatusProcessing {
		return apperr.InvalidArgument(op, "new documents need an id and status processing")
	}
	unlock := s.locks.Lock(doc.ID)
	defer unlock()

	s.mu.RLock()
	_, exists := s.meta[doc.ID]
	s.mu.RUnlock()
	if exists {
		return apperr.InvalidArgument(op, "document %s already exists", doc.ID)
	}
	rec := doc.Meta()
	if err := s.storage.Save(ctx, rec); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.remember(rec)
	return nil
}

// mutate applies fn to the current record of id and persists the result.
func (s *Store) mutate(ctx context.Context, op, id string, fn func(*models.Document) error) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	doc, err := s.lookup(op, id)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	doc.UpdatedAt = time.Now().UTC()
	if err := s.storage.Save(ctx, doc); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.remember(doc)
	return nil
}

// UpdateProgress records the stage and progress of a processing document.
// Progress never moves backwards.
func (s *Store) UpdateProgress(ctx context.Context, id string, stage models.Stage, progress float64) error {
	const op = "vector.UpdateProgress"
	return s.mutate(ctx, op, id, func(doc *models.Document) error {
		if doc.Status != models.StatusProcessing {
			return apperr.InvalidArgument(op, "document %s is %s", id, doc.Status)
		}
		doc.Stage = stage
		doc.Progress = max(doc.Progress, min(progress, 1))
		return nil
	})
}

// SetDetails records metadata learned during ingestion (page and token counts).
func (s *Store) SetDetails(ctx context.Context, id string, pageCount, tokenCount int) error {
	return s.mutate(ctx, "vector.SetDetails", id, func(doc *models.Document) error {
		doc.PageCount = pageCount
		doc.TokenCount = tokenCount
		return nil
	})
}

// Fail marks a processing document as failed. Ready documents cannot fail.
func (s *Store) Fail(ctx context.Context, id string, kind apperr.Kind, detail string) error {
	const op = "vector.Fail"
	return s.mutate(ctx, op, id, func(doc *models.Document) error {
		if doc.Status == models.StatusReady {
			return apperr.InvalidArgument(op, "document %s is already ready", id)
		}
		doc.Status = models.StatusFailed
		doc.Stage = models.StageFailed
		doc.Error = &models.Failure{Kind: kind, Detail: detail}
		return nil
	})
}

// Put publishes all chunks of a processing document and marks it ready. The
// record is written in one storage operation; searches see either nothing or
// the complete document.
func (s *Store) Put(ctx context.Context, id string, chunks []models.Chunk) error {
	const op = "vector.Put"
	if len(chunks) == 0 {
		return apperr.InvalidArgument(op, "document %s has no chunks", id)
	}
	dims := len(chunks[0].Embedding)
	for i, c := range chunks {
		if c.Index != i {
			return apperr.InvalidArgument(op, "chunk at position %d has index %d", i, c.Index)
		}
		if len(c.Embedding) == 0 || len(c.Embedding) != dims {
			return apperr.E(apperr.KindStorageIntegrity, op, "chunk %d has %d dimensions, expected %d", i, len(c.Embedding), dims)
		}
	}
	if s.Dimensions() == 0 {
		// The first successful publish fixes the dimension.
		s.claim.Lock()
		defer s.claim.Unlock()
	}
	if err := s.checkDims(op, dims); err != nil {
		return err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	doc, err := s.lookup(op, id)
	if err != nil {
		return err
	}
	if doc.Status == models.StatusReady {
		return apperr.InvalidArgument(op, "document %s is already ready", id)
	}
	doc.Chunks = slices.Clone(chunks)
	doc.Status = models.StatusReady
	doc.Stage = models.StageReady
	doc.Progress = 1
	doc.ChunkCount = len(chunks)
	doc.Dimensions = dims
	doc.Error = nil
	doc.UpdatedAt = time.Now().UTC()
	if err := s.storage.Save(ctx, doc); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.claimDims(dims)
	s.remember(doc)
	s.cache.Set(id, doc)
	s.logger.Info("document published",
		zap.String("doc_id", id),
		zap.Int("chunks", len(chunks)),
		zap.Int("dimensions", dims))
	return nil
}

// checkDims rejects vectors whose dimension differs from the store's.
func (s *Store) checkDims(op string, dims int) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dims != 0 && s.dims != dims {
		return apperr.E(apperr.KindStorageIntegrity, op, "vectors have %d dimensions, store uses %d", dims, s.dims)
	}
	return nil
}

// claimDims fixes the store dimension on first use.
func (s *Store) claimDims(dims int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dims == 0 {
		s.dims = dims
	}
}

// Dimensions returns the store's vector dimension, or 0 before the first document.
func (s *Store) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dims
}

// Describe returns the metadata of id without chunks.
func (s *Store) Describe(ctx context.Context, id string) (*models.Document, error) {
	const op = "vector.Describe"
	doc, err := s.lookup(op, id)
	if err != nil {
		return nil, err
	}
	if err := s.present(ctx, op, id); err != nil {
		return nil, err
	}
	return doc, nil
}

// GetStatus returns the lifecycle status of id.
func (s *Store) GetStatus(ctx context.Context, id string) (models.Status, error) {
	doc, err := s.Describe(ctx, id)
	if err != nil {
		return "", err
	}
	return doc.Status, nil
}

// Search returns the topK chunks of a ready document most similar to query.
// topK larger than the chunk count returns every chunk.
func (s *Store) Search(ctx context.Context, id string, query []float32, topK int) ([]models.SearchResult, error) {
	const op = "vector.Search"
	if topK <= 0 {
		return nil, apperr.InvalidArgument(op, "top_k must be positive, got %d", topK)
	}
	if len(query) == 0 {
		return nil, apperr.InvalidArgument(op, "query vector is empty")
	}
	unlock := s.locks.RLock(id)
	defer unlock()

	doc, err := s.loadReady(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if len(query) != doc.Dimensions {
		return nil, apperr.E(apperr.KindStorageIntegrity, op,
			"query has %d dimensions, document %s has %d", len(query), id, doc.Dimensions)
	}
	return Rank(query, doc.Chunks, topK), nil
}

func (s *Store) loadReady(ctx context.Context, op, id string) (*models.Document, error) {
	meta, err := s.lookup(op, id)
	if err != nil {
		return nil, err
	}
	if meta.Status != models.StatusReady {
		return nil, apperr.NotFound(op, id)
	}
	if doc, ok := s.cache.Get(id); ok {
		return doc, nil
	}
	doc, err := s.storage.Load(ctx, id)
	switch apperr.KindOf(err) {
	case "":
	case apperr.KindNotFound:
		s.forget(id)
		return nil, err
	case apperr.KindStorageIntegrity:
		s.mu.Lock()
		s.broken[id] = err
		s.mu.Unlock()
		s.logger.Error("record failed validation", zap.String("doc_id", id), zap.Error(err))
		return nil, err
	default:
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.cache.Set(id, doc)
	return doc, nil
}

// ExistsByContentHash returns the id of a ready document with the given content hash.
func (s *Store) ExistsByContentHash(ctx context.Context, hash string) (string, bool, error) {
	s.mu.RLock()
	id, ok := s.hashes[hash]
	s.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if err := s.present(ctx, "vector.ExistsByContentHash", id); err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return "", false, nil
		}
		return "", false, err
	}
	return id, true, nil
}

// Delete removes a document and all of its chunks.
func (s *Store) Delete(ctx context.Context, id string) error {
	const op = "vector.Delete"
	unlock := s.locks.Lock(id)
	defer unlock()

	s.mu.RLock()
	_, known := s.meta[id]
	_, isBroken := s.broken[id]
	s.mu.RUnlock()
	if !known && !isBroken {
		return apperr.NotFound(op, id)
	}
	if err := s.storage.Delete(ctx, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.forget(id)
	s.logger.Info("document deleted", zap.String("doc_id", id))
	return nil
}

// List returns the metadata of every document, newest first.
func (s *Store) List(ctx context.Context) []*models.Document {
	s.mu.RLock()
	out := make([]*models.Document, 0, len(s.meta))
	for _, doc := range s.meta {
		out = append(out, doc.Meta())
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b *models.Document) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// RecoverInterrupted fails every record still processing, which after a
// restart means its ingestion died with the previous process.
func (s *Store) RecoverInterrupted(ctx context.Context) (int, error) {
	var stale []string
	s.mu.RLock()
	for id, doc := range s.meta {
		if doc.Status == models.StatusProcessing {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range stale {
		if err := s.Fail(ctx, id, apperr.KindInterrupted, "ingestion was interrupted; upload the document again"); err != nil {
			return 0, err
		}
		s.logger.Warn("marked interrupted ingestion as failed", zap.String("doc_id", id))
	}
	return len(stale), nil
}

// Stats summarizes the store.
type Stats struct {
	Documents  int   `json:"documents"`
	Ready      int   `json:"ready"`
	Processing int   `json:"processing"`
	Failed     int   `json:"failed"`
	Broken     int   `json:"broken"`
	Dimensions int   `json:"dimensions"`
	Bytes      int64 `json:"bytes"`
}

// Stats counts documents by status and measures the backend's disk usage.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	s.mu.RLock()
	for _, doc := range s.meta {
		switch doc.Status {
		case models.StatusReady:
			st.Ready++
		case models.StatusProcessing:
			st.Processing++
		case models.StatusFailed:
			st.Failed++
		}
	}
	st.Documents = len(s.meta)
	st.Broken = len(s.broken)
	st.Dimensions = s.dims
	s.mu.RUnlock()

	n, err := s.storage.UsageBytes()
	if err != nil {
		return st, err
	}
	st.Bytes = n
	return st, nil
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.storage.Close()
}
