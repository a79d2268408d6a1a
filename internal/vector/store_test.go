package vector

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexneural-anniesiri/doc-qa-engine/internal/apperr"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/models"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/storage"
)

func openStore(t *testing.T, backend string, opts ...Option) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := storage.New(backend, dir)
	require.NoError(t, err)
	s, err := Open(context.Background(), st, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, dir
}

func begin(t *testing.T, s *Store, id, hash string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, s.Begin(context.Background(), &models.Document{
		ID: id, Filename: id + ".txt", ContentHash: hash,
		Status: models.StatusProcessing, Stage: models.StageReceived,
		CreatedAt: now, UpdatedAt: now,
	}))
}

func chunks(vecs ...[]float32) []models.Chunk {
	out := make([]models.Chunk, len(vecs))
	for i, v := range vecs {
		out[i] = models.Chunk{Index: i, TokenCount: 3, Text: "chunk", Embedding: v}
	}
	return out
}

func TestStore_lifecycle(t *testing.T) {
	for _, backend := range []string{storage.BackendFile, storage.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			s, _ := openStore(t, backend)

			begin(t, s, "d1", "sha256:aa")
			status, err := s.GetStatus(ctx, "d1")
			require.NoError(t, err)
			assert.Equal(t, models.StatusProcessing, status)

			_, err = s.Search(ctx, "d1", []float32{1, 0}, 1)
			assert.ErrorIs(t, err, apperr.ErrNotFound, "processing documents are not searchable")
			_, ok, err := s.ExistsByContentHash(ctx, "sha256:aa")
			require.NoError(t, err)
			assert.False(t, ok, "only ready documents dedup")

			require.NoError(t, s.UpdateProgress(ctx, "d1", models.StageEmbedding, 0.5))
			require.NoError(t, s.UpdateProgress(ctx, "d1", models.StageEmbedding, 0.3))
			doc, err := s.Describe(ctx, "d1")
			require.NoError(t, err)
			assert.Equal(t, 0.5, doc.Progress, "progress is monotonic")

			require.NoError(t, s.Put(ctx, "d1", chunks([]float32{1, 0}, []float32{0, 1}, []float32{1, 1})))
			doc, err = s.Describe(ctx, "d1")
			require.NoError(t, err)
			assert.Equal(t, models.StatusReady, doc.Status)
			assert.Equal(t, 3, doc.ChunkCount)
			assert.Equal(t, 2, doc.Dimensions)
			assert.Equal(t, 2, s.Dimensions())

			id, ok, err := s.ExistsByContentHash(ctx, "sha256:aa")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "d1", id)

			res, err := s.Search(ctx, "d1", []float32{1, 0}, 2)
			require.NoError(t, err)
			require.Len(t, res, 2)
			assert.Equal(t, 0, res[0].Chunk.Index)
			assert.Equal(t, 1, res[0].Rank)
			assert.InDelta(t, 1.0, res[0].Score, 1e-6)
			assert.Equal(t, 2, res[1].Chunk.Index)

			require.NoError(t, s.Delete(ctx, "d1"))
			_, err = s.GetStatus(ctx, "d1")
			assert.ErrorIs(t, err, apperr.ErrNotFound)
			_, ok, _ = s.ExistsByContentHash(ctx, "sha256:aa")
			assert.False(t, ok)
			assert.ErrorIs(t, s.Delete(ctx, "d1"), apperr.ErrNotFound)
		})
	}
}

func TestStore_searchArguments(t *testing.T) {
	ctx := context.Background()
	s, _ := openStore(t, storage.BackendFile)
	begin(t, s, "d1", "h1")
	require.NoError(t, s.Put(ctx, "d1", chunks([]float32{1, 0}, []float32{0, 1})))

	_, err := s.Search(ctx, "d1", []float32{1, 0}, 0)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = s.Search(ctx, "d1", []float32{1, 0}, -1)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	res, err := s.Search(ctx, "d1", []float32{1, 0}, 50)
	require.NoError(t, err)
	assert.Len(t, res, 2, "top_k is clamped to the chunk count")

	_, err = s.Search(ctx, "unknown", []float32{1, 0}, 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = s.Search(ctx, "d1", []float32{1, 0, 0}, 1)
	assert.ErrorIs(t, err, apperr.ErrStorageIntegrity)
}

func TestStore_dimensionMismatchOnPut(t *testing.T) {
	ctx := context.Background()
	s, _ := openStore(t, storage.BackendFile, WithDimensions(3))
	begin(t, s, "d1", "h1")
	err := s.Put(ctx, "d1", chunks([]float32{1, 0}))
	assert.ErrorIs(t, err, apperr.ErrStorageIntegrity)

	err = s.Put(ctx, "d1", chunks([]float32{1, 0, 0}, []float32{1, 0}))
	assert.ErrorIs(t, err, apperr.ErrStorageIntegrity)

	assert.ErrorIs(t, s.Put(ctx, "d1", nil), apperr.ErrInvalidArgument)
}

func TestStore_failedPutLeavesDimensionOpen(t *testing.T) {
	ctx := context.Background()
	s, _ := openStore(t, storage.BackendFile)

	err := s.Put(ctx, "missing", chunks([]float32{1, 0}))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Zero(t, s.Dimensions())

	begin(t, s, "d1", "h1")
	require.NoError(t, s.Put(ctx, "d1", chunks([]float32{1, 0, 0})))
	assert.Equal(t, 3, s.Dimensions())

	begin(t, s, "d2", "h2")
	err = s.Put(ctx, "d2", chunks([]float32{1, 0}))
	assert.ErrorIs(t, err, apperr.ErrStorageIntegrity)
}

func TestStore_failKeepsKind(t *testing.T) {
	ctx := context.Background()
	s, _ := openStore(t, storage.BackendFile)
	begin(t, s, "d1", "h1")
	require.NoError(t, s.Fail(ctx, "d1", apperr.KindProvider, "upstream 503"))

	doc, err := s.Describe(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, doc.Status)
	require.NotNil(t, doc.Error)
	assert.Equal(t, apperr.KindProvider, doc.Error.Kind)
	assert.ErrorIs(t, s.UpdateProgress(ctx, "d1", models.StageEmbedding, 0.9), apperr.ErrInvalidArgument)
}

func TestStore_reopenAndRecover(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st, err := storage.NewFileStorage(dir)
	require.NoError(t, err)
	s, err := Open(ctx, st)
	require.NoError(t, err)

	begin(t, s, "ready", "h-ready")
	require.NoError(t, s.Put(ctx, "ready", chunks([]float32{1, 2, 3})))
	begin(t, s, "stale", "h-stale")
	require.NoError(t, s.Close())

	st, err = storage.NewFileStorage(dir)
	require.NoError(t, err)
	s, err = Open(ctx, st)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 3, s.Dimensions(), "dimension learned from persisted documents")
	id, ok, err := s.ExistsByContentHash(ctx, "h-ready")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ready", id)

	n, err := s.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	doc, err := s.Describe(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, doc.Status)
	assert.Equal(t, apperr.KindInterrupted, doc.Error.Kind)
}

func TestStore_brokenRecordIsolated(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc_bad.json"), []byte("{not json"), 0o644))

	st, err := storage.NewFileStorage(dir)
	require.NoError(t, err)
	s, err := Open(ctx, st)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.GetStatus(ctx, "bad")
	assert.ErrorIs(t, err, apperr.ErrStorageIntegrity)

	begin(t, s, "good", "h")
	require.NoError(t, s.Put(ctx, "good", chunks([]float32{1})))
	_, err = s.Search(ctx, "good", []float32{1}, 1)
	assert.NoError(t, err)

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Broken)
	assert.Equal(t, 1, stats.Ready)

	require.NoError(t, s.Delete(ctx, "bad"), "broken records can be deleted")
}

func TestStore_handDeletedFileForgotten(t *testing.T) {
	ctx := context.Background()
	s, dir := openStore(t, storage.BackendFile)
	begin(t, s, "d1", "h1")
	require.NoError(t, s.Put(ctx, "d1", chunks([]float32{1, 0})))

	require.NoError(t, os.Remove(filepath.Join(dir, "doc_d1.json")))
	_, ok, err := s.ExistsByContentHash(ctx, "h1")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = s.GetStatus(ctx, "d1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStore_listNewestFirst(t *testing.T) {
	ctx := context.Background()
	s, _ := openStore(t, storage.BackendFile)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Begin(ctx, &models.Document{
			ID: id, ContentHash: id, Status: models.StatusProcessing,
			CreatedAt: time.Date(2024, 1, i+1, 0, 0, 0, 0, time.UTC),
		}))
	}
	var ids []string
	for _, d := range s.List(ctx) {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"c", "b", "a"}, ids)
}

func TestStore_concurrentDocuments(t *testing.T) {
	ctx := context.Background()
	s, _ := openStore(t, storage.BackendFile)
	begin(t, s, "base", "h-base")
	require.NoError(t, s.Put(ctx, "base", chunks([]float32{1, 0}, []float32{0, 1})))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		id := string(rune('a' + i))
		wg.Add(2)
		go func() {
			defer wg.Done()
			begin(t, s, id, "h-"+id)
			assert.NoError(t, s.Put(ctx, id, chunks([]float32{0, 1})))
		}()
		go func() {
			defer wg.Done()
			_, err := s.Search(ctx, "base", []float32{1, 0}, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Len(t, s.List(ctx), 9)
	assert.Zero(t, s.locks.size(), "lock entries are released")
}
