// Package storage persists document records, each holding a document's metadata
// and, once ready, all of its chunks and vectors.
package storage

import (
	"context"
	"fmt"
	"regexp"

	"github.com/apexneural-anniesiri/doc-qa-engine/internal/apperr"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/models"
)

// Backend names accepted by New.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Storage persists whole document records. Save replaces a record atomically;
// readers never observe a partially written document.
type Storage interface {
	Save(ctx context.Context, doc *models.Document) error
	// Load returns the full record. Missing records are apperr.ErrNotFound,
	// unreadable or inconsistent ones apperr.ErrStorageIntegrity.
	Load(ctx context.Context, id string) (*models.Document, error)
	// LoadMeta returns the record without chunks.
	LoadMeta(ctx context.Context, id string) (*models.Document, error)
	Exists(ctx context.Context, id string) (bool, error)
	// Delete removes the record and its chunks. Deleting a missing record is not an error.
	Delete(ctx context.Context, id string) error
	IDs(ctx context.Context) ([]string, error)
	// UsageBytes reports the on-disk size of the backend.
	UsageBytes() (int64, error)
	Close() error
}

// New opens the named backend rooted at dir.
func New(backend, dir string) (Storage, error) {
	switch backend {
	case BackendFile, "":
		return NewFileStorage(dir)
	case BackendSQLite:
		return NewSQLiteStorage(dir + "/documents.db")
	default:
		return nil, apperr.InvalidArgument("storage.New", "unknown storage backend %q (supported: file, sqlite)", backend)
	}
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

func checkID(op, id string) error {
	if !idPattern.MatchString(id) {
		return apperr.InvalidArgument(op, "invalid document id %q", id)
	}
	return nil
}

// Validate checks the invariants of a persisted record: a known status, and for
// ready records a non-empty contiguous chunk list whose vectors share one dimension.
func Validate(doc *models.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("record has no id")
	}
	if !doc.Status.Valid() {
		return fmt.Errorf("unknown status %q", doc.Status)
	}
	if doc.Status != models.StatusReady {
		return nil
	}
	if len(doc.Chunks) == 0 {
		return fmt.Errorf("ready document has no chunks")
	}
	if doc.ChunkCount != len(doc.Chunks) {
		return fmt.Errorf("chunk_count %d does not match %d stored chunks", doc.ChunkCount, len(doc.Chunks))
	}
	dims := doc.Dimensions
	for i, c := range doc.Chunks {
		if c.Index != i {
			return fmt.Errorf("chunk indexes not contiguous: position %d has index %d", i, c.Index)
		}
		if len(c.Embedding) == 0 {
			return fmt.Errorf("chunk %d has no embedding", i)
		}
		if dims == 0 {
			dims = len(c.Embedding)
		}
		if len(c.Embedding) != dims {
			return fmt.Errorf("chunk %d has %d dimensions, expected %d", i, len(c.Embedding), dims)
		}
	}
	return nil
}
