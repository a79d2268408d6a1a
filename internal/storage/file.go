package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/apexneural-anniesiri/doc-qa-engine/internal/apperr"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/models"
)

const (
	filePrefix = "doc_"
	fileSuffix = ".json"
)

// FileStorage keeps one JSON file per document, named doc_<id>.json.
type FileStorage struct {
	dir string
}

// NewFileStorage creates dir if needed and returns a store rooted there.
func NewFileStorage(dir string) (*FileStorage, error) {
	if dir == "" {
		return nil, apperr.InvalidArgument("storage.NewFileStorage", "storage directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStorage{dir: dir}, nil
}

// Dir returns the storage directory.
func (s *FileStorage) Dir() string { return s.dir }

func (s *FileStorage) path(id string) string {
	return filepath.Join(s.dir, filePrefix+id+fileSuffix)
}

// Save writes doc to a temp file in the same directory, syncs it and renames it
// over the previous record.
func (s *FileStorage) Save(ctx context.Context, doc *models.Document) error {
	if err := checkID("storage.Save", doc.ID); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, "."+filePrefix+doc.ID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	if err := enc.Encode(doc); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode record %s: %w", doc.ID, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync record %s: %w", doc.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close record %s: %w", doc.ID, err)
	}
	if err := os.Rename(tmp.Name(), s.path(doc.ID)); err != nil {
		return fmt.Errorf("publish record %s: %w", doc.ID, err)
	}
	syncDir(s.dir)
	return nil
}

// syncDir makes the rename durable where the platform supports it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

func (s *FileStorage) read(op, id string, v any) error {
	if err := checkID(op, id); err != nil {
		return err
	}
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return apperr.NotFound(op, id)
	}
	if err != nil {
		return fmt.Errorf("read record %s: %w", id, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Integrity(op, err, "record %s is not valid JSON", filePrefix+id+fileSuffix)
	}
	return nil
}

// Load reads and validates the full record.
func (s *FileStorage) Load(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	if err := s.read("storage.Load", id, &doc); err != nil {
		return nil, err
	}
	if doc.ID != id {
		return nil, apperr.E(apperr.KindStorageIntegrity, "storage.Load", "record %s holds document %q", id, doc.ID)
	}
	if err := Validate(&doc); err != nil {
		return nil, apperr.Integrity("storage.Load", err, "record %s", id)
	}
	return &doc, nil
}

// LoadMeta reads the record and drops its chunks.
func (s *FileStorage) LoadMeta(ctx context.Context, id string) (*models.Document, error) {
	doc, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return doc.Meta(), nil
}

// Exists reports whether a record file is present.
func (s *FileStorage) Exists(ctx context.Context, id string) (bool, error) {
	if err := checkID("storage.Exists", id); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Delete removes the record file.
func (s *FileStorage) Delete(ctx context.Context, id string) error {
	if err := checkID("storage.Delete", id); err != nil {
		return err
	}
	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	syncDir(s.dir)
	return nil
}

// IDs lists the ids of all record files.
func (s *FileStorage) IDs(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list storage directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		if idPattern.MatchString(id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// UsageBytes returns the size of the record files.
func (s *FileStorage) UsageBytes() (int64, error) {
	return recordUsageBytes(s.dir)
}

// Close is a no-op for FileStorage.
func (s *FileStorage) Close() error { return nil }
