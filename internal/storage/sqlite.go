package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/apexneural-anniesiri/doc-qa-engine/internal/apperr"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/models"
)

// SQLiteStorage implements Storage using SQLite. A document row and its chunk
// rows are always written in one transaction.
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer at a time; WAL keeps reads cheap
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db, path: dbPath}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		content_type TEXT,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		content_hash TEXT NOT NULL,
		page_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		stage TEXT NOT NULL,
		progress REAL NOT NULL DEFAULT 0,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		token_count INTEGER NOT NULL DEFAULT 0,
		dimensions INTEGER NOT NULL DEFAULT 0,
		embedding_model TEXT,
		error_kind TEXT,
		error_detail TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_content_hash ON documents(content_hash);

	CREATE TABLE IF NOT EXISTS document_chunks (
		document_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		start_token INTEGER NOT NULL,
		token_count INTEGER NOT NULL,
		page INTEGER NOT NULL DEFAULT 0,
		content TEXT NOT NULL,
		embedding BLOB NOT NULL,
		PRIMARY KEY (document_id, chunk_index),
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	`
	_, err := db.Exec(schema)
	return err
}

const documentColumns = `id, filename, content_type, size_bytes, content_hash, page_count, status, stage,
	progress, chunk_count, token_count, dimensions, embedding_model, error_kind, error_detail,
	created_at, updated_at`

// Save upserts the document row and replaces its chunks.
func (s *SQLiteStorage) Save(ctx context.Context, doc *models.Document) error {
	if err := checkID("storage.Save", doc.ID); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var errKind, errDetail sql.NullString
	if doc.Error != nil {
		errKind = sql.NullString{String: string(doc.Error.Kind), Valid: true}
		errDetail = sql.NullString{String: doc.Error.Detail, Valid: true}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   filename = excluded.filename, content_type = excluded.content_type,
		   size_bytes = excluded.size_bytes, content_hash = excluded.content_hash,
		   page_count = excluded.page_count, status = excluded.status, stage = excluded.stage,
		   progress = excluded.progress, chunk_count = excluded.chunk_count,
		   token_count = excluded.token_count, dimensions = excluded.dimensions,
		   embedding_model = excluded.embedding_model, error_kind = excluded.error_kind,
		   error_detail = excluded.error_detail, updated_at = excluded.updated_at`,
		doc.ID, doc.Filename, doc.ContentType, doc.SizeBytes, doc.ContentHash, doc.PageCount,
		string(doc.Status), string(doc.Stage), doc.Progress, doc.ChunkCount, doc.TokenCount,
		doc.Dimensions, doc.EmbeddingModel, errKind, errDetail, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save document %s: %w", doc.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("failed to replace chunks of %s: %w", doc.ID, err)
	}
	if len(doc.Chunks) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO document_chunks (document_id, chunk_index, start_token, token_count, page, content, embedding)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, c := range doc.Chunks {
			if _, err := stmt.ExecContext(ctx, doc.ID, c.Index, c.StartToken, c.TokenCount, c.Page, c.Text, float32SliceToBytes(c.Embedding)); err != nil {
				return fmt.Errorf("failed to save chunk %d of %s: %w", c.Index, doc.ID, err)
			}
		}
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		doc                models.Document
		status, stage      string
		contentType, model sql.NullString
		errKind, errDetail sql.NullString
	)
	err := row.Scan(&doc.ID, &doc.Filename, &contentType, &doc.SizeBytes, &doc.ContentHash, &doc.PageCount,
		&status, &stage, &doc.Progress, &doc.ChunkCount, &doc.TokenCount, &doc.Dimensions, &model,
		&errKind, &errDetail, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	doc.Status = models.Status(status)
	doc.Stage = models.Stage(stage)
	doc.ContentType = contentType.String
	doc.EmbeddingModel = model.String
	if errKind.Valid {
		doc.Error = &models.Failure{Kind: apperr.Kind(errKind.String), Detail: errDetail.String}
	}
	return &doc, nil
}

// LoadMeta returns the document row.
func (s *SQLiteStorage) LoadMeta(ctx context.Context, id string) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("storage.LoadMeta", id)
	}
	if err != nil {
		return nil, apperr.Integrity("storage.LoadMeta", err, "document row %s", id)
	}
	return doc, nil
}

// Load returns the document row with its chunks ordered by chunk_index.
func (s *SQLiteStorage) Load(ctx context.Context, id string) (*models.Document, error) {
	doc, err := s.LoadMeta(ctx, id)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_index, start_token, token_count, page, content, embedding
		 FROM document_chunks WHERE document_id = ? ORDER BY chunk_index`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var c models.Chunk
		var blob []byte
		if err := rows.Scan(&c.Index, &c.StartToken, &c.TokenCount, &c.Page, &c.Text, &blob); err != nil {
			return nil, apperr.Integrity("storage.Load", err, "chunk row of %s", id)
		}
		if len(blob)%4 != 0 {
			return nil, apperr.E(apperr.KindStorageIntegrity, "storage.Load", "chunk %d of %s has a truncated vector", c.Index, id)
		}
		c.Embedding = bytesToFloat32Slice(blob)
		doc.Chunks = append(doc.Chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := Validate(doc); err != nil {
		return nil, apperr.Integrity("storage.Load", err, "document %s", id)
	}
	return doc, nil
}

// Exists reports whether a document row is present.
func (s *SQLiteStorage) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE id = ?`, id).Scan(&n)
	return n > 0, err
}

// Delete removes a document and its chunks in one transaction.
func (s *SQLiteStorage) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// IDs returns all document ids.
func (s *SQLiteStorage) IDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM documents ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UsageBytes returns the size of the database and its WAL files.
func (s *SQLiteStorage) UsageBytes() (int64, error) {
	return DiskUsageBytes(s.path, s.path+"-wal", s.path+"-shm")
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
