// Package models defines core data structures for documents, chunks, and answers.
package models

import (
	"time"

	"github.com/apexneural-anniesiri/doc-qa-engine/internal/apperr"
)

// Status is the coarse lifecycle state of a document.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusReady, StatusFailed:
		return true
	}
	return false
}

// Stage is the fine-grained ingestion step a document is in.
type Stage string

const (
	StageReceived   Stage = "received"
	StageExtracting Stage = "extracting"
	StageChunking   Stage = "chunking"
	StageEmbedding  Stage = "embedding"
	StageReady      Stage = "ready"
	StageFailed     Stage = "failed"
)

// Failure records why ingestion of a document stopped.
type Failure struct {
	Kind   apperr.Kind `json:"kind"`
	Detail string      `json:"detail"`
}

// Document is one uploaded source and, once ready, all of its chunks.
type Document struct {
	ID             string    `json:"id"`
	Filename       string    `json:"filename"`
	ContentType    string    `json:"content_type,omitempty"`
	SizeBytes      int64     `json:"size_bytes"`
	ContentHash    string    `json:"content_hash"`
	PageCount      int       `json:"page_count,omitempty"`
	Status         Status    `json:"status"`
	Stage          Stage     `json:"stage"`
	Progress       float64   `json:"progress"`
	ChunkCount     int       `json:"chunk_count"`
	TokenCount     int       `json:"token_count"`
	Dimensions     int       `json:"dimensions,omitempty"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`
	Error          *Failure  `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Chunks         []Chunk   `json:"chunks,omitempty"`
}

// Meta returns a copy of d without chunks.
func (d *Document) Meta() *Document {
	cp := *d
	cp.Chunks = nil
	if d.Error != nil {
		f := *d.Error
		cp.Error = &f
	}
	return &cp
}

// Chunk is a contiguous token window of a document's text.
type Chunk struct {
	Index      int       `json:"index"`
	StartToken int       `json:"start_token"`
	TokenCount int       `json:"token_count"`
	Page       int       `json:"page,omitempty"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"embedding"`
}

// DocumentView is the public shape of a document's metadata.
type DocumentView struct {
	DocID       string    `json:"doc_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type,omitempty"`
	SizeBytes   int64     `json:"size_bytes"`
	Status      Status    `json:"status"`
	Stage       Stage     `json:"stage"`
	Progress    float64   `json:"progress"`
	ChunkCount  int       `json:"chunk_count"`
	PageCount   int       `json:"page_count,omitempty"`
	TokenCount  int       `json:"token_count,omitempty"`
	Error       *Failure  `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// View returns the public metadata of d.
func (d *Document) View() DocumentView {
	v := DocumentView{
		DocID:       d.ID,
		Filename:    d.Filename,
		ContentType: d.ContentType,
		SizeBytes:   d.SizeBytes,
		Status:      d.Status,
		Stage:       d.Stage,
		Progress:    d.Progress,
		ChunkCount:  d.ChunkCount,
		PageCount:   d.PageCount,
		TokenCount:  d.TokenCount,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	if d.Error != nil {
		f := *d.Error
		v.Error = &f
	}
	return v
}
