package indexer

import (
	"strings"

	"github.com/apexneural-anniesiri/doc-qa-engine/internal/apperr"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/embedding"
)

// Piece is one token window of a text.
type Piece struct {
	Index      int
	StartToken int
	TokenCount int
	// Offset is the byte offset of the window start in the decoded token stream.
	Offset int
	Text   string
}

// Chunker splits text into overlapping token windows.
type Chunker struct {
	tok     embedding.Tokenizer
	size    int
	overlap int
}

// NewChunker creates a chunker producing windows of size tokens that share
// overlap tokens with their predecessor.
func NewChunker(tok embedding.Tokenizer, size, overlap int) (*Chunker, error) {
	if err := validateWindow(size, overlap); err != nil {
		return nil, err
	}
	return &Chunker{tok: tok, size: size, overlap: overlap}, nil
}

func validateWindow(size, overlap int) error {
	const op = "indexer.Chunk"
	switch {
	case size <= 0:
		return apperr.InvalidArgument(op, "chunk size must be positive, got %d", size)
	case overlap < 0:
		return apperr.InvalidArgument(op, "chunk overlap must not be negative, got %d", overlap)
	case overlap >= size:
		return apperr.InvalidArgument(op, "chunk overlap %d must be smaller than chunk size %d", overlap, size)
	}
	return nil
}

// Size returns the window size in tokens.
func (c *Chunker) Size() int { return c.size }

// Chunk tokenizes text and returns windows starting at token 0 and advancing
// by size-overlap. The last window may be shorter; no window is emitted once
// one reaches the end of the stream. Blank text yields no pieces.
func (c *Chunker) Chunk(text string) []Piece {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	tokens := c.tok.Encode(text)
	if len(tokens) == 0 {
		return nil
	}
	step := c.size - c.overlap
	pieces := make([]Piece, 0, (len(tokens)+step-1)/step)
	offset := 0
	for start := 0; ; start += step {
		end := min(start+c.size, len(tokens))
		pieces = append(pieces, Piece{
			Index:      len(pieces),
			StartToken: start,
			TokenCount: end - start,
			Offset:     offset,
			Text:       c.tok.Decode(tokens[start:end]),
		})
		if end == len(tokens) {
			break
		}
		offset += len(c.tok.Decode(tokens[start : start+step]))
	}
	return pieces
}

// ChunkText is a convenience wrapper validating size and overlap on every call.
func ChunkText(tok embedding.Tokenizer, text string, size, overlap int) ([]Piece, error) {
	c, err := NewChunker(tok, size, overlap)
	if err != nil {
		return nil, err
	}
	return c.Chunk(text), nil
}
