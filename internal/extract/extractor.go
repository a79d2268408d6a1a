// Package extract turns uploaded files into plain text and records where each
// page begins so chunks can cite a page number.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/apexneural-anniesiri/doc-qa-engine/internal/apperr"
)

// DefaultExtensions are the formats accepted for upload unless configured otherwise.
var DefaultExtensions = []string{".pdf", ".txt", ".md", ".docx", ".pptx", ".xlsx"}

// Extraction is the text of a document. PageStarts[i] is the byte offset in
// Text where page i+1 begins; it is empty for formats without pages.
type Extraction struct {
	Text       string
	PageStarts []int
}

// PageCount returns the number of pages, or 0 for formats without pages.
func (x *Extraction) PageCount() int { return len(x.PageStarts) }

// PageAt returns the 1-based page containing byte offset, or 0 without pages.
func (x *Extraction) PageAt(offset int) int {
	if len(x.PageStarts) == 0 {
		return 0
	}
	n := sort.Search(len(x.PageStarts), func(i int) bool { return x.PageStarts[i] > offset })
	return max(n, 1)
}

type extractFunc func(content []byte) (*Extraction, error)

var formats = map[string]extractFunc{
	".pdf":  extractPDF,
	".docx": extractDOCX,
	".pptx": extractPPTX,
	".xlsx": extractExcel,
	".odp":  extractODP,
	".ods":  extractODS,
	".txt":  extractPlain,
	".md":   extractPlain,
	".rst":  extractPlain,
}

// expectedMIME is the sniffed type (or an ancestor of it) each extension must carry.
var expectedMIME = map[string]string{
	".pdf":  "application/pdf",
	".docx": "application/zip",
	".pptx": "application/zip",
	".xlsx": "application/zip",
	".odp":  "application/zip",
	".ods":  "application/zip",
	".txt":  "text/plain",
	".md":   "text/plain",
	".rst":  "text/plain",
}

// Extractor extracts text from the allowed document formats.
type Extractor struct {
	allowed map[string]bool
}

// NewExtractor returns an extractor accepting the given extensions (with or
// without the leading dot). No extensions means DefaultExtensions.
func NewExtractor(allowed ...string) *Extractor {
	if len(allowed) == 0 {
		allowed = DefaultExtensions
	}
	e := &Extractor{allowed: make(map[string]bool, len(allowed))}
	for _, ext := range allowed {
		ext = normalizeExt(ext)
		if _, ok := formats[ext]; ok {
			e.allowed[ext] = true
		}
	}
	return e
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// Extensions returns the accepted extensions, sorted.
func (e *Extractor) Extensions() []string {
	out := make([]string, 0, len(e.allowed))
	for ext := range e.allowed {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Check validates an upload before it is accepted: the extension must be allowed
// and the sniffed content must match it. It returns the normalized extension and
// the detected content type.
func (e *Extractor) Check(filename string, content []byte) (ext, contentType string, err error) {
	const op = "extract.Check"
	ext = normalizeExt(filepath.Ext(filename))
	if !e.allowed[ext] {
		return "", "", apperr.InvalidArgument(op, "unsupported file type %q (allowed: %s)", ext, strings.Join(e.Extensions(), ", "))
	}
	if len(content) == 0 {
		return "", "", apperr.InvalidArgument(op, "file %q is empty", filename)
	}
	mt := mimetype.Detect(content)
	if want := expectedMIME[ext]; !isA(mt, want) {
		return "", "", apperr.InvalidArgument(op, "file %q has content type %s, expected %s", filename, mt.String(), want)
	}
	return ext, mt.String(), nil
}

func isA(mt *mimetype.MIME, want string) bool {
	for ; mt != nil; mt = mt.Parent() {
		if mt.Is(want) {
			return true
		}
	}
	return false
}

// Extract reads the file at path and extracts its text based on the extension.
func (e *Extractor) Extract(path string) (*Extraction, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts text from content of the given extension. Corrupted,
// encrypted or unsupported input is reported as apperr.ErrExtraction; a parser
// panic is recovered into the same error.
func (e *Extractor) ExtractBytes(content []byte, ext string) (x *Extraction, err error) {
	const op = "extract.ExtractBytes"
	ext = normalizeExt(ext)
	fn, ok := formats[ext]
	if !ok || !e.allowed[ext] {
		return nil, apperr.E(apperr.KindExtraction, op, "unsupported format %q", ext)
	}
	defer func() {
		if r := recover(); r != nil {
			x, err = nil, apperr.E(apperr.KindExtraction, op, "%s parser failed: %v", ext, r)
		}
	}()
	x, err = fn(content)
	if err != nil {
		if _, ok := apperr.As(err); ok {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.KindExtraction, op, err, "cannot read %s file", ext)
	}
	return x, nil
}
