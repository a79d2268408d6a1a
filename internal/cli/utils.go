// Package cli provides output formatting and an HTTP client for the docqa command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/apexneural-anniesiri/doc-qa-engine/internal/indexer"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/models"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/vector"
	"github.com/apexneural-anniesiri/doc-qa-engine/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat validates a --output flag value. Empty selects text.
func ParseFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

// Health is the body of GET /health.
type Health struct {
	Status  string       `json:"status"`
	Version string       `json:"version"`
	Store   vector.Stats `json:"store"`
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteAnswer writes an answer and its sources to w.
func WriteAnswer(w io.Writer, ans *models.Answer, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, ans)
	}
	fmt.Fprintf(w, "\n%s\n\n", strings.TrimSpace(ans.Answer))
	if len(ans.Sources) == 0 {
		fmt.Fprintln(w, "(no sources)")
		return nil
	}
	fmt.Fprintf(w, "Sources (%d):\n", len(ans.Sources))
	for i, src := range ans.Sources {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "[%d] chunk %d | score %.4f", i+1, src.ChunkIndex, src.Score)
		if src.Page > 0 {
			fmt.Fprintf(w, " | page %d", src.Page)
		}
		fmt.Fprintf(w, "\n%s\n", TruncateWords(oneLine(src.Text), 40))
	}
	fmt.Fprintln(w)
	return nil
}

// WriteResult writes the outcome of one upload.
func WriteResult(w io.Writer, res *indexer.Result, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	writeResultText(w, res)
	return nil
}

// WriteResults writes the outcomes of a directory ingest.
func WriteResults(w io.Writer, results []*indexer.Result, format OutputFormat) error {
	if format == OutputJSON {
		if results == nil {
			results = []*indexer.Result{}
		}
		return writeJSON(w, results)
	}
	for _, res := range results {
		writeResultText(w, res)
	}
	fmt.Fprintf(w, "Ingested %d file(s)\n", len(results))
	return nil
}

func writeResultText(w io.Writer, res *indexer.Result) {
	note := ""
	if res.Deduplicated {
		note = " (already uploaded)"
	}
	fmt.Fprintf(w, "%s  %-10s %4d chunks  %s%s\n", res.DocumentID, res.Status, res.ChunkCount, res.Filename, note)
}

// WriteDocument writes one document's metadata.
func WriteDocument(w io.Writer, doc models.DocumentView, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, doc)
	}
	fmt.Fprintf(w, "doc_id:       %s\n", doc.DocID)
	fmt.Fprintf(w, "filename:     %s\n", doc.Filename)
	if doc.ContentType != "" {
		fmt.Fprintf(w, "content_type: %s\n", doc.ContentType)
	}
	fmt.Fprintf(w, "size:         %s\n", humanize.Bytes(uint64(max(doc.SizeBytes, 0))))
	fmt.Fprintf(w, "status:       %s\n", doc.Status)
	fmt.Fprintf(w, "stage:        %s (%.0f%%)\n", doc.Stage, doc.Progress*100)
	fmt.Fprintf(w, "chunks:       %d\n", doc.ChunkCount)
	if doc.PageCount > 0 {
		fmt.Fprintf(w, "pages:        %d\n", doc.PageCount)
	}
	if doc.TokenCount > 0 {
		fmt.Fprintf(w, "tokens:       %d\n", doc.TokenCount)
	}
	if doc.Error != nil {
		fmt.Fprintf(w, "error:        %s: %s\n", doc.Error.Kind, doc.Error.Detail)
	}
	fmt.Fprintf(w, "created_at:   %s (%s)\n", doc.CreatedAt.Format("2006-01-02 15:04:05"), humanize.Time(doc.CreatedAt))
	return nil
}

// WriteDocuments writes a table of documents.
func WriteDocuments(w io.Writer, docs []models.DocumentView, format OutputFormat) error {
	if format == OutputJSON {
		if docs == nil {
			docs = []models.DocumentView{}
		}
		return writeJSON(w, map[string]any{"documents": docs, "total": len(docs)})
	}
	if len(docs) == 0 {
		fmt.Fprintln(w, "No documents.")
		return nil
	}
	for _, d := range docs {
		fmt.Fprintf(w, "%s  %-10s %4d chunks  %8s  %s\n", d.DocID, d.Status, d.ChunkCount,
			humanize.Bytes(uint64(max(d.SizeBytes, 0))), utils.Truncate(d.Filename, 60))
	}
	fmt.Fprintf(w, "\n%d document(s)\n", len(docs))
	return nil
}

// WriteHealth writes server or store health.
func WriteHealth(w io.Writer, h *Health, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, h)
	}
	fmt.Fprintf(w, "status:       %s\n", h.Status)
	if h.Version != "" {
		fmt.Fprintf(w, "version:      %s\n", h.Version)
	}
	fmt.Fprintf(w, "documents:    %d   # %d ready, %d processing, %d failed\n",
		h.Store.Documents, h.Store.Ready, h.Store.Processing, h.Store.Failed)
	if h.Store.Broken > 0 {
		fmt.Fprintf(w, "broken:       %d   # unreadable records skipped at load\n", h.Store.Broken)
	}
	if h.Store.Dimensions > 0 {
		fmt.Fprintf(w, "dimensions:   %d\n", h.Store.Dimensions)
	}
	fmt.Fprintf(w, "disk_usage:   %s\n", humanize.Bytes(uint64(max(h.Store.Bytes, 0))))
	return nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
