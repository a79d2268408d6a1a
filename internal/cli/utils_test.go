package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/apexneural-anniesiri/doc-qa-engine/internal/apperr"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/indexer"
	"github.com/apexneural-anniesiri/doc-qa-engine/internal/models"
)

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]OutputFormat{"": OutputText, "text": OutputText, "JSON": OutputJSON, " json ": OutputJSON} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseFormat("compact"); err == nil {
		t.Error("ParseFormat(compact): expected error")
	}
}

func TestWriteAnswer_JSON(t *testing.T) {
	ans := &models.Answer{
		DocumentID: "doc-1",
		Question:   "What is the fee?",
		Answer:     "The fee is $20.",
		Sources:    []models.Citation{{Text: "Fee: $20", ChunkIndex: 3, Score: 0.91, Page: 2}},
	}
	var buf bytes.Buffer
	if err := WriteAnswer(&buf, ans, OutputJSON); err != nil {
		t.Fatalf("WriteAnswer(json): %v", err)
	}
	var decoded models.Answer
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.DocumentID != "doc-1" || len(decoded.Sources) != 1 || decoded.Sources[0].Page != 2 {
		t.Errorf("decoded answer = %+v", decoded)
	}
}

func TestWriteAnswer_Text(t *testing.T) {
	ans := &models.Answer{
		Answer: "The fee is $20.",
		Sources: []models.Citation{
			{Text: "Fee:\n$20 per\tmonth", ChunkIndex: 3, Score: 0.91, Page: 2},
			{Text: "Other", ChunkIndex: 4, Score: 0.5},
		},
	}
	var buf bytes.Buffer
	if err := WriteAnswer(&buf, ans, OutputText); err != nil {
		t.Fatalf("WriteAnswer(text): %v", err)
	}
	out := buf.String()
	for _, want := range []string{"The fee is $20.", "Sources (2):", "chunk 3 | score 0.9100 | page 2", "Fee: $20 per month"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "chunk 4 | score 0.5000 | page") {
		t.Errorf("page shown for a source without one:\n%s", out)
	}
}

func TestWriteAnswer_NoSources(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteAnswer(&buf, &models.Answer{Answer: "I don't know."}, OutputText)
	if !strings.Contains(buf.String(), "(no sources)") {
		t.Errorf("got %q", buf.String())
	}
}

func TestWriteDocuments(t *testing.T) {
	docs := []models.DocumentView{
		{DocID: "a", Filename: "a.pdf", Status: models.StatusReady, ChunkCount: 12},
		{DocID: "b", Filename: "b.txt", Status: models.StatusFailed,
			Error: &models.Failure{Kind: apperr.KindEmptyDocument, Detail: "no text"}},
	}
	var buf bytes.Buffer
	if err := WriteDocuments(&buf, docs, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "2 document(s)") || !strings.Contains(buf.String(), "a.pdf") {
		t.Errorf("unexpected text output:\n%s", buf.String())
	}

	buf.Reset()
	if err := WriteDocuments(&buf, nil, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		Documents []models.DocumentView `json:"documents"`
		Total     int                   `json:"total"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.Documents == nil || decoded.Total != 0 {
		t.Errorf("empty list should encode as [], got %s", buf.String())
	}
}

func TestWriteDocument_Text(t *testing.T) {
	doc := models.DocumentView{
		DocID: "a", Filename: "a.pdf", SizeBytes: 2048, Status: models.StatusFailed, Stage: models.StageFailed,
		Progress: 0.2, Error: &models.Failure{Kind: apperr.KindExtraction, Detail: "encrypted"},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	var buf bytes.Buffer
	_ = WriteDocument(&buf, doc, OutputText)
	out := buf.String()
	for _, want := range []string{"status:       failed", "stage:        failed (20%)", "extraction_error: encrypted", "2026-01-02 03:04:05", "size:         2.0 kB"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteResults(t *testing.T) {
	results := []*indexer.Result{
		{DocumentID: "a", Filename: "a.txt", Status: models.StatusReady, ChunkCount: 2},
		{DocumentID: "a", Filename: "copy.txt", Status: models.StatusReady, ChunkCount: 2, Deduplicated: true},
	}
	var buf bytes.Buffer
	_ = WriteResults(&buf, results, OutputText)
	if !strings.Contains(buf.String(), "(already uploaded)") || !strings.Contains(buf.String(), "Ingested 2 file(s)") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}

func TestTruncateWords(t *testing.T) {
	if got := TruncateWords("one two three four", 2); got != "one two..." {
		t.Errorf("TruncateWords = %q", got)
	}
	if got := TruncateWords("one two", 5); got != "one two" {
		t.Errorf("TruncateWords short = %q", got)
	}
}
