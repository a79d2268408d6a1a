package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/apexneural-anniesiri/doc-qa-engine/internal/apperr"
)

func TestExtractBytes_plain(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes([]byte("Hello world\r\nLine 2  \n\n\n\nLine 3\x00"), ".txt")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got.Text != "Hello world\nLine 2\n\nLine 3" {
		t.Errorf("got %q", got.Text)
	}
	if got.PageCount() != 0 || got.PageAt(3) != 0 {
		t.Error("plain text has no pages")
	}
}

func TestExtractBytes_plainInvalidUTF8(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes([]byte("hello\x80world"), ".md")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got.Text != "hello\uFFFDworld" {
		t.Errorf("got %q", got.Text)
	}
}

func TestExtractBytes_excel(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", "Title")
	f.SetCellValue("Sheet1", "A2", "Value 1")
	f.SetCellValue("Sheet1", "B2", "Value 2")
	f.NewSheet("Empty")
	f.NewSheet("Fees")
	f.SetCellValue("Fees", "A3", "Late fee")
	f.SetCellValue("Fees", "B3", 20)
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	got, err := NewExtractor().ExtractBytes(buf.Bytes(), ".xlsx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	want := "Sheet: Sheet1\nTitle\nValue 1\tValue 2\n\nSheet: Fees\nLate fee\t20"
	if got.Text != want {
		t.Errorf("got %q, want %q", got.Text, want)
	}
	if got.PageCount() != 3 {
		t.Errorf("PageCount = %d, want one page per sheet", got.PageCount())
	}
	if p := got.PageAt(strings.Index(got.Text, "Late fee")); p != 3 {
		t.Errorf("PageAt(Late fee) = %d, want 3", p)
	}
}

func TestExtractBytes_excelCorrupted(t *testing.T) {
	_, err := NewExtractor().ExtractBytes([]byte("PK\x03\x04 not really a workbook"), ".xlsx")
	if !errors.Is(err, apperr.ErrExtraction) {
		t.Errorf("err = %v, want extraction error", err)
	}
}

// minimalDocx returns a minimal .docx zip with one <w:p> per paragraph.
func minimalDocx(paragraphs ...string) []byte {
	var body string
	for _, p := range paragraphs {
		body += `<w:p w:rsidR="00AB"><w:r><w:t xml:space="preserve">` + p + `</w:t></w:r></w:p>`
	}
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	fw, _ := w.Create("word/document.xml")
	_, _ = fw.Write([]byte(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` + body + `</w:body></w:document>`))
	_ = w.Close()
	return buf.Bytes()
}

func TestExtractBytes_docx(t *testing.T) {
	got, err := NewExtractor().ExtractBytes(minimalDocx("First paragraph", "Tom &amp; Jerry"), ".docx")
	require.NoError(t, err)
	assert.Equal(t, "First paragraph\nTom & Jerry", got.Text)
}

func TestExtractBytes_docxContentTypes(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	ct, _ := w.Create("[Content_Types].xml")
	_, _ = ct.Write([]byte(`<Types><Override ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml" PartName="/word/document2.xml"/></Types>`))
	fw, _ := w.Create("word/document2.xml")
	_, _ = fw.Write([]byte(`<w:document><w:body><w:p><w:r><w:t>Custom part</w:t></w:r></w:p></w:body></w:document>`))
	_ = w.Close()

	got, err := NewExtractor().ExtractBytes(buf.Bytes(), ".docx")
	require.NoError(t, err)
	assert.Equal(t, "Custom part", got.Text)
}

func TestExtractBytes_docxMissingBody(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	_, _ = w.Create("other.xml")
	_ = w.Close()
	_, err := NewExtractor().ExtractBytes(buf.Bytes(), ".docx")
	assert.ErrorIs(t, err, apperr.ErrExtraction)
}

func pptx(slides map[string]string) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, text := range slides {
		fw, _ := w.Create(name)
		_, _ = fw.Write([]byte(`<p:sld><p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>` + text + `</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`))
	}
	_ = w.Close()
	return buf.Bytes()
}

func TestExtractBytes_pptxSlidesArePages(t *testing.T) {
	content := pptx(map[string]string{
		"ppt/slides/slide10.xml": "Tenth",
		"ppt/slides/slide2.xml":  "Second",
		"ppt/slides/slide1.xml":  "First",
		"ppt/slides/_rels/slide1.xml.rels": "ignored",
	})
	got, err := NewExtractor().ExtractBytes(content, ".pptx")
	require.NoError(t, err)
	assert.Equal(t, "First\n\nSecond\n\nTenth", got.Text)
	assert.Equal(t, 3, got.PageCount())
	assert.Equal(t, 1, got.PageAt(0))
	assert.Equal(t, 2, got.PageAt(7))
	assert.Equal(t, 3, got.PageAt(len(got.Text)-1))
}

func TestExtractBytes_pptxNotZip(t *testing.T) {
	_, err := NewExtractor().ExtractBytes([]byte("not a zip"), ".pptx")
	assert.ErrorIs(t, err, apperr.ErrExtraction)
}

func odf(contentXML string) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	fw, _ := w.Create("content.xml")
	_, _ = fw.Write([]byte(contentXML))
	_ = w.Close()
	return buf.Bytes()
}

func TestExtractBytes_openDocument(t *testing.T) {
	e := NewExtractor(".odp", "ods")
	got, err := e.ExtractBytes(odf(`<office:body><text:h>Heading</text:h><text:p>Body text</text:p></office:body>`), ".odp")
	require.NoError(t, err)
	assert.Equal(t, "Heading Body text", got.Text)

	got, err = e.ExtractBytes(odf(`<table:table-cell><text:p>A1</text:p></table:table-cell><table:table-cell><text:p>B1</text:p></table:table-cell>`), ".ods")
	require.NoError(t, err)
	assert.Equal(t, "A1 B1", got.Text)

	_, err = e.ExtractBytes(pptx(nil), ".ods")
	assert.ErrorIs(t, err, apperr.ErrExtraction, "content.xml missing")
}

func TestExtractBytes_corruptPDF(t *testing.T) {
	_, err := NewExtractor().ExtractBytes([]byte("%PDF-1.7\nthis is not really a pdf"), ".pdf")
	assert.ErrorIs(t, err, apperr.ErrExtraction)
}

func TestExtractBytes_unsupported(t *testing.T) {
	_, err := NewExtractor().ExtractBytes([]byte("x"), ".xyz")
	assert.ErrorIs(t, err, apperr.ErrExtraction)

	// known format that is not allowed
	_, err = NewExtractor(".txt").ExtractBytes(minimalDocx("x"), ".docx")
	assert.ErrorIs(t, err, apperr.ErrExtraction)
}

func TestExtract_file(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("File content"), 0600); err != nil {
		t.Fatal(err)
	}
	got, err := NewExtractor().Extract(path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Text != "File content" {
		t.Errorf("got %q", got.Text)
	}

	if _, err := NewExtractor().Extract(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCheck(t *testing.T) {
	e := NewExtractor()
	tests := []struct {
		name     string
		filename string
		content  []byte
		ok       bool
	}{
		{"text", "notes.TXT", []byte("plain words"), true},
		{"markdown", "readme.md", []byte("# Title\n\nbody"), true},
		{"pdf magic", "a.pdf", []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj"), true},
		{"docx", "a.docx", minimalDocx("x"), true},
		{"pdf extension with text", "a.pdf", []byte("just text"), false},
		{"docx extension with text", "a.docx", []byte("just text"), false},
		{"disallowed extension", "a.exe", []byte("MZ"), false},
		{"no extension", "README", []byte("text"), false},
		{"empty", "a.txt", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, ct, err := e.Check(tt.filename, tt.content)
			if !tt.ok {
				assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, filepath.Ext(tt.filename) != "", ext != "")
			assert.NotEmpty(t, ct)
		})
	}
}

func TestNewExtractor_extensions(t *testing.T) {
	assert.Equal(t, []string{".docx", ".md", ".pdf", ".pptx", ".txt", ".xlsx"}, NewExtractor().Extensions())
	assert.Equal(t, []string{".md", ".txt"}, NewExtractor("TXT", ".md", ".exe").Extensions())
}

func TestPageBuilder(t *testing.T) {
	var pb pageBuilder
	pb.add("")
	pb.add("alpha")
	pb.add("  ")
	pb.add("beta")
	x := pb.extraction()
	assert.Equal(t, "alpha\n\nbeta", x.Text)
	assert.Equal(t, 4, x.PageCount())
	assert.Equal(t, 2, x.PageAt(0), "leading empty page is skipped")
	assert.Equal(t, 4, x.PageAt(7))
}
