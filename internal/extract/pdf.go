package extract

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ledongthuc/pdf"

	"github.com/apexneural-anniesiri/doc-qa-engine/internal/apperr"
)

// extractPDF extracts the text layer page by page. Scanned PDFs without a text
// layer yield empty text, which callers report as an empty document.
func extractPDF(content []byte) (*Extraction, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		if errors.Is(err, pdf.ErrInvalidPassword) {
			return nil, apperr.E(apperr.KindExtraction, "extract.PDF", "PDF is password protected")
		}
		return nil, fmt.Errorf("open PDF: %w", err)
	}
	var pb pageBuilder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			pb.add("")
			continue
		}
		text, err := pageText(page)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i, err)
		}
		pb.add(text)
	}
	return pb.extraction(), nil
}

// pageText guards against panics on malformed content streams.
func pageText(page pdf.Page) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed content stream: %v", r)
		}
	}()
	return page.GetPlainText(nil)
}
