package extract

import (
	"fmt"
	"regexp"
	"strings"
)

// odfContentPath is the main content part of OpenDocument packages.
const odfContentPath = "content.xml"

// OpenDocument text elements, with optional attributes.
var (
	odfTextP    = regexp.MustCompile(`<text:p[^>]*>([^<]*)</text:p>`)
	odfTextSpan = regexp.MustCompile(`<text:span[^>]*>([^<]*)</text:span>`)
	odfTextH    = regexp.MustCompile(`<text:h[^>]*>([^<]*)</text:h>`)
)

func extractODP(content []byte) (*Extraction, error) {
	return extractODF(content, "ODP", odfTextH, odfTextP, odfTextSpan)
}

func extractODS(content []byte) (*Extraction, error) {
	return extractODF(content, "ODS", odfTextP, odfTextSpan)
}

// extractODF extracts the elements matched by patterns from content.xml.
func extractODF(content []byte, format string, patterns ...*regexp.Regexp) (*Extraction, error) {
	zr, err := openZip(content, format)
	if err != nil {
		return nil, err
	}
	data, err := readZipEntry(zr, odfContentPath)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", format, err)
	}
	if data == nil {
		return nil, fmt.Errorf("extract %s: %s not found", format, odfContentPath)
	}
	s := string(data)
	var b strings.Builder
	for _, re := range patterns {
		joinMatches(&b, re.FindAllStringSubmatch(s, -1))
	}
	return textOnly(b.String()), nil
}
