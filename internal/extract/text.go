package extract

import (
	"strings"
	"unicode"
)

// cleanText normalizes extracted text: valid UTF-8, Unix newlines, no control
// characters, no trailing spaces and at most one blank line in a row.
func cleanText(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			return r
		}
		return -1
	}, s)

	lines := strings.Split(s, "\n")
	out := lines[:0]
	blank := 0
	for _, line := range lines {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// pageBuilder joins page texts with a blank line and records page offsets.
type pageBuilder struct {
	b      strings.Builder
	starts []int
}

func (p *pageBuilder) add(text string) {
	text = cleanText(text)
	if text != "" && p.b.Len() > 0 {
		p.b.WriteString("\n\n")
	}
	p.starts = append(p.starts, p.b.Len())
	p.b.WriteString(text)
}

func (p *pageBuilder) extraction() *Extraction {
	return &Extraction{Text: p.b.String(), PageStarts: p.starts}
}

// textOnly wraps text from a format without pages.
func textOnly(text string) *Extraction {
	return &Extraction{Text: cleanText(text)}
}
