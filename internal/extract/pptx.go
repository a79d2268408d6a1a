package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// pptxSlide matches slide parts and captures the slide number.
var pptxSlide = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// atTag matches <a:t>text</a:t> or <a:t xml:space="preserve">text</a:t>.
var atTag = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)

// extractPPTX extracts the <a:t> runs of each slide in slide order. Each slide
// counts as one page.
func extractPPTX(content []byte) (*Extraction, error) {
	zr, err := openZip(content, "PPTX")
	if err != nil {
		return nil, err
	}
	type slide struct {
		n    int
		text string
	}
	var slides []slide
	for _, f := range zr.File {
		m := pptxSlide.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		data, err := readZipFile(f)
		if err != nil {
			return nil, fmt.Errorf("extract PPTX: %w", err)
		}
		var b strings.Builder
		joinMatches(&b, atTag.FindAllStringSubmatch(string(data), -1))
		slides = append(slides, slide{n: n, text: b.String()})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	var pb pageBuilder
	for _, s := range slides {
		pb.add(s.text)
	}
	return pb.extraction(), nil
}
