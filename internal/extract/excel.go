package extract

import (
	"bytes"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/apexneural-anniesiri/doc-qa-engine/internal/apperr"
)

// extractExcel renders each sheet as one page: a "Sheet: <name>" line followed
// by its non-empty rows as tab-separated cells.
func extractExcel(content []byte) (*Extraction, error) {
	const op = "extract.Excel"
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindExtraction, op, err, "workbook is corrupted or encrypted")
	}
	defer f.Close()

	var pb pageBuilder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindExtraction, op, err, "cannot read sheet %q", sheet)
		}
		var b strings.Builder
		for _, row := range rows {
			line := strings.TrimRight(strings.Join(row, "\t"), "\t ")
			if line == "" {
				continue
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
		if b.Len() == 0 {
			pb.add("")
			continue
		}
		pb.add("Sheet: " + sheet + "\n" + b.String())
	}
	return pb.extraction(), nil
}
