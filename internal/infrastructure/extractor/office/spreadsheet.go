package office

import (
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kbstack/kbsearch/internal/core/domain"
)

// extractSpreadsheet flattens an xlsx workbook, one sheet per page so hits
// can cite the sheet they came from.
func (e *Extractor) extractSpreadsheet(absPath string) (domain.Extraction, error) {
	book, err := excelize.OpenFile(absPath)
	if err != nil {
		return domain.Extraction{}, domain.WrapError(domain.ErrCorruptFile, "open workbook", err)
	}
	defer book.Close()

	var (
		pages []domain.PageText
		full  strings.Builder
	)
	for i, sheet := range book.GetSheetList() {
		rows, err := book.GetRows(sheet)
		if err != nil {
			return domain.Extraction{}, domain.WrapError(domain.ErrCorruptFile, "read sheet", err)
		}

		var sb strings.Builder
		sb.WriteString(sheet)
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, " "))
			if line == "" {
				continue
			}
			sb.WriteByte('\n')
			sb.WriteString(line)
		}
		text := cleanText(sb.String())
		pages = append(pages, domain.PageText{Number: i + 1, Text: text})
		if full.Len() > 0 {
			full.WriteByte('\n')
		}
		full.WriteString(text)
	}
	return domain.Extraction{Text: full.String(), Pages: pages}, nil
}
