package office

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kbstack/kbsearch/internal/core/domain"
)

// extractPDF reads the native text layer page by page. When the layer is
// missing or too thin the OCR fallback takes over.
func (e *Extractor) extractPDF(ctx context.Context, absPath string) (domain.Extraction, error) {
	extraction, err := readPDFTextLayer(absPath)
	if err != nil {
		return domain.Extraction{}, err
	}

	if !e.sparse(extraction.Text, len(extraction.Pages)) {
		return extraction, nil
	}
	if !e.cfg.OCREnabled {
		return extraction, nil
	}

	e.logger.Info("text layer too thin, trying ocr",
		slog.String("file", filepath.Base(absPath)),
		slog.Int("chars", len(extraction.Text)))
	ocr, ocrErr := e.ocrPDF(ctx, absPath)
	if ocrErr != nil {
		// Keep whatever the text layer gave us if OCR cannot do better.
		if strings.TrimSpace(extraction.Text) != "" {
			return extraction, nil
		}
		return domain.Extraction{}, ocrErr
	}
	return ocr, nil
}

func readPDFTextLayer(absPath string) (extraction domain.Extraction, err error) {
	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = domain.WrapError(domain.ErrCorruptFile, "parse pdf", fmt.Errorf("%v", r))
		}
	}()

	file, reader, err := pdf.Open(absPath)
	if err != nil {
		return domain.Extraction{}, domain.WrapError(domain.ErrCorruptFile, "open pdf", err)
	}
	defer file.Close()

	total := reader.NumPage()
	pages := make([]domain.PageText, 0, total)
	var full strings.Builder
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, pageErr := page.GetPlainText(nil)
		if pageErr != nil {
			continue
		}
		text = cleanText(text)
		pages = append(pages, domain.PageText{Number: i, Text: text})
		if text != "" {
			if full.Len() > 0 {
				full.WriteByte('\n')
			}
			full.WriteString(text)
		}
	}
	return domain.Extraction{Text: full.String(), Pages: pages}, nil
}
