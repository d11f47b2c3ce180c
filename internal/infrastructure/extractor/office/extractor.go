package office

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kbstack/kbsearch/internal/core/domain"
)

// format tags one extraction strategy. Unknown extensions are rejected with
// a distinct error kind instead of being silently skipped.
type format int

const (
	formatUnknown format = iota
	formatPDF
	formatSpreadsheet
	formatPlaintext
	formatLegacyOffice
)

var formatByExt = map[string]format{
	".pdf":  formatPDF,
	".xlsx": formatSpreadsheet,

	".txt":  formatPlaintext,
	".md":   formatPlaintext,
	".csv":  formatPlaintext,
	".log":  formatPlaintext,
	".ini":  formatPlaintext,
	".conf": formatPlaintext,
	".xml":  formatPlaintext,
	".json": formatPlaintext,

	".docx": formatLegacyOffice,
	".doc":  formatLegacyOffice,
	".xls":  formatLegacyOffice,
	".ppt":  formatLegacyOffice,
	".pptx": formatLegacyOffice,
	".odt":  formatLegacyOffice,
	".ods":  formatLegacyOffice,
	".odp":  formatLegacyOffice,
	".rtf":  formatLegacyOffice,
}

type Config struct {
	// SofficePath is the LibreOffice binary used for legacy office formats.
	SofficePath    string
	ConvertTimeout time.Duration

	OCREnabled    bool
	TesseractPath string
	PDFToPPMPath  string
	OCRLanguages  string
	// OCRPageCap bounds how many pages are rasterized per document.
	OCRPageCap int

	// SparseMinChars and SparseCharsPerPage decide when a PDF text layer is
	// considered empty enough to try OCR.
	SparseMinChars     int
	SparseCharsPerPage int
}

func DefaultConfig() Config {
	return Config{
		SofficePath:        "soffice",
		ConvertTimeout:     120 * time.Second,
		OCREnabled:         true,
		TesseractPath:      "tesseract",
		PDFToPPMPath:       "pdftoppm",
		OCRLanguages:       "ita+eng",
		OCRPageCap:         10,
		SparseMinChars:     50,
		SparseCharsPerPage: 10,
	}
}

// Extractor is the format-dispatching text extractor.
type Extractor struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Extractor {
	def := DefaultConfig()
	if cfg.SofficePath == "" {
		cfg.SofficePath = def.SofficePath
	}
	if cfg.ConvertTimeout <= 0 {
		cfg.ConvertTimeout = def.ConvertTimeout
	}
	if cfg.TesseractPath == "" {
		cfg.TesseractPath = def.TesseractPath
	}
	if cfg.PDFToPPMPath == "" {
		cfg.PDFToPPMPath = def.PDFToPPMPath
	}
	if cfg.OCRLanguages == "" {
		cfg.OCRLanguages = def.OCRLanguages
	}
	if cfg.OCRPageCap <= 0 {
		cfg.OCRPageCap = def.OCRPageCap
	}
	if cfg.SparseMinChars <= 0 {
		cfg.SparseMinChars = def.SparseMinChars
	}
	if cfg.SparseCharsPerPage <= 0 {
		cfg.SparseCharsPerPage = def.SparseCharsPerPage
	}
	return &Extractor{cfg: cfg, logger: logger}
}

func (e *Extractor) Extract(ctx context.Context, absPath string) (domain.Extraction, error) {
	ext := strings.ToLower(filepath.Ext(absPath))
	f, ok := formatByExt[ext]
	if !ok {
		return domain.Extraction{}, domain.WrapError(domain.ErrUnsupportedFormat, "extract",
			fmt.Errorf("extension %q", ext))
	}

	var (
		extraction domain.Extraction
		err        error
	)
	switch f {
	case formatPDF:
		extraction, err = e.extractPDF(ctx, absPath)
	case formatSpreadsheet:
		extraction, err = e.extractSpreadsheet(absPath)
	case formatPlaintext:
		extraction, err = e.extractPlaintext(absPath)
	case formatLegacyOffice:
		extraction, err = e.convertWithRenderer(ctx, absPath)
	default:
		return domain.Extraction{}, domain.WrapError(domain.ErrUnsupportedFormat, "extract",
			fmt.Errorf("extension %q", ext))
	}
	if err != nil {
		return domain.Extraction{}, err
	}

	if strings.TrimSpace(extraction.Text) == "" {
		return domain.Extraction{}, domain.WrapError(domain.ErrEmptyText, "extract",
			fmt.Errorf("no text in %s", filepath.Base(absPath)))
	}
	return extraction, nil
}

func (e *Extractor) extractPlaintext(absPath string) (domain.Extraction, error) {
	raw, err := os.ReadFile(absPath)
	if err != nil {
		return domain.Extraction{}, domain.WrapError(domain.ErrCorruptFile, "read plaintext", err)
	}
	text := cleanText(string(raw))
	return domain.Extraction{
		Text:  text,
		Pages: []domain.PageText{{Number: 1, Text: text}},
	}, nil
}

// sparse reports whether the text layer is too thin to trust, which is the
// OCR trigger for scanned documents saved as PDF.
func (e *Extractor) sparse(text string, pageCount int) bool {
	chars := len(strings.TrimSpace(text))
	if chars < e.cfg.SparseMinChars {
		return true
	}
	return pageCount > 0 && chars < pageCount*e.cfg.SparseCharsPerPage
}

// cleanText normalizes line endings and drops control noise that PDF and
// renderer output tend to carry.
func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\x00", "")

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
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
