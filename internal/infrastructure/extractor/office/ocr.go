package office

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/kbstack/kbsearch/internal/core/domain"
)

// ocrPDF rasterizes the first pages of a scanned document and runs the OCR
// engine over each image. Page numbering in the result matches the source
// document, so citations stay correct even though only a prefix is read.
func (e *Extractor) ocrPDF(ctx context.Context, absPath string) (domain.Extraction, error) {
	tmpDir, err := os.MkdirTemp("", "kbocr-*")
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("create ocr dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	prefix := filepath.Join(tmpDir, "page")
	rasterCtx, cancel := context.WithTimeout(ctx, e.cfg.ConvertTimeout)
	defer cancel()
	raster := exec.CommandContext(rasterCtx, e.cfg.PDFToPPMPath,
		"-png", "-r", "200",
		"-f", "1", "-l", strconv.Itoa(e.cfg.OCRPageCap),
		absPath, prefix,
	)
	if output, err := raster.CombinedOutput(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return domain.Extraction{}, domain.WrapError(domain.ErrOCRFailed, "rasterize pdf", err)
		}
		return domain.Extraction{}, domain.WrapError(domain.ErrOCRFailed, "rasterize pdf",
			fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output))))
	}

	images, err := filepath.Glob(prefix + "-*.png")
	if err != nil || len(images) == 0 {
		return domain.Extraction{}, domain.WrapError(domain.ErrOCRFailed, "rasterize pdf",
			fmt.Errorf("no pages rasterized from %s", filepath.Base(absPath)))
	}
	sort.Strings(images)

	var (
		pages []domain.PageText
		full  strings.Builder
	)
	for _, image := range images {
		pageNo := pageNumberFromImage(image)
		text, err := e.ocrImage(ctx, image)
		if err != nil {
			return domain.Extraction{}, err
		}
		text = cleanText(text)
		pages = append(pages, domain.PageText{Number: pageNo, Text: text})
		if text != "" {
			if full.Len() > 0 {
				full.WriteByte('\n')
			}
			full.WriteString(text)
		}
	}

	if strings.TrimSpace(full.String()) == "" {
		return domain.Extraction{}, domain.WrapError(domain.ErrOCRFailed, "ocr pdf",
			fmt.Errorf("no text recognized in %s", filepath.Base(absPath)))
	}
	return domain.Extraction{Text: full.String(), Pages: pages, ViaOCR: true}, nil
}

func (e *Extractor) ocrImage(ctx context.Context, imagePath string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.ConvertTimeout)
	defer cancel()
	cmd := exec.CommandContext(runCtx, e.cfg.TesseractPath,
		imagePath, "stdout", "-l", e.cfg.OCRLanguages)

	output, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", domain.WrapError(domain.ErrOCRFailed, "run ocr", err)
		}
		return "", domain.WrapError(domain.ErrOCRFailed, "run ocr", err)
	}
	return string(output), nil
}

// pageNumberFromImage recovers the 1-based page number from the rasterizer
// output name (page-1.png, page-01.png, ...).
func pageNumberFromImage(path string) int {
	name := strings.TrimSuffix(filepath.Base(path), ".png")
	idx := strings.LastIndex(name, "-")
	if idx < 0 {
		return 1
	}
	n, err := strconv.Atoi(strings.TrimLeft(name[idx+1:], "0"))
	if err != nil || n <= 0 {
		return 1
	}
	return n
}
