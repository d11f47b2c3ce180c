package office

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kbstack/kbsearch/internal/core/domain"
)

// convertWithRenderer shells out to LibreOffice to turn legacy office
// formats into plain text. The renderer runs under a hard deadline and is
// killed when it exceeds it; a hung conversion must never stall the worker.
func (e *Extractor) convertWithRenderer(ctx context.Context, absPath string) (domain.Extraction, error) {
	outDir, err := os.MkdirTemp("", "kbconvert-*")
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("create conversion dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.ConvertTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.cfg.SofficePath,
		"--headless", "--norestore",
		"--convert-to", "txt:Text",
		"--outdir", outDir,
		absPath,
	)
	cmd.Env = append(os.Environ(), "HOME="+outDir)

	output, err := cmd.CombinedOutput()
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return domain.Extraction{}, domain.WrapError(domain.ErrRendererTimeout, "convert document",
			fmt.Errorf("killed after %s", e.cfg.ConvertTimeout))
	case errors.Is(err, exec.ErrNotFound):
		return domain.Extraction{}, domain.WrapError(domain.ErrRendererMissing, "convert document", err)
	case err != nil:
		return domain.Extraction{}, domain.WrapError(domain.ErrCorruptFile, "convert document",
			fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output))))
	}

	text, err := readConvertedText(outDir, absPath)
	if err != nil {
		return domain.Extraction{}, err
	}
	text = cleanText(text)
	return domain.Extraction{
		Text:  text,
		Pages: []domain.PageText{{Number: 1, Text: text}},
	}, nil
}

// readConvertedText finds the .txt the renderer produced. The output name
// usually matches the input basename, but not all locales guarantee it.
func readConvertedText(outDir, absPath string) (string, error) {
	entries, err := os.ReadDir(outDir)
	if err != nil {
		return "", fmt.Errorf("list conversion dir: %w", err)
	}

	base := strings.ToLower(strings.TrimSuffix(filepath.Base(absPath), filepath.Ext(absPath)))
	var fallback string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		if fallback == "" {
			fallback = entry.Name()
		}
		if strings.Contains(strings.ToLower(entry.Name()), base) {
			fallback = entry.Name()
			break
		}
	}
	if fallback == "" {
		return "", domain.WrapError(domain.ErrCorruptFile, "convert document",
			fmt.Errorf("renderer produced no output for %s", filepath.Base(absPath)))
	}

	raw, err := os.ReadFile(filepath.Join(outDir, fallback))
	if err != nil {
		return "", fmt.Errorf("read converted text: %w", err)
	}
	return string(raw), nil
}
