package localfs

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/kbstack/kbsearch/internal/core/domain"
)

// Scanner walks the corpus directory on local disk. Hidden files and
// directories are skipped; everything else is reported and the extractor
// decides what it can handle.
type Scanner struct {
	root string
}

func New(root string) *Scanner {
	return &Scanner{root: filepath.Clean(root)}
}

// Scan lists the files under target (corpus-relative; empty means the whole
// corpus). Paths in the result are corpus-relative with forward slashes, so
// they are stable document IDs across hosts.
func (s *Scanner) Scan(ctx context.Context, target string) ([]domain.DiscoveredFile, error) {
	start := s.root
	if target != "" {
		clean := filepath.Clean("/" + target)
		start = filepath.Join(s.root, clean)
	}

	var out []domain.DiscoveredFile
	err := filepath.WalkDir(start, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") && path != start {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return fmt.Errorf("relativize %s: %w", path, err)
		}
		out = append(out, domain.DiscoveredFile{
			Path:      filepath.ToSlash(rel),
			AbsPath:   path,
			Ext:       strings.ToLower(filepath.Ext(name)),
			SizeBytes: info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk corpus: %w", err)
	}
	return out, nil
}
